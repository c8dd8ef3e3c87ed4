package config

import (
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", envMap(nil))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "8080" || cfg.Capture.Deadline != 60*time.Second {
		t.Fatalf("got %+v", cfg)
	}
	if cfg.Capture.ReadyTimeout != 20*time.Second {
		t.Fatalf("ready timeout %v", cfg.Capture.ReadyTimeout)
	}
	if cfg.Capture.BlockPrivate == nil || !*cfg.Capture.BlockPrivate {
		t.Fatal("block_private must default to true")
	}
	if len(cfg.Export.Rasterizer) != 3 || cfg.Export.MaxSVGBytes != 10<<20 {
		t.Fatalf("export defaults: %+v", cfg.Export)
	}
	if cfg.Server.WriteTimeout <= cfg.Capture.Deadline {
		t.Fatal("write timeout must outlast the capture deadline")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapd.yaml")
	yml := `
log_level: debug
server:
  port: "9000"
  rate_limits:
    GET /snap:
      max_requests: 10
      window: 1m
capture:
  deadline: 10s
  block_private: false
  browser:
    no_sandbox: true
    resource_blocking: [fonts, media]
export:
  rasterizer: [rsvg, --batik-compat]
  verify_pdf: true
journal:
  path: /var/lib/snapd/journal.db
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, envMap(map[string]string{
		"PORT":            "9100",
		"RASTERIZER":      "java -jar /opt/batik/batik-rasterizer.jar",
		"CHROME_REMOTE":   "ws://chrome:9222/devtools/browser/x",
		"TEMP_DIR":        "/scratch",
		"MCP_TRANSPORT":   "quic",
		"TRUSTED_PROXIES": "10.0.0.0/8, 192.0.2.1",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "9100" {
		t.Fatalf("env must override file: port %s", cfg.Server.Port)
	}
	if rl := cfg.Server.RateLimits["GET /snap"]; rl.MaxRequests != 10 || rl.Window != time.Minute {
		t.Fatalf("rate limits: %+v", cfg.Server.RateLimits)
	}
	if cfg.Capture.Deadline != 10*time.Second || *cfg.Capture.BlockPrivate {
		t.Fatalf("capture: %+v", cfg.Capture)
	}
	if !cfg.Capture.Browser.NoSandbox || len(cfg.Capture.Browser.ResourceBlocking) != 2 {
		t.Fatalf("browser: %+v", cfg.Capture.Browser)
	}
	if cfg.Capture.Browser.RemoteURL == "" || cfg.Capture.TempDir != "/scratch" || cfg.Export.TempDir != "/scratch" {
		t.Fatalf("env overrides not applied: %+v", cfg.Capture)
	}
	if got := cfg.Export.Rasterizer; len(got) != 3 || got[2] != "/opt/batik/batik-rasterizer.jar" {
		t.Fatalf("rasterizer %v", got)
	}
	if !cfg.Export.VerifyPDF || cfg.Journal.Path == "" {
		t.Fatalf("export/journal: %+v %+v", cfg.Export, cfg.Journal)
	}
	if cfg.MCP.Transport != "quic" || cfg.MCP.QUICAddr != ":9444" {
		t.Fatalf("mcp: %+v", cfg.MCP)
	}
	if nets := cfg.Server.ProxyNets(); len(nets) != 2 || !nets[1].Contains(net.ParseIP("192.0.2.1")) {
		t.Fatalf("trusted proxies: %v", nets)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("level %v", cfg.SlogLevel())
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil)); err == nil {
		t.Fatal("missing file accepted")
	}
	if _, err := Load("", envMap(map[string]string{"CAPTURE_DEADLINE": "soon"})); err == nil {
		t.Fatal("bad duration accepted")
	}
	if _, err := Load("", envMap(map[string]string{"MCP_TRANSPORT": "grpc"})); err == nil {
		t.Fatal("unknown mcp transport accepted")
	}
	if _, err := Load("", envMap(map[string]string{"TLS_CERT": "/etc/snapd/cert.pem"})); err == nil {
		t.Fatal("certificate without key accepted")
	}
	if _, err := Load("", envMap(map[string]string{"TRUSTED_PROXIES": "lb.internal"})); err == nil {
		t.Fatal("host name accepted as trusted proxy")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("server: [\n"), 0o600)
	if _, err := Load(path, envMap(nil)); err == nil {
		t.Fatal("bad yaml accepted")
	}
}
