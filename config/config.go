// CLAUDE:SUMMARY snapd configuration: YAML file with defaults, then environment overrides (PORT, LOG_LEVEL, TEMP_DIR, CHROME_REMOTE, RASTERIZER, TRUSTED_PROXIES, ...).
// Package config loads the snapd configuration.
//
// Precedence: defaults < YAML file < environment. The same configuration is
// loaded by the server and by every worker process (workers inherit the
// environment), so browser settings never cross the isolation boundary.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/snapd/capture"
	"github.com/hazyhaar/snapd/shield"
)

// Config is the top-level snapd configuration.
type Config struct {
	LogLevel string        `yaml:"log_level"` // debug | info | warn | error
	Server   ServerConfig  `yaml:"server"`
	Capture  CaptureConfig `yaml:"capture"`
	Export   ExportConfig  `yaml:"export"`
	Journal  JournalConfig `yaml:"journal"`
	MCP      MCPConfig     `yaml:"mcp"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RateLimits maps "METHOD /path" to a per-IP limit.
	RateLimits map[string]shield.RateLimitConfig `yaml:"rate_limits"`

	// TrustedProxies (IPs or CIDRs) may set X-Forwarded-For. Requests from
	// anyone else are keyed on their own address.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// ProxyNets returns the parsed trusted proxies. Load has already
// validated them.
func (s ServerConfig) ProxyNets() []*net.IPNet {
	nets, _ := shield.ParseTrustedProxies(s.TrustedProxies)
	return nets
}

// CaptureConfig controls page snapshots.
type CaptureConfig struct {
	Deadline     time.Duration         `yaml:"deadline"`
	ReadyTimeout time.Duration         `yaml:"ready_timeout"`
	Width        int                   `yaml:"width"`
	Height       int                   `yaml:"height"`
	BlockPrivate *bool                 `yaml:"block_private"`
	TempDir      string                `yaml:"temp_dir"`
	Browser      capture.BrowserConfig `yaml:"browser"`
}

// ExportConfig controls SVG exports.
type ExportConfig struct {
	// Rasterizer is the command prefix, e.g. [java, -jar, batik-rasterizer.jar].
	Rasterizer   []string      `yaml:"rasterizer"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxSVGBytes  int           `yaml:"max_svg_bytes"`
	VerifyPDF    bool          `yaml:"verify_pdf"`
	VerifyImages bool          `yaml:"verify_images"`
	TempDir      string        `yaml:"temp_dir"`
}

// JournalConfig enables the SQLite outcome journal when Path is set.
type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// MCPConfig controls the MCP tool surface.
type MCPConfig struct {
	Transport string `yaml:"transport"` // "" | http | quic

	// QUIC listener, used when Transport is quic. Without a certificate
	// pair an ephemeral self-signed one is generated.
	QUICAddr string `yaml:"quic_addr"`
	TLSCert  string `yaml:"tls_cert"`
	TLSKey   string `yaml:"tls_key"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides from getenv and fills defaults.
func Load(path string, getenv func(string) string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("TEMP_DIR"); v != "" {
		c.Capture.TempDir = v
		c.Export.TempDir = v
	}
	if v := getenv("CHROME_REMOTE"); v != "" {
		c.Capture.Browser.RemoteURL = v
	}
	if v := getenv("RASTERIZER"); v != "" {
		c.Export.Rasterizer = strings.Fields(v)
	}
	if v := getenv("CAPTURE_DEADLINE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CAPTURE_DEADLINE: %w", err)
		}
		c.Capture.Deadline = d
	}
	if v := getenv("JOURNAL_DB"); v != "" {
		c.Journal.Path = v
	}
	if v := getenv("MCP_TRANSPORT"); v != "" {
		c.MCP.Transport = v
	}
	if v := getenv("MCP_QUIC_ADDR"); v != "" {
		c.MCP.QUICAddr = v
	}
	if v := getenv("TLS_CERT"); v != "" {
		c.MCP.TLSCert = v
	}
	if v := getenv("TLS_KEY"); v != "" {
		c.MCP.TLSKey = v
	}
	if v := getenv("TRUSTED_PROXIES"); v != "" {
		c.Server.TrustedProxies = strings.Split(v, ",")
	}
	return nil
}

// Validate rejects settings that would only fail later at startup.
func (c *Config) Validate() error {
	switch c.MCP.Transport {
	case "", "http", "quic":
	default:
		return fmt.Errorf("config: unknown mcp transport %q", c.MCP.Transport)
	}
	if (c.MCP.TLSCert == "") != (c.MCP.TLSKey == "") {
		return fmt.Errorf("config: tls_cert and tls_key must be set together")
	}
	if _, err := shield.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Capture.Deadline <= 0 {
		c.Capture.Deadline = 60 * time.Second
	}
	// Responses are written after the capture completes.
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = c.Capture.Deadline + 30*time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Capture.ReadyTimeout <= 0 {
		c.Capture.ReadyTimeout = capture.DefaultReadyTimeout
	}
	if c.Capture.Width <= 0 {
		c.Capture.Width = capture.DefaultWidth
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = capture.DefaultHeight
	}
	if c.Capture.BlockPrivate == nil {
		t := true
		c.Capture.BlockPrivate = &t
	}
	if len(c.Export.Rasterizer) == 0 {
		c.Export.Rasterizer = []string{"java", "-jar", "batik-rasterizer.jar"}
	}
	if c.Export.Timeout <= 0 {
		c.Export.Timeout = 60 * time.Second
	}
	if c.Export.MaxSVGBytes <= 0 {
		c.Export.MaxSVGBytes = 10 << 20
	}
	if c.Journal.RetentionDays <= 0 {
		c.Journal.RetentionDays = 30
	}
	if c.MCP.QUICAddr == "" {
		c.MCP.QUICAddr = ":9444"
	}
}

// SlogLevel maps LogLevel to a slog level; unknown values are info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
