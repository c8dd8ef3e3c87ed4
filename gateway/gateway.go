// CLAUDE:SUMMARY Request boundary of snapd: chi routes (/snap, /export_svg, /healthz, /mcp), parameter parsing, outcome serialization, journaling.
// Package gateway is the request boundary of snapd. It turns HTTP and MCP
// parameters into capture and export requests, hands them to the isolated
// cores and serializes the outcome. It holds no state between requests.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/snapd/capture"
	"github.com/hazyhaar/snapd/export"
	"github.com/hazyhaar/snapd/failure"
	"github.com/hazyhaar/snapd/horosafe"
	"github.com/hazyhaar/snapd/isolate"
	"github.com/hazyhaar/snapd/kit"
	"github.com/hazyhaar/snapd/observability"
	"github.com/hazyhaar/snapd/shield"
)

// Snapper runs one capture in isolation. *isolate.Runner implements it.
type Snapper interface {
	Execute(ctx context.Context, req capture.Request, deadline time.Duration) *isolate.Result
}

// Exporter runs one SVG export. *export.Converter implements it.
type Exporter interface {
	Convert(ctx context.Context, req export.Request) (*export.Outcome, error)
}

// Config configures a Gateway.
type Config struct {
	Snapper  Snapper
	Exporter Exporter

	// Journal is optional.
	Journal *observability.Journal

	// Deadline bounds one capture. Default isolate.DefaultDeadline.
	Deadline time.Duration

	// Viewport used when the caller sets none.
	DefaultWidth  int
	DefaultHeight int

	// BlockPrivate rejects targets resolving to private or loopback
	// addresses.
	BlockPrivate bool

	// MaxBody caps the /export_svg form. Default 10 MiB plus form overhead.
	MaxBody int64

	RateLimits map[string]shield.RateLimitConfig

	// TrustedProxies may set X-Forwarded-For for rate limiting and logs.
	TrustedProxies []*net.IPNet

	// Done stops background maintenance (rate limiter GC).
	Done <-chan struct{}

	// MCPHandler, when set, is mounted at /mcp.
	MCPHandler http.Handler

	Logger *slog.Logger
}

// Gateway serves the snapd HTTP surface.
type Gateway struct {
	cfg  Config
	snap kit.Endpoint
	exp  kit.Endpoint
}

// New creates a Gateway.
func New(cfg Config) *Gateway {
	if cfg.Deadline <= 0 {
		cfg.Deadline = isolate.DefaultDeadline
	}
	if cfg.DefaultWidth <= 0 {
		cfg.DefaultWidth = capture.DefaultWidth
	}
	if cfg.DefaultHeight <= 0 {
		cfg.DefaultHeight = capture.DefaultHeight
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = export.DefaultMaxSVGBytes + 64<<10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	g := &Gateway{cfg: cfg}
	g.snap = kit.Logging(cfg.Logger, "snap")(g.snapEndpoint)
	g.exp = kit.Logging(cfg.Logger, "export_svg")(g.exportEndpoint)
	return g
}

// Routes returns the HTTP handler with the shield stack applied.
func (g *Gateway) Routes() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(shield.StackConfig{
		MaxBody:        g.cfg.MaxBody,
		RateLimits:     g.cfg.RateLimits,
		TrustedProxies: g.cfg.TrustedProxies,
		Done:           g.cfg.Done,
		Logger:         g.cfg.Logger,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/snap", g.handleSnap)
	r.Post("/export_svg", g.handleExport)
	if g.cfg.MCPHandler != nil {
		r.Handle("/mcp", g.cfg.MCPHandler)
	}
	return r
}

// snapEndpoint returns a successful *isolate.Result; the caller must
// Release it.
func (g *Gateway) snapEndpoint(ctx context.Context, req any) (any, error) {
	creq := req.(capture.Request)
	start := time.Now()

	if err := g.checkTarget(creq.URL); err != nil {
		g.record(ctx, observability.OpSnap, creq.URL, start, 0, err)
		return nil, err
	}

	res := g.cfg.Snapper.Execute(ctx, creq, g.cfg.Deadline)
	if err := res.Err(); err != nil {
		g.record(ctx, observability.OpSnap, creq.URL, start, 0, err)
		return nil, err
	}
	var size int64
	if info, err := os.Stat(res.FilePath); err == nil {
		size = info.Size()
	}
	g.record(ctx, observability.OpSnap, creq.URL, start, size, nil)
	return res, nil
}

// exportEndpoint returns an *export.Outcome; the caller must Release it.
func (g *Gateway) exportEndpoint(ctx context.Context, req any) (any, error) {
	ereq := req.(export.Request)
	start := time.Now()
	out, err := g.cfg.Exporter.Convert(ctx, ereq)
	if err != nil {
		g.record(ctx, observability.OpExport, string(ereq.Type), start, 0, err)
		return nil, err
	}
	g.record(ctx, observability.OpExport, string(ereq.Type), start, out.Size, nil)
	return out, nil
}

func (g *Gateway) checkTarget(rawURL string) error {
	const op = "gateway.target"
	check := func(u string) error {
		_, err := horosafe.CheckScheme(u)
		return err
	}
	if g.cfg.BlockPrivate {
		check = horosafe.ValidateURL
	}
	if err := check(rawURL); err != nil {
		return &failure.Error{Kind: failure.InvalidInput, Op: op, Msg: "target URL rejected", Err: err}
	}
	return nil
}

func (g *Gateway) record(ctx context.Context, op, target string, start time.Time, size int64, err error) {
	e := observability.Entry{
		Operation: op,
		Target:    target,
		Success:   err == nil,
		Duration:  time.Since(start),
		Bytes:     size,
		TraceID:   kit.GetTraceID(ctx),
		Transport: kit.GetTransport(ctx),
	}
	if err != nil {
		e.Kind = failure.KindOf(err).String()
	}
	g.cfg.Journal.Record(e)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	w.Write([]byte(msg))
}
