// CLAUDE:SUMMARY Reusable HTTP middleware stack for snapd: HEAD handling, security headers, body limits, trace ids, per-IP rate limits.
// Package shield provides the HTTP middleware applied in front of every
// snapd route.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(shield.StackConfig{MaxBody: 10 << 20}) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net"
	"net/http"
	"time"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// StackConfig configures DefaultStack.
type StackConfig struct {
	// MaxBody caps form bodies (urlencoded and multipart). Default 64 KiB.
	MaxBody int64

	// RateLimits maps "METHOD /path" to a per-IP limit. Empty = no limiter.
	RateLimits map[string]RateLimitConfig

	// TrustedProxies are the peers whose X-Forwarded-For is believed when
	// attributing a request to a client. Empty = key on the direct peer.
	TrustedProxies []*net.IPNet

	// Done, when set, runs the limiter's bucket GC until closed.
	Done <-chan struct{}

	Logger *slog.Logger
}

// DefaultStack returns the standard middleware stack, ordered:
// HeadAsGet → SecurityHeaders → MaxFormBody → TraceID → RateLimiter.
// /healthz is never rate limited.
func DefaultStack(cfg StackConfig) []func(http.Handler) http.Handler {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 64 * 1024
	}
	ips := NewIPResolver(cfg.TrustedProxies)
	stack := []func(http.Handler) http.Handler{
		HeadAsGet("/healthz"),
		SecurityHeaders(DefaultHeaders()),
		MaxFormBody(cfg.MaxBody),
		traceID(cfg.Logger, ips.ClientIP),
	}
	if len(cfg.RateLimits) > 0 {
		rl := NewRateLimiter(cfg.RateLimits, "/healthz")
		rl.KeyBy(ips.ClientIP)
		if cfg.Done != nil {
			rl.StartGC(time.Minute, cfg.Done)
		}
		stack = append(stack, rl.Middleware)
	}
	return stack
}
