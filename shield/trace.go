package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/snapd/idgen"
	"github.com/hazyhaar/snapd/kit"
)

// TraceID is TraceIDWith(slog.Default()).
func TraceID(next http.Handler) http.Handler {
	return TraceIDWith(nil)(next)
}

// TraceIDWith generates a trace ID for each request and injects it into the
// context, the X-Trace-ID response header and a per-request structured
// logger derived from base. The trace ID is stored under kit.TraceIDKey and
// the logger under LoggerKey.
func TraceIDWith(base *slog.Logger) func(http.Handler) http.Handler {
	return traceID(base, ExtractIP)
}

func traceID(base *slog.Logger, clientIP func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := idgen.NewToken()

			ctx := kit.WithTraceID(r.Context(), traceID)
			ctx = kit.WithRemoteAddr(ctx, clientIP(r))
			w.Header().Set("X-Trace-ID", traceID)

			logger := base
			if logger == nil {
				logger = slog.Default()
			}
			logger = logger.With(
				"trace_id", traceID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"client_ip", kit.GetRemoteAddr(ctx),
			)
			ctx = context.WithValue(ctx, LoggerKey, logger)
			logger.Info("request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
