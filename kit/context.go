// CLAUDE:SUMMARY Request-scoped context values shared by the HTTP and MCP transports: transport name, request id, trace id, remote address.
package kit

import "context"

type contextKey string

// Context keys. Values are always strings.
const (
	TransportKey  contextKey = "kit_transport" // http | mcp | mcp_quic
	RequestIDKey  contextKey = "kit_request_id"
	TraceIDKey    contextKey = "kit_trace_id"
	RemoteAddrKey contextKey = "kit_remote_addr"
)

func str(ctx context.Context, k contextKey) string {
	v, _ := ctx.Value(k).(string)
	return v
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport returns the transport tag; untagged requests came over HTTP.
func GetTransport(ctx context.Context) string {
	if t := str(ctx, TransportKey); t != "" {
		return t
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func GetRequestID(ctx context.Context) string { return str(ctx, RequestIDKey) }

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

func GetTraceID(ctx context.Context) string { return str(ctx, TraceIDKey) }

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, RemoteAddrKey, addr)
}

func GetRemoteAddr(ctx context.Context) string { return str(ctx, RemoteAddrKey) }
