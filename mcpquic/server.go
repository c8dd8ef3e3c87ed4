// CLAUDE:SUMMARY QUIC listener serving the snapd MCP tools: ALPN check, preamble check, one MCP session per connection.
package mcpquic

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"

	"github.com/hazyhaar/snapd/idgen"
	"github.com/hazyhaar/snapd/kit"
)

// Listener accepts MCP-over-QUIC connections and serves them all from one
// shared mcp.Server.
type Listener struct {
	listener *quic.Listener
	server   *mcp.Server
	logger   *slog.Logger
	newID    idgen.Generator
}

// NewListener binds addr. tlsCfg must advertise ALPNProtocolMCP.
func NewListener(addr string, tlsCfg *tls.Config, srv *mcp.Server, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l, err := quic.ListenAddr(addr, tlsCfg, ProductionQUICConfig())
	if err != nil {
		return nil, err
	}
	logger.Info("mcp quic listener ready", "addr", l.Addr().String())
	return &Listener{
		listener: l,
		server:   srv,
		logger:   logger,
		newID:    idgen.Prefixed("quic_", idgen.NanoID(8)),
	}, nil
}

// Addr is the bound UDP address.
func (l *Listener) Addr() string { return l.listener.Addr().String() }

// Serve accepts connections until ctx is done or the listener is closed.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		conn, err := l.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPNProtocolMCP {
			conn.CloseWithError(ConnErrorUnsupportedALPN, "unsupported ALPN: "+alpn)
			continue
		}
		go l.serveConn(ctx, conn)
	}
}

// Close stops accepting and closes all connections.
func (l *Listener) Close() error {
	return l.listener.Close()
}

func (l *Listener) serveConn(ctx context.Context, conn *quic.Conn) {
	remote := conn.RemoteAddr().String()
	log := l.logger.With("remote", remote)

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		log.Warn("mcp quic: accept stream", "error", err)
		conn.CloseWithError(ConnErrorProtocolViolation, "stream accept failed")
		return
	}
	if err := ValidateMagicBytes(stream); err != nil {
		log.Warn("mcp quic: bad preamble", "error", err)
		stream.CancelWrite(StreamErrorProtocolConfusion)
		stream.CancelRead(StreamErrorProtocolConfusion)
		conn.CloseWithError(ConnErrorProtocolViolation, "invalid magic bytes")
		return
	}

	id := l.newID()
	log = log.With("session", id)
	ctx = kit.WithTransport(ctx, "mcp_quic")
	ctx = kit.WithRemoteAddr(ctx, remote)

	ss, err := l.server.Connect(ctx, &streamTransport{stream: stream, id: id}, nil)
	if err != nil {
		log.Error("mcp quic: connect", "error", err)
		stream.Close()
		return
	}
	log.Info("mcp quic: session started")
	if err := ss.Wait(); err != nil {
		log.Debug("mcp quic: session error", "error", err)
	}
	conn.CloseWithError(ConnErrorNoError, "session ended")
	log.Info("mcp quic: session ended")
}

// streamTransport runs the SDK's line-delimited JSON-RPC over one stream.
type streamTransport struct {
	stream *quic.Stream
	id     string
}

func (t *streamTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := newIOTransport(t.stream).Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &sessionConn{Connection: conn, id: t.id}, nil
}

func newIOTransport(s *quic.Stream) *mcp.IOTransport {
	return &mcp.IOTransport{
		Reader: io.NopCloser(s),
		Writer: streamWriteCloser{s},
	}
}

// sessionConn gives the connection a stable id; IOTransport reports none.
type sessionConn struct {
	mcp.Connection
	id string
}

func (c *sessionConn) SessionID() string { return c.id }

type streamWriteCloser struct{ stream *quic.Stream }

func (w streamWriteCloser) Write(p []byte) (int, error) { return w.stream.Write(p) }
func (w streamWriteCloser) Close() error                { return w.stream.Close() }
