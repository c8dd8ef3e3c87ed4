// CLAUDE:SUMMARY Registers a kit Endpoint as an MCP tool: decode arguments, tag the context (transport, trace id), run the endpoint, return JSON text or a tool error.
package kit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/snapd/idgen"
)

// MCPDecodeResult is what a tool's decode function produces: the typed
// request for the endpoint and an optional context enrichment.
type MCPDecodeResult struct {
	Request   any
	EnrichCtx func(context.Context) context.Context
}

var newMCPTraceID = idgen.Prefixed("mcp_", idgen.NanoID(16))

// RegisterMCPTool exposes endpoint as the MCP tool described by tool.
//
// Decode and endpoint failures are returned as tool errors (IsError set),
// never as protocol errors, so their text reaches the caller verbatim and
// must already be safe to show. A successful response is marshalled to
// JSON and returned as a single text content.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode func(*mcp.CallToolRequest) (*MCPDecodeResult, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req)
		if err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		ctx = mcpContext(ctx)
		if decoded.EnrichCtx != nil {
			ctx = decoded.EnrichCtx(ctx)
		}

		resp, err := endpoint(ctx, decoded.Request)
		if err != nil {
			return toolError(errors.New(err.Error())), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// mcpContext marks ctx as an MCP call. A transport already tagged by the
// listener (mcp_quic) is kept; a call without a trace id gets one.
func mcpContext(ctx context.Context) context.Context {
	if t, ok := ctx.Value(TransportKey).(string); !ok || !strings.HasPrefix(t, "mcp") {
		ctx = WithTransport(ctx, "mcp")
	}
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, newMCPTraceID())
	}
	return ctx
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
