package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/snapd/capture"
	"github.com/hazyhaar/snapd/export"
	"github.com/hazyhaar/snapd/failure"
	"github.com/hazyhaar/snapd/isolate"
	"github.com/hazyhaar/snapd/kit"
)

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// FileResult is what both tools return: the produced file, inline.
type FileResult struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Data        []byte `json:"data"` // base64 in JSON
}

// RegisterMCP registers the snap and export_svg tools on srv.
func (g *Gateway) RegisterMCP(srv *mcp.Server) {
	g.registerSnapTool(srv)
	g.registerExportTool(srv)
}

// NewMCPHandler serves srv over streamable HTTP.
func NewMCPHandler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

// publicError strips internal detail from a core failure before it is
// returned to an MCP client.
func publicError(err error) error {
	kind := failure.KindOf(err)
	switch kind {
	case failure.InvalidInput, failure.SecurityRejected, failure.ConversionToolFailure:
		return fmt.Errorf("%s: %s", kind, failure.Message(err))
	default:
		return fmt.Errorf("%s", kind)
	}
}

type snapArgs struct {
	URL         string   `json:"url"`
	Name        string   `json:"name"`
	Selector    string   `json:"selector"`
	Hides       []string `json:"hides"`
	Loaded      *string  `json:"loaded"`
	CookieName  string   `json:"cookie_name"`
	CookieValue string   `json:"cookie_value"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
}

func (g *Gateway) registerSnapTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "snap",
		Description: "Render a web page, or one element of it, to a PNG image",
		InputSchema: inputSchema(map[string]any{
			"url":          map[string]any{"type": "string", "description": "Page to render"},
			"name":         map[string]any{"type": "string", "description": "File name of the image (default page)"},
			"selector":     map[string]any{"type": "string", "description": "Element to capture (default body)"},
			"hides":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Selectors to hide before capture"},
			"loaded":       map[string]any{"type": "string", "description": "Selector to wait for; empty string disables the wait (default body)"},
			"cookie_name":  map[string]any{"type": "string"},
			"cookie_value": map[string]any{"type": "string"},
			"width":        map[string]any{"type": "integer", "description": "Viewport width"},
			"height":       map[string]any{"type": "integer", "description": "Viewport height"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		creq := req.(capture.Request)
		resp, err := g.snap(ctx, creq)
		if err != nil {
			return nil, publicError(err)
		}
		res := resp.(*isolate.Result)
		defer res.Release()
		data, err := os.ReadFile(res.FilePath)
		if err != nil {
			return nil, publicError(failure.Wrap(failure.IOFailure, "gateway.mcp", err))
		}
		return &FileResult{
			FileName:    creq.Name + ".png",
			ContentType: "image/png",
			Size:        int64(len(data)),
			Data:        data,
		}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var a snapArgs
		if err := json.Unmarshal(req.Params.Arguments, &a); err != nil {
			return nil, err
		}
		if a.URL == "" {
			return nil, fmt.Errorf("url is required")
		}
		creq := capture.Request{
			URL:         a.URL,
			Name:        NormalizeName(a.Name, capture.DefaultName),
			Selector:    a.Selector,
			Hides:       cleanList(a.Hides),
			Loaded:      capture.DefaultLoaded,
			CookieName:  a.CookieName,
			CookieValue: a.CookieValue,
			Width:       a.Width,
			Height:      a.Height,
		}
		if a.Loaded != nil {
			creq.Loaded = *a.Loaded
		}
		if creq.Width <= 0 {
			creq.Width = g.cfg.DefaultWidth
		}
		if creq.Height <= 0 {
			creq.Height = g.cfg.DefaultHeight
		}
		return &kit.MCPDecodeResult{Request: creq}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

type exportArgs struct {
	SVG      string `json:"svg"`
	Type     string `json:"type"`
	DPI      int    `json:"dpi"`
	Filename string `json:"filename"`
	BG       string `json:"bg"`
	Width    int    `json:"width"`
}

func (g *Gateway) registerExportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "export_svg",
		Description: "Convert an SVG document to PNG, JPEG, PDF or SVG",
		InputSchema: inputSchema(map[string]any{
			"svg":      map[string]any{"type": "string", "description": "SVG markup"},
			"type":     map[string]any{"type": "string", "enum": []string{"image/png", "image/jpeg", "application/pdf", "image/svg+xml"}},
			"dpi":      map[string]any{"type": "integer", "description": "Resolution (default 96)"},
			"filename": map[string]any{"type": "string", "description": "Output file name (default export)"},
			"bg":       map[string]any{"type": "string", "description": "Background as r.g.b.a (default 255.255.255.255)"},
			"width":    map[string]any{"type": "integer", "description": "Output width in pixels"},
		}, []string{"svg", "type"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		resp, err := g.exp(ctx, req.(export.Request))
		if err != nil {
			return nil, publicError(err)
		}
		out := resp.(*export.Outcome)
		defer out.Release()
		data, err := os.ReadFile(out.PayloadPath)
		if err != nil {
			return nil, publicError(failure.Wrap(failure.IOFailure, "gateway.mcp", err))
		}
		return &FileResult{
			FileName:    out.FileName,
			ContentType: out.ContentType,
			Size:        out.Size,
			Data:        data,
		}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var a exportArgs
		if err := json.Unmarshal(req.Params.Arguments, &a); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: export.Request{
			Document:   a.SVG,
			Type:       export.Type(a.Type),
			DPI:        a.DPI,
			OutputName: NormalizeName(a.Filename, export.DefaultOutputName),
			Background: a.BG,
			Width:      a.Width,
		}}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
