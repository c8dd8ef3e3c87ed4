// CLAUDE:SUMMARY SVG export pipeline: sanitize, validate, materialize to a private work dir, rasterize via an allow-listed argv, map the exit status to an Outcome.
// Package export converts a posted SVG document to PNG, JPEG, PDF or SVG.
//
// The document is checked for entity declarations before anything touches
// the disk, written verbatim to a private work directory and handed to an
// external rasterizer (Batik by default) as an argument vector. SVG output
// short-circuits: the materialized input is the result.
//
//	c := export.New(export.Config{Rasterizer: []string{"java", "-jar", "batik-rasterizer.jar"}})
//	out, err := c.Convert(ctx, export.Request{Document: svg, Type: export.TypePDF})
//	if err != nil { ... }
//	defer out.Release()
package export

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/snapd/failure"
	"github.com/hazyhaar/snapd/idgen"
)

// Type is an allow-listed export MIME type.
type Type string

const (
	TypePNG  Type = "image/png"
	TypeJPEG Type = "image/jpeg"
	TypePDF  Type = "application/pdf"
	TypeSVG  Type = "image/svg+xml"
)

var extensions = map[Type]string{
	TypePNG:  "png",
	TypeJPEG: "jpg",
	TypePDF:  "pdf",
	TypeSVG:  "svg",
}

// Valid reports whether t is in the allow-list.
func (t Type) Valid() bool {
	_, ok := extensions[t]
	return ok
}

// Extension returns the file extension for t, without the dot.
func (t Type) Extension() string { return extensions[t] }

// Defaults.
const (
	DefaultDPI         = 96
	DefaultOutputName  = "export"
	DefaultBackground  = "255.255.255.255"
	DefaultTimeout     = 60 * time.Second
	DefaultMaxSVGBytes = 10 << 20
)

// InvalidTypeMessage is the caller-facing message for a type outside the
// allow-list.
const InvalidTypeMessage = "Invalid export type"

// Request describes one conversion.
type Request struct {
	Document   string `json:"svg"`
	Type       Type   `json:"type"`
	DPI        int    `json:"dpi,omitempty"`
	OutputName string `json:"filename,omitempty"`
	Background string `json:"bg,omitempty"`
	Width      int    `json:"width,omitempty"`
}

// WithDefaults returns a copy with zero fields replaced by defaults.
func (r Request) WithDefaults() Request {
	if r.DPI == 0 {
		r.DPI = DefaultDPI
	}
	if r.OutputName == "" {
		r.OutputName = DefaultOutputName
	}
	if r.Background == "" {
		r.Background = DefaultBackground
	}
	return r
}

// Outcome is a successful conversion. The payload lives in a private work
// directory until Release is called.
type Outcome struct {
	ContentType string
	PayloadPath string
	FileName    string
	Size        int64

	dir  string
	once sync.Once
}

// Release removes the work directory holding the payload. Safe to call more
// than once.
func (o *Outcome) Release() error {
	var err error
	o.once.Do(func() {
		if o.dir != "" {
			err = os.RemoveAll(o.dir)
		}
	})
	return err
}

// Config configures a Converter.
type Config struct {
	// Rasterizer is the command prefix the export argv is appended to.
	// Example: ["java", "-jar", "/opt/batik/batik-rasterizer.jar"].
	Rasterizer []string

	// Timeout bounds one rasterizer run. Default: DefaultTimeout.
	Timeout time.Duration

	// TempDir is where per-request work directories are created.
	TempDir string

	// MaxSVGBytes bounds the posted document. Default: DefaultMaxSVGBytes.
	MaxSVGBytes int

	// VerifyPDF runs a structural pdfcpu validation on PDF output.
	VerifyPDF bool

	// VerifyImages decodes PNG and JPEG output before it is served.
	VerifyImages bool

	Logger *slog.Logger
}

// Converter runs export requests. It is stateless between calls.
type Converter struct {
	cfg Config
}

// New creates a Converter.
func New(cfg Config) *Converter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.MaxSVGBytes <= 0 {
		cfg.MaxSVGBytes = DefaultMaxSVGBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Converter{cfg: cfg}
}

// Validate checks everything about req except the document content.
func (r Request) Validate(maxBytes int) error {
	const op = "export.validate"
	if !r.Type.Valid() {
		return failure.New(failure.InvalidInput, op, InvalidTypeMessage)
	}
	if r.DPI <= 0 || r.DPI > 2400 {
		return failure.New(failure.InvalidInput, op, "dpi %d out of range", r.DPI)
	}
	if r.Width < 0 || r.Width > 100000 {
		return failure.New(failure.InvalidInput, op, "width %d out of range", r.Width)
	}
	if !validBackground(r.Background) {
		return failure.New(failure.InvalidInput, op, "background must be r.g.b.a")
	}
	if maxBytes > 0 && len(r.Document) > maxBytes {
		return failure.New(failure.InvalidInput, op, "document exceeds %d bytes", maxBytes)
	}
	return nil
}

func validBackground(bg string) bool {
	parts := strings.Split(bg, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 || strings.HasPrefix(p, "+") {
			return false
		}
	}
	return true
}

// Convert runs one export. On error nothing is left on disk; on success the
// caller must Release the Outcome.
func (c *Converter) Convert(ctx context.Context, req Request) (*Outcome, error) {
	const op = "export.convert"
	start := time.Now()
	log := c.cfg.Logger.With("type", string(req.Type))

	if !PlainEncoding(req.Document) {
		log.Warn("export: unscannable encoding rejected", "bytes", len(req.Document))
		return nil, failure.New(failure.SecurityRejected, op, SecurityMessage)
	}
	if ContainsEntityDecl(req.Document) {
		log.Warn("export: entity declaration rejected", "bytes", len(req.Document))
		return nil, failure.New(failure.SecurityRejected, op, SecurityMessage)
	}
	req = req.WithDefaults()
	if err := req.Validate(c.cfg.MaxSVGBytes); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(c.cfg.TempDir, "export-"+idgen.NewToken()+"-")
	if err != nil {
		log.Error("export: create work dir", "error", err)
		return nil, failure.Wrap(failure.IOFailure, op, err)
	}
	out, err := c.convertIn(ctx, log, dir, req)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Error("export: remove work dir", "dir", dir, "error", rmErr)
		}
		log.Warn("export: failed", "kind", failure.KindOf(err), "error", err, "elapsed", time.Since(start))
		return nil, err
	}
	out.dir = dir
	log.Info("export: ok", "file", out.FileName, "size", out.Size, "elapsed", time.Since(start))
	return out, nil
}

func (c *Converter) convertIn(ctx context.Context, log *slog.Logger, dir string, req Request) (*Outcome, error) {
	const op = "export.convert"

	in, err := materialize(dir, req.Document)
	if err != nil {
		return nil, failure.Wrap(failure.IOFailure, op, err)
	}

	payload := in
	if req.Type != TypeSVG {
		payload = filepath.Join(dir, "output."+req.Type.Extension())
		if err := c.rasterize(ctx, log, req, in, payload); err != nil {
			return nil, err
		}
	}

	info, err := os.Stat(payload)
	switch {
	case req.Type == TypeSVG && err != nil:
		return nil, failure.Wrap(failure.IOFailure, op, err)
	case req.Type != TypeSVG && (err != nil || !info.Mode().IsRegular() || info.Size() == 0):
		return nil, failure.New(failure.ConversionToolFailure, op, "Export to %s failed", req.Type)
	}

	if err := c.verify(req.Type, payload); err != nil {
		log.Warn("export: output verification failed", "error", err)
		return nil, failure.New(failure.ConversionToolFailure, op, "Export to %s failed", req.Type)
	}

	return &Outcome{
		ContentType: string(req.Type),
		PayloadPath: payload,
		FileName:    fileName(req.OutputName, req.Type.Extension()),
		Size:        info.Size(),
	}, nil
}

func materialize(dir, document string) (string, error) {
	f, err := os.CreateTemp(dir, "input-*.svg")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(document); err != nil {
		f.Close()
		return "", err
	}
	return f.Name(), f.Close()
}

func fileName(name, ext string) string {
	if strings.HasSuffix(name, "."+ext) {
		return name
	}
	return name + "." + ext
}
