// CLAUDE:SUMMARY Capture request value object: defaults, validation of transport bounds, cookie header resolution.
package capture

import (
	"strings"

	"github.com/hazyhaar/snapd/failure"
)

// Transport bounds for values crossing the isolation boundary.
const (
	MaxFieldLen    = 8 << 10
	MaxHides       = 64
	MaxViewportDim = 8192
)

// Default request values.
const (
	DefaultName     = "page"
	DefaultSelector = "body"
	DefaultLoaded   = "body"
	DefaultWidth    = 1280
	DefaultHeight   = 1024
)

// Request is the immutable description of one snapshot. It is a plain value:
// the parent serializes it once when spawning the worker and the worker
// never sees the parent's HTTP request.
type Request struct {
	URL         string   `json:"url"`
	Name        string   `json:"name"`
	Selector    string   `json:"selector"`
	Hides       []string `json:"hides,omitempty"`
	Loaded      string   `json:"loaded"`
	CookieName  string   `json:"cookie_name,omitempty"`
	CookieValue string   `json:"cookie_value,omitempty"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
}

// WithDefaults returns a copy with zero fields replaced by defaults. Loaded is
// left alone: an empty ready selector means "do not wait".
func (r Request) WithDefaults() Request {
	if r.Name == "" {
		r.Name = DefaultName
	}
	if r.Selector == "" {
		r.Selector = DefaultSelector
	}
	if r.Width <= 0 {
		r.Width = DefaultWidth
	}
	if r.Height <= 0 {
		r.Height = DefaultHeight
	}
	if len(r.Hides) > 0 {
		r.Hides = append([]string(nil), r.Hides...)
	}
	return r
}

// Validate checks the request against the transport bounds. Every failure is
// failure.InvalidInput.
func (r Request) Validate() error {
	const op = "capture.validate"
	if strings.TrimSpace(r.URL) == "" {
		return failure.New(failure.InvalidInput, op, "url is required")
	}
	if r.Width <= 0 || r.Height <= 0 || r.Width > MaxViewportDim || r.Height > MaxViewportDim {
		return failure.New(failure.InvalidInput, op, "viewport %dx%d out of range", r.Width, r.Height)
	}
	if len(r.Hides) > MaxHides {
		return failure.New(failure.InvalidInput, op, "too many hide selectors (%d, max %d)", len(r.Hides), MaxHides)
	}

	fields := []struct {
		name, value string
	}{
		{"url", r.URL},
		{"name", r.Name},
		{"selector", r.Selector},
		{"loaded", r.Loaded},
		{"cookie_name", r.CookieName},
		{"cookie_value", r.CookieValue},
	}
	for _, h := range r.Hides {
		fields = append(fields, struct{ name, value string }{"hides", h})
	}
	for _, f := range fields {
		if len(f.value) > MaxFieldLen {
			return failure.New(failure.InvalidInput, op, "%s exceeds %d bytes", f.name, MaxFieldLen)
		}
		if strings.IndexByte(f.value, 0) >= 0 {
			return failure.New(failure.InvalidInput, op, "%s contains a NUL byte", f.name)
		}
	}
	if strings.ContainsAny(r.CookieName, "\r\n;= ") || strings.ContainsAny(r.CookieValue, "\r\n;") {
		return failure.New(failure.InvalidInput, op, "cookie contains forbidden characters")
	}
	return nil
}

// Headers returns the outgoing header set for navigation: a Cookie header
// only when both name and value are non-empty.
func (r Request) Headers() map[string]string {
	if r.CookieName == "" || r.CookieValue == "" {
		return nil
	}
	return map[string]string{"Cookie": r.CookieName + "=" + r.CookieValue}
}

// Viewport is the emulated window size.
type Viewport struct {
	Width  int
	Height int
}

// Viewport returns the request's viewport.
func (r Request) Viewport() Viewport {
	return Viewport{Width: r.Width, Height: r.Height}
}
