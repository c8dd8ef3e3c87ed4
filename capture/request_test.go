package capture

import (
	"errors"
	"strings"
	"testing"

	"github.com/hazyhaar/snapd/failure"
)

func TestWithDefaults(t *testing.T) {
	r := Request{URL: "https://example.com"}.WithDefaults()
	if r.Name != "page" || r.Selector != "body" || r.Width != 1280 || r.Height != 1024 {
		t.Fatalf("defaults not applied: %+v", r)
	}
	if r.Loaded != "" {
		t.Fatalf("empty ready selector must stay empty, got %q", r.Loaded)
	}

	hides := []string{".a"}
	r = Request{URL: "u", Hides: hides}.WithDefaults()
	hides[0] = ".mutated"
	if r.Hides[0] != ".a" {
		t.Fatal("WithDefaults must copy the hide list")
	}
}

func TestValidate(t *testing.T) {
	ok := Request{URL: "https://example.com"}.WithDefaults()
	tests := []struct {
		name   string
		mutate func(*Request)
		valid  bool
	}{
		{"valid", func(*Request) {}, true},
		{"empty url", func(r *Request) { r.URL = "" }, false},
		{"blank url", func(r *Request) { r.URL = "   " }, false},
		{"zero width", func(r *Request) { r.Width = 0 }, false},
		{"huge height", func(r *Request) { r.Height = MaxViewportDim + 1 }, false},
		{"nul in selector", func(r *Request) { r.Selector = "body\x00" }, false},
		{"long loaded", func(r *Request) { r.Loaded = strings.Repeat("a", MaxFieldLen+1) }, false},
		{"nul in hide", func(r *Request) { r.Hides = []string{".ok", "\x00"} }, false},
		{"too many hides", func(r *Request) { r.Hides = make([]string, MaxHides+1) }, false},
		{"cookie crlf", func(r *Request) { r.CookieName, r.CookieValue = "s", "a\r\nX-Evil: 1" }, false},
		{"cookie name with equals", func(r *Request) { r.CookieName, r.CookieValue = "a=b", "c" }, false},
		{"cookie ok", func(r *Request) { r.CookieName, r.CookieValue = "sessionid", "abc123" }, true},
	}
	for _, tt := range tests {
		r := ok
		tt.mutate(&r)
		err := r.Validate()
		if tt.valid && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.valid && !errors.Is(err, failure.ErrInvalidInput) {
			t.Errorf("%s: expected InvalidInput, got %v", tt.name, err)
		}
	}
}

func TestHeaders(t *testing.T) {
	if h := (Request{CookieName: "a", CookieValue: "b"}).Headers(); h["Cookie"] != "a=b" {
		t.Fatalf("got %v", h)
	}
	if h := (Request{CookieName: "a"}).Headers(); h != nil {
		t.Fatalf("expected nil, got %v", h)
	}
}
