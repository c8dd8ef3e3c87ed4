package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
)

const rodTestPage = `<!doctype html>
<html><head><style>
html, body { margin: 0; padding: 0; }
#box { width: 200px; height: 100px; background: #c00; }
#banner { height: 40px; background: #00c; }
#tall { width: 3000px; height: 5000px; background: #0c0; }
</style></head>
<body><div id="box"></div><div id="banner">cookie banner</div><div id="tall"></div></body></html>`

// rodDriver returns a driver on a locally installed Chrome, or skips.
func rodDriver(t *testing.T) *RodDriver {
	t.Helper()
	if testing.Short() {
		t.Skip("browser test")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no Chrome/Chromium found")
	}
	return NewRodDriver(BrowserConfig{Bin: bin, NoSandbox: true, WorkDir: t.TempDir()})
}

type cookieServer struct {
	*httptest.Server
	mu      sync.Mutex
	cookies []string
}

func newCookieServer(t *testing.T) *cookieServer {
	cs := &cookieServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		cs.mu.Lock()
		cs.cookies = append(cs.cookies, r.Header.Get("Cookie"))
		cs.mu.Unlock()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, rodTestPage)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *cookieServer) seen() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]string(nil), cs.cookies...)
}

func decodePNG(t *testing.T, data []byte) image.Rectangle {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	return img.Bounds()
}

func TestRodPage(t *testing.T) {
	drv := rodDriver(t)
	srv := newCookieServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	page, err := drv.Open(ctx, Viewport{Width: 800, Height: 600})
	if err != nil {
		t.Fatal(err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, srv.URL+"/", map[string]string{"Cookie": "sid=abc123"}); err != nil {
		t.Fatal(err)
	}
	if got := srv.seen(); len(got) == 0 || got[0] != "sid=abc123" {
		t.Fatalf("cookies seen by server: %q", got)
	}
	if err := page.WaitSelector(ctx, "#box"); err != nil {
		t.Fatal(err)
	}

	if err := page.Hide(ctx, []string{"#banner", ".absent"}); err != nil {
		t.Fatal(err)
	}
	res, err := page.(*rodPage).page.Eval(`() => getComputedStyle(document.querySelector('#banner')).display`)
	if err != nil {
		t.Fatal(err)
	}
	if d := res.Value.String(); d != "none" {
		t.Fatalf("banner display %q", d)
	}

	tests := []struct {
		selector string
		want     image.Point
	}{
		{"#box", image.Pt(200, 100)},
		{"#missing", image.Pt(800, 600)},
	}
	for _, tt := range tests {
		data, err := page.Capture(ctx, tt.selector)
		if err != nil {
			t.Fatalf("%s: %v", tt.selector, err)
		}
		if got := decodePNG(t, data).Size(); got != tt.want {
			t.Errorf("%s: size %v, want %v", tt.selector, got, tt.want)
		}
	}

	// An element larger than the window is clipped to it.
	data, err := page.Capture(ctx, "#tall")
	if err != nil {
		t.Fatal(err)
	}
	size := decodePNG(t, data).Size()
	if size.X <= 0 || size.Y <= 0 || size.X > 800 || size.Y > 600 {
		t.Fatalf("#tall: size %v exceeds the 800x600 viewport", size)
	}
}

func TestRodEngine_ImageWithinViewport(t *testing.T) {
	drv := rodDriver(t)
	srv := newCookieServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	dir := t.TempDir()
	path, err := New(Config{Driver: drv, ReadyTimeout: 10 * time.Second}).Run(ctx, Request{
		URL:         srv.URL + "/",
		Name:        "page",
		Selector:    "body",
		Loaded:      "body",
		Hides:       []string{"#banner"},
		CookieName:  "sid",
		CookieValue: "xyz",
		Width:       800,
		Height:      600,
	}, dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("capture written to %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	size := decodePNG(t, data).Size()
	if size.X <= 0 || size.Y <= 0 || size.X > 800 || size.Y > 600 {
		t.Fatalf("size %v exceeds the 800x600 viewport", size)
	}
	if got := srv.seen(); len(got) == 0 || got[0] != "sid=xyz" {
		t.Fatalf("cookies seen by server: %q", got)
	}
}
