package export

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"

	"github.com/hazyhaar/snapd/failure"
)

const rasterizerModeEnv = "SNAPD_TEST_RASTERIZER"

// TestMain doubles as a fake rasterizer when rasterizerModeEnv is set.
func TestMain(m *testing.M) {
	if mode := os.Getenv(rasterizerModeEnv); mode != "" {
		os.Exit(fakeRasterizer(mode, os.Args[1:]))
	}
	os.Exit(m.Run())
}

func fakeRasterizer(mode string, args []string) int {
	var out string
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "-d" {
			out = args[i+1]
		}
	}
	switch mode {
	case "ok":
		if err := os.WriteFile(out, []byte("rasterized"), 0o600); err != nil {
			return 2
		}
		return 0
	case "argv":
		data, _ := json.Marshal(args)
		if err := os.WriteFile(out, data, 0o600); err != nil {
			return 2
		}
		return 0
	case "png":
		f, err := os.Create(out)
		if err != nil {
			return 2
		}
		defer f.Close()
		if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 4, 3))); err != nil {
			return 2
		}
		return 0
	case "silent":
		return 0
	case "fail":
		os.WriteFile(out, []byte("partial"), 0o600)
		os.Stderr.WriteString("SVGConverter: error\n")
		return 1
	case "hang":
		time.Sleep(time.Hour)
	}
	return 3
}

const sampleSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"><rect width="10" height="10"/></svg>`

func newTestConverter(t *testing.T, mode string) (*Converter, string) {
	t.Helper()
	t.Setenv(rasterizerModeEnv, mode)
	tmp := t.TempDir()
	return New(Config{
		Rasterizer: []string{os.Args[0]},
		Timeout:    5 * time.Second,
		TempDir:    tmp,
	}), tmp
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("%d entries left in %s", len(entries), dir)
	}
}

func TestConvert_EntityDeclarationRejected(t *testing.T) {
	docs := []string{
		`<?xml version="1.0"?><!DOCTYPE svg [<!ENTITY xxe SYSTEM "file:///etc/passwd">]><svg>&xxe;</svg>`,
		`<!DOCTYPE x [<!entity a "b">]><svg/>`,
		`<!DOCTYPE x [<!  ENTITY a "b">]><svg/>`,
		"<!DOCTYPE x [<!\n\tEnTiTy a \"b\">]><svg/>",
	}
	for _, typ := range []Type{TypePNG, TypeSVG, "bogus/type"} {
		for _, doc := range docs {
			c, tmp := newTestConverter(t, "ok")
			out, err := c.Convert(context.Background(), Request{Document: doc, Type: typ})
			if out != nil || !errors.Is(err, failure.ErrSecurityRejected) {
				t.Fatalf("type %s: expected SecurityRejected, got %v", typ, err)
			}
			if failure.Message(err) != SecurityMessage {
				t.Fatalf("message %q", failure.Message(err))
			}
			assertEmptyDir(t, tmp)
		}
	}
}

const xxeSVG = `<?xml version="1.0"?><!DOCTYPE svg [<!ENTITY xxe SYSTEM "file:///etc/passwd">]><svg>&xxe;</svg>`

func TestConvert_WideEncodingRejected(t *testing.T) {
	encs := map[string]func(string) (string, error){
		"utf-16le bom": unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String,
		"utf-16be bom": unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder().String,
		"utf-16le raw": unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().String,
		"utf-32le bom": utf32.UTF32(utf32.LittleEndian, utf32.UseBOM).NewEncoder().String,
	}
	for name, encode := range encs {
		t.Run(name, func(t *testing.T) {
			doc, err := encode(xxeSVG)
			if err != nil {
				t.Fatal(err)
			}
			if ContainsEntityDecl(doc) {
				t.Fatal("wide text unexpectedly visible to the entity scan")
			}
			c, tmp := newTestConverter(t, "ok")
			out, err := c.Convert(context.Background(), Request{Document: doc, Type: TypeSVG})
			if out != nil || !errors.Is(err, failure.ErrSecurityRejected) {
				t.Fatalf("expected SecurityRejected, got %v", err)
			}
			assertEmptyDir(t, tmp)
		})
	}
}

func TestPlainEncoding(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want bool
	}{
		{"plain svg", sampleSVG, true},
		{"utf-8 bom", "\ufeff" + sampleSVG, true},
		{"accented text", `<svg><text>Chiffres clés</text></svg>`, true},
		{"declared utf-8", `<?xml version="1.0" encoding="UTF-8"?>` + sampleSVG, true},
		{"declared latin1", `<?xml version='1.0' encoding='ISO-8859-1'?>` + sampleSVG, true},
		{"declared utf-16", `<?xml version="1.0" encoding="UTF-16"?>` + sampleSVG, false},
		{"declared utf-7", `<?xml version="1.0" encoding="utf-7"?>` + sampleSVG, false},
		{"nul byte", "<svg>\x00</svg>", false},
		{"invalid utf-8", "<svg>\xff\xfe</svg>", false},
		{"utf-16le bom bytes", "\xff\xfe<\x00s\x00", false},
	}
	for _, tt := range tests {
		if got := PlainEncoding(tt.doc); got != tt.want {
			t.Errorf("%s: PlainEncoding = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestContainsEntityDecl(t *testing.T) {
	if ContainsEntityDecl(sampleSVG) {
		t.Fatal("plain svg flagged")
	}
	if ContainsEntityDecl(`<text>ENTITY &amp; co</text>`) {
		t.Fatal("text mention flagged")
	}
}

func TestConvert_SVGIsIdentity(t *testing.T) {
	c, tmp := newTestConverter(t, "fail")
	out, err := c.Convert(context.Background(), Request{Document: sampleSVG, Type: TypeSVG, OutputName: "chart"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(out.PayloadPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != sampleSVG {
		t.Fatal("svg output differs from input")
	}
	if out.FileName != "chart.svg" || out.ContentType != "image/svg+xml" || out.Size != int64(len(sampleSVG)) {
		t.Fatalf("got %+v", out)
	}
	if err := out.Release(); err != nil {
		t.Fatal(err)
	}
	assertEmptyDir(t, tmp)
}

func TestConvert_Rasterize(t *testing.T) {
	tests := []struct {
		typ  Type
		name string
		want string
	}{
		{TypePNG, "", "export.png"},
		{TypeJPEG, "photo", "photo.jpg"},
		{TypePDF, "report.pdf", "report.pdf"},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			c, tmp := newTestConverter(t, "ok")
			out, err := c.Convert(context.Background(), Request{Document: sampleSVG, Type: tt.typ, OutputName: tt.name})
			if err != nil {
				t.Fatal(err)
			}
			defer out.Release()
			if out.FileName != tt.want || out.ContentType != string(tt.typ) {
				t.Fatalf("got %+v", out)
			}
			if !strings.HasPrefix(out.PayloadPath, tmp) {
				t.Fatalf("payload outside temp dir: %s", out.PayloadPath)
			}
			if data, _ := os.ReadFile(out.PayloadPath); string(data) != "rasterized" {
				t.Fatalf("payload %q", data)
			}
		})
	}
}

func TestConvert_ArgumentVector(t *testing.T) {
	c, _ := newTestConverter(t, "argv")
	out, err := c.Convert(context.Background(), Request{
		Document:   sampleSVG,
		Type:       TypePNG,
		DPI:        300,
		Background: "0.0.0.0",
		Width:      640,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer out.Release()

	data, err := os.ReadFile(out.PayloadPath)
	if err != nil {
		t.Fatal(err)
	}
	var args []string
	if err := json.Unmarshal(data, &args); err != nil {
		t.Fatal(err)
	}
	want := []string{"-m", "image/png", "-d", out.PayloadPath, "-w", "640", "-bg", "0.0.0.0", "-dpi", "300"}
	if len(args) != len(want)+1 {
		t.Fatalf("argv %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("argv[%d] = %q, want %q (%v)", i, args[i], want[i], args)
		}
	}
	if in := args[len(args)-1]; filepath.Dir(in) != filepath.Dir(out.PayloadPath) || filepath.Ext(in) != ".svg" {
		t.Fatalf("input path %q", in)
	}
}

func TestArgs_WidthOmittedWhenUnset(t *testing.T) {
	args := Args(Request{Type: TypePDF, Background: DefaultBackground, DPI: 96}, "/in.svg", "/out.pdf")
	for _, a := range args {
		if a == "-w" {
			t.Fatalf("unexpected width flag: %v", args)
		}
	}
	if args[len(args)-1] != "/in.svg" {
		t.Fatalf("input must be last: %v", args)
	}
}

func TestConvert_ToolFailure(t *testing.T) {
	c, tmp := newTestConverter(t, "fail")
	out, err := c.Convert(context.Background(), Request{Document: sampleSVG, Type: TypePDF})
	if out != nil || !errors.Is(err, failure.ErrConversionToolFailure) {
		t.Fatalf("expected ConversionToolFailure, got %v", err)
	}
	if !strings.Contains(failure.Message(err), "application/pdf") {
		t.Fatalf("message %q does not name the type", failure.Message(err))
	}
	assertEmptyDir(t, tmp)
}

func TestConvert_MissingOutput(t *testing.T) {
	c, tmp := newTestConverter(t, "silent")
	_, err := c.Convert(context.Background(), Request{Document: sampleSVG, Type: TypePNG})
	if !errors.Is(err, failure.ErrConversionToolFailure) {
		t.Fatalf("expected ConversionToolFailure, got %v", err)
	}
	assertEmptyDir(t, tmp)
}

func TestConvert_Timeout(t *testing.T) {
	t.Setenv(rasterizerModeEnv, "hang")
	tmp := t.TempDir()
	c := New(Config{Rasterizer: []string{os.Args[0]}, Timeout: 300 * time.Millisecond, TempDir: tmp})

	start := time.Now()
	_, err := c.Convert(context.Background(), Request{Document: sampleSVG, Type: TypePNG})
	if !errors.Is(err, failure.ErrTimeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("took %v", time.Since(start))
	}
	assertEmptyDir(t, tmp)
}

func TestConvert_VerifyPDFRejectsGarbage(t *testing.T) {
	t.Setenv(rasterizerModeEnv, "ok")
	tmp := t.TempDir()
	c := New(Config{Rasterizer: []string{os.Args[0]}, TempDir: tmp, VerifyPDF: true})

	_, err := c.Convert(context.Background(), Request{Document: sampleSVG, Type: TypePDF})
	if !errors.Is(err, failure.ErrConversionToolFailure) {
		t.Fatalf("expected ConversionToolFailure, got %v", err)
	}
	assertEmptyDir(t, tmp)
}

func TestConvert_VerifyImages(t *testing.T) {
	tests := []struct {
		mode string
		ok   bool
	}{
		{"png", true},
		{"ok", false}, // "rasterized" is not an image
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			t.Setenv(rasterizerModeEnv, tt.mode)
			tmp := t.TempDir()
			c := New(Config{Rasterizer: []string{os.Args[0]}, TempDir: tmp, VerifyImages: true})

			out, err := c.Convert(context.Background(), Request{Document: sampleSVG, Type: TypePNG})
			if tt.ok {
				if err != nil {
					t.Fatal(err)
				}
				out.Release()
			} else if !errors.Is(err, failure.ErrConversionToolFailure) {
				t.Fatalf("expected ConversionToolFailure, got %v", err)
			}
			assertEmptyDir(t, tmp)
		})
	}
}

func TestConvert_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		msg  string
	}{
		{"unknown type", Request{Type: "image/gif"}, InvalidTypeMessage},
		{"empty type", Request{}, InvalidTypeMessage},
		{"negative dpi", Request{Type: TypePNG, DPI: -1}, ""},
		{"negative width", Request{Type: TypePNG, Width: -5}, ""},
		{"short background", Request{Type: TypePNG, Background: "1.2.3"}, ""},
		{"background overflow", Request{Type: TypePNG, Background: "256.0.0.0"}, ""},
		{"background injection", Request{Type: TypePNG, Background: "1.2.3.4 -scriptSecurityOff"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, tmp := newTestConverter(t, "ok")
			tt.req.Document = sampleSVG
			_, err := c.Convert(context.Background(), tt.req)
			if !errors.Is(err, failure.ErrInvalidInput) {
				t.Fatalf("expected InvalidInput, got %v", err)
			}
			if tt.msg != "" && failure.Message(err) != tt.msg {
				t.Fatalf("message %q", failure.Message(err))
			}
			assertEmptyDir(t, tmp)
		})
	}
}

func TestConvert_DocumentTooLarge(t *testing.T) {
	tmp := t.TempDir()
	c := New(Config{Rasterizer: []string{"true"}, TempDir: tmp, MaxSVGBytes: 16})
	_, err := c.Convert(context.Background(), Request{Document: sampleSVG, Type: TypeSVG})
	if !errors.Is(err, failure.ErrInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
	assertEmptyDir(t, tmp)
}
