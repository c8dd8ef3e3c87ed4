package horosafe

import (
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
)

func TestContained(t *testing.T) {
	base := filepath.Join(string(filepath.Separator), "tmp", "snap-abc")
	tests := []struct {
		path    string
		wantErr bool
	}{
		{filepath.Join(base, "capture-1.png"), false},
		{filepath.Join(base, "sub", "x.png"), false},
		{base, true},
		{filepath.Join(base, "..", "other.png"), true},
		{filepath.Join(base, "..", "snap-abcd", "x.png"), true},
		{"relative/x.png", true},
		{"/etc/passwd", true},
	}
	for _, tt := range tests {
		_, err := Contained(base, tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("Contained(%q, %q) error=%v, wantErr=%v", base, tt.path, err, tt.wantErr)
		}
	}
}

func TestCheckScheme(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://example.com", false},
		{"http://example.com/page?x=1", false},
		{"file:///etc/passwd", true},
		{"javascript:alert(1)", true},
		{"https://", true},
		{"example.com", true},
	}
	for _, tt := range tests {
		_, err := CheckScheme(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("CheckScheme(%q) error=%v, wantErr=%v", tt.url, err, tt.wantErr)
		}
	}
}

func TestValidateURL_LiteralIPs(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"http://127.0.0.1/admin", true},
		{"http://10.0.0.1/internal", true},
		{"http://192.168.1.1/api", true},
		{"http://[::1]/api", true},
		{"http://172.16.0.1/secret", true},
		{"http://169.254.169.254/latest/meta-data", true},
		{"http://0.0.0.0/", true},
		{"http://8.8.8.8/", false},
		{"ftp://8.8.8.8/data", true},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateURL(%q) error=%v, wantErr=%v", tt.url, err, tt.wantErr)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data := strings.Repeat("x", 100)
	got, err := LimitedReadAll(strings.NewReader(data), 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("expected 100 bytes, got %d", len(got))
	}

	_, err = LimitedReadAll(strings.NewReader(data), 50)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"192.168.0.1", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"::1", true},
	}
	for _, tt := range tests {
		ip := net.ParseIP(tt.ip)
		if got := isPrivateIP(ip); got != tt.private {
			t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.private)
		}
	}
}
