package shield

import "net/http"

// HeaderConfig lists the security headers set on every response. Empty
// fields are not sent.
type HeaderConfig struct {
	CSP            string
	FrameOptions   string
	ReferrerPolicy string
	CacheControl   string
}

// DefaultHeaders fits a service that only returns images, documents and
// short text: nothing may be framed or executed, and captures of
// cookie-authenticated pages must not land in shared caches.
func DefaultHeaders() HeaderConfig {
	return HeaderConfig{
		CSP:            "default-src 'none'; frame-ancestors 'none'",
		FrameOptions:   "DENY",
		ReferrerPolicy: "no-referrer",
		CacheControl:   "no-store",
	}
}

// SecurityHeaders sets cfg's headers, plus X-Content-Type-Options: nosniff,
// before calling next. Handlers may still override them.
func SecurityHeaders(cfg HeaderConfig) func(http.Handler) http.Handler {
	headers := [][2]string{
		{"X-Content-Type-Options", "nosniff"},
		{"Content-Security-Policy", cfg.CSP},
		{"X-Frame-Options", cfg.FrameOptions},
		{"Referrer-Policy", cfg.ReferrerPolicy},
		{"Cache-Control", cfg.CacheControl},
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range headers {
				if kv[1] != "" {
					h.Set(kv[0], kv[1])
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
