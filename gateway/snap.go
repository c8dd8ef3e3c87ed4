package gateway

import (
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/hazyhaar/snapd/capture"
	"github.com/hazyhaar/snapd/failure"
	"github.com/hazyhaar/snapd/isolate"
	"github.com/hazyhaar/snapd/shield"
)

// parseSnap builds a capture request from the /snap query string. The
// cookie value is read from the caller's own cookie named by cookie_name.
func (g *Gateway) parseSnap(r *http.Request) (capture.Request, error) {
	const op = "gateway.snap"
	q := r.URL.Query()

	req := capture.Request{
		URL:        q.Get("url"),
		Name:       NormalizeName(q.Get("name"), capture.DefaultName),
		Selector:   q.Get("selector"),
		Hides:      splitList(q.Get("hides")),
		Loaded:     capture.DefaultLoaded,
		CookieName: q.Get("cookie_name"),
		Width:      g.cfg.DefaultWidth,
		Height:     g.cfg.DefaultHeight,
	}
	if req.URL == "" {
		return req, failure.New(failure.InvalidInput, op, "url is required")
	}
	// Present but empty means "do not wait".
	if v, ok := q["loaded"]; ok {
		req.Loaded = v[0]
	}
	if req.CookieName != "" {
		if c, err := r.Cookie(req.CookieName); err == nil {
			req.CookieValue = c.Value
		}
	}
	for _, dim := range []struct {
		key string
		dst *int
	}{{"width", &req.Width}, {"height", &req.Height}} {
		s := q.Get(dim.key)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return req, failure.New(failure.InvalidInput, op, "invalid %s", dim.key)
		}
		*dim.dst = n
	}
	return req, nil
}

// splitList splits a comma-delimited list, dropping empty items.
func splitList(s string) []string {
	return cleanList(strings.Split(s, ","))
}

// cleanList trims every item and drops the empty ones; an empty selector
// would make the hide script throw.
func cleanList(items []string) []string {
	var out []string
	for _, p := range items {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (g *Gateway) handleSnap(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())

	req, err := g.parseSnap(r)
	if err != nil {
		log.Info("snap: bad request", "error", err)
		writeText(w, http.StatusBadRequest, "bad request")
		return
	}

	resp, err := g.snap(r.Context(), req)
	if err != nil {
		code := failure.HTTPStatus(failure.KindOf(err))
		if code == http.StatusBadRequest {
			writeText(w, code, "bad request")
		} else {
			writeText(w, code, "server error")
		}
		return
	}
	res := resp.(*isolate.Result)
	defer res.Release()

	f, err := os.Open(res.FilePath)
	if err != nil {
		log.Error("snap: open capture", "error", err)
		writeText(w, http.StatusInternalServerError, "server error")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		log.Error("snap: stat capture", "error", err)
		writeText(w, http.StatusInternalServerError, "server error")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.Header().Set("Content-Disposition", `inline; filename="`+req.Name+`.png"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		log.Warn("snap: write response", "error", err)
	}
}
