package gateway

import (
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"

	"github.com/hazyhaar/snapd/export"
	"github.com/hazyhaar/snapd/failure"
	"github.com/hazyhaar/snapd/shield"
)

// parseExport builds an export request from the posted form. Both
// urlencoded and multipart bodies are accepted.
func (g *Gateway) parseExport(r *http.Request) (export.Request, error) {
	const op = "gateway.export"
	var err error
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		err = r.ParseMultipartForm(g.cfg.MaxBody)
		if r.MultipartForm != nil {
			defer r.MultipartForm.RemoveAll()
		}
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return export.Request{}, failure.Wrap(failure.InvalidInput, op, err)
	}

	req := export.Request{
		Document:   r.FormValue("svg"),
		Type:       export.Type(r.FormValue("type")),
		OutputName: NormalizeName(r.FormValue("filename"), export.DefaultOutputName),
		Background: r.FormValue("bg"),
	}
	dpi := r.FormValue("dpi")
	if dpi == "" {
		dpi = strconv.Itoa(export.DefaultDPI)
	}
	n, err := strconv.Atoi(dpi)
	if err != nil {
		return req, failure.New(failure.InvalidInput, op, "invalid dpi")
	}
	req.DPI = n
	if s := r.FormValue("width"); s != "" && s != "0" {
		if req.Width, err = strconv.Atoi(s); err != nil {
			return req, failure.New(failure.InvalidInput, op, "invalid width")
		}
	}
	return req, nil
}

// exportErrorText maps a failed export to its status and caller-facing
// text. The type and security messages are part of the public contract.
func exportErrorText(err error, typ export.Type) (int, string) {
	switch failure.KindOf(err) {
	case failure.SecurityRejected:
		return http.StatusInternalServerError, export.SecurityMessage
	case failure.InvalidInput:
		if failure.Message(err) == export.InvalidTypeMessage {
			return http.StatusInternalServerError, export.InvalidTypeMessage
		}
		return http.StatusBadRequest, "bad request"
	case failure.ConversionToolFailure, failure.Timeout:
		return http.StatusInternalServerError, "Error: Export to " + string(typ) + " failed"
	default:
		return http.StatusInternalServerError, "server error"
	}
}

func (g *Gateway) handleExport(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())

	req, err := g.parseExport(r)
	if err != nil {
		log.Info("export: bad request", "error", err)
		writeText(w, http.StatusBadRequest, "bad request")
		return
	}

	resp, err := g.exp(r.Context(), req)
	if err != nil {
		code, msg := exportErrorText(err, req.Type)
		writeText(w, code, msg)
		return
	}
	out := resp.(*export.Outcome)
	defer out.Release()

	f, err := os.Open(out.PayloadPath)
	if err != nil {
		log.Error("export: open payload", "error", err)
		writeText(w, http.StatusInternalServerError, "server error")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(out.Size, 10))
	w.Header().Set("Content-Disposition", "attachment; filename="+out.FileName)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		log.Warn("export: write response", "error", err)
	}
}
