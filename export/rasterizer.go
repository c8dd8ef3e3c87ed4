package export

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/hazyhaar/snapd/failure"
)

// stderrTail bounds how much rasterizer stderr is kept for logging.
const stderrTail = 4 << 10

// Args builds the rasterizer argument vector for req, reading in and
// writing out. Width is passed only when set.
func Args(req Request, in, out string) []string {
	args := []string{"-m", string(req.Type), "-d", out}
	if req.Width > 0 {
		args = append(args, "-w", strconv.Itoa(req.Width))
	}
	return append(args,
		"-bg", req.Background,
		"-dpi", strconv.Itoa(req.DPI),
		in,
	)
}

type tailBuffer struct {
	bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := stderrTail - b.Len(); room < len(p) {
		if room <= 0 {
			return n, nil
		}
		p = p[:room]
	}
	b.Buffer.Write(p)
	return n, nil
}

func (c *Converter) rasterize(ctx context.Context, log *slog.Logger, req Request, in, out string) error {
	const op = "export.rasterize"
	if len(c.cfg.Rasterizer) == 0 {
		return failure.New(failure.ConversionToolFailure, op, "Export to %s failed", req.Type)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	argv := append(append([]string(nil), c.cfg.Rasterizer[1:]...), Args(req, in, out)...)
	cmd := exec.CommandContext(ctx, c.cfg.Rasterizer[0], argv...)
	var stderr tailBuffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		log.Warn("export: rasterizer killed", "elapsed", elapsed, "error", ctx.Err())
		return failure.New(failure.Timeout, op, "Export to %s timed out", req.Type)
	}
	if err != nil {
		var exitErr *exec.ExitError
		code := -1
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		log.Warn("export: rasterizer failed", "exit", code, "stderr", stderr.String(), "elapsed", elapsed)
		return &failure.Error{
			Kind: failure.ConversionToolFailure,
			Op:   op,
			Msg:  "Export to " + string(req.Type) + " failed",
			Err:  err,
		}
	}
	log.Debug("export: rasterizer done", "elapsed", elapsed)
	return nil
}
