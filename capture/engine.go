// CLAUDE:SUMMARY Capture protocol state machine: navigate, advisory ready wait, hide elements, capture region, emit PNG file.
// Package capture drives a browser through the snapshot protocol:
//
//	Idle → Navigating → AwaitingReadySelector → HidingElements → Capturing → Done
//
// with Failed reachable from every non-terminal state. The protocol runs
// inside an isolated worker process (see package isolate); it never retries
// and never branches back.
//
// The browser itself sits behind the Driver and Page interfaces. The
// production implementation is the go-rod driver in rod.go.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hazyhaar/snapd/failure"
)

// DefaultReadyTimeout bounds the advisory wait for the ready selector.
const DefaultReadyTimeout = 20 * time.Second

// State is a position in the capture protocol.
type State int

const (
	Idle State = iota
	Navigating
	AwaitingReadySelector
	HidingElements
	Capturing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Navigating:
		return "navigating"
	case AwaitingReadySelector:
		return "awaiting_ready_selector"
	case HidingElements:
		return "hiding_elements"
	case Capturing:
		return "capturing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Driver opens pages in a browser.
type Driver interface {
	Open(ctx context.Context, vp Viewport) (Page, error)
}

// Page is one browser tab. All methods honour ctx.
type Page interface {
	// Navigate opens url with the given extra request headers.
	Navigate(ctx context.Context, url string, headers map[string]string) error
	// WaitSelector blocks until selector matches an element or ctx ends.
	WaitSelector(ctx context.Context, selector string) error
	// Hide hides every element matching each selector.
	Hide(ctx context.Context, selectors []string) error
	// Capture returns PNG bytes of the selector's bounding region clipped to
	// the viewport, or of the full viewport when nothing matches.
	Capture(ctx context.Context, selector string) ([]byte, error)
	Close() error
}

// Config configures an Engine.
type Config struct {
	Driver Driver

	// ReadyTimeout bounds the ready-selector wait. Default: DefaultReadyTimeout.
	ReadyTimeout time.Duration

	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine runs the capture protocol.
type Engine struct {
	cfg Config
}

// New creates an Engine.
func New(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg}
}

// step is one protocol transition. A best-effort step logs its failure and
// lets the protocol continue; any other failing step ends in Failed.
type step struct {
	state      State
	bestEffort bool
	skip       bool
	run        func(ctx context.Context) error
}

// Run executes the protocol for req and writes the capture into dir.
// It returns the path of the PNG file.
func (e *Engine) Run(ctx context.Context, req Request, dir string) (string, error) {
	const op = "capture.run"
	log := e.cfg.Logger.With("url", req.URL)
	state := Idle

	moveTo := func(next State) {
		if e.cfg.OnTransition != nil {
			e.cfg.OnTransition(state, next)
		}
		log.Debug("capture: transition", "from", state, "to", next)
		state = next
	}
	fail := func(kind failure.Kind, err error) (string, error) {
		failedIn := state
		moveTo(Failed)
		log.Warn("capture: failed", "state", failedIn, "error", err)
		return "", &failure.Error{Kind: kind, Op: op, Msg: failedIn.String(), Err: err}
	}

	if e.cfg.Driver == nil {
		return fail(failure.RenderFailure, errors.New("no browser driver"))
	}

	page, err := e.cfg.Driver.Open(ctx, req.Viewport())
	if err != nil {
		moveTo(Navigating)
		return fail(failure.RenderFailure, fmt.Errorf("open page: %w", err))
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			log.Debug("capture: close page", "error", cerr)
		}
	}()

	var shot []byte
	steps := []step{
		{
			state: Navigating,
			run: func(ctx context.Context) error {
				return page.Navigate(ctx, req.URL, req.Headers())
			},
		},
		{
			state:      AwaitingReadySelector,
			bestEffort: true,
			skip:       req.Loaded == "",
			run: func(ctx context.Context) error {
				waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ReadyTimeout)
				defer cancel()
				return page.WaitSelector(waitCtx, req.Loaded)
			},
		},
		{
			state: HidingElements,
			skip:  len(req.Hides) == 0,
			run: func(ctx context.Context) error {
				return page.Hide(ctx, req.Hides)
			},
		},
		{
			state: Capturing,
			run: func(ctx context.Context) error {
				data, err := page.Capture(ctx, req.Selector)
				if err != nil {
					return err
				}
				if len(data) == 0 {
					return errors.New("empty capture")
				}
				shot = data
				return nil
			},
		},
	}

	for _, s := range steps {
		if s.skip {
			continue
		}
		moveTo(s.state)
		if err := s.run(ctx); err != nil {
			if s.bestEffort {
				log.Info("capture: best-effort step gave up", "state", s.state, "error", err)
				continue
			}
			return fail(failure.RenderFailure, err)
		}
	}

	path, err := writeCapture(dir, shot)
	if err != nil {
		return fail(failure.IOFailure, err)
	}
	moveTo(Done)
	log.Info("capture: done", "path", path, "bytes", len(shot))
	return path, nil
}

func writeCapture(dir string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "capture-*.png")
	if err != nil {
		return "", fmt.Errorf("create capture file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write capture file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close capture file: %w", err)
	}
	return f.Name(), nil
}
