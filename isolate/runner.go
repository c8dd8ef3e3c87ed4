// CLAUDE:SUMMARY Parent side of the isolation boundary: spawn one worker process per capture, enforce the deadline, read one result, always clean up.
// Package isolate runs a capture in a separate OS process so that a crash,
// hang or memory blow-up in the browser cannot take the server down.
//
// The parent spawns "<exe> worker" in its own process group, writes the
// Envelope to its stdin and hands it the write end of a pipe as fd 3. The
// worker sends exactly one JSON message on that pipe and exits. The parent
// waits for both, or kills the whole group when the deadline fires.
//
//	r, err := isolate.NewRunner(isolate.Config{})
//	...
//	res := r.Execute(ctx, req, 30*time.Second)
//	defer res.Release()
//	if err := res.Err(); err != nil { ... }
//	data, _ := os.ReadFile(res.FilePath)
package isolate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hazyhaar/snapd/capture"
	"github.com/hazyhaar/snapd/failure"
	"github.com/hazyhaar/snapd/horosafe"
	"github.com/hazyhaar/snapd/idgen"
)

// DefaultDeadline is used when Execute is given a non-positive deadline.
const DefaultDeadline = 60 * time.Second

// exitGrace is how long the parent keeps reading the result channel after
// the worker exited; a descendant may still hold the pipe open.
const exitGrace = 500 * time.Millisecond

// Config configures a Runner.
type Config struct {
	// Exe is the worker binary. Default: the running executable.
	Exe string

	// Args are passed to Exe. Default: ["worker"].
	Args []string

	// Env is appended to the parent's environment for the worker.
	Env []string

	// TempDir is where per-request work directories are created.
	// Default: os.TempDir().
	TempDir string

	// ReadyTimeout is the advisory ready-selector wait handed to the worker.
	// It is clamped below the deadline. Default: capture.DefaultReadyTimeout.
	ReadyTimeout time.Duration

	// Stderr receives the worker's log output. Default: os.Stderr.
	Stderr io.Writer

	Logger *slog.Logger
}

func (c *Config) defaults() error {
	if c.Exe == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("isolate: resolve executable: %w", err)
		}
		c.Exe = exe
	}
	if c.Args == nil {
		c.Args = []string{"worker"}
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = capture.DefaultReadyTimeout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Runner spawns isolated capture workers. It holds no per-request state and
// is safe for concurrent use.
type Runner struct {
	cfg Config
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg}, nil
}

// Result is the single outcome of one Execute call.
type Result struct {
	Success  bool
	FilePath string
	Kind     failure.Kind
	Reason   string
	PID      int
	Elapsed  time.Duration

	dir  string
	once sync.Once
}

// Err returns nil on success and a *failure.Error otherwise.
func (r *Result) Err() error {
	if r.Success {
		return nil
	}
	return &failure.Error{Kind: r.Kind, Op: "isolate.execute", Msg: r.Reason}
}

// Release removes the request's work directory and the capture in it.
// Safe to call more than once; a failed Result has nothing left to release.
func (r *Result) Release() error {
	var err error
	r.once.Do(func() {
		if r.dir != "" {
			err = os.RemoveAll(r.dir)
		}
	})
	return err
}

func failed(kind failure.Kind, reason string) *Result {
	return &Result{Kind: kind, Reason: reason}
}

// ReadyTimeoutFor returns the ready-selector wait for a given deadline:
// the configured value, but never more than three quarters of the deadline.
func (r *Runner) ReadyTimeoutFor(deadline time.Duration) time.Duration {
	rt := r.cfg.ReadyTimeout
	if limit := deadline * 3 / 4; rt > limit {
		rt = limit
	}
	return rt
}

// Execute runs req in a fresh worker process and blocks until the worker
// reports and exits, the deadline elapses, or ctx is done. It returns exactly
// one Result. Whatever the outcome, no worker process is left running and,
// unless the Result is a success, no file is left on disk.
func (r *Runner) Execute(ctx context.Context, req capture.Request, deadline time.Duration) *Result {
	start := time.Now()
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	log := r.cfg.Logger.With("url", req.URL)

	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		log.Info("isolate: rejected request", "error", err)
		return failed(failure.InvalidInput, failure.Message(err))
	}

	dir, err := os.MkdirTemp(r.cfg.TempDir, "snap-"+idgen.NewToken()+"-")
	if err != nil {
		log.Error("isolate: create work dir", "error", err)
		return failed(failure.IOFailure, "create work dir")
	}

	res := r.run(ctx, log, req, dir, deadline)
	res.Elapsed = time.Since(start)

	if res.Success {
		res.dir = dir
		log.Info("isolate: capture ok", "pid", res.PID, "elapsed", res.Elapsed)
		return res
	}
	if rmErr := os.RemoveAll(dir); rmErr != nil {
		log.Error("isolate: remove work dir", "dir", dir, "error", rmErr)
	}
	log.Warn("isolate: capture failed", "kind", res.Kind, "reason", res.Reason, "pid", res.PID, "elapsed", res.Elapsed)
	return res
}

type readOutcome struct {
	msg *message
	err error
}

func (r *Runner) run(ctx context.Context, log *slog.Logger, req capture.Request, dir string, deadline time.Duration) *Result {
	payload, err := encodeEnvelope(Envelope{
		Request:      req,
		WorkDir:      dir,
		ReadyTimeout: r.ReadyTimeoutFor(deadline),
	})
	if err != nil {
		return failed(failure.InvalidInput, failure.Message(err))
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return failed(failure.IOFailure, "create result channel")
	}
	defer pr.Close()

	cmd := exec.Command(r.cfg.Exe, r.cfg.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stderr = r.cfg.Stderr
	cmd.ExtraFiles = []*os.File{pw}
	cmd.Env = append(os.Environ(), r.cfg.Env...)
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		pw.Close()
		log.Error("isolate: spawn worker", "exe", r.cfg.Exe, "error", err)
		return failed(failure.WorkerCrashed, "spawn worker")
	}
	// Only the worker may hold the write end, so EOF means it is gone.
	pw.Close()
	pid := cmd.Process.Pid
	log.Debug("isolate: worker started", "pid", pid, "deadline", deadline)

	msgCh := make(chan readOutcome, 1)
	go func() {
		m, err := readMessage(pr, MaxMessageLen)
		msgCh <- readOutcome{msg: m, err: err}
	}()
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	abort := func(reason string) *Result {
		if err := killProcessGroup(cmd); err != nil {
			log.Error("isolate: kill worker", "pid", pid, "error", err)
		}
		<-waitCh
		res := failed(failure.Timeout, reason)
		res.PID = pid
		return res
	}

	var (
		out      readOutcome
		waitErr  error
		readDone bool
		exited   bool
		grace    <-chan time.Time
	)
	for !readDone || !exited {
		select {
		case out = <-msgCh:
			readDone = true
		case waitErr = <-waitCh:
			exited = true
			if !readDone {
				grace = time.After(exitGrace)
			}
		case <-grace:
			out = readOutcome{err: errNoMessage}
			readDone = true
		case <-timer.C:
			if exited {
				// Already reaped; only the pipe is stuck.
				killProcessGroup(cmd)
				res := failed(failure.Timeout, fmt.Sprintf("deadline %s elapsed", deadline))
				res.PID = pid
				return res
			}
			return abort(fmt.Sprintf("deadline %s elapsed", deadline))
		case <-ctx.Done():
			if exited {
				killProcessGroup(cmd)
				res := failed(failure.Timeout, "canceled")
				res.PID = pid
				return res
			}
			return abort("canceled: " + ctx.Err().Error())
		}
	}
	// Reap anything the worker left behind in its group.
	killProcessGroup(cmd)

	res := r.interpret(out, dir)
	res.PID = pid
	if waitErr != nil {
		log.Debug("isolate: worker exit", "pid", pid, "error", waitErr)
	}
	return res
}

func (r *Runner) interpret(out readOutcome, dir string) *Result {
	if out.err != nil || out.msg == nil {
		reason := "worker exited without a result"
		if out.err != nil && !errors.Is(out.err, errNoMessage) {
			reason = out.err.Error()
		}
		return failed(failure.WorkerCrashed, reason)
	}

	m := out.msg
	if !m.OK {
		kind := failure.ParseKind(m.Kind)
		switch kind {
		case failure.InvalidInput, failure.RenderFailure, failure.IOFailure:
		default:
			kind = failure.RenderFailure
		}
		return failed(kind, m.Reason)
	}

	path, err := horosafe.Contained(dir, m.Path)
	if err != nil {
		return failed(failure.RenderFailure, "worker reported a path outside its work dir")
	}
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return failed(failure.RenderFailure, "worker reported a missing or empty capture")
	}
	return &Result{Success: true, FilePath: path}
}
