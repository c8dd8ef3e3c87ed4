// CLAUDE:SUMMARY Child side of the isolation boundary: decode the envelope, run the task once, send exactly one result on the one-shot channel.
package isolate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/hazyhaar/snapd/failure"
)

// TaskFunc performs the isolated work and returns the path of the produced
// file, which must lie inside env.WorkDir.
type TaskFunc func(ctx context.Context, env Envelope) (string, error)

var errAlreadySent = errors.New("isolate: result already sent")

// resultChannel is the write end of the one-shot channel. The first send
// wins; the channel is closed right after it.
type resultChannel struct {
	w    io.WriteCloser
	once sync.Once
}

func newResultChannel(w io.WriteCloser) *resultChannel {
	return &resultChannel{w: w}
}

func (c *resultChannel) send(m message) error {
	err := errAlreadySent
	c.once.Do(func() {
		data, merr := json.Marshal(m)
		if merr != nil {
			err = merr
			c.w.Close()
			return
		}
		_, err = c.w.Write(append(data, '\n'))
		if cerr := c.w.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

// close releases the channel without sending. The parent then sees EOF
// without a message.
func (c *resultChannel) close() {
	c.once.Do(func() { c.w.Close() })
}

// OpenResultChannel returns the inherited result descriptor of a worker
// process. It is marked close-on-exec so that processes the worker spawns
// (Chrome) cannot hold the channel open.
func OpenResultChannel() (*os.File, error) {
	f := os.NewFile(ResultFD, "snapd-result")
	if _, err := f.Stat(); err != nil {
		return nil, fmt.Errorf("isolate: result descriptor %d not inherited: %w", ResultFD, err)
	}
	closeOnExec(f)
	return f, nil
}

// ServeWorker is the body of a worker process. It reads the envelope from
// in, runs task once and sends exactly one message on out. Panics in task
// are turned into a RenderFailure result.
func ServeWorker(ctx context.Context, in io.Reader, out io.WriteCloser, task TaskFunc, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	ch := newResultChannel(out)
	defer ch.close()

	env, err := decodeEnvelope(in)
	if err != nil {
		ch.send(failureMessage(err))
		return err
	}
	logger = logger.With("url", env.Request.URL, "pid", os.Getpid())
	logger.Info("worker: start")

	path, err := runTask(ctx, task, env)
	if err != nil {
		logger.Warn("worker: task failed", "error", err)
		if serr := ch.send(failureMessage(err)); serr != nil {
			return fmt.Errorf("isolate: send failure: %w", serr)
		}
		return err
	}

	if err := ch.send(message{OK: true, Path: path}); err != nil {
		return fmt.Errorf("isolate: send result: %w", err)
	}
	logger.Info("worker: done", "path", path)
	return nil
}

func runTask(ctx context.Context, task TaskFunc, env Envelope) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = failure.New(failure.RenderFailure, "isolate.worker", "panic: %v", r)
		}
	}()
	return task(ctx, env)
}

func failureMessage(err error) message {
	kind := failure.KindOf(err)
	if kind == failure.Unknown {
		kind = failure.RenderFailure
	}
	return message{Kind: kind.String(), Reason: failure.Message(err)}
}
