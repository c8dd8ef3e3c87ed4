// CLAUDE:SUMMARY Wire format across the isolation boundary: bounded JSON envelope in (stdin), one-shot JSON result message out (fd 3).
package isolate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/hazyhaar/snapd/capture"
	"github.com/hazyhaar/snapd/failure"
	"github.com/hazyhaar/snapd/horosafe"
)

const (
	// MaxEnvelopeLen bounds the encoded configuration sent to a worker.
	MaxEnvelopeLen = 64 << 10

	// MaxMessageLen bounds the single result message read from a worker.
	MaxMessageLen = 16 << 10

	// ResultFD is the descriptor number of the result channel in the worker.
	ResultFD = 3
)

// Envelope is everything a worker receives. It is encoded exactly once, at
// spawn time, and is the only data that crosses into the child.
type Envelope struct {
	Request      capture.Request `json:"request"`
	WorkDir      string          `json:"work_dir"`
	ReadyTimeout time.Duration   `json:"ready_timeout"`
}

func (e Envelope) validate() error {
	if err := e.Request.Validate(); err != nil {
		return err
	}
	if !filepath.IsAbs(e.WorkDir) {
		return failure.New(failure.InvalidInput, "isolate.envelope", "work dir must be absolute")
	}
	return nil
}

func encodeEnvelope(e Envelope) ([]byte, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, failure.Wrap(failure.InvalidInput, "isolate.envelope", err)
	}
	if len(data) > MaxEnvelopeLen {
		return nil, failure.New(failure.InvalidInput, "isolate.envelope", "envelope exceeds %d bytes", MaxEnvelopeLen)
	}
	return data, nil
}

func decodeEnvelope(r io.Reader) (Envelope, error) {
	var e Envelope
	data, err := horosafe.LimitedReadAll(r, MaxEnvelopeLen)
	if err != nil {
		return e, failure.Wrap(failure.InvalidInput, "isolate.envelope", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&e); err != nil {
		return e, failure.Wrap(failure.InvalidInput, "isolate.envelope", err)
	}
	return e, e.validate()
}

// message is the one result a worker sends back.
type message struct {
	OK     bool   `json:"ok"`
	Path   string `json:"path,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`
}

var errNoMessage = errors.New("isolate: worker sent no result")

// readMessage reads the result channel to EOF and decodes at most one
// message from it.
func readMessage(r io.Reader, maxBytes int64) (*message, error) {
	data, err := horosafe.LimitedReadAll(r, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("isolate: read result: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errNoMessage
	}
	var m message
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, fmt.Errorf("isolate: decode result: %w", err)
	}
	return &m, nil
}
