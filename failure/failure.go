// CLAUDE:SUMMARY Failure taxonomy shared by the capture and export cores: Kind enum, typed Error, sentinels, HTTP status mapping.
// Package failure defines the error taxonomy of snapd.
//
// Every terminal failure produced by the isolate, capture and export packages
// is a *Error carrying one Kind. Callers branch on the kind, never on the
// message:
//
//	if failure.KindOf(err) == failure.InvalidInput { ... }
//	if errors.Is(err, failure.ErrTimeout) { ... }
package failure

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	Unknown Kind = iota
	InvalidInput
	SecurityRejected
	RenderFailure
	Timeout
	WorkerCrashed
	ConversionToolFailure
	IOFailure
)

var kindNames = [...]string{
	Unknown:               "unknown",
	InvalidInput:          "invalid_input",
	SecurityRejected:      "security_rejected",
	RenderFailure:         "render_failure",
	Timeout:               "timeout",
	WorkerCrashed:         "worker_crashed",
	ConversionToolFailure: "conversion_tool_failure",
	IOFailure:             "io_failure",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[Unknown]
	}
	return kindNames[k]
}

// ParseKind is the inverse of Kind.String. Unrecognised names map to Unknown.
func ParseKind(s string) Kind {
	for i, n := range kindNames {
		if n == s {
			return Kind(i)
		}
	}
	return Unknown
}

// Error is a classified failure. Op names the operation that failed
// ("isolate.execute", "export.rasterize"), Msg is safe to show to a caller.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match when target is a *Error of the same kind. This makes
// the sentinels below usable with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidInput          = &Error{Kind: InvalidInput}
	ErrSecurityRejected      = &Error{Kind: SecurityRejected}
	ErrRenderFailure         = &Error{Kind: RenderFailure}
	ErrTimeout               = &Error{Kind: Timeout}
	ErrWorkerCrashed         = &Error{Kind: WorkerCrashed}
	ErrConversionToolFailure = &Error{Kind: ConversionToolFailure}
	ErrIOFailure             = &Error{Kind: IOFailure}
)

// New returns a classified error with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind of err. Unclassified non-nil errors are Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Message returns the caller-safe message of err: Msg when classified,
// the kind name otherwise.
func Message(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Msg != "" {
			return fe.Msg
		}
		return fe.Kind.String()
	}
	return Unknown.String()
}

// HTTPStatus flattens the taxonomy at the HTTP boundary: invalid input is the
// client's fault, everything else is a server error.
func HTTPStatus(k Kind) int {
	if k == InvalidInput {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
