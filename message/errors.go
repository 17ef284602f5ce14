package message

import (
	"github.com/pkg/errors"

	"github.com/kopia/mimespool/internal/tempstore"
)

// ErrIOFailure is returned when bytes cannot be transferred between a body and a source or sink.
// The underlying cause remains matchable with errors.Is and errors.As.
var ErrIOFailure = errors.New("I/O failure")

// ErrNotFound is returned by stream operations on a body whose backing storage has been disposed.
var ErrNotFound = tempstore.ErrNotFound

// ioFailure matches both ErrIOFailure and its cause.
type ioFailure struct {
	op    string
	cause error
}

func (e *ioFailure) Error() string {
	return e.op + ": " + ErrIOFailure.Error() + ": " + e.cause.Error()
}

func (e *ioFailure) Unwrap() []error {
	return []error{ErrIOFailure, e.cause}
}

func newIOFailure(op string, cause error) error {
	if cause == nil {
		return nil
	}

	if errors.Is(cause, ErrIOFailure) {
		return errors.Wrap(cause, op)
	}

	return &ioFailure{op: op, cause: cause}
}
