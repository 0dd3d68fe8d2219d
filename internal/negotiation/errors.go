package negotiation

import (
	"errors"
	"fmt"
)

var (
	ErrNotHost        = errors.New("only the host can start a call")
	ErrNoTarget       = errors.New("no device selected")
	ErrAlreadyStarted = errors.New("call already started")
	ErrNotStarted     = errors.New("negotiator not started")
	ErrClosed         = errors.New("negotiator closed")
)

// Error records the negotiation step that failed.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func wrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
