package backend

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/DevCabin/ClawLess/pkg/models"
)

// ErrorKind classifies a backend failure.
type ErrorKind string

const (
	KindUnavailable ErrorKind = "unavailable"
	KindTimeout     ErrorKind = "timeout"
	KindExecution   ErrorKind = "execution"
	KindCancelled   ErrorKind = "cancelled"
)

// Error is returned by every Backend method that fails.
type Error struct {
	Backend    models.BackendKind
	Kind       ErrorKind
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "backend error"
	}
	msg := fmt.Sprintf("%s backend %s %s", e.Backend, e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status=%d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf extracts the ErrorKind from err, defaulting to KindExecution for
// errors that did not come from a backend.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return KindExecution
}

// Classify wraps a transport error. parent is the caller's context and call is
// the context the request actually ran under (parent plus any backend
// deadline). A done parent means the caller gave up; a call context that hit
// its own deadline means the backend timed out.
func Classify(backend models.BackendKind, op string, parent, call context.Context, err error) *Error {
	e := &Error{Backend: backend, Op: op, Kind: KindExecution, Err: err}
	switch {
	case parent.Err() != nil:
		e.Kind = KindCancelled
		e.Err = parent.Err()
	case call.Err() != nil && errors.Is(call.Err(), context.DeadlineExceeded):
		e.Kind = KindTimeout
		e.Err = call.Err()
	case errors.Is(err, context.DeadlineExceeded):
		e.Kind = KindTimeout
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			e.Kind = KindTimeout
		}
	}
	return e
}
