package router

import (
	"errors"
	"fmt"

	"github.com/DevCabin/ClawLess/internal/backend"
	"github.com/DevCabin/ClawLess/pkg/models"
)

// ErrorKind is the terminal failure class a caller observes.
type ErrorKind string

const (
	KindInvalidTask               ErrorKind = "invalid_task"
	KindDeterministicTaskRejected ErrorKind = "deterministic_task_rejected"
	KindBackendUnavailable        ErrorKind = "backend_unavailable"
	KindBackendTimeout            ErrorKind = "backend_timeout"
	KindBackendExecutionError     ErrorKind = "backend_execution_error"
	KindQualityValidationFailed   ErrorKind = "quality_validation_failed"
	KindAllBackendsExhausted      ErrorKind = "all_backends_exhausted"
	KindRoutingCancelled          ErrorKind = "routing_cancelled"
)

var (
	// ErrDeterministicTask marks tasks that score below the local threshold.
	ErrDeterministicTask = errors.New("task is deterministic and must not be sent to an inference backend")
	// ErrBackendUnavailable is wrapped when a probe reports the backend down.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrQualityValidation is wrapped when a local response is rejected.
	ErrQualityValidation = errors.New("response failed quality validation")
)

// Error is the only error type Route returns.
type Error struct {
	Kind    ErrorKind
	Backend models.BackendKind
	Score   int
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "routing error"
	}
	msg := "routing: " + string(e.Kind)
	if e.Backend != "" {
		msg += " (" + string(e.Backend) + ")"
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

// KindOf returns the routing error kind of err, or "" when err is not a
// routing error.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// localFailure is a recoverable outcome of the local attempt.
type localFailure struct {
	kind   ErrorKind
	reason string
	err    error
}

func (f *localFailure) asError() *Error {
	return &Error{Kind: f.kind, Backend: models.BackendLocal, Err: f.err}
}

// fromBackendError maps a backend failure to the caller-facing kind.
func fromBackendError(b models.BackendKind, err error) *Error {
	kind := KindBackendExecutionError
	switch backend.KindOf(err) {
	case backend.KindTimeout:
		kind = KindBackendTimeout
	case backend.KindCancelled:
		kind = KindRoutingCancelled
	case backend.KindUnavailable:
		kind = KindBackendUnavailable
	}
	return &Error{Kind: kind, Backend: b, Err: err}
}

func cancelled(b models.BackendKind, cause error) *Error {
	return &Error{Kind: KindRoutingCancelled, Backend: b, Err: cause}
}

func exhausted(local *localFailure, remoteErr error) *Error {
	return &Error{
		Kind:    KindAllBackendsExhausted,
		Backend: models.BackendRemote,
		Err:     fmt.Errorf("local %s, then remote failed: %w", local.reason, remoteErr),
	}
}
