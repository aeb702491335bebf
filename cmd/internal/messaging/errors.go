package messaging

import (
	"errors"
	"fmt"
)

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	// ErrInvalidInput covers user-correctable validation failures.
	ErrInvalidInput = errors.New("invalid_input")
	ErrNotFound     = errors.New("not_found")
	ErrForbidden    = errors.New("forbidden")

	// ErrConflict reports an active-pair collision on conversation creation.
	// It is resolved inside the Directory and never returned to callers.
	ErrConflict = errors.New("conflict")

	// ErrDependency marks a failed non-critical side effect (notifications).
	// It is logged and absorbed, never returned to callers.
	ErrDependency = errors.New("dependency_failure")

	ErrRateLimited = errors.New("rate_limited")
)

// OpError is a typed operation error with a stable Op + Kind contract.
// Msg is human-readable context and must not include storage details.
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e OpError) Error() string {
	s := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the kind and the underlying cause.
func (e OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func invalidInput(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

func notFound(op, resource string) error {
	return OpError{Op: op, Kind: ErrNotFound, Msg: resource}
}

func forbidden(op, msg string) error {
	return OpError{Op: op, Kind: ErrForbidden, Msg: msg}
}

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsForbidden reports whether err represents ErrForbidden.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsRateLimited reports whether err represents ErrRateLimited.
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }
