// Package persistence defines the error vocabulary shared by every storage
// adapter, so domain services can tell a missing row from an unreachable
// database without importing a driver.
package persistence

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// Kind classifies a persistence failure.
type Kind string

const (
	// KindUnavailable means the store could not be reached or timed out.
	KindUnavailable Kind = "unavailable"
	// KindConflict means a uniqueness or state precondition was violated.
	KindConflict Kind = "conflict"
)

var (
	// ErrUnavailable matches any *Error of KindUnavailable via errors.Is.
	ErrUnavailable = &Error{Kind: KindUnavailable}
	// ErrConflict matches any *Error of KindConflict via errors.Is.
	ErrConflict = &Error{Kind: KindConflict}
)

// Error is a classified storage failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Unavailable wraps err as an unavailability failure of op.
func Unavailable(op string, err error) *Error {
	return &Error{Kind: KindUnavailable, Op: op, Err: err}
}

// Conflict wraps err as a conflict failure of op.
func Conflict(op string, err error) *Error {
	return &Error{Kind: KindConflict, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("persistence %s", e.Kind)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: persistence %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: persistence %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, ErrConflict) works on wrapped values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}
