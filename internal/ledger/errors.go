package ledger

import (
	"errors"
	"fmt"
)

// Kind buckets errors by how the caller should react: input and conflict
// errors are surfaced and never retried; runtime errors are transient and
// may be retried by the caller with bounded attempts.
type Kind string

const (
	KindInput    Kind = "input"
	KindConflict Kind = "conflict"
	KindNotFound Kind = "not_found"
	KindRuntime  Kind = "runtime"
)

// Error is the typed error returned by ledger and engine operations.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewInputError builds a caller-argument error: surfaced, never retried.
func NewInputError(code, format string, args ...any) *Error {
	return newError(KindInput, code, format, args...)
}

// NewRuntimeError builds a transient-failure error; callers may retry
// with bounded attempts and backoff.
func NewRuntimeError(code, format string, args ...any) *Error {
	return newError(KindRuntime, code, format, args...)
}

// ErrKind extracts the Kind of err, or empty string for foreign errors.
func ErrKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsInput(err error) bool    { return ErrKind(err) == KindInput }
func IsConflict(err error) bool { return ErrKind(err) == KindConflict }
func IsNotFound(err error) bool { return ErrKind(err) == KindNotFound }
