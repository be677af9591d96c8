package circulation

import (
	"errors"
	"fmt"

	"circulation/internal/storage"
)

// Error is a circulation error with a stable code that transports can map
// to their own status values
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// NewError creates a new circulation error
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Business errors are returned to the caller and never retried.
var (
	ErrNotFound        = NewError("NOT_FOUND", "not found")
	ErrOutOfStock      = NewError("OUT_OF_STOCK", "no copies available")
	ErrAlreadyReturned = NewError("ALREADY_RETURNED", "loan already returned")
	ErrInvalidArgument = NewError("INVALID_ARGUMENT", "invalid argument")
	ErrReaderInactive  = NewError("READER_INACTIVE", "reader is not active")
	ErrHasActiveLoans  = NewError("HAS_ACTIVE_LOANS", "active loans reference this record")
	ErrAlreadyExists   = NewError("ALREADY_EXISTS", "already exists")
)

// ErrUnavailable wraps storage failures. Callers may retry with backoff.
var ErrUnavailable = NewError("UNAVAILABLE", "storage unavailable")

// ErrBookVanished is logged when a loan is returned for a book that no longer exists.
// It never fails the triggering operation.
var ErrBookVanished = NewError("CONSISTENCY_WARNING", "book referenced by an active loan no longer exists")

// ErrInvariantViolation signals corrupted copy counters. It is not a user error.
var ErrInvariantViolation = NewError("INVARIANT_VIOLATION", "copy counters are inconsistent")

// CodeOf returns the code of the circulation error wrapped by err,
// or "INTERNAL" if err carries none
func CodeOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return "INTERNAL"
}

// storeErr maps a store error to the circulation taxonomy. Missing rows become
// ErrNotFound, everything else becomes ErrUnavailable; the cause stays in the chain.
func storeErr(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, what, err)
}
