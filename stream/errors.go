package stream

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kinds of failures returned by Stream operations. Test for them with errors.Is.
var (
	// ErrAlreadyInitialized is returned by Stream.Initialize when called a second time.
	ErrAlreadyInitialized = errors.New("already initialized")

	// ErrNotInitialized is returned by operations on a Stream that was never (successfully) initialized,
	// or that has been destroyed.
	ErrNotInitialized = errors.New("not initialized")

	// ErrAllocation is returned when the executor refuses to create or register a stream.
	ErrAllocation = errors.New("allocation error")

	// ErrInvalidArgument is returned for nonsensical requests, like a stream waiting for itself.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInternal is returned when the executor fails (or rejects) an operation.
	ErrInternal = errors.New("internal error")

	// ErrUnimplemented is returned by executors for optional features they don't support,
	// notably Executor.GetStatus.
	ErrUnimplemented = errors.New("unimplemented")
)

// Error is the failure of a Stream operation.
//
// Kind is one of the Err* sentinels of this package and errors.Is(err, Kind) holds.
// The executor's error, if any, is reachable with errors.Unwrap.
type Error struct {
	Kind  error
	msg   string
	cause error
}

// newError creates an *Error with a stack trace attached (see github.com/pkg/errors).
func newError(kind, cause error, format string, args ...any) error {
	return errors.WithStack(&Error{
		Kind:  kind,
		msg:   fmt.Sprintf(format, args...),
		cause: cause,
	})
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.msg)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.msg, e.cause)
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying cause, usually an error reported by the executor.
func (e *Error) Unwrap() error {
	return e.cause
}

// Unimplemented returns an error of kind ErrUnimplemented, for executors to report optional features
// they don't support.
func Unimplemented(format string, args ...any) error {
	return newError(ErrUnimplemented, nil, format, args...)
}
