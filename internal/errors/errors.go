// Package errors provides structured error types for the trusted-releases engine.
// It implements error classification, wrapping, and kind detection so that the
// boundary layers (HTTP, task workers) can map failures to the right behavior.
package errors

import (
	"errors"
	"fmt"
)

// Kind represents the category of an error.
type Kind uint8

const (
	// KindUnknown indicates an error of unknown type.
	KindUnknown Kind = iota
	// KindAccessDenied indicates the authorization facade refused the operation.
	KindAccessDenied
	// KindValidation indicates caller input failed a domain constraint.
	KindValidation
	// KindConflict indicates an optimistic-concurrency or uniqueness failure.
	KindConflict
	// KindNotFound indicates the target entity does not exist.
	KindNotFound
	// KindFailed indicates a revision-creation block aborted cleanly.
	KindFailed
	// KindExternal indicates a subprocess, HTTP, or remote service failure.
	KindExternal
	// KindFatal indicates a startup configuration error; the process exits.
	KindFatal
	// KindIO indicates a filesystem error.
	KindIO
	// KindInternal indicates an internal error.
	KindInternal
)

// String returns a human-readable string for the error kind.
func (k Kind) String() string {
	switch k {
	case KindAccessDenied:
		return "access_denied"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindFailed:
		return "failed"
	case KindExternal:
		return "external"
	case KindFatal:
		return "fatal"
	case KindIO:
		return "io"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the standard error type for the engine.
type Error struct {
	// Kind is the category of the error.
	Kind Kind
	// Op is the operation being performed when the error occurred.
	Op string
	// Message is a human-readable error message.
	Message string
	// Err is the underlying error.
	Err error
	// Details contains additional context about the error.
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches this error.
// For *Error types, it checks if both the Kind and Op match.
// For sentinel errors (errors without Op), only Kind is compared.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op == "" {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Op == t.Op
}

// WithDetail adds a single detail to the error and returns the modified error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// Newf creates a new Error with the given kind and formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, kind Kind, op string, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, kind Kind, op string, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// GetKind returns the Kind of an error.
// If the error is not an *Error, it returns KindUnknown.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind checks if an error is of a specific kind.
func IsKind(err error, kind Kind) bool {
	return GetKind(err) == kind
}

// Common error constructors for frequently used error types.

// AccessDenied creates an authorization error.
func AccessDenied(op, message string) *Error {
	return &Error{
		Kind:    KindAccessDenied,
		Op:      op,
		Message: message,
	}
}

// Validation creates a validation error.
func Validation(op, message string) *Error {
	return &Error{
		Kind:    KindValidation,
		Op:      op,
		Message: message,
	}
}

// ValidationWrap wraps an error as a validation error.
func ValidationWrap(err error, op, message string) *Error {
	return Wrap(err, KindValidation, op, message)
}

// Conflict creates a conflict error.
func Conflict(op, message string) *Error {
	return &Error{
		Kind:    KindConflict,
		Op:      op,
		Message: message,
	}
}

// ConflictWrap wraps an error as a conflict error.
func ConflictWrap(err error, op, message string) *Error {
	return Wrap(err, KindConflict, op, message)
}

// NotFound creates a not found error.
func NotFound(op, message string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Op:      op,
		Message: message,
	}
}

// NotFoundWrap wraps an error as a not found error.
func NotFoundWrap(err error, op, message string) *Error {
	return Wrap(err, KindNotFound, op, message)
}

// Failed creates a clean-abort error used by revision-creation blocks.
func Failed(op, message string) *Error {
	return &Error{
		Kind:    KindFailed,
		Op:      op,
		Message: message,
	}
}

// External creates an external service error.
func External(op, message string) *Error {
	return &Error{
		Kind:    KindExternal,
		Op:      op,
		Message: message,
	}
}

// ExternalWrap wraps an error as an external service error.
func ExternalWrap(err error, op, message string) *Error {
	return Wrap(err, KindExternal, op, message)
}

// Fatal creates a startup configuration error.
func Fatal(op, message string) *Error {
	return &Error{
		Kind:    KindFatal,
		Op:      op,
		Message: message,
	}
}

// FatalWrap wraps an error as a fatal startup error.
func FatalWrap(err error, op, message string) *Error {
	return Wrap(err, KindFatal, op, message)
}

// IO creates an I/O error.
func IO(op, message string) *Error {
	return &Error{
		Kind:    KindIO,
		Op:      op,
		Message: message,
	}
}

// IOWrap wraps an error as an I/O error.
func IOWrap(err error, op, message string) *Error {
	return Wrap(err, KindIO, op, message)
}

// Internal creates an internal error.
func Internal(op, message string) *Error {
	return &Error{
		Kind:    KindInternal,
		Op:      op,
		Message: message,
	}
}

// InternalWrap wraps an error as an internal error.
func InternalWrap(err error, op, message string) *Error {
	return Wrap(err, KindInternal, op, message)
}
