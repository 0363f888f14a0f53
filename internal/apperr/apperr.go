// Package apperr defines the error taxonomy shared by the service layers and
// its mapping onto HTTP responses.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error returned across a package boundary should match
// one of these with errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrUnauthenticated = errors.New("not authenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrExternal        = errors.New("external service error")
	ErrTimeout         = errors.New("external service timeout")
	ErrStorage         = errors.New("storage error")
	ErrNotConfigured   = errors.New("not configured")
)

// Error pairs a kind with a message that is safe to show to the caller.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New returns an error of the given kind with a caller-facing message.
func New(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap is like New but keeps err as the cause.
func Wrap(kind error, err error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) error { return New(ErrValidation, format, args...) }
func NotFound(format string, args ...any) error   { return New(ErrNotFound, format, args...) }
func Forbidden(format string, args ...any) error  { return New(ErrForbidden, format, args...) }
func Conflict(format string, args ...any) error   { return New(ErrConflict, format, args...) }

// External classifies a failed collaborator call. A deadline becomes
// ErrTimeout so callers can retry; anything else is ErrExternal.
func External(err error, format string, args ...any) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(ErrTimeout, err, format, args...)
	}
	return Wrap(ErrExternal, err, format, args...)
}

// Storage wraps a record store or blob storage failure.
func Storage(err error, format string, args ...any) error {
	return Wrap(ErrStorage, err, format, args...)
}

// Status maps an error onto an HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrExternal):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text to put in an error response body. Causes are never
// included so storage paths and provider errors do not leak to clients.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "Not authenticated"
	case errors.Is(err, ErrForbidden):
		return "Unauthorized"
	case errors.Is(err, ErrNotFound):
		return "Not found"
	default:
		return "Internal server error"
	}
}
