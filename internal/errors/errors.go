// Package errors provides standardized domain errors that express business intent
// rather than infrastructure details. These errors should be used by use cases
// and mapped to appropriate HTTP status codes by handlers.
package errors

import (
	"errors"
	"fmt"
)

// Standard domain errors that can be used across all domain modules.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a conflict with existing data (e.g., duplicate key).
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indicates the input data is invalid or fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates the request lacks valid authentication credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the authenticated user doesn't have permission.
	ErrForbidden = errors.New("forbidden")

	// ErrLocked indicates the resource is temporarily locked (e.g. account lockout).
	ErrLocked = errors.New("locked")

	// ErrDisabled indicates the operation is refused because the owning service
	// is administratively turned off, independent of the caller's credentials.
	ErrDisabled = errors.New("disabled")

	// ErrExpired indicates the subject (token, credential) is recognized but
	// past its validity window.
	ErrExpired = errors.New("expired")

	// ErrInvalidGrant indicates an OAuth2-style grant (typically a refresh
	// token) cannot be exchanged: unknown, already consumed outside its replay
	// window, bound to a different caller, or past its absolute ceiling.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrFatalInconsistency indicates the persisted state violates an
	// invariant the caller cannot repair (e.g. two documents claiming the same
	// refresh token). Never retried; always surfaced.
	ErrFatalInconsistency = errors.New("fatal inconsistency")

	// ErrMalformed indicates a bearer string or document failed to decode or
	// is missing mandatory fields.
	ErrMalformed = errors.New("malformed")

	// ErrTransient indicates a recoverable infrastructure failure (shard
	// unavailable, search timeout) that a retry loop owns; it should never
	// reach a caller directly once handled by backoff.
	ErrTransient = errors.New("transient")
)

// New creates a new error with the given message.
// This is a convenience wrapper around errors.New for consistency.
func New(message string) error {
	return errors.New(message)
}

// Wrap wraps an error with additional context while preserving the error chain.
// Use this to add context at each layer without losing the original error type.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted message while preserving the error chain.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}
