// Package errors provides the error taxonomy for the project hub.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("resource not found")
	ErrConflict    = errors.New("concurrent modification")
	ErrChannel     = errors.New("notification channel rejected")
	ErrStore       = errors.New("store operation failed")
	ErrTimeout     = errors.New("operation timed out")
	ErrUnavailable = errors.New("service unavailable")
)

// ValidationError reports a missing or malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a validation error for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ChannelError represents a rejection from an email or SMS provider.
type ChannelError struct {
	Channel    string
	StatusCode int
	Message    string
	Err        error
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s channel error (status %d): %s: %v", e.Channel, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s channel error (status %d): %s", e.Channel, e.StatusCode, e.Message)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *ChannelError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrChannel, e.Err}
	}
	return []error{ErrChannel}
}

// NewChannelError creates a new channel error.
func NewChannelError(channel string, statusCode int, message string) *ChannelError {
	return &ChannelError{Channel: channel, StatusCode: statusCode, Message: message}
}

// StoreError wraps a persistence failure with the operation that failed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

// NewStoreError wraps err as a StoreError. Errors that already carry a
// taxonomy sentinel (not found, conflict, validation) are returned untouched.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrValidation) || errors.Is(err, ErrStore) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// NotFound returns an ErrNotFound wrapped with a description of what was missing.
func NotFound(kind, key string) error {
	return fmt.Errorf("%s %q: %w", kind, key, ErrNotFound)
}

// Conflict returns an ErrConflict wrapped with context.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}

// IsRetryable returns true if the error is likely transient and worth retrying.
// Only startup paths retry; notification dispatch never does.
func IsRetryable(err error) bool {
	var chErr *ChannelError
	if errors.As(err, &chErr) {
		switch chErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}

// Kind classifies err into a short label for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrChannel):
		return "channel"
	case errors.Is(err, ErrStore):
		return "store"
	default:
		return "internal"
	}
}
