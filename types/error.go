package types

import (
	"errors"
	"fmt"
)

// ErrorType is the uniform failure taxonomy for provider and transport errors.
type ErrorType string

const (
	ErrorTypeAuth           ErrorType = "auth"
	ErrorTypePermission     ErrorType = "permission"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeServer         ErrorType = "server"
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
)

// RetryableType reports whether failures of this type are retried at the transport layer.
func (t ErrorType) RetryableType() bool {
	switch t {
	case ErrorTypeRateLimit, ErrorTypeServer, ErrorTypeNetwork:
		return true
	}
	return false
}

// Error is a normalized error: a message, a taxonomy type, an optional HTTP status
// and the retry decision. IsAbort implies !Retryable.
type Error struct {
	Message   string    `json:"message"`
	Type      ErrorType `json:"type"`
	Status    int       `json:"status,omitempty"`
	Retryable bool      `json:"retryable"`
	IsAbort   bool      `json:"is_abort,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("[%s %d] %s", e.Type, e.Status, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP-like status, 0 when unknown.
func (e *Error) HTTPStatus() int {
	return e.Status
}

// NewError creates a new Error with the given type and message.
// Retryable is derived from the type.
func NewError(typ ErrorType, message string) *Error {
	return &Error{Type: typ, Message: message, Retryable: typ.RetryableType()}
}

// NewAbortError creates the error reported for cooperative cancellation.
func NewAbortError(cause error) *Error {
	msg := "request aborted"
	if cause != nil {
		msg = "request aborted: " + cause.Error()
	}
	return &Error{
		Message: msg,
		Type:    ErrorTypeInvalidRequest,
		IsAbort: true,
		Cause:   cause,
	}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithStatus sets the HTTP status code.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// AsError extracts *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable && !e.IsAbort
	}
	return false
}

// IsAbort checks if an error represents a cancelled request.
func IsAbort(err error) bool {
	if e, ok := AsError(err); ok {
		return e.IsAbort
	}
	return false
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	if e, ok := AsError(err); ok {
		return e.Type
	}
	return ""
}
