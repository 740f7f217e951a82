package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error carried across the bridge. Handlers map the
// Type to an HTTP status or a WebSocket close reason.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	Code    string    `json:"code,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuth           ErrorType = "auth_error"
	ErrPrecondition   ErrorType = "precondition_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrUpstream       ErrorType = "upstream_error"
	ErrProtocol       ErrorType = "protocol_error"
	ErrDisconnect     ErrorType = "disconnect"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrInternal       ErrorType = "internal_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error naming the
// offending parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewAuthError creates an authorization error. Code distinguishes the denial
// reason (bad_token, session_mismatch, user_not_found, ownership) for close
// frames and logs.
func NewAuthError(message, code string) *Error {
	return &Error{
		Type:    ErrAuth,
		Message: message,
		Code:    code,
	}
}

// NewPreconditionError creates a precondition error for session creation.
func NewPreconditionError(message string) *Error {
	return &Error{
		Type:    ErrPrecondition,
		Message: message,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewUpstreamError wraps a failure to establish or hold the provider
// connection.
func NewUpstreamError(message string, cause error) *Error {
	return &Error{
		Type:    ErrUpstream,
		Message: message,
		Cause:   cause,
	}
}

// NewProtocolError creates an error for a malformed wire frame. These are
// logged and dropped, never fatal to a session.
func NewProtocolError(message string) *Error {
	return &Error{
		Type:    ErrProtocol,
		Message: message,
	}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(message string) *Error {
	return &Error{
		Type:    ErrRateLimit,
		Message: message,
	}
}

// NewInternalError wraps an unexpected server-side failure.
func NewInternalError(message string, cause error) *Error {
	return &Error{
		Type:    ErrInternal,
		Message: message,
		Cause:   cause,
	}
}

// IsType reports whether err is (or wraps) a *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == t
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}
