package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the manager.
type ErrorCode string

// Caller-facing error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrAuthentication ErrorCode = "AUTHENTICATION"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Provisioning error codes
const (
	ErrCapacityExhausted  ErrorCode = "CAPACITY_EXHAUSTED"
	ErrProvisioningFailed ErrorCode = "PROVISIONING_FAILED"
	ErrRemoteUnavailable  ErrorCode = "REMOTE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Member     string    `json:"member,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithMember records the federation member the error came from.
func (e *Error) WithMember(member string) *Error {
	e.Member = member
	return e
}

// AsError extracts a *Error from an error chain.
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
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return IsErrorCode(err, ErrNotFound) }

// IsCapacityExhausted reports whether err is a CAPACITY_EXHAUSTED error.
func IsCapacityExhausted(err error) bool { return IsErrorCode(err, ErrCapacityExhausted) }

// =============================================================================
// 常用错误构造
// =============================================================================

// NewAuthError returns the error surfaced for invalid or unresolvable credentials.
func NewAuthError() *Error {
	return NewError(ErrAuthentication, "invalid or expired credential")
}

// NewOwnershipError is surfaced exactly like an authentication failure so that
// a non-owner cannot confirm that the resource exists.
func NewOwnershipError() *Error {
	return NewError(ErrUnauthorized, "invalid or expired credential")
}

// NewNotFoundError returns a NOT_FOUND error for the given resource kind and id.
func NewNotFoundError(kind, id string) *Error {
	return NewError(ErrNotFound, fmt.Sprintf("%s %s not found", kind, id))
}

// NewCapacityExhaustedError returns a retryable CAPACITY_EXHAUSTED error.
func NewCapacityExhaustedError(message string) *Error {
	return NewError(ErrCapacityExhausted, message).WithRetryable(true)
}

// NewProvisioningError returns a terminal PROVISIONING_FAILED error.
func NewProvisioningError(message string, cause error) *Error {
	return NewError(ErrProvisioningFailed, message).WithCause(cause)
}

// NewRemoteUnavailableError returns a retryable REMOTE_UNAVAILABLE error.
func NewRemoteUnavailableError(member string, cause error) *Error {
	return NewError(ErrRemoteUnavailable, "federation member unavailable").
		WithMember(member).
		WithCause(cause).
		WithRetryable(true)
}
