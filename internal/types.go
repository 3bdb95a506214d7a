// internal/types.go - Common types for internal packages
package internal

import "errors"

// Error represents application-specific errors
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes the underlying cause to errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new application error
func NewError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns the code of the outermost *Error in the chain, or "" if there is none
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// ErrorCode constants for common error types
const (
	ErrorCodeNetwork    = "NETWORK_ERROR"
	ErrorCodeHTTPStatus = "HTTP_STATUS_ERROR"
	ErrorCodeTimeout    = "TIMEOUT_ERROR"
	ErrorCodeValidation = "VALIDATION_ERROR"
	ErrorCodeConfig     = "CONFIG_ERROR"
	ErrorCodeNotFound   = "NOT_FOUND"
	ErrorCodeFileSystem = "FILESYSTEM_ERROR"
	ErrorCodeStore      = "STORE_ERROR"
	ErrorCodeDomain     = "DOMAIN_ERROR"
)
