// Package errors provides coded domain errors for the fetch, reveal and rarity pipeline.
//
// Usage:
//
//	// In components - return typed errors
//	if idx < 0 {
//	    return errors.Configurationf("uri %q does not contain id %d", uri, id)
//	}
//
//	// In callers - check with errors.Is
//	if errors.Is(err, errors.ErrConfiguration) {
//	    log.Error("fatal template error", "error", err)
//	    return err
//	}
//
//	// Or switch on the Code directly
//	var domainErr *errors.Error
//	if errors.As(err, &domainErr) {
//	    switch domainErr.Code {
//	    case errors.CodeTransientNetwork:
//	        // retry
//	    case errors.CodeNotFound:
//	        // skip
//	    }
//	}
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
const (
	CodeTransientNetwork Code = "TRANSIENT_NETWORK"
	CodeNotFound         Code = "NOT_FOUND"
	CodeMalformedPayload Code = "MALFORMED_PAYLOAD"
	CodeConfiguration    Code = "CONFIGURATION"
	CodeValidation       Code = "VALIDATION"
	CodeCanceled         Code = "CANCELED"
	CodeInternal         Code = "INTERNAL"
)

// Retryable reports whether errors with this code are retried automatically.
func (c Code) Retryable() bool {
	return c == CodeTransientNetwork
}

// Fatal reports whether errors with this code must stop the affected operation.
func (c Code) Fatal() bool {
	switch c {
	case CodeConfiguration, CodeValidation, CodeInternal:
		return true
	default:
		return false
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error carrying the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithDetails returns a copy of the error carrying details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details, cause: e.cause}
}

// WithCause returns a copy of the error wrapping err.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: e.Details, cause: err}
}

// Sentinel errors for use with errors.Is().
var (
	ErrTransientNetwork = &Error{Code: CodeTransientNetwork, Message: "transient network failure"}
	ErrNotFound         = &Error{Code: CodeNotFound, Message: "not found"}
	ErrMalformedPayload = &Error{Code: CodeMalformedPayload, Message: "malformed payload"}
	ErrConfiguration    = &Error{Code: CodeConfiguration, Message: "configuration error"}
	ErrValidation       = &Error{Code: CodeValidation, Message: "validation error"}
	ErrCanceled         = &Error{Code: CodeCanceled, Message: "canceled"}
	ErrInternal         = &Error{Code: CodeInternal, Message: "internal error"}
)

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MalformedPayload creates a malformed payload error.
func MalformedPayload(msg string) *Error {
	return &Error{Code: CodeMalformedPayload, Message: msg}
}

// MalformedPayloadf creates a malformed payload error with formatted message.
func MalformedPayloadf(format string, args ...any) *Error {
	return &Error{Code: CodeMalformedPayload, Message: fmt.Sprintf(format, args...)}
}

// Configuration creates a configuration error.
func Configuration(msg string) *Error {
	return &Error{Code: CodeConfiguration, Message: msg}
}

// Configurationf creates a configuration error with formatted message.
func Configurationf(format string, args ...any) *Error {
	return &Error{Code: CodeConfiguration, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// TransientNetworkf creates a transient network error with formatted message.
func TransientNetworkf(format string, args ...any) *Error {
	return &Error{Code: CodeTransientNetwork, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Internalf creates an internal error with formatted message.
func Internalf(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}
