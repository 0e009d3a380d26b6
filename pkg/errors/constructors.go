package errors

import (
	"errors"
	"fmt"
)

// New creates a new Error with the specified code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps err with a code and message. If err is nil, Wrap returns nil.
//
// Example:
//
//	if err := c.Set(ctx, key, val, ttl); err != nil {
//	    return errors.Wrap(err, errors.CodeTokenGenerationFailed, "failed to persist token metadata")
//	}
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps err with a formatted message. If err is nil, Wrapf returns nil.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// Validation creates a new validation error.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Validationf creates a new validation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// Configuration creates a new configuration error. Configuration errors
// are fatal: they abort startup and are never swallowed.
func Configuration(message string) *Error {
	return New(CodeConfiguration, message)
}

// Configurationf creates a new configuration error with a formatted message.
func Configurationf(format string, args ...any) *Error {
	return Newf(CodeConfiguration, format, args...)
}

// VerificationFailed returns the generic error handed to callers whenever
// any verification step fails. It never carries a cause.
func VerificationFailed() *Error {
	return New(CodeTokenVerificationFailed, "token verification failed")
}

// GenerationFailed wraps err as a token generation failure.
func GenerationFailed(err error, message string) *Error {
	if err == nil {
		return New(CodeTokenGenerationFailed, message)
	}
	return Wrap(err, CodeTokenGenerationFailed, message)
}

// Forbidden creates a new authorization error.
func Forbidden(message string) *Error {
	return New(CodeAuthorizationDenied, message)
}

// Internal creates a new internal error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// FromError converts err to an *Error. An *Error anywhere in the chain is
// returned as-is; anything else is wrapped as an internal error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return Wrap(err, CodeInternal, "an unexpected error occurred")
}
