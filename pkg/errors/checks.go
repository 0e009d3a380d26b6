package errors

import (
	"errors"
)

// AsError attempts to convert an error to an *Error by traversing the
// chain with errors.As.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the error code from an error, or "" when err is nil or
// not an *Error.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode checks if an error has the specified error code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

func hasCategory(err error, category string) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == category
}

// IsValidation reports whether err is a validation error (VAL_xxx).
func IsValidation(err error) bool { return hasCategory(err, "VAL") }

// IsAuthentication reports whether err is a token verification error
// (AUTH_xxx).
func IsAuthentication(err error) bool { return hasCategory(err, "AUTH") }

// IsAuthorization reports whether err is an authorization error (AUTHZ_xxx).
func IsAuthorization(err error) bool { return hasCategory(err, "AUTHZ") }

// IsConfiguration reports whether err is a configuration error (CONFIG_xxx).
func IsConfiguration(err error) bool { return hasCategory(err, "CONFIG") }

// IsInternal reports whether err is an internal error (INT_xxx).
func IsInternal(err error) bool { return hasCategory(err, "INT") }

// IsUnavailable reports whether err is an unavailable error (UNAVAIL_xxx).
func IsUnavailable(err error) bool { return hasCategory(err, "UNAVAIL") }

// IsTimeout reports whether err is a timeout error (TIMEOUT_xxx).
func IsTimeout(err error) bool { return hasCategory(err, "TIMEOUT") }

// IsFatal reports whether err must abort startup. Only configuration
// errors are fatal.
func IsFatal(err error) bool {
	return IsConfiguration(err)
}

// IsRetryable reports whether err may succeed on retry. Cache timeouts and
// unavailability are retryable; verification failures never are.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case "TIMEOUT", "UNAVAIL":
		return true
	default:
		return false
	}
}

// IsCacheFailure reports whether err originated from the cache layer.
func IsCacheFailure(err error) bool {
	return HasCode(err, CodeCacheUnavailable) || HasCode(err, CodeCacheTimeout)
}
