package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID      = "invalid"        // Invalid input or validation failure
	EUNAUTHORIZED = "unauthorized"   // Authentication required
	EFORBIDDEN    = "forbidden"      // Permission denied
	ENOTFOUND     = "not_found"      // Resource not found
	ECONFLICT     = "conflict"       // Resource conflict (e.g., duplicate)
	ETOOLARGE     = "too_large"      // Request entity too large
	ERATELIMIT    = "rate_limit"     // Too many requests
	EQUOTA        = "quota_exceeded" // Daily free-tier allowance used up
	EPAYMENT      = "payment"        // Payment required
	EUPSTREAM     = "upstream"       // AI provider failed or returned garbage
	EINTERNAL     = "internal"       // Internal server error

	// Referral-specific codes. These are user-correctable conditions and
	// surface verbatim in API responses.
	EINVALIDCODE     = "invalid_code"
	EALREADYREDEEMED = "already_redeemed"
	EMISSINGCODE     = "missing_code"
	ESELFREFERRAL    = "self_referral"
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "referral.redeem")
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new Error with the given code, operation, and formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with a code, operation, and message.
func Wrap(err error, code, op, message string) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns the human-readable message of the error.
// Internal errors collapse to a generic message so no detail leaks out.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Code == EINTERNAL {
			return "Something went wrong. Please try again."
		}
		return e.Message
	}
	return "Something went wrong. Please try again."
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Convenience constructors for common error types

// NotFound creates a not found error.
func NotFound(op, resource, id string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s with ID %q not found", resource, id),
	}
}

// Invalid creates a validation error.
func Invalid(op, message string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Unauthorized creates an authentication error.
func Unauthorized(op, message string) *Error {
	return &Error{
		Code:    EUNAUTHORIZED,
		Op:      op,
		Message: message,
	}
}

// Forbidden creates a permission error.
func Forbidden(op, message string) *Error {
	return &Error{
		Code:    EFORBIDDEN,
		Op:      op,
		Message: message,
	}
}

// Conflict creates a conflict error.
func Conflict(op, message string) *Error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op, message string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// QuotaExceeded creates the error returned when a free-tier user has used
// their daily allowance. It is an expected, user-facing condition with a
// recovery path (upgrade or wait for the UTC day to roll over), never a
// system error.
func QuotaExceeded(op string, used, limit int) *Error {
	return &Error{
		Code:    EQUOTA,
		Op:      op,
		Message: fmt.Sprintf("Daily limit reached (%d of %d analyses used)", used, limit),
	}
}

// Upstream creates an error for AI provider failures. These never consume
// quota and are distinct from quota exhaustion so the client can offer a
// retry rather than an upgrade prompt.
func Upstream(err error, op, message string) *Error {
	return &Error{
		Code:    EUPSTREAM,
		Op:      op,
		Message: message,
		Err:     err,
	}
}
