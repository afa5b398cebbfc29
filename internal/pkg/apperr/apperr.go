// Package apperr defines the error taxonomy shared by the API surface and
// the queue workers. Every error carries a machine code and a human message;
// the code decides both the HTTP status and the retry policy.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the machine-readable error kind.
type Code string

const (
	// Validation: request shape or field constraints. Never retried.
	CodeValidation Code = "validation"
	// Unauthorized: signature or secret mismatch.
	CodeUnauthorized Code = "unauthorized"
	// NotFound: referenced lead/rule/pipeline/stage absent. No retry.
	CodeNotFound Code = "not_found"
	// Conflict: uniqueness violation. Always retried once.
	CodeConflict Code = "conflict"
	// RateLimitedRule: a scoring rule hit its cap. Logged, silently skipped.
	CodeRateLimitedRule Code = "rate_limited_rule"
	// TransientIO: store/queue/HTTP timeout. Retried with backoff.
	CodeTransientIO Code = "transient_io"
	// DownstreamRejected: external API returned a permanent error. No retry.
	CodeDownstreamRejected Code = "downstream_rejected"
	// InvariantViolation: internal assertion failed. Fatal for the job.
	CodeInvariantViolation Code = "invariant_violation"
)

// Error is the standard application error.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an error with the given code and message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new error with the given code.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithDetails attaches structured details (e.g. validation problems).
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// CodeOf extracts the error code, defaulting to transient_io for plain
// errors so that unknown failures stay retryable.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeTransientIO
}

// Retryable reports whether a job failing with err should be re-attempted.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeTransientIO, CodeConflict:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error code to its HTTP response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeDownstreamRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
