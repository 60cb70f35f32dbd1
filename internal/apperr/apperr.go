package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a failure. The value doubles as the wire "code" field.
type Kind string

const (
	KindValidation      Kind = "VALIDATION_ERROR"
	KindRateLimited     Kind = "RATE_LIMITED"
	KindExpired         Kind = "OTP_EXPIRED"
	KindExhausted       Kind = "OTP_EXHAUSTED"
	KindAlreadyConsumed Kind = "OTP_ALREADY_CONSUMED"
	KindIncorrect       Kind = "OTP_INCORRECT"
	KindConflict        Kind = "CONFLICT"
	KindNetwork         Kind = "NETWORK_ERROR"
	KindUnauthorized    Kind = "UNAUTHORIZED"
	KindForbidden       Kind = "FORBIDDEN"
	KindNotFound        Kind = "NOT_FOUND"
	KindInternal        Kind = "INTERNAL_ERROR"
)

// Error is the typed failure shared by the client core and the backend.
//
// Reason narrows a Kind (e.g. "too_short" inside VALIDATION_ERROR) so that
// package sentinels stay distinguishable after crossing the HTTP boundary.
type Error struct {
	Kind       Kind
	Reason     string
	Message    string
	Field      string
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Kind, and on Reason when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// WithRetryAfter returns a copy carrying the wait hint.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	cp := *e
	cp.RetryAfter = d
	return &cp
}

// WithCause returns a copy wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// Retryable reports whether the caller may simply try the same call again.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindRateLimited, KindInternal:
		return true
	}
	return false
}

// HTTPStatus maps the kind onto a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindExpired:
		return http.StatusGone
	case KindExhausted:
		return http.StatusForbidden
	case KindAlreadyConsumed, KindConflict:
		return http.StatusConflict
	case KindIncorrect:
		return http.StatusUnprocessableEntity
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New builds an error of the given kind.
func New(kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

// Validation builds a field-level validation failure.
func Validation(field, reason, message string) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Field: field, Message: message}
}

// Conflict builds a CONFLICT error.
func Conflict(reason, message string) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: message}
}

// NotFound builds a NOT_FOUND error for a named resource.
func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Reason: "not_found", Message: resource + " not found"}
}

// Unauthorized builds an UNAUTHORIZED error.
func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Reason: "unauthorized", Message: message}
}

// Forbidden builds a FORBIDDEN error.
func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Reason: "forbidden", Message: message}
}

// Network wraps a transport failure or a non-success gateway status.
func Network(cause error) *Error {
	return &Error{Kind: KindNetwork, Reason: "network", Message: "service unreachable, please try again", Cause: cause}
}

// Internal wraps an unexpected failure. The cause is kept for logs only.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Reason: "internal", Message: "an unexpected error occurred", Cause: cause}
}

// As extracts the *Error from err's chain, or nil.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// KindOf returns the kind of err, KindInternal for foreign errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if ae := As(err); ae != nil {
		return ae.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Malformed reports a request body that could not be decoded.
func Malformed(cause error) *Error {
	return &Error{Kind: KindValidation, Reason: "malformed", Message: "invalid request body", Cause: cause}
}
