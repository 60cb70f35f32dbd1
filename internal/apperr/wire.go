package apperr

import (
	"math"
	"net/http"
	"time"
)

// Body is the JSON error envelope written by the backend and read by the gateway client.
type Body struct {
	Code       Kind   `json:"code"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"error"`
	Field      string `json:"field,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// ToBody renders e for the wire. Causes never leave the process.
func (e *Error) ToBody() Body {
	b := Body{Code: e.Kind, Reason: e.Reason, Message: e.Message, Field: e.Field}
	if e.RetryAfter > 0 {
		b.RetryAfter = int(math.Ceil(e.RetryAfter.Seconds()))
	}
	return b
}

// FromBody rebuilds an *Error from a decoded envelope. Unknown or missing codes
// fall back to the status: 401 stays UNAUTHORIZED, everything else is treated
// as a retryable network failure.
func FromBody(status int, b Body) *Error {
	if b.Code == "" {
		switch {
		case status == http.StatusUnauthorized:
			return Unauthorized(fallback(b.Message, "session expired"))
		case status == http.StatusTooManyRequests:
			return &Error{Kind: KindRateLimited, Reason: "rate_limited", Message: fallback(b.Message, "too many requests")}
		default:
			return Network(&statusError{status: status})
		}
	}
	if b.Code == KindInternal || status >= http.StatusInternalServerError {
		return Network(&statusError{status: status})
	}
	e := &Error{Kind: b.Code, Reason: b.Reason, Message: b.Message, Field: b.Field}
	if b.RetryAfter > 0 {
		e.RetryAfter = time.Duration(b.RetryAfter) * time.Second
	}
	return e
}

type statusError struct{ status int }

func (s *statusError) Error() string {
	return "unexpected status " + http.StatusText(s.status)
}

func fallback(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
