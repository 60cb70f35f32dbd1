package otp

import (
	"time"

	"github.com/congo-pay/rewards_auth/internal/apperr"
	"github.com/congo-pay/rewards_auth/internal/phone"
)

// Purpose tells registration codes apart from password reset codes.
type Purpose string

const (
	PurposeRegistration  Purpose = "registration"
	PurposePasswordReset Purpose = "password_reset"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeRegistration || p == PurposePasswordReset
}

// Challenge is the record of an issued code. Only the bcrypt hash of the code is kept.
type Challenge struct {
	ID          string       `json:"id"`
	Phone       phone.Number `json:"phone"`
	Purpose     Purpose      `json:"purpose"`
	CodeHash    []byte       `json:"code_hash"`
	IssuedAt    time.Time    `json:"issued_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
	Attempts    int          `json:"attempts"`
	MaxAttempts int          `json:"max_attempts"`
	Consumed    bool         `json:"consumed"`
}

// Expired is true strictly after ExpiresAt.
func (c Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Active is true while the code can still be verified.
func (c Challenge) Active(now time.Time) bool {
	return !c.Consumed && !c.Expired(now)
}

// AttemptsLeft is never negative.
func (c Challenge) AttemptsLeft() int {
	if left := c.MaxAttempts - c.Attempts; left > 0 {
		return left
	}
	return 0
}

// ResendAt is the earliest instant a replacement may be requested.
func (c Challenge) ResendAt(cooldown time.Duration) time.Time {
	return c.IssuedAt.Add(cooldown)
}

var (
	ErrRateLimited     = apperr.New(apperr.KindRateLimited, "rate_limited", "a code was sent recently, please wait before requesting another")
	ErrCooldownActive  = apperr.New(apperr.KindRateLimited, "cooldown_active", "please wait before requesting a new code")
	ErrExpired         = apperr.New(apperr.KindExpired, "expired", "the code has expired, request a new one")
	ErrNotFound        = apperr.New(apperr.KindExpired, "no_challenge", "no code was requested for this number")
	ErrExhausted       = apperr.New(apperr.KindExhausted, "exhausted", "too many incorrect attempts, request a new code")
	ErrAlreadyConsumed = apperr.New(apperr.KindAlreadyConsumed, "already_consumed", "this code has already been used")
	ErrIncorrect       = apperr.New(apperr.KindIncorrect, "incorrect", "the code is incorrect")
	ErrNotVerified     = apperr.New(apperr.KindForbidden, "not_verified", "the phone number has not been verified")
	ErrContention      = apperr.New(apperr.KindInternal, "contention", "challenge is being updated concurrently")
)
