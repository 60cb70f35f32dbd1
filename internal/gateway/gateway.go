// Package gateway is the client-side view of the backend: one interface,
// an HTTP implementation and an in-process one.
package gateway

import (
	"context"
	"time"

	"github.com/congo-pay/rewards_auth/internal/phone"
	"github.com/congo-pay/rewards_auth/internal/session"
)

// Purpose values accepted by SendOTP.
const (
	PurposeRegistration  = "registration"
	PurposePasswordReset = "password_reset"
)

// Challenge is the public metadata of an issued OTP.
type Challenge struct {
	ChallengeID string    `json:"challenge_id"`
	Purpose     string    `json:"purpose"`
	ExpiresAt   time.Time `json:"expires_at"`
	ResendAt    time.Time `json:"resend_at"`
}

// Verification is returned by a successful VerifyOTP.
type Verification struct {
	ChallengeID string `json:"challenge_id"`
	Verified    bool   `json:"verified"`
	ResetToken  string `json:"reset_token,omitempty"`
}

// Registration completes a verified sign-up.
type Registration struct {
	Phone           phone.Number `json:"phone"`
	Code            string       `json:"code"`
	Name            string       `json:"name"`
	Password        string       `json:"password"`
	ConfirmPassword string       `json:"confirm_password"`
}

// Session is returned by login and completed registration.
type Session struct {
	User      session.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt int64        `json:"expires_at"`
}

// Gateway is the backend contract. Failures are *apperr.Error values;
// transport problems and 5xx answers surface as NETWORK_ERROR.
type Gateway interface {
	SendOTP(ctx context.Context, p phone.Number) (Challenge, error)
	ResendOTP(ctx context.Context, p phone.Number) (Challenge, error)
	VerifyOTP(ctx context.Context, p phone.Number, code string) (Verification, error)
	CompleteRegistration(ctx context.Context, r Registration) (Session, error)
	Login(ctx context.Context, p phone.Number, password string) (Session, error)
	ForgotPassword(ctx context.Context, p phone.Number) (Challenge, error)
	ResetPassword(ctx context.Context, resetToken, password string) error
	Logout(ctx context.Context, token string) error
	Profile(ctx context.Context, token string) (session.User, error)
}

// UnauthorizedFunc is notified whenever the backend rejects a session token.
type UnauthorizedFunc func(ctx context.Context)

type idempotencyCtxKey struct{}

// WithIdempotencyKey attaches key to unsafe requests made with ctx so a
// retried call is answered from the backend's stored response.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyCtxKey{}, key)
}

// IdempotencyKeyFrom returns the key attached by WithIdempotencyKey, if any.
func IdempotencyKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyCtxKey{}).(string)
	return key
}
