// Package client is the device-side core around the session store: login,
// logout, profile refresh and the forgot-password flow. Registration lives in
// package registration and shares the same store.
package client

import (
	"context"
	"log/slog"
	"sync"

	"github.com/congo-pay/rewards_auth/internal/apperr"
	"github.com/congo-pay/rewards_auth/internal/credential"
	"github.com/congo-pay/rewards_auth/internal/gateway"
	"github.com/congo-pay/rewards_auth/internal/loyalty"
	"github.com/congo-pay/rewards_auth/internal/phone"
	"github.com/congo-pay/rewards_auth/internal/session"
)

var (
	// ErrInFlight rejects a submission while another one is awaiting the backend.
	ErrInFlight = apperr.New(apperr.KindRateLimited, "in_flight", "a request is already in progress")
	// ErrNotAuthenticated is returned by calls that need a session when none exists.
	ErrNotAuthenticated = apperr.Unauthorized("please log in again")
	// ErrNoResetInProgress rejects reset steps taken out of order.
	ErrNoResetInProgress = apperr.New(apperr.KindExpired, "reset_token_invalid", "request a new reset code")
)

// unauthorizedHook is implemented by both gateway transports.
type unauthorizedHook interface {
	OnUnauthorized(fn gateway.UnauthorizedFunc)
}

// Client serializes backend calls through the store's loading flag and
// records every failure on the store for display.
type Client struct {
	gw     gateway.Gateway
	store  *session.Store
	phones *phone.Validator
	logger *slog.Logger

	mu         sync.Mutex
	resetPhone phone.Number
}

// New wires gw to store. When the transport can report rejected tokens the
// store's forced logout is registered with it.
func New(gw gateway.Gateway, store *session.Store, phones *phone.Validator, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if h, ok := gw.(unauthorizedHook); ok {
		h.OnUnauthorized(store.HandleUnauthorized)
	}
	return &Client{gw: gw, store: store, phones: phones, logger: logger}
}

// Store exposes the session store for subscriptions.
func (c *Client) Store() *session.Store { return c.store }

// Login validates locally, then exchanges the credentials for a session.
// Local failures never reach the backend and never set the loading flag.
func (c *Client) Login(ctx context.Context, rawPhone, password string) (session.User, error) {
	p, err := c.phones.Normalize(rawPhone)
	if err == nil {
		err = credential.ValidatePassword(password)
	}
	if err != nil {
		c.store.SetError(err)
		return session.User{}, err
	}

	var user session.User
	err = c.run(func() error {
		sess, err := c.gw.Login(ctx, p, password)
		if err != nil {
			return err
		}
		user = sess.User
		return c.store.Login(ctx, sess.User, sess.Token)
	})
	if err != nil {
		c.logger.Info("login failed", slog.String("phone", p.Masked()), slog.String("code", string(apperr.KindOf(err))))
		return session.User{}, err
	}
	return user, nil
}

// Logout revokes the token on the backend and clears the local session.
// The local clear happens even when the backend cannot be reached.
func (c *Client) Logout(ctx context.Context) error {
	token := c.store.Snapshot().Token
	if token != "" {
		if err := c.gw.Logout(ctx, token); err != nil && !apperr.IsKind(err, apperr.KindUnauthorized) {
			c.logger.Warn("remote logout failed", slog.String("code", string(apperr.KindOf(err))))
		}
	}
	return c.store.Logout(ctx)
}

// RefreshProfile reloads the user from the backend and returns its loyalty standing.
func (c *Client) RefreshProfile(ctx context.Context) (loyalty.Standing, error) {
	token := c.store.Snapshot().Token
	if token == "" {
		return loyalty.Standing{}, ErrNotAuthenticated
	}
	var user session.User
	err := c.run(func() error {
		u, err := c.gw.Profile(ctx, token)
		if err != nil {
			return err
		}
		user = u
		return c.store.UpdateUser(ctx, u)
	})
	if err != nil {
		return loyalty.Standing{}, err
	}
	return loyalty.StandingFor(user.Points), nil
}

// Standing derives the loyalty standing of the stored user without a network call.
func (c *Client) Standing() (loyalty.Standing, bool) {
	st := c.store.Snapshot()
	if st.User == nil {
		return loyalty.Standing{}, false
	}
	return loyalty.StandingFor(st.User.Points), true
}

// ForgotPassword starts a reset by requesting a reset code for rawPhone.
func (c *Client) ForgotPassword(ctx context.Context, rawPhone string) (gateway.Challenge, error) {
	p, err := c.phones.Normalize(rawPhone)
	if err != nil {
		c.store.SetError(err)
		return gateway.Challenge{}, err
	}
	var ch gateway.Challenge
	err = c.run(func() error {
		res, err := c.gw.ForgotPassword(ctx, p)
		if err != nil {
			return err
		}
		ch = res
		return nil
	})
	if err != nil {
		return gateway.Challenge{}, err
	}
	c.mu.Lock()
	c.resetPhone = p
	c.mu.Unlock()
	c.store.BeginPasswordReset()
	return ch, nil
}

// ResendResetCode replaces the pending reset code.
func (c *Client) ResendResetCode(ctx context.Context) (gateway.Challenge, error) {
	p, err := c.pendingReset()
	if err != nil {
		return gateway.Challenge{}, err
	}
	var ch gateway.Challenge
	err = c.run(func() error {
		res, err := c.gw.ResendOTP(ctx, p)
		ch = res
		return err
	})
	return ch, err
}

// VerifyResetCode exchanges the reset code for a one-time reset token, kept
// only in memory.
func (c *Client) VerifyResetCode(ctx context.Context, code string) error {
	p, err := c.pendingReset()
	if err != nil {
		return err
	}
	return c.run(func() error {
		v, err := c.gw.VerifyOTP(ctx, p, code)
		if err != nil {
			return err
		}
		if v.ResetToken == "" {
			return ErrNoResetInProgress
		}
		c.store.SetResetToken(v.ResetToken)
		return nil
	})
}

// ResetPassword sets the new password using the verified reset token.
func (c *Client) ResetPassword(ctx context.Context, password, confirm string) error {
	if err := credential.ValidateNew(password, confirm); err != nil {
		c.store.SetError(err)
		return err
	}
	token := c.store.Snapshot().ResetToken
	if token == "" {
		c.store.SetError(ErrNoResetInProgress)
		return ErrNoResetInProgress
	}
	err := c.run(func() error {
		return c.gw.ResetPassword(ctx, token, password)
	})
	if err != nil {
		return err
	}
	c.CancelPasswordReset()
	return nil
}

// CancelPasswordReset abandons the reset flow locally.
func (c *Client) CancelPasswordReset() {
	c.mu.Lock()
	c.resetPhone = ""
	c.mu.Unlock()
	c.store.EndPasswordReset()
}

func (c *Client) pendingReset() (phone.Number, error) {
	c.mu.Lock()
	p := c.resetPhone
	c.mu.Unlock()
	if p == "" || !c.store.Snapshot().ResettingPassword {
		return "", ErrNoResetInProgress
	}
	return p, nil
}

// run holds the loading flag for the duration of fn and records its error.
func (c *Client) run(fn func() error) error {
	if !c.store.SetLoading(true) {
		return ErrInFlight
	}
	err := fn()
	c.store.SetLoading(false)
	if err != nil {
		c.store.SetError(err)
	}
	return err
}
