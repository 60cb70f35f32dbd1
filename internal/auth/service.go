package auth

import (
	"context"
	"log/slog"

	"github.com/congo-pay/rewards_auth/internal/account"
	"github.com/congo-pay/rewards_auth/internal/apperr"
	"github.com/congo-pay/rewards_auth/internal/credential"
	"github.com/congo-pay/rewards_auth/internal/metrics"
	"github.com/congo-pay/rewards_auth/internal/phone"
)

// Service issues and revokes session tokens.
type Service struct {
	tokens   *Tokens
	accounts *account.Service
	phones   *phone.Validator
	logger   *slog.Logger
}

func NewService(tokens *Tokens, accounts *account.Service, phones *phone.Validator, logger *slog.Logger) *Service {
	if phones == nil {
		phones = phone.NewValidator(phone.DefaultCountryCode)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{tokens: tokens, accounts: accounts, phones: phones, logger: logger}
}

// Session is the result of a successful login or registration.
type Session struct {
	User      account.User
	Token     string
	ExpiresAt int64
}

// Login validates input locally, checks the password and issues a token.
func (s *Service) Login(ctx context.Context, rawPhone, password string) (Session, error) {
	p, err := s.phones.Normalize(rawPhone)
	if err != nil {
		return Session{}, err
	}
	if err := credential.ValidatePassword(password); err != nil {
		return Session{}, err
	}
	user, err := s.accounts.Authenticate(ctx, p, password)
	if err != nil {
		metrics.Logins.WithLabelValues("rejected").Inc()
		s.logger.Info("login rejected", slog.String("phone", p.Masked()), slog.Any("error", err))
		return Session{}, err
	}
	metrics.Logins.WithLabelValues("ok").Inc()
	s.logger.Info("login", slog.String("user_id", user.ID))
	return s.Open(user)
}

// Open issues a token for an already authenticated user.
func (s *Service) Open(user account.User) (Session, error) {
	token, exp, err := s.tokens.Issue(user)
	if err != nil {
		return Session{}, err
	}
	return Session{User: user.Public(), Token: token, ExpiresAt: exp.Unix()}, nil
}

// Authorize resolves a bearer token to its account. Tokens minted before the
// last logout or password reset are rejected.
func (s *Service) Authorize(ctx context.Context, token string) (account.User, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return account.User{}, err
	}
	user, err := s.accounts.Get(ctx, claims.Subject)
	if apperr.IsKind(err, apperr.KindNotFound) {
		return account.User{}, ErrInvalidToken
	}
	if err != nil {
		return account.User{}, err
	}
	if user.TokenVersion != claims.Version {
		return account.User{}, apperr.Unauthorized("session revoked")
	}
	return user, nil
}

// Logout increments the token version so older tokens become invalid.
func (s *Service) Logout(ctx context.Context, userID string) error {
	if err := s.accounts.RevokeTokens(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("logout", slog.String("user_id", userID))
	return nil
}
