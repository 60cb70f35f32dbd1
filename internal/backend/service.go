package backend

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/rewards_auth/internal/account"
	"github.com/congo-pay/rewards_auth/internal/apperr"
	"github.com/congo-pay/rewards_auth/internal/auth"
	"github.com/congo-pay/rewards_auth/internal/credential"
	"github.com/congo-pay/rewards_auth/internal/metrics"
	"github.com/congo-pay/rewards_auth/internal/otp"
	"github.com/congo-pay/rewards_auth/internal/phone"
	"github.com/congo-pay/rewards_auth/internal/points"
)

// Deps wires the backend service.
type Deps struct {
	Phones   *phone.Validator
	OTP      *otp.Service
	Accounts *account.Service
	Auth     *auth.Service
	Points   *points.Service
	Resets   ResetTokens
	Logger   *slog.Logger
}

// Service is the authoritative half of the authentication flow: it owns
// challenges, accounts, tokens and point balances.
type Service struct {
	phones   *phone.Validator
	otps     *otp.Service
	accounts *account.Service
	auth     *auth.Service
	points   *points.Service
	resets   ResetTokens
	logger   *slog.Logger
}

func NewService(d Deps) *Service {
	if d.Phones == nil {
		d.Phones = phone.NewValidator(phone.DefaultCountryCode)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		phones:   d.Phones,
		otps:     d.OTP,
		accounts: d.Accounts,
		auth:     d.Auth,
		points:   d.Points,
		resets:   d.Resets,
		logger:   d.Logger,
	}
}

// ChallengeResult describes an issued challenge without its code.
type ChallengeResult struct {
	ChallengeID string      `json:"challenge_id"`
	Purpose     otp.Purpose `json:"purpose"`
	ExpiresAt   time.Time   `json:"expires_at"`
	ResendAt    time.Time   `json:"resend_at"`
}

// VerifyResult is returned by a successful verification. ResetToken is only
// set for password-reset challenges.
type VerifyResult struct {
	ChallengeID string `json:"challenge_id"`
	Verified    bool   `json:"verified"`
	ResetToken  string `json:"reset_token,omitempty"`
}

// RegistrationInput completes a registration for a verified phone.
type RegistrationInput struct {
	Phone           string `json:"phone"`
	Code            string `json:"code"`
	Name            string `json:"name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (s *Service) challengeResult(c otp.Challenge) ChallengeResult {
	return ChallengeResult{
		ChallengeID: c.ID,
		Purpose:     c.Purpose,
		ExpiresAt:   c.ExpiresAt,
		ResendAt:    c.ResendAt(s.otps.Config().Cooldown),
	}
}

// SendOTP issues a challenge. Registration codes are refused for phones that
// already have an account; reset codes for phones that have none.
func (s *Service) SendOTP(ctx context.Context, rawPhone string, purpose otp.Purpose) (ChallengeResult, error) {
	p, err := s.phones.Normalize(rawPhone)
	if err != nil {
		return ChallengeResult{}, err
	}
	if !purpose.Valid() {
		purpose = otp.PurposeRegistration
	}
	exists, err := s.accounts.Exists(ctx, p)
	if err != nil {
		return ChallengeResult{}, err
	}
	switch {
	case purpose == otp.PurposeRegistration && exists:
		return ChallengeResult{}, account.ErrPhoneTaken
	case purpose == otp.PurposePasswordReset && !exists:
		return ChallengeResult{}, account.ErrNotFound
	}
	c, err := s.otps.Issue(ctx, p, purpose)
	if err != nil {
		return ChallengeResult{}, err
	}
	return s.challengeResult(c), nil
}

// ResendOTP replaces the phone's challenge once its cooldown has elapsed.
func (s *Service) ResendOTP(ctx context.Context, rawPhone string) (ChallengeResult, error) {
	p, err := s.phones.Normalize(rawPhone)
	if err != nil {
		return ChallengeResult{}, err
	}
	c, err := s.otps.Resend(ctx, p)
	if err != nil {
		return ChallengeResult{}, err
	}
	return s.challengeResult(c), nil
}

// VerifyOTP checks a code. A verified reset challenge is exchanged for a
// single-use reset token.
func (s *Service) VerifyOTP(ctx context.Context, rawPhone, code string) (VerifyResult, error) {
	p, err := s.phones.Normalize(rawPhone)
	if err != nil {
		return VerifyResult{}, err
	}
	c, err := s.otps.Verify(ctx, p, code)
	if err != nil {
		return VerifyResult{}, err
	}
	res := VerifyResult{ChallengeID: c.ID, Verified: true}
	if c.Purpose == otp.PurposePasswordReset {
		// The consumed challenge stays until retention ends so a repeat
		// verification answers OTP_ALREADY_CONSUMED; the token is single-use.
		token, err := s.resets.Issue(ctx, p)
		if err != nil {
			return VerifyResult{}, err
		}
		res.ResetToken = token
	}
	return res, nil
}

// CompleteRegistration creates the account for a phone whose registration
// code was verified, and opens a session for it. The points account is opened
// under a fresh user id before the account exists, so a failure there leaves
// the phone free for a retry.
func (s *Service) CompleteRegistration(ctx context.Context, in RegistrationInput) (auth.Session, error) {
	p, err := s.phones.Normalize(in.Phone)
	if err != nil {
		return auth.Session{}, err
	}
	if err := credential.ValidateNew(in.Password, in.ConfirmPassword); err != nil {
		return auth.Session{}, err
	}
	if _, err := s.otps.CheckConsumed(ctx, p, in.Code, otp.PurposeRegistration); err != nil {
		return auth.Session{}, err
	}
	id := uuid.NewString()
	if err := s.points.Open(ctx, id); err != nil {
		return auth.Session{}, err
	}
	user, err := s.accounts.Register(ctx, account.RegisterInput{ID: id, Phone: p, Name: in.Name, Password: in.Password})
	if err != nil {
		return auth.Session{}, err
	}
	metrics.Registrations.Inc()
	s.logger.Info("registration completed", slog.String("user_id", user.ID), slog.String("phone", p.Masked()))
	return s.auth.Open(user)
}

// Login authenticates with phone and password.
func (s *Service) Login(ctx context.Context, rawPhone, password string) (auth.Session, error) {
	sess, err := s.auth.Login(ctx, rawPhone, password)
	if err != nil {
		return auth.Session{}, err
	}
	bal, err := s.points.Balance(ctx, sess.User.ID)
	if err != nil {
		return auth.Session{}, err
	}
	sess.User.Points = bal
	return sess, nil
}

// ForgotPassword issues a reset-flavoured challenge.
func (s *Service) ForgotPassword(ctx context.Context, rawPhone string) (ChallengeResult, error) {
	return s.SendOTP(ctx, rawPhone, otp.PurposePasswordReset)
}

// ResetPassword spends a reset token and replaces the password.
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	if err := credential.ValidatePassword(password); err != nil {
		return err
	}
	p, err := s.resets.Consume(ctx, token)
	if err != nil {
		return err
	}
	if err := s.accounts.ResetPassword(ctx, p, password); err != nil {
		return err
	}
	s.logger.Info("password reset", slog.String("phone", p.Masked()))
	return nil
}

// Authorize resolves a bearer token.
func (s *Service) Authorize(ctx context.Context, token string) (account.User, error) {
	return s.auth.Authorize(ctx, token)
}

// Logout revokes every token issued to userID.
func (s *Service) Logout(ctx context.Context, userID string) error {
	return s.auth.Logout(ctx, userID)
}

// Profile returns the account with its current point balance.
func (s *Service) Profile(ctx context.Context, userID string) (account.User, error) {
	user, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return account.User{}, err
	}
	bal, err := s.points.Balance(ctx, user.ID)
	if err != nil {
		return account.User{}, err
	}
	user.Points = bal
	return user.Public(), nil
}

// AwardInput credits points to a member.
type AwardInput struct {
	UserID     string `json:"user_id"`
	ClientTxID string `json:"client_tx_id"`
	Amount     int64  `json:"amount"`
}

// AwardPoints credits a member on behalf of an admin.
func (s *Service) AwardPoints(ctx context.Context, actor account.User, in AwardInput) (int64, error) {
	if !actor.Role.CanManagePoints() {
		return 0, apperr.Forbidden("role cannot award points")
	}
	if in.ClientTxID == "" {
		return 0, apperr.Validation("client_tx_id", "required", "client_tx_id is required")
	}
	if _, err := s.accounts.Get(ctx, in.UserID); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return 0, apperr.Validation("user_id", "unknown_user", "unknown user")
		}
		return 0, err
	}
	return s.points.Award(ctx, in.UserID, in.ClientTxID, in.Amount)
}

// RedeemInput debits the caller's own points.
type RedeemInput struct {
	ClientTxID string `json:"client_tx_id"`
	Amount     int64  `json:"amount"`
}

// RedeemPoints spends points from the actor's balance. Replaying ClientTxID
// returns the balance left by the first posting.
func (s *Service) RedeemPoints(ctx context.Context, actor account.User, in RedeemInput) (int64, error) {
	if in.ClientTxID == "" {
		return 0, apperr.Validation("client_tx_id", "required", "client_tx_id is required")
	}
	return s.points.Redeem(ctx, actor.ID, in.ClientTxID, in.Amount)
}
