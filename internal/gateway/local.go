package gateway

import (
	"context"

	"github.com/congo-pay/rewards_auth/internal/account"
	"github.com/congo-pay/rewards_auth/internal/apperr"
	"github.com/congo-pay/rewards_auth/internal/auth"
	"github.com/congo-pay/rewards_auth/internal/backend"
	"github.com/congo-pay/rewards_auth/internal/otp"
	"github.com/congo-pay/rewards_auth/internal/phone"
	"github.com/congo-pay/rewards_auth/internal/session"
)

// Local calls a backend.Service in process. Errors are normalised the same
// way the HTTP client normalises them.
type Local struct {
	svc            *backend.Service
	onUnauthorized UnauthorizedFunc
}

func NewLocal(svc *backend.Service) *Local {
	return &Local{svc: svc}
}

// OnUnauthorized registers fn to run whenever a token is rejected.
func (l *Local) OnUnauthorized(fn UnauthorizedFunc) { l.onUnauthorized = fn }

func (l *Local) SendOTP(ctx context.Context, p phone.Number) (Challenge, error) {
	res, err := l.svc.SendOTP(ctx, p.String(), otp.PurposeRegistration)
	return challenge(res), normalize(err)
}

func (l *Local) ResendOTP(ctx context.Context, p phone.Number) (Challenge, error) {
	res, err := l.svc.ResendOTP(ctx, p.String())
	return challenge(res), normalize(err)
}

func (l *Local) VerifyOTP(ctx context.Context, p phone.Number, code string) (Verification, error) {
	res, err := l.svc.VerifyOTP(ctx, p.String(), code)
	if err != nil {
		return Verification{}, normalize(err)
	}
	return Verification{ChallengeID: res.ChallengeID, Verified: res.Verified, ResetToken: res.ResetToken}, nil
}

func (l *Local) CompleteRegistration(ctx context.Context, r Registration) (Session, error) {
	sess, err := l.svc.CompleteRegistration(ctx, backend.RegistrationInput{
		Phone:           r.Phone.String(),
		Code:            r.Code,
		Name:            r.Name,
		Password:        r.Password,
		ConfirmPassword: r.ConfirmPassword,
	})
	if err != nil {
		return Session{}, normalize(err)
	}
	return sessionFrom(sess), nil
}

func (l *Local) Login(ctx context.Context, p phone.Number, password string) (Session, error) {
	sess, err := l.svc.Login(ctx, p.String(), password)
	if err != nil {
		return Session{}, normalize(err)
	}
	return sessionFrom(sess), nil
}

func (l *Local) ForgotPassword(ctx context.Context, p phone.Number) (Challenge, error) {
	res, err := l.svc.ForgotPassword(ctx, p.String())
	return challenge(res), normalize(err)
}

func (l *Local) ResetPassword(ctx context.Context, resetToken, password string) error {
	return normalize(l.svc.ResetPassword(ctx, resetToken, password))
}

func (l *Local) Logout(ctx context.Context, token string) error {
	user, err := l.authorize(ctx, token)
	if err != nil {
		return err
	}
	return normalize(l.svc.Logout(ctx, user.ID))
}

func (l *Local) Profile(ctx context.Context, token string) (session.User, error) {
	user, err := l.authorize(ctx, token)
	if err != nil {
		return session.User{}, err
	}
	profile, err := l.svc.Profile(ctx, user.ID)
	if err != nil {
		return session.User{}, normalize(err)
	}
	return UserFrom(profile), nil
}

func (l *Local) authorize(ctx context.Context, token string) (account.User, error) {
	user, err := l.svc.Authorize(ctx, token)
	if err != nil {
		err = normalize(err)
		if apperr.IsKind(err, apperr.KindUnauthorized) && l.onUnauthorized != nil {
			l.onUnauthorized(ctx)
		}
		return account.User{}, err
	}
	return user, nil
}

// normalize strips causes and maps unexpected failures to NETWORK_ERROR,
// matching what an HTTP caller would observe.
func normalize(err error) error {
	if err == nil {
		return nil
	}
	ae := apperr.As(err)
	if ae == nil || ae.Kind == apperr.KindInternal {
		return apperr.Network(err)
	}
	return apperr.FromBody(ae.HTTPStatus(), ae.ToBody())
}

func challenge(res backend.ChallengeResult) Challenge {
	return Challenge{ChallengeID: res.ChallengeID, Purpose: string(res.Purpose), ExpiresAt: res.ExpiresAt, ResendAt: res.ResendAt}
}

func sessionFrom(s auth.Session) Session {
	return Session{User: UserFrom(s.User), Token: s.Token, ExpiresAt: s.ExpiresAt}
}

// UserFrom mirrors a backend account into the client model.
func UserFrom(u account.User) session.User {
	return session.User{
		ID:         u.ID,
		Name:       u.Name,
		Phone:      u.Phone,
		Role:       string(u.Role),
		IsVerified: u.IsVerified,
		Points:     u.Points,
		CreatedAt:  u.CreatedAt,
	}
}
