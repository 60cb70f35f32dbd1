package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/rewards_auth/internal/logging"
	"github.com/congo-pay/rewards_auth/internal/metrics"
	"github.com/congo-pay/rewards_auth/internal/phone"
)

// Config holds the challenge timings. Validity and Cooldown are independent.
type Config struct {
	Validity    time.Duration
	Cooldown    time.Duration
	Retention   time.Duration
	MaxAttempts int
	CodeLength  int
	HashCost    int
}

// DefaultConfig returns a five minute window with a one minute resend cooldown.
func DefaultConfig() Config {
	return Config{
		Validity:    5 * time.Minute,
		Cooldown:    time.Minute,
		Retention:   15 * time.Minute,
		MaxAttempts: 5,
		CodeLength:  6,
		HashCost:    bcrypt.DefaultCost,
	}
}

// CodeSource produces a numeric code of the requested length.
type CodeSource func(digits int) (string, error)

// Sender delivers a freshly issued code. Delivery itself lives outside this package.
type Sender interface {
	SendCode(ctx context.Context, c Challenge, code string) error
}

// Service issues and verifies challenges.
type Service struct {
	store  Store
	cfg    Config
	now    func() time.Time
	codes  CodeSource
	sender Sender
	logger *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithCodeSource replaces the crypto/rand code generator.
func WithCodeSource(src CodeSource) Option { return func(s *Service) { s.codes = src } }

// WithSender sets the delivery hook called after a challenge is stored.
func WithSender(sender Sender) Option { return func(s *Service) { s.sender = sender } }

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option { return func(s *Service) { s.logger = logger } }

// NewService builds a challenge service. Zero config fields take defaults.
func NewService(store Store, cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.Validity <= 0 {
		cfg.Validity = def.Validity
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = def.CodeLength
	}
	if cfg.HashCost < bcrypt.MinCost {
		cfg.HashCost = def.HashCost
	}
	s := &Service{store: store, cfg: cfg, now: time.Now, codes: RandomCode, logger: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Issue creates a new challenge. It fails with ErrRateLimited while an active
// challenge for the phone is still inside its cooldown; otherwise any previous
// challenge is superseded.
func (s *Service) Issue(ctx context.Context, p phone.Number, purpose Purpose) (Challenge, error) {
	if !purpose.Valid() {
		purpose = PurposeRegistration
	}
	return s.replace(ctx, p, func(cur *Challenge, now time.Time) (Purpose, error) {
		if cur != nil && cur.Active(now) {
			if wait := cur.ResendAt(s.cfg.Cooldown).Sub(now); wait > 0 {
				metrics.OTP("rate_limited")
				return "", ErrRateLimited.WithRetryAfter(wait)
			}
		}
		return purpose, nil
	}, "issued")
}

// Resend replaces the latest challenge once its cooldown has elapsed. The new
// challenge keeps the previous purpose, starts with zero attempts and expires
// strictly later than the one it replaces.
func (s *Service) Resend(ctx context.Context, p phone.Number) (Challenge, error) {
	return s.replace(ctx, p, func(cur *Challenge, now time.Time) (Purpose, error) {
		if cur == nil {
			return PurposeRegistration, nil
		}
		if wait := cur.ResendAt(s.cfg.Cooldown).Sub(now); wait > 0 {
			metrics.OTP("cooldown_active")
			return "", ErrCooldownActive.WithRetryAfter(wait)
		}
		return cur.Purpose, nil
	}, "resent")
}

func (s *Service) replace(ctx context.Context, p phone.Number, guard func(cur *Challenge, now time.Time) (Purpose, error), event string) (Challenge, error) {
	now := s.now()
	code, err := s.codes(s.cfg.CodeLength)
	if err != nil {
		return Challenge{}, fmt.Errorf("generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.HashCost)
	if err != nil {
		return Challenge{}, fmt.Errorf("hash code: %w", err)
	}

	next := Challenge{
		ID:          ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Phone:       p,
		CodeHash:    hash,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.cfg.Validity),
		MaxAttempts: s.cfg.MaxAttempts,
	}
	var stored Challenge
	err = s.store.Mutate(ctx, p, func(cur *Challenge) (*Challenge, error) {
		purpose, err := guard(cur, now)
		if err != nil {
			return nil, err
		}
		stored = next
		stored.Purpose = purpose
		c := stored
		return &c, nil
	})
	if err != nil {
		return Challenge{}, err
	}

	if s.sender != nil {
		if err := s.sender.SendCode(ctx, stored, code); err != nil {
			// An undelivered code must not hold the phone in cooldown.
			if derr := s.store.Delete(ctx, p, stored.ID); derr != nil {
				s.logger.Warn("otp rollback failed", slog.String("challenge_id", stored.ID), slog.Any("error", derr))
			}
			return Challenge{}, fmt.Errorf("deliver code: %w", err)
		}
	}

	metrics.OTP(event)
	s.logger.Info("otp "+event,
		slog.String("phone", p.Masked()),
		slog.String("challenge_id", stored.ID),
		slog.String("purpose", string(stored.Purpose)),
		slog.Time("expires_at", stored.ExpiresAt),
	)
	return stored, nil
}

// Verify checks code against the phone's challenge. Checks run in order:
// expired, already consumed, exhausted; only then is the attempt counted and
// the code compared. A correct code consumes the challenge.
func (s *Service) Verify(ctx context.Context, p phone.Number, code string) (Challenge, error) {
	now := s.now()
	var out Challenge
	err := s.store.Mutate(ctx, p, func(cur *Challenge) (*Challenge, error) {
		if cur == nil {
			return nil, ErrNotFound
		}
		out = *cur
		switch {
		case cur.Expired(now):
			return nil, ErrExpired
		case cur.Consumed:
			return nil, ErrAlreadyConsumed
		case cur.Attempts >= cur.MaxAttempts:
			return nil, ErrExhausted
		}
		next := *cur
		next.Attempts++
		if bcrypt.CompareHashAndPassword(next.CodeHash, []byte(code)) != nil {
			out = next
			return &next, ErrIncorrect
		}
		next.Consumed = true
		out = next
		return &next, nil
	})
	s.recordVerify(p, out, err)
	return out, err
}

func (s *Service) recordVerify(p phone.Number, c Challenge, err error) {
	event := "verified"
	switch {
	case err == nil:
	case errors.Is(err, ErrIncorrect):
		event = "incorrect"
	case errors.Is(err, ErrExpired), errors.Is(err, ErrNotFound):
		event = "expired"
	case errors.Is(err, ErrExhausted):
		event = "exhausted"
	case errors.Is(err, ErrAlreadyConsumed):
		event = "already_consumed"
	default:
		event = "error"
	}
	metrics.OTP(event)
	s.logger.Info("otp verify",
		slog.String("phone", p.Masked()),
		slog.String("challenge_id", c.ID),
		slog.String("result", event),
		slog.Int("attempts", c.Attempts),
	)
}

// CheckConsumed proves a previously verified code: the challenge must be
// consumed, of the given purpose, still inside validity plus retention, and
// code must match it.
func (s *Service) CheckConsumed(ctx context.Context, p phone.Number, code string, purpose Purpose) (Challenge, error) {
	c, err := s.store.Get(ctx, p)
	if err != nil {
		return Challenge{}, err
	}
	if !c.Consumed || c.Purpose != purpose {
		return Challenge{}, ErrNotVerified
	}
	if s.now().After(c.ExpiresAt.Add(s.cfg.Retention)) {
		return Challenge{}, ErrExpired
	}
	if bcrypt.CompareHashAndPassword(c.CodeHash, []byte(code)) != nil {
		return Challenge{}, ErrIncorrect
	}
	return c, nil
}

// Current returns the phone's latest challenge, active or not.
func (s *Service) Current(ctx context.Context, p phone.Number) (Challenge, error) {
	return s.store.Get(ctx, p)
}

// RandomCode draws a zero-padded numeric code from crypto/rand.
func RandomCode(digits int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}
