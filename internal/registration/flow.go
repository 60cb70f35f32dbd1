// Package registration drives the multi-step sign-up: phone entry, OTP
// verification and profile completion, in that order only.
package registration

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/congo-pay/rewards_auth/internal/apperr"
	"github.com/congo-pay/rewards_auth/internal/countdown"
	"github.com/congo-pay/rewards_auth/internal/credential"
	"github.com/congo-pay/rewards_auth/internal/gateway"
	"github.com/congo-pay/rewards_auth/internal/phone"
	"github.com/congo-pay/rewards_auth/internal/session"
)

var (
	// ErrInFlight rejects a call while another flow operation is awaiting the backend.
	ErrInFlight = apperr.New(apperr.KindRateLimited, "in_flight", "a request is already in progress")
	// ErrCodeFormat rejects a code that is not all digits.
	ErrCodeFormat = apperr.Validation("code", "invalid_format", "enter the digits from the SMS")
	// ErrNameMissing rejects an empty display name.
	ErrNameMissing = apperr.Validation("name", "required", "name is required")
	// ErrAborted is returned by a call whose registration was aborted or
	// closed while it awaited the backend. Its result is dropped.
	ErrAborted = apperr.New(apperr.KindForbidden, "aborted", "the registration was cancelled")
)

// Session is the in-progress registration, discarded on completion or abort.
// Only the pending phone and challenge outlive the process, through the
// session store.
type Session struct {
	Step        Step
	Phone       phone.Number
	ChallengeID string
	ExpiresAt   time.Time
	ResendAt    time.Time
	Name        string

	code           string
	idempotencyKey string
}

// Option configures a Flow.
type Option func(*Flow)

// WithLogger sets the flow logger.
func WithLogger(l *slog.Logger) Option { return func(f *Flow) { f.logger = l } }

// WithClock overrides time.Now for the countdown.
func WithClock(now func() time.Time) Option { return func(f *Flow) { f.now = now } }

// WithTick sets how often the countdown reports.
func WithTick(d time.Duration) Option { return func(f *Flow) { f.tick = d } }

// OnTick receives the remaining validity on every countdown tick.
func OnTick(fn func(time.Duration)) Option { return func(f *Flow) { f.onTick = fn } }

// OnExpire is called once when the current code's validity runs out.
func OnExpire(fn func()) Option { return func(f *Flow) { f.onExpire = fn } }

// Flow is one device's registration. Operations are serialized: a call made
// while another is awaiting the backend, here or on the shared session store,
// returns ErrInFlight. Abort is always accepted; a call still in flight when
// it lands returns ErrAborted and changes nothing.
type Flow struct {
	gw     gateway.Gateway
	store  *session.Store
	phones *phone.Validator
	logger *slog.Logger
	now    func() time.Time
	tick   time.Duration

	onTick   func(time.Duration)
	onExpire func()

	busy atomic.Bool

	// commitMu orders result commits against Abort and Close.
	commitMu sync.Mutex

	mu    sync.Mutex
	gen   uint64
	sess  Session
	timer *countdown.Countdown
}

// New builds a flow. When the store was hydrated with a pending code the flow
// resumes at OTP pending for that phone; otherwise it starts at phone entry.
func New(gw gateway.Gateway, store *session.Store, phones *phone.Validator, opts ...Option) *Flow {
	f := &Flow{
		gw:     gw,
		store:  store,
		phones: phones,
		logger: slog.Default(),
		now:    time.Now,
		tick:   countdown.DefaultTick,
		sess:   Session{Step: StepPhoneEntry},
	}
	for _, opt := range opts {
		opt(f)
	}
	if st := store.Snapshot(); st.OTPSent && st.PendingPhone != "" {
		f.sess = Session{
			Step:           StepOTPPending,
			Phone:          st.PendingPhone,
			ChallengeID:    st.ChallengeID,
			ExpiresAt:      st.OTPExpiresAt,
			idempotencyKey: uuid.NewString(),
		}
		if !st.OTPExpiresAt.IsZero() {
			f.restartTimerLocked(st.OTPExpiresAt)
		}
		f.logger.Debug("registration resumed", slog.String("phone", st.PendingPhone.Masked()), slog.String("challenge_id", st.ChallengeID))
	}
	return f
}

// Session returns a copy of the current registration.
func (f *Flow) Session() Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sess
}

// Step is shorthand for Session().Step.
func (f *Flow) Step() Step {
	return f.Session().Step
}

// Remaining is the validity left on the current code, zero when none is pending.
func (f *Flow) Remaining() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer == nil {
		return 0
	}
	return f.timer.Remaining()
}

// SubmitPhone normalizes raw and requests a registration code for it. A flow
// that was completed or aborted starts over.
func (f *Flow) SubmitPhone(ctx context.Context, raw string) (gateway.Challenge, error) {
	p, err := f.phones.Normalize(raw)
	if err != nil {
		return gateway.Challenge{}, f.reject(err)
	}
	if err = f.begin(); err != nil {
		return gateway.Challenge{}, err
	}
	defer func() { f.end(err) }()

	f.mu.Lock()
	if f.sess.Step.Terminal() {
		f.resetLocked()
	}
	from, gen := f.sess.Step, f.gen
	f.mu.Unlock()

	if _, err = Next(from, EventSubmitPhone); err != nil {
		return gateway.Challenge{}, err
	}
	ch, err := f.gw.SendOTP(ctx, p)
	if err != nil {
		f.logger.Info("registration code request failed", slog.String("phone", p.Masked()), slog.String("code", string(apperr.KindOf(err))))
		return gateway.Challenge{}, err
	}

	err = f.commit(gen, func() error {
		if err := f.store.SetOTPPending(ctx, p, ch.ChallengeID, ch.ExpiresAt); err != nil {
			return err
		}
		f.mu.Lock()
		f.sess = Session{
			Step:           StepOTPPending,
			Phone:          p,
			ChallengeID:    ch.ChallengeID,
			ExpiresAt:      ch.ExpiresAt,
			ResendAt:       ch.ResendAt,
			idempotencyKey: uuid.NewString(),
		}
		f.restartTimerLocked(ch.ExpiresAt)
		f.mu.Unlock()
		return nil
	})
	if err != nil {
		return gateway.Challenge{}, err
	}

	f.logger.Debug("registration code sent", slog.String("phone", p.Masked()), slog.String("challenge_id", ch.ChallengeID))
	return ch, nil
}

// Resend replaces the pending code. The step stays at OTP pending.
func (f *Flow) Resend(ctx context.Context) (gateway.Challenge, error) {
	err := f.begin()
	if err != nil {
		return gateway.Challenge{}, err
	}
	defer func() { f.end(err) }()

	cur, gen := f.current()
	if _, err = Next(cur.Step, EventResend); err != nil {
		return gateway.Challenge{}, err
	}
	ch, err := f.gw.ResendOTP(ctx, cur.Phone)
	if err != nil {
		return gateway.Challenge{}, err
	}

	err = f.commit(gen, func() error {
		if err := f.store.SetOTPPending(ctx, cur.Phone, ch.ChallengeID, ch.ExpiresAt); err != nil {
			return err
		}
		f.mu.Lock()
		f.sess.ChallengeID = ch.ChallengeID
		f.sess.ExpiresAt = ch.ExpiresAt
		f.sess.ResendAt = ch.ResendAt
		f.restartTimerLocked(ch.ExpiresAt)
		f.mu.Unlock()
		return nil
	})
	if err != nil {
		return gateway.Challenge{}, err
	}
	return ch, nil
}

// VerifyOTP checks code against the pending challenge. Verifying again after
// success answers OTP_ALREADY_CONSUMED.
func (f *Flow) VerifyOTP(ctx context.Context, code string) error {
	if f.Step() == StepOTPVerified {
		return f.reject(alreadyConsumed())
	}
	code = strings.TrimSpace(code)
	if err := checkCode(code); err != nil {
		return f.reject(err)
	}
	err := f.begin()
	if err != nil {
		return err
	}
	defer func() { f.end(err) }()

	cur, gen := f.current()
	if _, err = Next(cur.Step, EventVerifyOTP); err != nil {
		if cur.Step == StepOTPVerified {
			err = alreadyConsumed()
		}
		return err
	}
	if _, err = f.gw.VerifyOTP(ctx, cur.Phone, code); err != nil {
		return err
	}

	err = f.commit(gen, func() error {
		f.mu.Lock()
		f.sess.Step = StepOTPVerified
		f.sess.code = code
		f.stopTimerLocked()
		f.mu.Unlock()
		return nil
	})
	return err
}

// CompleteProfile creates the account and logs it in. Name and passwords are
// checked locally first. The call is only reachable after a successful
// VerifyOTP; earlier calls never reach the backend.
// Retries of a failed attempt reuse one idempotency key so the account is
// created at most once.
func (f *Flow) CompleteProfile(ctx context.Context, name, password, confirm string) (gateway.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return gateway.Session{}, f.reject(ErrNameMissing)
	}
	if err := credential.ValidateNew(password, confirm); err != nil {
		return gateway.Session{}, f.reject(err)
	}
	err := f.begin()
	if err != nil {
		return gateway.Session{}, err
	}
	defer func() { f.end(err) }()

	cur, gen := f.current()
	if _, err = Next(cur.Step, EventCompleteProfile); err != nil {
		return gateway.Session{}, err
	}

	f.mu.Lock()
	f.sess.Name = name
	f.mu.Unlock()

	reqCtx := gateway.WithIdempotencyKey(ctx, cur.idempotencyKey)
	sess, err := f.gw.CompleteRegistration(reqCtx, gateway.Registration{
		Phone:           cur.Phone,
		Code:            cur.code,
		Name:            name,
		Password:        password,
		ConfirmPassword: confirm,
	})
	if err != nil {
		return gateway.Session{}, err
	}

	err = f.commit(gen, func() error {
		if err := f.store.Login(ctx, sess.User, sess.Token); err != nil {
			return err
		}
		f.mu.Lock()
		f.sess = Session{Step: StepProfileCompleted, Phone: cur.Phone, Name: name}
		f.stopTimerLocked()
		f.mu.Unlock()
		return nil
	})
	if err != nil {
		return gateway.Session{}, err
	}

	f.logger.Info("registration completed", slog.String("user_id", sess.User.ID))
	return sess, nil
}

// Abort abandons the registration locally. The backend challenge is left to
// expire on its own. A call still awaiting the backend is not interrupted but
// its result is discarded.
func (f *Flow) Abort(ctx context.Context) error {
	f.commitMu.Lock()
	defer f.commitMu.Unlock()

	f.mu.Lock()
	f.gen++
	next, _ := Next(f.sess.Step, EventAbort)
	f.sess = Session{Step: next}
	f.stopTimerLocked()
	f.mu.Unlock()
	return f.store.ClearOTP(ctx)
}

// Close releases the countdown. The flow must not be used afterwards.
func (f *Flow) Close() {
	f.commitMu.Lock()
	defer f.commitMu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.stopTimerLocked()
}

// begin claims the flow and the store's loading flag. Either being held
// already means another operation is in flight.
func (f *Flow) begin() error {
	if !f.busy.CompareAndSwap(false, true) {
		return ErrInFlight
	}
	if !f.store.SetLoading(true) {
		f.busy.Store(false)
		return ErrInFlight
	}
	return nil
}

func (f *Flow) end(err error) {
	f.store.SetLoading(false)
	f.store.SetError(err)
	f.busy.Store(false)
}

// reject records a failure caught before any request was made.
func (f *Flow) reject(err error) error {
	f.store.SetError(err)
	return err
}

func (f *Flow) current() (Session, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sess, f.gen
}

// commit runs fn unless the flow was aborted or closed after gen was read.
func (f *Flow) commit(gen uint64, fn func() error) error {
	f.commitMu.Lock()
	defer f.commitMu.Unlock()

	f.mu.Lock()
	stale := f.gen != gen
	f.mu.Unlock()
	if stale {
		return ErrAborted
	}
	return fn()
}

func (f *Flow) resetLocked() {
	f.stopTimerLocked()
	f.sess = Session{Step: StepPhoneEntry}
}

func (f *Flow) restartTimerLocked(deadline time.Time) {
	f.stopTimerLocked()
	f.timer = countdown.Start(context.Background(), deadline, countdown.Options{
		Tick:     f.tick,
		Now:      f.now,
		OnTick:   f.onTick,
		OnExpire: f.onExpire,
	})
}

func (f *Flow) stopTimerLocked() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

func alreadyConsumed() error {
	return apperr.New(apperr.KindAlreadyConsumed, "already_consumed", "this code has already been used").WithCause(ErrInvalidTransition)
}

func checkCode(code string) error {
	if code == "" {
		return ErrCodeFormat
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return ErrCodeFormat
		}
	}
	return nil
}

// IsInvalidTransition reports whether err came from a call made in the wrong step.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
