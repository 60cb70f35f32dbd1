package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/congo-pay/rewards_auth/internal/apperr"
	"github.com/congo-pay/rewards_auth/internal/phone"
)

var (
	ErrNotHydrated = errors.New("session: store not hydrated")
	ErrTornDown    = errors.New("session: store torn down")
	ErrIncomplete  = apperr.Validation("session", "incomplete", "login requires a user and a token")
)

// Subscriber observes every committed mutation. It runs synchronously on the
// committing goroutine and may call Snapshot, but must not mutate the store.
type Subscriber func(m Mutation, st State)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithUnauthorizedHandler registers the callback that sends the user back to
// the login entry point after a forced logout.
func WithUnauthorizedHandler(fn func()) Option { return func(s *Store) { s.onUnauthorized = fn } }

// Store owns the authenticated identity. Create one per process, Hydrate it
// before use and Teardown it on exit.
type Store struct {
	persister      Persister
	logger         *slog.Logger
	now            func() time.Time
	onUnauthorized func()

	// commitMu orders mutate, persist and notify as one step.
	commitMu sync.Mutex

	mu       sync.RWMutex
	state    State
	subs     map[int]Subscriber
	nextSub  int
	hydrated bool
	closed   bool
}

// New builds a store over p. Call Hydrate before the first mutation.
func New(p Persister, opts ...Option) *Store {
	s := &Store{
		persister: p,
		logger:    slog.Default(),
		now:       time.Now,
		subs:      make(map[int]Subscriber),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hydrate loads the persisted record. Transient fields start empty. Calling
// it again reloads from the persister.
func (s *Store) Hydrate(ctx context.Context) error {
	rec, ok, err := s.persister.Load(ctx)
	if err != nil {
		return err
	}
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrTornDown
	}
	if ok {
		s.state = fromRecord(rec)
	} else {
		s.state = State{}
	}
	s.hydrated = true
	st := s.state
	s.mu.Unlock()

	s.logger.Debug("session hydrated", slog.Bool("authenticated", st.Authenticated), slog.Bool("otp_sent", st.OTPSent))
	s.notify(MutationHydrate, st)
	return nil
}

// Teardown detaches subscribers and rejects further mutations. Persisted
// state is left as it is.
func (s *Store) Teardown() {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	subs := s.subs
	s.subs = make(map[int]Subscriber)
	s.closed = true
	st := s.state
	s.mu.Unlock()
	for _, fn := range subs {
		fn(MutationTeardown, st)
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers fn and returns its cancel function.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Login sets user, token and authenticated in one commit and drops any
// pending OTP metadata.
func (s *Store) Login(ctx context.Context, user User, token string) error {
	if user.ID == "" || token == "" {
		return ErrIncomplete
	}
	return s.commit(ctx, MutationLogin, true, func(st *State) {
		u := user
		st.User = &u
		st.Token = token
		st.Authenticated = true
		st.IssuedAt = s.now().UTC()
		clearOTP(st)
		st.Err = nil
	})
}

// Logout clears the identity and all OTP and registration metadata. The
// in-memory state is cleared even when persisting fails.
func (s *Store) Logout(ctx context.Context) error {
	return s.commit(ctx, MutationLogout, false, logout)
}

// HandleUnauthorized is called by the gateway when the backend rejects the
// token. It logs out and then fires the unauthorized handler.
func (s *Store) HandleUnauthorized(ctx context.Context) {
	if !s.Snapshot().Authenticated {
		return
	}
	if err := s.commit(ctx, MutationUnauthorized, false, logout); err != nil {
		s.logger.Warn("forced logout not persisted", slog.Any("error", err))
	}
	s.logger.Info("session revoked by backend")
	if s.onUnauthorized != nil {
		s.onUnauthorized()
	}
}

// UpdateUser replaces the mirrored account of an authenticated session.
func (s *Store) UpdateUser(ctx context.Context, user User) error {
	if !s.Snapshot().Authenticated {
		return apperr.Unauthorized("not logged in")
	}
	return s.commit(ctx, MutationUser, true, func(st *State) {
		u := user
		st.User = &u
	})
}

// SetOTPPending records an issued challenge for p that is valid until expiresAt.
func (s *Store) SetOTPPending(ctx context.Context, p phone.Number, challengeID string, expiresAt time.Time) error {
	return s.commit(ctx, MutationOTPPending, true, func(st *State) {
		st.PendingPhone = p
		st.ChallengeID = challengeID
		st.OTPSent = true
		st.OTPExpiresAt = expiresAt
	})
}

// ClearOTP forgets the pending challenge.
func (s *Store) ClearOTP(ctx context.Context) error {
	return s.commit(ctx, MutationOTPCleared, true, clearOTP)
}

// SetLoading flips the in-flight flag. It returns false when loading is
// already set, which callers treat as a rejected second submission.
func (s *Store) SetLoading(loading bool) bool {
	applied := true
	_ = s.commit(context.Background(), MutationLoading, false, func(st *State) {
		if loading && st.Loading {
			applied = false
			return
		}
		st.Loading = loading
		if loading {
			st.Err = nil
		}
	})
	return applied
}

// SetError records the last failure for display.
func (s *Store) SetError(err error) {
	_ = s.commit(context.Background(), MutationError, false, func(st *State) { st.Err = err })
}

// BeginPasswordReset marks the forgot-password flow as active.
func (s *Store) BeginPasswordReset() {
	_ = s.commit(context.Background(), MutationReset, false, func(st *State) {
		st.ResettingPassword = true
		st.ResetToken = ""
	})
}

// SetResetToken stores the token returned by a verified reset code.
func (s *Store) SetResetToken(token string) {
	_ = s.commit(context.Background(), MutationReset, false, func(st *State) { st.ResetToken = token })
}

// EndPasswordReset clears the reset flow.
func (s *Store) EndPasswordReset() {
	_ = s.commit(context.Background(), MutationReset, false, func(st *State) {
		st.ResettingPassword = false
		st.ResetToken = ""
	})
}

// commit applies fn to a copy of the state. When strict is set the new state
// is persisted first and only applied if the write succeeds; otherwise it is
// applied and then persisted. Transient-only mutations skip the write.
func (s *Store) commit(ctx context.Context, m Mutation, strict bool, fn func(*State)) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrTornDown
	}
	if !s.hydrated {
		s.mu.RUnlock()
		return ErrNotHydrated
	}
	prev := s.state
	s.mu.RUnlock()

	next := prev
	fn(&next)
	durable := next.record() != prev.record()

	var saveErr error
	if durable && strict {
		if err := s.persister.Save(ctx, next.record()); err != nil {
			return fmt.Errorf("persist %s: %w", m, err)
		}
	}

	s.mu.Lock()
	s.state = next
	s.mu.Unlock()

	if durable && !strict {
		if err := s.persister.Save(ctx, next.record()); err != nil {
			saveErr = fmt.Errorf("persist %s: %w", m, err)
		}
	}
	s.notify(m, next)
	return saveErr
}

func (s *Store) notify(m Mutation, st State) {
	s.mu.RLock()
	subs := make([]Subscriber, 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()
	for _, fn := range subs {
		fn(m, st)
	}
}

func logout(st *State) {
	st.User = nil
	st.Token = ""
	st.Authenticated = false
	st.IssuedAt = time.Time{}
	clearOTP(st)
	st.ResetToken = ""
	st.ResettingPassword = false
}

func clearOTP(st *State) {
	st.ChallengeID = ""
	st.OTPSent = false
	st.PendingPhone = ""
	st.OTPExpiresAt = time.Time{}
}
