package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/rewards_auth/internal/logging"
)

var testUser = User{ID: "u-1", Name: "Ahmed", Phone: "966501234567", Role: "user", IsVerified: true, Points: 750}

var otpDeadline = time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)

func newHydrated(t *testing.T, p Persister, opts ...Option) *Store {
	t.Helper()
	s := New(p, append([]Option{WithLogger(logging.Discard())}, opts...)...)
	require.NoError(t, s.Hydrate(context.Background()))
	t.Cleanup(s.Teardown)
	return s
}

func TestMutationsRequireHydrate(t *testing.T) {
	s := New(NewMemoryPersister(), WithLogger(logging.Discard()))
	err := s.Login(context.Background(), testUser, "tok")
	assert.True(t, errors.Is(err, ErrNotHydrated))
}

func TestLoginIsSingleAtomicCommit(t *testing.T) {
	s := newHydrated(t, NewMemoryPersister())
	ctx := context.Background()
	require.NoError(t, s.SetOTPPending(ctx, "966501234567", "ch-1", otpDeadline))

	var seen []State
	unsubscribe := s.Subscribe(func(m Mutation, st State) {
		if m == MutationLogin {
			seen = append(seen, st)
		}
		// Every observed state is either fully logged in or fully logged out.
		assert.Equal(t, st.Authenticated, st.User != nil)
		assert.Equal(t, st.Authenticated, st.Token != "")
	})
	defer unsubscribe()

	require.NoError(t, s.Login(ctx, testUser, "tok-1"))
	require.Len(t, seen, 1)
	assert.Equal(t, "u-1", seen[0].User.ID)
	assert.Equal(t, "tok-1", seen[0].Token)
	assert.False(t, seen[0].OTPSent)
	assert.Empty(t, seen[0].ChallengeID)
}

func TestLoginRejectsIncompleteIdentity(t *testing.T) {
	s := newHydrated(t, NewMemoryPersister())
	assert.True(t, errors.Is(s.Login(context.Background(), testUser, ""), ErrIncomplete))
	assert.True(t, errors.Is(s.Login(context.Background(), User{}, "tok"), ErrIncomplete))
	assert.False(t, s.Snapshot().Authenticated)
}

func TestLogoutSurvivesRestart(t *testing.T) {
	p := NewMemoryPersister()
	ctx := context.Background()

	first := newHydrated(t, p)
	require.NoError(t, first.Login(ctx, testUser, "tok-1"))
	require.NoError(t, first.SetOTPPending(ctx, "966501234567", "ch-2", otpDeadline))
	require.NoError(t, first.Logout(ctx))
	first.Teardown()

	second := newHydrated(t, p)
	st := second.Snapshot()
	assert.Nil(t, st.User)
	assert.Empty(t, st.Token)
	assert.False(t, st.Authenticated)
	assert.False(t, st.OTPSent)
	assert.Empty(t, st.PendingPhone)
}

func TestHydrateRestoresPersistedSubsetOnly(t *testing.T) {
	p := NewMemoryPersister()
	ctx := context.Background()

	first := newHydrated(t, p)
	require.NoError(t, first.Login(ctx, testUser, "tok-1"))
	require.NoError(t, first.SetOTPPending(ctx, "966501234567", "ch-3", otpDeadline))
	require.True(t, first.SetLoading(true))
	first.SetError(errors.New("boom"))
	first.BeginPasswordReset()
	first.SetResetToken("reset-abc")
	first.Teardown()

	var raw map[string]any
	require.NoError(t, json.Unmarshal(p.Raw(), &raw))
	assert.ElementsMatch(t, []string{"user", "token", "authenticated", "issued_at", "challenge_id", "otp_sent", "pending_phone", "otp_expires_at"}, keys(raw))

	st := newHydrated(t, p).Snapshot()
	require.NotNil(t, st.User)
	assert.Equal(t, "u-1", st.User.ID)
	assert.True(t, st.Authenticated)
	assert.Equal(t, "ch-3", st.ChallengeID)
	assert.True(t, st.OTPSent)
	assert.True(t, otpDeadline.Equal(st.OTPExpiresAt))
	assert.False(t, st.Loading)
	assert.Nil(t, st.Err)
	assert.Empty(t, st.ResetToken)
	assert.False(t, st.ResettingPassword)
}

func TestHydrateDiscardsHalfWrittenIdentity(t *testing.T) {
	p := NewMemoryPersister()
	require.NoError(t, p.Save(context.Background(), Record{Token: "orphan", Authenticated: true}))
	st := newHydrated(t, p).Snapshot()
	assert.False(t, st.Authenticated)
	assert.Empty(t, st.Token)
}

func TestSetLoadingRejectsSecondSubmission(t *testing.T) {
	s := newHydrated(t, NewMemoryPersister())
	assert.True(t, s.SetLoading(true))
	assert.False(t, s.SetLoading(true))
	assert.True(t, s.SetLoading(false))
	assert.True(t, s.SetLoading(true))
}

func TestHandleUnauthorizedLogsOutAndNavigates(t *testing.T) {
	var navigated int
	p := NewMemoryPersister()
	s := newHydrated(t, p, WithUnauthorizedHandler(func() { navigated++ }))
	ctx := context.Background()
	require.NoError(t, s.Login(ctx, testUser, "tok-1"))

	var mutations []Mutation
	s.Subscribe(func(m Mutation, _ State) { mutations = append(mutations, m) })

	s.HandleUnauthorized(ctx)
	s.HandleUnauthorized(ctx)

	assert.Equal(t, 1, navigated)
	assert.Equal(t, []Mutation{MutationUnauthorized}, mutations)
	assert.False(t, s.Snapshot().Authenticated)

	rec, ok, err := p.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, rec.Authenticated)
}

func TestSubscribersSeeCommitsInOrder(t *testing.T) {
	s := newHydrated(t, NewMemoryPersister())
	ctx := context.Background()

	var (
		mu  sync.Mutex
		got []Mutation
	)
	s.Subscribe(func(m Mutation, st State) {
		// Reads from a subscriber see the committed state.
		assert.Equal(t, st.Authenticated, s.Snapshot().Authenticated)
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})

	require.NoError(t, s.SetOTPPending(ctx, "966501234567", "ch-1", otpDeadline))
	require.NoError(t, s.Login(ctx, testUser, "tok"))
	require.NoError(t, s.Logout(ctx))

	assert.Equal(t, []Mutation{MutationOTPPending, MutationLogin, MutationLogout}, got)
}

func TestTeardownRejectsMutations(t *testing.T) {
	s := newHydrated(t, NewMemoryPersister())
	s.Teardown()
	assert.True(t, errors.Is(s.Login(context.Background(), testUser, "tok"), ErrTornDown))
}

type failingPersister struct{ MemoryPersister }

func (f *failingPersister) Save(context.Context, Record) error { return errors.New("disk full") }

func TestLoginNotAppliedWhenPersistFails(t *testing.T) {
	s := newHydrated(t, &failingPersister{})
	err := s.Login(context.Background(), testUser, "tok")
	require.Error(t, err)
	assert.False(t, s.Snapshot().Authenticated)
}

func TestRedisPersisterRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewRedisPersister(client, "")
	s := newHydrated(t, p, WithClock(func() time.Time { return now }))
	require.NoError(t, s.Login(context.Background(), testUser, "tok-r"))
	assert.True(t, mr.Exists(DefaultKey))
	assert.Zero(t, mr.TTL(DefaultKey))

	st := newHydrated(t, NewRedisPersister(client, DefaultKey)).Snapshot()
	require.NotNil(t, st.User)
	assert.Equal(t, int64(750), st.User.Points)
	assert.Equal(t, "tok-r", st.Token)
	assert.True(t, st.IssuedAt.Equal(now))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
