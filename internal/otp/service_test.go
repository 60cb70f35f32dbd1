package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/rewards_auth/internal/apperr"
	"github.com/congo-pay/rewards_auth/internal/phone"
)

const testPhone = phone.Number("966501234567")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fixedCode(code string) CodeSource {
	return func(int) (string, error) { return code, nil }
}

type recordingSender struct {
	codes []string
	err   error
}

func (r *recordingSender) SendCode(_ context.Context, _ Challenge, code string) error {
	if r.err != nil {
		return r.err
	}
	r.codes = append(r.codes, code)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HashCost = bcrypt.MinCost
	cfg.MaxAttempts = 3
	return cfg
}

func newTestService(store Store, clock *fakeClock, opts ...Option) *Service {
	opts = append([]Option{WithClock(clock.Now), WithCodeSource(fixedCode("123456"))}, opts...)
	return NewService(store, testConfig(), opts...)
}

func TestIssueCreatesFiveMinuteChallenge(t *testing.T) {
	clock := newFakeClock()
	sender := &recordingSender{}
	svc := newTestService(NewMemoryStore(), clock, WithSender(sender))

	c, err := svc.Issue(context.Background(), testPhone, PurposeRegistration)
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, clock.Now().Add(5*time.Minute), c.ExpiresAt)
	assert.Equal(t, 0, c.Attempts)
	assert.False(t, c.Consumed)
	assert.Equal(t, []string{"123456"}, sender.codes)
	assert.NotContains(t, string(c.CodeHash), "123456")
}

func TestIssueRateLimitedWhileActiveChallengeInCooldown(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(NewMemoryStore(), clock)
	ctx := context.Background()

	_, err := svc.Issue(ctx, testPhone, PurposeRegistration)
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	_, err = svc.Issue(ctx, testPhone, PurposeRegistration)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, 50*time.Second, apperr.As(err).RetryAfter)

	clock.Advance(time.Minute)
	_, err = svc.Issue(ctx, testPhone, PurposeRegistration)
	assert.NoError(t, err)
}

func TestIssueAfterConsumptionIsNotRateLimited(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(NewMemoryStore(), clock)
	ctx := context.Background()

	_, err := svc.Issue(ctx, testPhone, PurposeRegistration)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, testPhone, "123456")
	require.NoError(t, err)

	c, err := svc.Issue(ctx, testPhone, PurposePasswordReset)
	require.NoError(t, err)
	assert.Equal(t, PurposePasswordReset, c.Purpose)
}

func TestVerifyConsumesOnce(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(NewMemoryStore(), clock)
	ctx := context.Background()

	_, err := svc.Issue(ctx, testPhone, PurposeRegistration)
	require.NoError(t, err)

	c, err := svc.Verify(ctx, testPhone, "123456")
	require.NoError(t, err)
	assert.True(t, c.Consumed)
	assert.Equal(t, 1, c.Attempts)

	_, err = svc.Verify(ctx, testPhone, "123456")
	assert.True(t, errors.Is(err, ErrAlreadyConsumed))
	_, err = svc.Verify(ctx, testPhone, "000000")
	assert.True(t, errors.Is(err, ErrAlreadyConsumed))
}

func TestVerifyExpiredRegardlessOfCode(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(NewMemoryStore(), clock)
	ctx := context.Background()

	_, err := svc.Issue(ctx, testPhone, PurposeRegistration)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	_, err = svc.Verify(ctx, testPhone, "000000")
	assert.True(t, errors.Is(err, ErrIncorrect), "exactly at expiresAt the code is still live")

	clock.Advance(time.Nanosecond)
	for _, code := range []string{"123456", "000000"} {
		_, err = svc.Verify(ctx, testPhone, code)
		assert.True(t, errors.Is(err, ErrExpired), code)
	}
}

func TestVerifyCountsEveryIncorrectAttempt(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(NewMemoryStore(), clock)
	ctx := context.Background()

	_, err := svc.Issue(ctx, testPhone, PurposeRegistration)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		c, err := svc.Verify(ctx, testPhone, "999999")
		require.True(t, errors.Is(err, ErrIncorrect))
		assert.Equal(t, i, c.Attempts)
	}

	c, err := svc.Verify(ctx, testPhone, "123456")
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, 3, c.Attempts)
	assert.False(t, c.Consumed)
}

func TestVerifyWithoutChallenge(t *testing.T) {
	svc := newTestService(NewMemoryStore(), newFakeClock())
	_, err := svc.Verify(context.Background(), testPhone, "123456")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, apperr.IsKind(err, apperr.KindExpired))
}

func TestResendRespectsCooldownAndResetsAttempts(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(NewMemoryStore(), clock)
	ctx := context.Background()

	first, err := svc.Issue(ctx, testPhone, PurposeRegistration)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, testPhone, "111111")
	require.True(t, errors.Is(err, ErrIncorrect))

	clock.Advance(59 * time.Second)
	_, err = svc.Resend(ctx, testPhone)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCooldownActive))
	assert.True(t, apperr.IsKind(err, apperr.KindRateLimited))

	clock.Advance(time.Second)
	second, err := svc.Resend(ctx, testPhone)
	require.NoError(t, err)
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))
	assert.Equal(t, 0, second.Attempts)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, PurposeRegistration, second.Purpose)

	current, err := svc.Current(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
}

func TestResendCooldownIndependentOfValidity(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.Validity = 5 * time.Minute
	cfg.Cooldown = 5 * time.Minute
	svc := NewService(NewMemoryStore(), cfg, WithClock(clock.Now), WithCodeSource(fixedCode("123456")))
	ctx := context.Background()

	_, err := svc.Issue(ctx, testPhone, PurposeRegistration)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	_, err = svc.Resend(ctx, testPhone)
	assert.True(t, errors.Is(err, ErrCooldownActive))
	clock.Advance(3 * time.Minute)
	_, err = svc.Resend(ctx, testPhone)
	assert.NoError(t, err)
}

func TestSendFailureRollsBackChallenge(t *testing.T) {
	clock := newFakeClock()
	sender := &recordingSender{err: errors.New("sms gateway down")}
	svc := newTestService(NewMemoryStore(), clock, WithSender(sender))
	ctx := context.Background()

	_, err := svc.Issue(ctx, testPhone, PurposeRegistration)
	require.Error(t, err)

	_, err = svc.Current(ctx, testPhone)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCheckConsumed(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(NewMemoryStore(), clock)
	ctx := context.Background()

	_, err := svc.Issue(ctx, testPhone, PurposeRegistration)
	require.NoError(t, err)

	_, err = svc.CheckConsumed(ctx, testPhone, "123456", PurposeRegistration)
	assert.True(t, errors.Is(err, ErrNotVerified))

	_, err = svc.Verify(ctx, testPhone, "123456")
	require.NoError(t, err)

	_, err = svc.CheckConsumed(ctx, testPhone, "654321", PurposeRegistration)
	assert.True(t, errors.Is(err, ErrIncorrect))
	_, err = svc.CheckConsumed(ctx, testPhone, "123456", PurposePasswordReset)
	assert.True(t, errors.Is(err, ErrNotVerified))

	_, err = svc.CheckConsumed(ctx, testPhone, "123456", PurposeRegistration)
	require.NoError(t, err)

	clock.Advance(21 * time.Minute)
	_, err = svc.CheckConsumed(ctx, testPhone, "123456", PurposeRegistration)
	assert.True(t, errors.Is(err, ErrExpired))
}

func TestRandomCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := RandomCode(6)
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			require.True(t, r >= '0' && r <= '9')
		}
	}
}

func TestConcurrentVerifyConsumesOnce(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(NewMemoryStore(), clock)
	ctx := context.Background()
	_, err := svc.Issue(ctx, testPhone, PurposeRegistration)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Verify(ctx, testPhone, "123456"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}
