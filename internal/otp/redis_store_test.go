package otp

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, 15*time.Minute), mr
}

func TestRedisStoreLifecycle(t *testing.T) {
	store, mr := newRedisStore(t)
	clock := newFakeClock()
	svc := newTestService(store, clock)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testPhone, PurposeRegistration)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, mr.TTL(challengeKeyPrefix+string(testPhone)))

	c, err := svc.Verify(ctx, testPhone, "000000")
	require.True(t, errors.Is(err, ErrIncorrect))
	assert.Equal(t, 1, c.Attempts)

	stored, err := store.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, issued.ID, stored.ID)
	assert.Equal(t, 1, stored.Attempts)
	assert.True(t, stored.ExpiresAt.Equal(issued.ExpiresAt))

	_, err = svc.Verify(ctx, testPhone, "123456")
	require.NoError(t, err)
	_, err = svc.Verify(ctx, testPhone, "123456")
	assert.True(t, errors.Is(err, ErrAlreadyConsumed))
}

func TestRedisStoreKeyExpiryReadsAsNotFound(t *testing.T) {
	store, mr := newRedisStore(t)
	svc := newTestService(store, newFakeClock())
	ctx := context.Background()

	_, err := svc.Issue(ctx, testPhone, PurposeRegistration)
	require.NoError(t, err)

	mr.FastForward(21 * time.Minute)
	_, err = svc.Verify(ctx, testPhone, "123456")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedisStoreDeleteOnlyMatchingID(t *testing.T) {
	store, _ := newRedisStore(t)
	svc := newTestService(store, newFakeClock())
	ctx := context.Background()

	c, err := svc.Issue(ctx, testPhone, PurposeRegistration)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, testPhone, "someone-else"))
	_, err = store.Get(ctx, testPhone)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, testPhone, c.ID))
	_, err = store.Get(ctx, testPhone)
	assert.True(t, errors.Is(err, ErrNotFound))
}
