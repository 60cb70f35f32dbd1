package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/rewards_auth/internal/phone"
)

const (
	challengeKeyPrefix = "otp:challenge:"
	maxWatchRetries    = 5
)

// RedisStore keeps challenges as JSON under otp:challenge:<phone>. Keys live for
// the validity window plus a retention period so consumed challenges keep
// answering "already consumed" and can back registration completion.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore builds a Redis-backed challenge store.
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, retention: retention}
}

func (s *RedisStore) key(p phone.Number) string {
	return challengeKeyPrefix + p.String()
}

func (s *RedisStore) Get(ctx context.Context, p phone.Number) (Challenge, error) {
	raw, err := s.client.Get(ctx, s.key(p)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Challenge{}, ErrNotFound
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("otp get: %w", err)
	}
	var c Challenge
	if err := json.Unmarshal(raw, &c); err != nil {
		return Challenge{}, fmt.Errorf("otp decode: %w", err)
	}
	return c, nil
}

// Mutate uses WATCH/MULTI so concurrent verifications of one phone cannot lose attempts.
func (s *RedisStore) Mutate(ctx context.Context, p phone.Number, fn func(cur *Challenge) (*Challenge, error)) error {
	key := s.key(p)
	var fnErr error

	txf := func(tx *redis.Tx) error {
		fnErr = nil
		var cur *Challenge
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("otp get: %w", err)
		default:
			var c Challenge
			if err := json.Unmarshal(raw, &c); err != nil {
				return fmt.Errorf("otp decode: %w", err)
			}
			cur = &c
		}

		next, err := fn(cur)
		fnErr = err
		if next == nil {
			return nil
		}

		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("otp encode: %w", err)
		}
		ttl := next.ExpiresAt.Sub(next.IssuedAt) + s.retention
		if cur != nil && cur.ID == next.ID {
			ttl = redis.KeepTTL
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		return fnErr
	}
	return ErrContention
}

func (s *RedisStore) Delete(ctx context.Context, p phone.Number, id string) error {
	key := s.key(p)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var c Challenge
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("otp decode: %w", err)
		}
		if c.ID != id {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
}
