package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/rewards_auth/internal/apperr"
	"github.com/congo-pay/rewards_auth/internal/phone"
)

const resetTokenPrefix = "auth:reset_token:"

// ErrResetTokenInvalid is returned for unknown, expired or already used reset tokens.
var ErrResetTokenInvalid = apperr.New(apperr.KindExpired, "reset_token_invalid", "reset link is invalid or expired")

// ResetTokens hands out single-use tokens proving a verified password-reset code.
type ResetTokens interface {
	Issue(ctx context.Context, p phone.Number) (string, error)
	Consume(ctx context.Context, token string) (phone.Number, error)
}

// RedisResetTokens keeps tokens in Redis with a TTL.
type RedisResetTokens struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisResetTokens(client *redis.Client, ttl time.Duration) *RedisResetTokens {
	return &RedisResetTokens{client: client, ttl: ttl}
}

func (r *RedisResetTokens) Issue(ctx context.Context, p phone.Number) (string, error) {
	token := uuid.NewString()
	if err := r.client.Set(ctx, resetTokenPrefix+token, p.String(), r.ttl).Err(); err != nil {
		return "", fmt.Errorf("reset token set: %w", err)
	}
	return token, nil
}

// Consume returns the phone bound to token and deletes it in the same command.
func (r *RedisResetTokens) Consume(ctx context.Context, token string) (phone.Number, error) {
	if token == "" {
		return "", ErrResetTokenInvalid
	}
	v, err := r.client.GetDel(ctx, resetTokenPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrResetTokenInvalid
	}
	if err != nil {
		return "", fmt.Errorf("reset token consume: %w", err)
	}
	return phone.Number(v), nil
}

type resetEntry struct {
	phone   phone.Number
	expires time.Time
}

type memoryResetTokens struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	tokens map[string]resetEntry
}

// NewMemoryResetTokens keeps tokens in process for development and tests.
func NewMemoryResetTokens(ttl time.Duration, now func() time.Time) ResetTokens {
	if now == nil {
		now = time.Now
	}
	return &memoryResetTokens{ttl: ttl, now: now, tokens: make(map[string]resetEntry)}
}

func (m *memoryResetTokens) Issue(_ context.Context, p phone.Number) (string, error) {
	token := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = resetEntry{phone: p, expires: m.now().Add(m.ttl)}
	return token, nil
}

func (m *memoryResetTokens) Consume(_ context.Context, token string) (phone.Number, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tokens[token]
	if !ok {
		return "", ErrResetTokenInvalid
	}
	delete(m.tokens, token)
	if m.now().After(e.expires) {
		return "", ErrResetTokenInvalid
	}
	return e.phone, nil
}
