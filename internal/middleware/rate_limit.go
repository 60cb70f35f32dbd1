package middleware

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/congo-pay/rewards_auth/internal/apperr"
	"github.com/congo-pay/rewards_auth/internal/phone"
)

var errTooManyAttempts = apperr.New(apperr.KindRateLimited, "too_many_attempts", "too many attempts, try again later")

// PhoneRateLimit caps requests per phone number (or client IP when the body
// carries no phone) at maxPerMin. With Redis the window is a fixed minute
// shared by all instances; without it each process keeps token buckets.
// Phones are keyed in their normalized form so local and international
// spellings share one budget. Cache errors fail open.
func PhoneRateLimit(cache *redis.Client, phones *phone.Validator, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	if phones == nil {
		phones = phone.NewValidator("")
	}
	local := newLocalLimiter(maxPerMin)
	return func(c *fiber.Ctx) error {
		subject := rateSubject(c, phones)
		if cache == nil {
			if !local.allow(subject) {
				return errTooManyAttempts.WithRetryAfter(time.Minute / time.Duration(maxPerMin))
			}
			return c.Next()
		}

		key := "rl:" + c.Path() + ":" + subject
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			logger.Warn("rate limit unavailable", slog.Any("error", err))
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			wait := time.Minute
			if ttl, err := cache.TTL(c.UserContext(), key).Result(); err == nil && ttl > 0 {
				wait = ttl
			}
			return errTooManyAttempts.WithRetryAfter(wait)
		}
		return c.Next()
	}
}

func rateSubject(c *fiber.Ctx, phones *phone.Validator) string {
	var req struct {
		Phone string `json:"phone"`
	}
	_ = c.BodyParser(&req)
	if p, err := phones.Normalize(req.Phone); err == nil {
		return p.String()
	}
	if raw := strings.TrimSpace(req.Phone); raw != "" {
		return raw
	}
	return c.IP()
}

type localLimiter struct {
	mu       sync.Mutex
	perMin   int
	limiters map[string]*rate.Limiter
}

func newLocalLimiter(perMin int) *localLimiter {
	return &localLimiter{perMin: perMin, limiters: make(map[string]*rate.Limiter)}
}

func (l *localLimiter) allow(subject string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[subject]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)
		l.limiters[subject] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
