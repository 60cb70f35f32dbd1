package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/rewards_auth/internal/apperr"
)

// Audit emits one structured log line per request. Expected client errors
// log at info; only unexpected failures log at error.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Duration("duration", time.Since(start)),
		}
		if requestID, _ := c.Locals(RequestIDHeader).(string); requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		if user, ok := c.Locals(LocalUser).(userRef); ok {
			attrs = append(attrs, slog.String("user_id", user.userID()))
		}
		if err != nil {
			kind := apperr.KindOf(err)
			attrs = append(attrs, slog.String("code", string(kind)), slog.Any("error", err))
			if kind == apperr.KindInternal || kind == apperr.KindNetwork {
				logger.Error("request failed", attrs...)
			} else {
				logger.Info("request rejected", attrs...)
			}
			return err
		}

		attrs = append(attrs, slog.Int("status", c.Response().StatusCode()))
		logger.Info("request completed", attrs...)
		return nil
	}
}
