package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/rewards_auth/internal/apperr"
)

// ErrorHandler renders every error as the apperr JSON envelope.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		ae := apperr.As(err)
		if ae == nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				ae = fromFiber(fe)
			} else {
				logger.Error("unhandled error", slog.String("path", c.Path()), slog.Any("error", err))
				ae = apperr.Internal(err)
			}
		}
		if ae.RetryAfter > 0 {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(ae.ToBody().RetryAfter))
		}
		return c.Status(ae.HTTPStatus()).JSON(ae.ToBody())
	}
}

func fromFiber(fe *fiber.Error) *apperr.Error {
	switch fe.Code {
	case http.StatusNotFound:
		return apperr.New(apperr.KindNotFound, "route_not_found", fe.Message)
	case http.StatusMethodNotAllowed:
		return apperr.New(apperr.KindNotFound, "method_not_allowed", fe.Message)
	case http.StatusUnauthorized:
		return apperr.Unauthorized(fe.Message)
	case http.StatusTooManyRequests:
		return apperr.New(apperr.KindRateLimited, "rate_limited", fe.Message)
	case http.StatusRequestEntityTooLarge, http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperr.Validation("", "bad_request", fe.Message)
	}
	if fe.Code >= http.StatusInternalServerError {
		return apperr.Internal(fe)
	}
	return apperr.New(apperr.KindValidation, "bad_request", fe.Message)
}
