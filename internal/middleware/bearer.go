package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/rewards_auth/internal/account"
	"github.com/congo-pay/rewards_auth/internal/apperr"
)

// LocalUser is the fiber.Locals key holding the authenticated account.User.
const LocalUser = "user"

// Authorizer resolves a bearer token to an account.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (account.User, error)
}

type userRef interface{ userID() string }

type authedUser struct{ account.User }

func (u authedUser) userID() string { return u.ID }

// Bearer rejects requests without a valid, unrevoked access token.
func Bearer(authz Authorizer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
			return apperr.Unauthorized("missing bearer token")
		}
		user, err := authz.Authorize(c.UserContext(), strings.TrimSpace(header[7:]))
		if err != nil {
			return err
		}
		c.Locals(LocalUser, authedUser{user})
		return c.Next()
	}
}

// CurrentUser returns the account stored by Bearer.
func CurrentUser(c *fiber.Ctx) (account.User, error) {
	u, ok := c.Locals(LocalUser).(authedUser)
	if !ok {
		return account.User{}, apperr.Unauthorized("missing session")
	}
	return u.User, nil
}

// RequireRole allows only accounts whose role passes allowed.
func RequireRole(allowed func(account.Role) bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := CurrentUser(c)
		if err != nil {
			return err
		}
		if !allowed(user.Role) {
			return apperr.Forbidden("insufficient role")
		}
		return c.Next()
	}
}
