package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/rewards_auth/internal/account"
	"github.com/congo-pay/rewards_auth/internal/backend"
	"github.com/congo-pay/rewards_auth/internal/middleware"
)

// RouteDeps carries the per-route middlewares.
type RouteDeps struct {
	Limiter     fiber.Handler
	Idempotency fiber.Handler
	Bearer      fiber.Handler
}

// RegisterBackendRoutes wires the authentication and loyalty endpoints.
func RegisterBackendRoutes(r fiber.Router, h *backend.Handler, d RouteDeps) {
	otpGroup := r.Group("/otp")
	otpGroup.Post("/send", d.Limiter, h.SendOTP)
	otpGroup.Post("/resend", d.Limiter, h.ResendOTP)
	otpGroup.Post("/verify", h.VerifyOTP)

	r.Post("/register/complete", d.Idempotency, h.CompleteRegistration)

	r.Post("/auth/login", d.Limiter, h.Login)
	r.Post("/auth/logout", d.Bearer, h.Logout)

	r.Post("/password/forgot", d.Limiter, h.ForgotPassword)
	r.Post("/password/reset", d.Idempotency, h.ResetPassword)

	r.Get("/me", d.Bearer, h.Me)
	r.Post("/points/award", d.Bearer, middleware.RequireRole(account.Role.CanManagePoints), d.Idempotency, h.AwardPoints)
	r.Post("/points/redeem", d.Bearer, d.Idempotency, h.RedeemPoints)
}
