package backend

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/rewards_auth/internal/account"
	"github.com/congo-pay/rewards_auth/internal/apperr"
	"github.com/congo-pay/rewards_auth/internal/auth"
	"github.com/congo-pay/rewards_auth/internal/middleware"
	"github.com/congo-pay/rewards_auth/internal/otp"
)

// Handler exposes the backend over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// SessionResponse is returned by login and completed registration.
type SessionResponse struct {
	User      account.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt int64        `json:"expires_at"`
}

func sessionResponse(s auth.Session) SessionResponse {
	return SessionResponse{User: s.User, Token: s.Token, ExpiresAt: s.ExpiresAt}
}

type phoneRequest struct {
	Phone   string      `json:"phone"`
	Purpose otp.Purpose `json:"purpose"`
}

type verifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type resetRequest struct {
	ResetToken string `json:"reset_token"`
	Password   string `json:"password"`
}

// SendOTP handles POST /otp/send.
func (h *Handler) SendOTP(c *fiber.Ctx) error {
	var req phoneRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Malformed(err)
	}
	res, err := h.svc.SendOTP(c.UserContext(), req.Phone, req.Purpose)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(res)
}

// ResendOTP handles POST /otp/resend.
func (h *Handler) ResendOTP(c *fiber.Ctx) error {
	var req phoneRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Malformed(err)
	}
	res, err := h.svc.ResendOTP(c.UserContext(), req.Phone)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(res)
}

// VerifyOTP handles POST /otp/verify.
func (h *Handler) VerifyOTP(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Malformed(err)
	}
	res, err := h.svc.VerifyOTP(c.UserContext(), req.Phone, req.Code)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// CompleteRegistration handles POST /register/complete.
func (h *Handler) CompleteRegistration(c *fiber.Ctx) error {
	var req RegistrationInput
	if err := c.BodyParser(&req); err != nil {
		return apperr.Malformed(err)
	}
	sess, err := h.svc.CompleteRegistration(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(sessionResponse(sess))
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Malformed(err)
	}
	sess, err := h.svc.Login(c.UserContext(), req.Phone, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(sessionResponse(sess))
}

// ForgotPassword handles POST /password/forgot.
func (h *Handler) ForgotPassword(c *fiber.Ctx) error {
	var req phoneRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Malformed(err)
	}
	res, err := h.svc.ForgotPassword(c.UserContext(), req.Phone)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(res)
}

// ResetPassword handles POST /password/reset.
func (h *Handler) ResetPassword(c *fiber.Ctx) error {
	var req resetRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Malformed(err)
	}
	if err := h.svc.ResetPassword(c.UserContext(), req.ResetToken, req.Password); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Logout handles POST /auth/logout.
func (h *Handler) Logout(c *fiber.Ctx) error {
	user, err := middleware.CurrentUser(c)
	if err != nil {
		return err
	}
	if err := h.svc.Logout(c.UserContext(), user.ID); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Me handles GET /me.
func (h *Handler) Me(c *fiber.Ctx) error {
	user, err := middleware.CurrentUser(c)
	if err != nil {
		return err
	}
	profile, err := h.svc.Profile(c.UserContext(), user.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"user": profile})
}

// AwardPoints handles POST /points/award.
func (h *Handler) AwardPoints(c *fiber.Ctx) error {
	actor, err := middleware.CurrentUser(c)
	if err != nil {
		return err
	}
	var req AwardInput
	if err := c.BodyParser(&req); err != nil {
		return apperr.Malformed(err)
	}
	bal, err := h.svc.AwardPoints(c.UserContext(), actor, req)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"user_id": req.UserID, "points": bal})
}

// RedeemPoints handles POST /points/redeem.
func (h *Handler) RedeemPoints(c *fiber.Ctx) error {
	actor, err := middleware.CurrentUser(c)
	if err != nil {
		return err
	}
	var req RedeemInput
	if err := c.BodyParser(&req); err != nil {
		return apperr.Malformed(err)
	}
	bal, err := h.svc.RedeemPoints(c.UserContext(), actor, req)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"user_id": actor.ID, "points": bal})
}
