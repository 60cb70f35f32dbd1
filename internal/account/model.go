package account

import (
	"time"

	"github.com/congo-pay/rewards_auth/internal/apperr"
	"github.com/congo-pay/rewards_auth/internal/phone"
)

// Role is the access level of an account.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// CanManagePoints reports whether the role may credit loyalty points.
func (r Role) CanManagePoints() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// User is a registered customer. The password hash and token version never
// leave the backend: both are excluded from JSON.
type User struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Phone        phone.Number `json:"phone"`
	Role         Role         `json:"role"`
	IsVerified   bool         `json:"is_verified"`
	Points       int64        `json:"points"`
	PasswordHash []byte       `json:"-"`
	TokenVersion int          `json:"-"`
	CreatedAt    time.Time    `json:"created_at"`
	LastLogin    *time.Time   `json:"last_login,omitempty"`
}

// Public strips backend-only fields.
func (u User) Public() User {
	u.PasswordHash = nil
	u.TokenVersion = 0
	return u
}

// RegisterInput carries a verified phone and the completed profile.
type RegisterInput struct {
	// ID is generated when empty.
	ID       string
	Phone    phone.Number
	Name     string
	Password string
}

var (
	ErrNotFound    = apperr.NotFound("account")
	ErrPhoneTaken  = apperr.Conflict("phone_taken", "this phone number is already registered")
	ErrBadLogin    = apperr.Unauthorized("invalid phone number or password")
	ErrNameMissing = apperr.Validation("name", "required", "name is required")
)
