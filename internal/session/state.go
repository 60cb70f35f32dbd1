package session

import (
	"time"

	"github.com/congo-pay/rewards_auth/internal/phone"
)

// User mirrors the backend account. The client never edits it locally.
type User struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Phone      phone.Number `json:"phone"`
	Role       string       `json:"role"`
	IsVerified bool         `json:"is_verified"`
	Points     int64        `json:"points"`
	CreatedAt  time.Time    `json:"created_at"`
}

// State is a point-in-time copy of the store. The first group of fields is
// persisted; the second is transient and starts empty on every process.
type State struct {
	User          *User
	Token         string
	Authenticated bool
	IssuedAt      time.Time
	ChallengeID   string
	OTPSent       bool
	PendingPhone  phone.Number
	OTPExpiresAt  time.Time

	Loading           bool
	Err               error
	ResetToken        string
	ResettingPassword bool
}

// Record is the durable layout written under a single key. It has no room
// for transient fields.
type Record struct {
	User          *User        `json:"user"`
	Token         string       `json:"token"`
	Authenticated bool         `json:"authenticated"`
	IssuedAt      time.Time    `json:"issued_at"`
	ChallengeID   string       `json:"challenge_id,omitempty"`
	OTPSent       bool         `json:"otp_sent"`
	PendingPhone  phone.Number `json:"pending_phone,omitempty"`
	OTPExpiresAt  time.Time    `json:"otp_expires_at"`
}

func (s State) record() Record {
	return Record{
		User:          s.User,
		Token:         s.Token,
		Authenticated: s.Authenticated,
		IssuedAt:      s.IssuedAt,
		ChallengeID:   s.ChallengeID,
		OTPSent:       s.OTPSent,
		PendingPhone:  s.PendingPhone,
		OTPExpiresAt:  s.OTPExpiresAt,
	}
}

func fromRecord(r Record) State {
	st := State{
		User:          r.User,
		Token:         r.Token,
		Authenticated: r.Authenticated,
		IssuedAt:      r.IssuedAt,
		ChallengeID:   r.ChallengeID,
		OTPSent:       r.OTPSent,
		PendingPhone:  r.PendingPhone,
		OTPExpiresAt:  r.OTPExpiresAt,
	}
	if !st.OTPSent || st.PendingPhone == "" {
		clearOTP(&st)
	}
	// A half-written identity is never trusted.
	if st.User == nil || st.Token == "" || !st.Authenticated {
		st.User, st.Token, st.Authenticated, st.IssuedAt = nil, "", false, time.Time{}
	}
	return st
}

// Mutation names a committed change, delivered to subscribers.
type Mutation string

const (
	MutationHydrate      Mutation = "hydrate"
	MutationLogin        Mutation = "login"
	MutationLogout       Mutation = "logout"
	MutationUnauthorized Mutation = "unauthorized"
	MutationUser         Mutation = "user"
	MutationOTPPending   Mutation = "otp_pending"
	MutationOTPCleared   Mutation = "otp_cleared"
	MutationLoading      Mutation = "loading"
	MutationError        Mutation = "error"
	MutationReset        Mutation = "password_reset"
	MutationTeardown     Mutation = "teardown"
)
