package points

import (
	"context"

	"github.com/congo-pay/rewards_auth/internal/apperr"
)

var (
	// ErrInsufficientPoints occurs when a redemption exceeds the member balance.
	ErrInsufficientPoints = apperr.Conflict("insufficient_points", "not enough points")

	// ErrDuplicateTransaction indicates the client transaction identifier was
	// already posted; the accompanying result describes the original posting.
	ErrDuplicateTransaction = apperr.Conflict("duplicate_transaction", "transaction already recorded")

	// ErrInvalidAmount rejects zero or negative postings.
	ErrInvalidAmount = apperr.Validation("amount", "not_positive", "amount must be positive")

	// ErrUnknownAccount is returned for postings against an account that was never opened.
	ErrUnknownAccount = apperr.NotFound("points account")
)

const (
	// IssuerAccountCode is the programme account that funds awards. It is the
	// only account allowed to go negative.
	IssuerAccountCode = "points:issuer"

	KindAward  = "award"
	KindRedeem = "redeem"
)

// MemberAccountCode is the ledger account of a user.
func MemberAccountCode(userID string) string {
	return "points:member:" + userID
}

// TransactionResult captures the outcome of a ledger posting.
type TransactionResult struct {
	TransactionID string
	FromBalance   int64
	ToBalance     int64
}

// Ledger is a double-entry points ledger with idempotent postings keyed by
// kind and client transaction id.
type Ledger interface {
	EnsureAccount(ctx context.Context, code string) error
	Balance(ctx context.Context, code string) (int64, error)
	Transfer(ctx context.Context, fromCode, toCode, kind, clientTxID string, amount int64) (TransactionResult, error)
}
