package points

import (
	"context"
	"errors"
	"log/slog"

	"github.com/congo-pay/rewards_auth/internal/metrics"
)

// Service exposes member-level operations over a Ledger.
type Service struct {
	ledger Ledger
	logger *slog.Logger
}

func NewService(ledger Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: ledger, logger: logger}
}

// Open ensures the issuer and the member accounts exist.
func (s *Service) Open(ctx context.Context, userID string) error {
	if err := s.ledger.EnsureAccount(ctx, IssuerAccountCode); err != nil {
		return err
	}
	return s.ledger.EnsureAccount(ctx, MemberAccountCode(userID))
}

// Balance returns a member's points. Members without an account have zero.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	bal, err := s.ledger.Balance(ctx, MemberAccountCode(userID))
	if errors.Is(err, ErrUnknownAccount) {
		return 0, nil
	}
	return bal, err
}

// Award credits amount to the member. Replaying clientTxID returns the
// balance without posting twice.
func (s *Service) Award(ctx context.Context, userID, clientTxID string, amount int64) (int64, error) {
	if err := s.Open(ctx, userID); err != nil {
		return 0, err
	}
	res, err := s.ledger.Transfer(ctx, IssuerAccountCode, MemberAccountCode(userID), KindAward, clientTxID, amount)
	if errors.Is(err, ErrDuplicateTransaction) {
		return res.ToBalance, nil
	}
	if err != nil {
		return 0, err
	}
	metrics.PointsAwarded.Add(float64(amount))
	s.logger.Info("points awarded", slog.String("user_id", userID), slog.Int64("amount", amount), slog.String("tx", res.TransactionID))
	return res.ToBalance, nil
}

// Redeem debits amount from the member.
func (s *Service) Redeem(ctx context.Context, userID, clientTxID string, amount int64) (int64, error) {
	res, err := s.ledger.Transfer(ctx, MemberAccountCode(userID), IssuerAccountCode, KindRedeem, clientTxID, amount)
	if errors.Is(err, ErrDuplicateTransaction) {
		return res.FromBalance, nil
	}
	if err != nil {
		return 0, err
	}
	s.logger.Info("points redeemed", slog.String("user_id", userID), slog.Int64("amount", amount), slog.String("tx", res.TransactionID))
	return res.FromBalance, nil
}
