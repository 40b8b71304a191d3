package service

import (
	"context"
	"errors"

	"reservas/internal/clock"
	"reservas/internal/database"
	"reservas/internal/metrics"
	"reservas/internal/models"

	"github.com/rs/zerolog"
)

// CodeService fronts the single-use discount code ledger.
type CodeService struct {
	db     *database.DB
	clock  clock.Clock
	logger *zerolog.Logger
}

func NewCodeService(db *database.DB, clk clock.Clock, logger *zerolog.Logger) *CodeService {
	l := logger.With().Str("component", "codes").Logger()
	return &CodeService{db: db, clock: clk, logger: &l}
}

// Verify previews a code for the UI. Confirmation never relies on it.
func (s *CodeService) Verify(ctx context.Context, code, email string) (models.CodeCheck, error) {
	return s.db.VerifyCode(ctx, code, email, s.clock.Now())
}

// Redeem spends a code outside any booking. Confirmation redeems through
// the orchestrator instead, keyed to the hold.
func (s *CodeService) Redeem(ctx context.Context, code, email string) (int64, error) {
	amount, err := s.db.Redeem(ctx, code, email, "", s.clock.Now())
	metrics.IncCodeRedeem(redeemResult(err))
	if err != nil && !models.IsExpected(err) {
		s.logger.Error().Err(err).Str("code", code).Msg("Redeem failed")
	}
	return amount, err
}

// Issue adds a code to the ledger.
func (s *CodeService) Issue(ctx context.Context, c *models.DiscountCode) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.clock.Now()
	}
	return s.db.CreateDiscountCode(ctx, c)
}

func redeemResult(err error) string {
	switch {
	case err == nil:
		return "redeemed"
	case errors.Is(err, models.ErrCodeInvalid):
		return "invalid"
	case errors.Is(err, models.ErrCodeAlreadyUsed):
		return "already_used"
	case errors.Is(err, models.ErrCodeEmailMismatch):
		return "email_mismatch"
	case errors.Is(err, models.ErrCodeExpired):
		return "expired"
	default:
		return "error"
	}
}
