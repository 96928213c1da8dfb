package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/giftbox/internal/domain/persistence"
)

// Service evaluates and redeems codes backed by a Repository.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a Service backed by the given Repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Evaluate looks up code (case-insensitively) and evaluates it against
// subtotalUSD. Unknown codes are reported as not applicable, not as errors.
func (s *Service) Evaluate(ctx context.Context, code string, subtotalUSD decimal.Decimal) (Evaluation, error) {
	normalized := Normalize(code)
	if normalized == "" {
		return Evaluation{Reason: ReasonNotFound, DiscountUSD: decimal.Zero}, nil
	}

	c, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return Evaluation{Code: normalized, Reason: ReasonNotFound, DiscountUSD: decimal.Zero}, nil
		}
		return Evaluation{}, errors.Wrap(err, "lookup promo code")
	}

	return Evaluate(c, subtotalUSD, s.now().UTC()), nil
}

// Redeem consumes one use of code. It must only be called for paid orders.
func (s *Service) Redeem(ctx context.Context, code string) error {
	if err := s.repo.Redeem(ctx, Normalize(code)); err != nil {
		return errors.Wrapf(err, "redeem %s", Normalize(code))
	}
	return nil
}
