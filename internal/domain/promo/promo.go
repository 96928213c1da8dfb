package promo

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported discount strategies.
type Kind string

const (
	// KindPercentage takes Value percent off the subtotal (10 means 10%).
	KindPercentage Kind = "percentage"
	// KindFixed takes a fixed USD amount off, capped at the subtotal.
	KindFixed Kind = "fixed"
)

// Reason explains why a code is not applicable.
type Reason string

const (
	ReasonNotFound     Reason = "not_found"
	ReasonExpired      Reason = "expired"
	ReasonExhausted    Reason = "exhausted"
	ReasonBelowMinimum Reason = "below_minimum"
	ReasonDisabled     Reason = "disabled"
)

var (
	// ErrExhausted is returned by Redeem when the code has no uses left.
	ErrExhausted = errors.New("promo code usage limit reached")
	// ErrInvalidRule is returned when an admin submits an inconsistent code.
	ErrInvalidRule = errors.New("invalid promo code")
)

// Code is a promo code with its discount rule and usage state.
type Code struct {
	Code        string
	Kind        Kind
	Value       decimal.Decimal
	MinOrderUSD decimal.Decimal
	ExpiresAt   *time.Time
	// UsageLimit is nil for unlimited codes.
	UsageLimit  *int
	UsageCount  int
	Active      bool
	Description string
	CreatedAt   time.Time
}

// Evaluation is the result of checking a code against a subtotal.
// Evaluating never consumes a use.
type Evaluation struct {
	Code        string
	Applicable  bool
	DiscountUSD decimal.Decimal
	Reason      Reason
}

// Repository persists promo codes. Codes are stored normalized.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Code, error)
	List(ctx context.Context) ([]Code, error)
	Create(ctx context.Context, c *Code) error
	// Update overwrites the rule fields of c. The stored usage count is
	// kept unless setUsage is true, and c.UsageCount is refreshed from it.
	Update(ctx context.Context, c *Code, setUsage bool) error
	Delete(ctx context.Context, code string) error
	// Redeem increments the usage count only while it is below the limit.
	// It returns ErrExhausted when no use is left.
	Redeem(ctx context.Context, code string) error
}

// Normalize returns the canonical form of a code for lookup and storage.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Check validates an admin-supplied code before it is stored.
func Check(c *Code) error {
	if c.Code == "" {
		return errors.Wrap(ErrInvalidRule, "code is required")
	}
	switch c.Kind {
	case KindPercentage:
		if c.Value.GreaterThan(hundred) {
			return errors.Wrap(ErrInvalidRule, "percentage cannot exceed 100")
		}
	case KindFixed:
	default:
		return errors.Wrapf(ErrInvalidRule, "unsupported discount kind %q", c.Kind)
	}
	if !c.Value.IsPositive() {
		return errors.Wrap(ErrInvalidRule, "discount value must be positive")
	}
	if c.MinOrderUSD.IsNegative() {
		return errors.Wrap(ErrInvalidRule, "minimum order cannot be negative")
	}
	if c.UsageCount < 0 {
		return errors.Wrap(ErrInvalidRule, "usage count cannot be negative")
	}
	if c.UsageLimit != nil {
		if *c.UsageLimit < 0 {
			return errors.Wrap(ErrInvalidRule, "usage limit cannot be negative")
		}
		if c.UsageCount > *c.UsageLimit {
			return errors.Wrap(ErrInvalidRule, "usage count exceeds usage limit")
		}
	}
	return nil
}
