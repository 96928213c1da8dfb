package promo

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/giftbox/internal/domain/money"
)

var hundred = decimal.NewFromInt(100)

// Evaluate checks c against subtotalUSD at now and computes the discount.
// A nil code fails closed with ReasonNotFound.
func Evaluate(c *Code, subtotalUSD decimal.Decimal, now time.Time) Evaluation {
	if c == nil {
		return Evaluation{Reason: ReasonNotFound, DiscountUSD: decimal.Zero}
	}
	ev := Evaluation{Code: c.Code, DiscountUSD: decimal.Zero}

	switch {
	case !c.Active:
		ev.Reason = ReasonNotFound
	case c.ExpiresAt != nil && c.ExpiresAt.Before(now):
		ev.Reason = ReasonExpired
	case c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit:
		ev.Reason = ReasonExhausted
	case subtotalUSD.LessThan(c.MinOrderUSD):
		ev.Reason = ReasonBelowMinimum
	default:
		ev.Applicable = true
		ev.DiscountUSD = discount(c, subtotalUSD)
	}
	return ev
}

func discount(c *Code, subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() {
		return decimal.Zero
	}
	var amount decimal.Decimal
	switch c.Kind {
	case KindPercentage:
		amount = money.Round(subtotal.Mul(c.Value).Div(hundred))
	case KindFixed:
		amount = money.Round(c.Value)
	default:
		return decimal.Zero
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(amount, subtotal)
}
