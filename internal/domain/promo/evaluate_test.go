package promo

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func intPtr(v int) *int { return &v }

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name         string
		code         *Code
		subtotal     string
		wantOK       bool
		wantDiscount string
		wantReason   Reason
	}{
		{
			name: "percentage rounds to cents",
			code: &Code{
				Code: "SAVE10", Kind: KindPercentage, Value: d("10"),
				MinOrderUSD: d("10"), UsageLimit: intPtr(5), Active: true, ExpiresAt: &future,
			},
			subtotal:     "59.98",
			wantOK:       true,
			wantDiscount: "6.00",
		},
		{
			name: "percentage with odd cents",
			code: &Code{
				Code: "PCT15", Kind: KindPercentage, Value: d("15"), Active: true,
			},
			// 29.97 * 15% = 4.4955
			subtotal:     "29.97",
			wantOK:       true,
			wantDiscount: "4.50",
		},
		{
			name:         "hundred percent equals subtotal",
			code:         &Code{Code: "FREE", Kind: KindPercentage, Value: d("100"), Active: true},
			subtotal:     "42.10",
			wantOK:       true,
			wantDiscount: "42.10",
		},
		{
			name:         "fixed below subtotal",
			code:         &Code{Code: "FIVE", Kind: KindFixed, Value: d("5"), Active: true},
			subtotal:     "20",
			wantOK:       true,
			wantDiscount: "5",
		},
		{
			name:         "fixed capped at subtotal",
			code:         &Code{Code: "BIG", Kind: KindFixed, Value: d("200"), Active: true},
			subtotal:     "59.98",
			wantOK:       true,
			wantDiscount: "59.98",
		},
		{
			name:       "nil code is not found",
			subtotal:   "10",
			wantReason: ReasonNotFound,
		},
		{
			name:       "inactive code is not found",
			code:       &Code{Code: "OFF", Kind: KindFixed, Value: d("5"), Active: false},
			subtotal:   "10",
			wantReason: ReasonNotFound,
		},
		{
			name:       "expired",
			code:       &Code{Code: "OLD", Kind: KindFixed, Value: d("5"), Active: true, ExpiresAt: &past},
			subtotal:   "10",
			wantReason: ReasonExpired,
		},
		{
			name:         "expiry exactly now is still valid",
			code:         &Code{Code: "EDGE", Kind: KindFixed, Value: d("5"), Active: true, ExpiresAt: &now},
			subtotal:     "10",
			wantOK:       true,
			wantDiscount: "5",
		},
		{
			name: "usage count equals limit",
			code: &Code{
				Code: "DONE", Kind: KindPercentage, Value: d("10"), Active: true,
				UsageLimit: intPtr(5), UsageCount: 5,
			},
			subtotal:   "100",
			wantReason: ReasonExhausted,
		},
		{
			name: "zero limit is exhausted",
			code: &Code{
				Code: "ZERO", Kind: KindPercentage, Value: d("10"), Active: true,
				UsageLimit: intPtr(0),
			},
			subtotal:   "100",
			wantReason: ReasonExhausted,
		},
		{
			name: "unlimited ignores usage count",
			code: &Code{
				Code: "ALWAYS", Kind: KindFixed, Value: d("1"), Active: true, UsageCount: 100000,
			},
			subtotal:     "10",
			wantOK:       true,
			wantDiscount: "1",
		},
		{
			name: "below minimum",
			code: &Code{
				Code: "MIN50", Kind: KindFixed, Value: d("5"), Active: true, MinOrderUSD: d("50"),
			},
			subtotal:   "49.99",
			wantReason: ReasonBelowMinimum,
		},
		{
			name: "minimum is inclusive",
			code: &Code{
				Code: "MIN50", Kind: KindFixed, Value: d("5"), Active: true, MinOrderUSD: d("50"),
			},
			subtotal:     "50.00",
			wantOK:       true,
			wantDiscount: "5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.code, d(tt.subtotal), now)

			assert.Equal(t, tt.wantOK, got.Applicable)
			if !tt.wantOK {
				assert.Equal(t, tt.wantReason, got.Reason)
				assert.True(t, got.DiscountUSD.IsZero())
				return
			}
			assert.Empty(t, got.Reason)
			assert.True(t, d(tt.wantDiscount).Equal(got.DiscountUSD),
				"expected discount %s, got %s", tt.wantDiscount, got.DiscountUSD)
			assert.False(t, got.DiscountUSD.GreaterThan(d(tt.subtotal)))
		})
	}
}

func TestCheck(t *testing.T) {
	valid := func() *Code {
		return &Code{Code: "OK", Kind: KindPercentage, Value: d("10"), Active: true}
	}

	assert.NoError(t, Check(valid()))

	tests := []struct {
		name   string
		mutate func(c *Code)
	}{
		{"empty code", func(c *Code) { c.Code = "" }},
		{"unknown kind", func(c *Code) { c.Kind = "bogus" }},
		{"zero value", func(c *Code) { c.Value = decimal.Zero }},
		{"over hundred percent", func(c *Code) { c.Value = d("100.01") }},
		{"negative minimum", func(c *Code) { c.MinOrderUSD = d("-1") }},
		{"count above limit", func(c *Code) { c.UsageLimit = intPtr(2); c.UsageCount = 3 }},
		{"negative limit", func(c *Code) { c.UsageLimit = intPtr(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.ErrorIs(t, Check(c), ErrInvalidRule)
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "SAVE10", Normalize("  save10 "))
	assert.Equal(t, "", Normalize("   "))
}
