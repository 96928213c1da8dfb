package order

import (
	"context"
	"math"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/giftbox/internal/domain/product"
	"github.com/xenking/giftbox/internal/domain/promo"
)

// --- Mock implementations ---

type mockCatalog struct {
	byID map[string]product.Product
	err  error
}

func newCatalog(products ...product.Product) *mockCatalog {
	m := &mockCatalog{byID: make(map[string]product.Product, len(products))}
	for _, p := range products {
		m.byID[p.ID] = p
	}
	return m
}

func (m *mockCatalog) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockPromos struct {
	codes map[string]*promo.Code
	err   error
}

func (m *mockPromos) Evaluate(_ context.Context, code string, subtotal decimal.Decimal) (promo.Evaluation, error) {
	if m.err != nil {
		return promo.Evaluation{}, m.err
	}
	c, ok := m.codes[promo.Normalize(code)]
	if !ok {
		return promo.Evaluation{Code: promo.Normalize(code), Reason: promo.ReasonNotFound}, nil
	}
	return promo.Evaluate(c, subtotal, testNow), nil
}

type toggle bool

func (t toggle) PromoEnabled(context.Context) (bool, error) { return bool(t), nil }

// --- Helpers ---

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func intPtr(v int) *int { return &v }

func giftBox(stock int) product.Product {
	return product.Product{ID: "box", Name: "Gift Box", PriceUSD: d("29.99"), Stock: stock, Status: product.StatusActive}
}

func card() product.Product {
	return product.Product{ID: "card", Name: "Card", PriceUSD: d("4.99"), Stock: 100, Status: product.StatusActive}
}

func save10() *promo.Code {
	return &promo.Code{
		Code:        "SAVE10",
		Kind:        promo.KindPercentage,
		Value:       d("10"),
		MinOrderUSD: d("10"),
		UsageLimit:  intPtr(5),
		Active:      true,
	}
}

func newTestEngine(catalog Catalog, tax TaxPolicy, codes ...*promo.Code) *Engine {
	p := &mockPromos{codes: map[string]*promo.Code{}}
	for _, c := range codes {
		p.codes[c.Code] = c
	}
	return NewEngine(catalog, p, toggle(true), tax, nil)
}

// --- Tests ---

func TestPrice_Save10Scenario(t *testing.T) {
	e := newTestEngine(newCatalog(giftBox(10)), FlatTax{Rate: decimal.Zero}, save10())

	draft, err := e.Price(context.Background(), PriceRequest{
		Items:     []CartItem{{ProductID: "box", Quantity: 2}},
		PromoCode: "save10",
		Currency:  "USD",
	})
	require.NoError(t, err)

	assert.Equal(t, "59.98", draft.SubtotalUSD.StringFixed(2))
	assert.Equal(t, "6.00", draft.DiscountUSD.StringFixed(2))
	assert.Equal(t, "0.00", draft.TaxUSD.StringFixed(2))
	assert.Equal(t, "53.98", draft.TotalUSD.StringFixed(2))
	assert.Equal(t, "SAVE10", draft.PromoCode)
	assert.False(t, draft.DisplayTotal.Valid)
	assert.False(t, draft.ExchangeRate.Valid)
}

func TestPrice(t *testing.T) {
	tests := []struct {
		name         string
		catalog      *mockCatalog
		tax          TaxPolicy
		req          PriceRequest
		wantSubtotal string
		wantDiscount string
		wantTax      string
		wantTotal    string
		wantDisplay  string
		wantReason   promo.Reason
	}{
		{
			name:         "single item no promo",
			catalog:      newCatalog(giftBox(5)),
			req:          PriceRequest{Items: []CartItem{{ProductID: "box", Quantity: 1}}},
			wantSubtotal: "29.99", wantDiscount: "0.00", wantTax: "0.00", wantTotal: "29.99",
		},
		{
			name:         "tax applied after discount",
			catalog:      newCatalog(giftBox(5)),
			tax:          FlatTax{Rate: d("0.08")},
			req:          PriceRequest{Items: []CartItem{{ProductID: "box", Quantity: 2}}, PromoCode: "SAVE10"},
			wantSubtotal: "59.98", wantDiscount: "6.00", wantTax: "4.32", wantTotal: "58.30",
		},
		{
			name:    "converted display total",
			catalog: newCatalog(giftBox(5), card()),
			req: PriceRequest{
				Items:        []CartItem{{ProductID: "box", Quantity: 1}, {ProductID: "card", Quantity: 1}},
				Currency:     "eur",
				ExchangeRate: d("0.9234"),
			},
			wantSubtotal: "34.98", wantDiscount: "0.00", wantTax: "0.00", wantTotal: "34.98", wantDisplay: "32.30",
		},
		{
			name:         "repeated lines merged",
			catalog:      newCatalog(giftBox(5)),
			req:          PriceRequest{Items: []CartItem{{ProductID: "box", Quantity: 1}, {ProductID: "box", Quantity: 2}}},
			wantSubtotal: "89.97", wantDiscount: "0.00", wantTax: "0.00", wantTotal: "89.97",
		},
		{
			name:         "unknown promo priced without discount",
			catalog:      newCatalog(giftBox(5)),
			req:          PriceRequest{Items: []CartItem{{ProductID: "box", Quantity: 1}}, PromoCode: "NOPE"},
			wantSubtotal: "29.99", wantDiscount: "0.00", wantTax: "0.00", wantTotal: "29.99",
			wantReason: promo.ReasonNotFound,
		},
		{
			name:         "below promo minimum",
			catalog:      newCatalog(card()),
			req:          PriceRequest{Items: []CartItem{{ProductID: "card", Quantity: 1}}, PromoCode: "SAVE10"},
			wantSubtotal: "4.99", wantDiscount: "0.00", wantTax: "0.00", wantTotal: "4.99",
			wantReason: promo.ReasonBelowMinimum,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(tt.catalog, tt.tax, save10())
			draft, err := e.Price(context.Background(), tt.req)
			require.NoError(t, err)

			assert.Equal(t, tt.wantSubtotal, draft.SubtotalUSD.StringFixed(2))
			assert.Equal(t, tt.wantDiscount, draft.DiscountUSD.StringFixed(2))
			assert.Equal(t, tt.wantTax, draft.TaxUSD.StringFixed(2))
			assert.Equal(t, tt.wantTotal, draft.TotalUSD.StringFixed(2))
			assert.True(t, draft.TotalUSD.Equal(draft.SubtotalUSD.Sub(draft.DiscountUSD).Add(draft.TaxUSD)))
			assert.Equal(t, tt.wantReason, draft.PromoReason)
			if tt.wantDisplay != "" {
				require.True(t, draft.DisplayTotal.Valid)
				assert.Equal(t, tt.wantDisplay, draft.DisplayTotal.Decimal.StringFixed(2))
			}

			sum := decimal.Zero
			for _, it := range draft.Items {
				sum = sum.Add(it.TotalUSD())
			}
			assert.True(t, sum.Equal(draft.SubtotalUSD))
		})
	}
}

func TestPrice_ValidationErrors(t *testing.T) {
	hidden := giftBox(5)
	hidden.Status = product.StatusHidden

	tests := []struct {
		name    string
		catalog *mockCatalog
		req     PriceRequest
		want    error
	}{
		{name: "empty cart", catalog: newCatalog(), req: PriceRequest{}, want: ErrEmptyCart},
		{name: "zero quantity", catalog: newCatalog(giftBox(5)), req: PriceRequest{Items: []CartItem{{ProductID: "box"}}}, want: ErrBadFormat},
		{name: "negative quantity", catalog: newCatalog(giftBox(5)), req: PriceRequest{Items: []CartItem{{ProductID: "box", Quantity: -1}}}, want: ErrBadFormat},
		{name: "unknown product", catalog: newCatalog(), req: PriceRequest{Items: []CartItem{{ProductID: "ghost", Quantity: 1}}}, want: ErrBadFormat},
		{name: "hidden product", catalog: newCatalog(hidden), req: PriceRequest{Items: []CartItem{{ProductID: "box", Quantity: 1}}}, want: ErrBadFormat},
		{name: "over stock", catalog: newCatalog(giftBox(1)), req: PriceRequest{Items: []CartItem{{ProductID: "box", Quantity: 2}}}, want: ErrOutOfStock},
		{name: "merged lines over stock", catalog: newCatalog(giftBox(2)), req: PriceRequest{Items: []CartItem{{ProductID: "box", Quantity: 2}, {ProductID: "box", Quantity: 1}}}, want: ErrOutOfStock},
		{name: "line over limit", catalog: newCatalog(giftBox(500)), req: PriceRequest{Items: []CartItem{{ProductID: "box", Quantity: MaxLineQuantity + 1}}}, want: ErrBadFormat},
		{name: "merged lines over limit", catalog: newCatalog(giftBox(500)), req: PriceRequest{Items: []CartItem{{ProductID: "box", Quantity: 60}, {ProductID: "box", Quantity: 60}}}, want: ErrBadFormat},
		{name: "overflowing merge", catalog: newCatalog(giftBox(500)), req: PriceRequest{Items: []CartItem{{ProductID: "box", Quantity: math.MaxInt}, {ProductID: "box", Quantity: math.MaxInt}}}, want: ErrBadFormat},
		{name: "missing rate", catalog: newCatalog(giftBox(5)), req: PriceRequest{Items: []CartItem{{ProductID: "box", Quantity: 1}}, Currency: "GBP"}, want: ErrBadFormat},
		{name: "unsupported currency", catalog: newCatalog(giftBox(5)), req: PriceRequest{Items: []CartItem{{ProductID: "box", Quantity: 1}}, Currency: "XYZ", ExchangeRate: d("1")}, want: ErrBadFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(tt.catalog, nil)
			_, err := e.Price(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.want)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.NotEmpty(t, ve.Message)
		})
	}
}

func TestPrice_OutOfStockNamesProduct(t *testing.T) {
	e := newTestEngine(newCatalog(giftBox(0)), nil)
	_, err := e.Price(context.Background(), PriceRequest{Items: []CartItem{{ProductID: "box", Quantity: 1}}})

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ReasonOutOfStock, ve.Reason)
	assert.Equal(t, "box", ve.ProductID)
}

func TestPrice_PromoDisabled(t *testing.T) {
	p := &mockPromos{codes: map[string]*promo.Code{"SAVE10": save10()}}
	e := NewEngine(newCatalog(giftBox(5)), p, toggle(false), nil, nil)

	draft, err := e.Price(context.Background(), PriceRequest{
		Items:     []CartItem{{ProductID: "box", Quantity: 2}},
		PromoCode: "SAVE10",
	})
	require.NoError(t, err)
	assert.Equal(t, promo.ReasonDisabled, draft.PromoReason)
	assert.True(t, draft.DiscountUSD.IsZero())
	assert.Empty(t, draft.PromoCode)
}

func TestPrice_StoreErrorsPropagate(t *testing.T) {
	cat := newCatalog(giftBox(5))
	cat.err = assert.AnError
	e := newTestEngine(cat, nil)
	_, err := e.Price(context.Background(), PriceRequest{Items: []CartItem{{ProductID: "box", Quantity: 1}}})
	require.ErrorIs(t, err, assert.AnError)

	p := &mockPromos{err: assert.AnError}
	e = NewEngine(newCatalog(giftBox(5)), p, nil, nil, nil)
	_, err = e.Price(context.Background(), PriceRequest{Items: []CartItem{{ProductID: "box", Quantity: 1}}, PromoCode: "X"})
	require.ErrorIs(t, err, assert.AnError)
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusPending, StatusPaid},
		{StatusPending, StatusCanceled},
		{StatusPaid, StatusFulfilled},
		{StatusPaid, StatusRefunded},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	all := []Status{StatusPending, StatusPaid, StatusFulfilled, StatusCanceled, StatusRefunded}
	for _, to := range all {
		assert.False(t, CanTransition(StatusCanceled, to))
		assert.False(t, CanTransition(StatusFulfilled, to))
	}
	assert.False(t, CanTransition(StatusPending, StatusFulfilled))
	assert.True(t, StatusCanceled.Terminal())
	assert.True(t, StatusFulfilled.Terminal())
	assert.False(t, StatusPaid.Terminal())
}

func TestNewNumber(t *testing.T) {
	n := NewNumber(testNow)
	assert.Regexp(t, `^GB-20260510-[0-9A-HJKMNP-TV-Z]{6}$`, n)

	seen := make(map[string]struct{}, 1000)
	for range 1000 {
		seen[NewNumber(testNow)] = struct{}{}
	}
	assert.Greater(t, len(seen), 990)
}
