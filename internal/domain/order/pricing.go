package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/giftbox/internal/domain/money"
	"github.com/xenking/giftbox/internal/domain/product"
	"github.com/xenking/giftbox/internal/domain/promo"
)

// MaxLineQuantity bounds a single cart line.
const MaxLineQuantity = 99

// CartItem is a client cart line. Prices are never taken from the client.
type CartItem struct {
	ProductID string
	Quantity  int
}

// PriceRequest is the input of Engine.Price.
type PriceRequest struct {
	Items     []CartItem
	PromoCode string
	Currency  string
	// ExchangeRate converts USD into Currency. Required unless Currency is
	// USD, in which case it is ignored.
	ExchangeRate decimal.Decimal
	Country      string
}

// Draft is an immutable priced cart. Once produced it is the single source
// of truth for payment.
type Draft struct {
	Items        []Item
	SubtotalUSD  decimal.Decimal
	DiscountUSD  decimal.Decimal
	TaxUSD       decimal.Decimal
	TotalUSD     decimal.Decimal
	Currency     string
	ExchangeRate decimal.NullDecimal
	DisplayTotal decimal.NullDecimal

	// PromoCode is set only when a code was applied.
	PromoCode string
	// PromoReason explains why a requested code was not applied.
	PromoReason promo.Reason
}

// TaxPolicy computes tax on the post-discount amount.
type TaxPolicy interface {
	Tax(country string, taxableUSD decimal.Decimal) decimal.Decimal
}

// FlatTax applies the same rate to every destination.
type FlatTax struct {
	Rate decimal.Decimal
}

// Tax implements TaxPolicy.
func (f FlatTax) Tax(_ string, taxableUSD decimal.Decimal) decimal.Decimal {
	return taxableUSD.Mul(f.Rate)
}

// Catalog is the product lookup used for pricing.
type Catalog interface {
	GetByIDs(ctx context.Context, ids []string) ([]product.Product, error)
}

// PromoEvaluator evaluates a code without consuming it.
type PromoEvaluator interface {
	Evaluate(ctx context.Context, code string, subtotalUSD decimal.Decimal) (promo.Evaluation, error)
}

// PromoToggle reports whether the storefront accepts promo codes.
type PromoToggle interface {
	PromoEnabled(ctx context.Context) (bool, error)
}

// Engine prices carts.
type Engine struct {
	catalog Catalog
	promos  PromoEvaluator
	toggle  PromoToggle
	tax     TaxPolicy
	tracer  trace.Tracer
}

// NewEngine creates a pricing Engine. toggle may be nil, in which case
// promo codes are always accepted.
func NewEngine(catalog Catalog, promos PromoEvaluator, toggle PromoToggle, tax TaxPolicy, tracer trace.Tracer) *Engine {
	if tax == nil {
		tax = FlatTax{}
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Engine{
		catalog: catalog,
		promos:  promos,
		toggle:  toggle,
		tax:     tax,
		tracer:  tracer,
	}
}

// Price computes a Draft for req using current catalog prices and stock.
// total = subtotal - discount + tax, and the display total is total converted
// at req.ExchangeRate when the currency is not USD.
func (e *Engine) Price(ctx context.Context, req PriceRequest) (*Draft, error) {
	ctx, span := e.tracer.Start(ctx, "order.Price")
	defer span.End()

	currency, err := money.NormalizeCurrency(req.Currency)
	if err != nil {
		return nil, BadFormat("unsupported currency %q", req.Currency)
	}
	if currency != money.USD && !req.ExchangeRate.IsPositive() {
		return nil, BadFormat("exchange rate is required for %s", currency)
	}

	lines, err := mergeLines(req.Items)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	products, err := e.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	draft := &Draft{
		Items:       make([]Item, 0, len(lines)),
		SubtotalUSD: decimal.Zero,
		DiscountUSD: decimal.Zero,
		Currency:    currency,
	}
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok || !p.Purchasable() {
			return nil, BadFormat("product %s not found", l.ProductID)
		}
		if l.Quantity > p.Stock {
			return nil, OutOfStock(p.ID)
		}
		item := Item{
			ProductID:    p.ID,
			Name:         p.Name,
			UnitPriceUSD: p.PriceUSD,
			Quantity:     l.Quantity,
		}
		draft.Items = append(draft.Items, item)
		draft.SubtotalUSD = draft.SubtotalUSD.Add(item.TotalUSD())
	}
	draft.SubtotalUSD = money.Round(draft.SubtotalUSD)

	if err := e.applyPromo(ctx, draft, req.PromoCode); err != nil {
		return nil, err
	}

	taxable := draft.SubtotalUSD.Sub(draft.DiscountUSD)
	draft.TaxUSD = money.Round(e.tax.Tax(req.Country, taxable))
	draft.TotalUSD = taxable.Add(draft.TaxUSD)

	if currency != money.USD {
		display, err := money.Convert(draft.TotalUSD, req.ExchangeRate)
		if err != nil {
			return nil, BadFormat("%s", err.Error())
		}
		draft.ExchangeRate = decimal.NewNullDecimal(req.ExchangeRate)
		draft.DisplayTotal = decimal.NewNullDecimal(display)
	}

	span.SetAttributes(
		attribute.Int("order.lines", len(draft.Items)),
		attribute.String("order.currency", currency),
		attribute.String("order.total_usd", draft.TotalUSD.StringFixed(money.MinorUnits)),
	)
	return draft, nil
}

func (e *Engine) applyPromo(ctx context.Context, draft *Draft, code string) error {
	if promo.Normalize(code) == "" {
		return nil
	}
	if e.toggle != nil {
		enabled, err := e.toggle.PromoEnabled(ctx)
		if err != nil {
			return errors.Wrap(err, "promo toggle")
		}
		if !enabled {
			draft.PromoReason = promo.ReasonDisabled
			return nil
		}
	}

	ev, err := e.promos.Evaluate(ctx, code, draft.SubtotalUSD)
	if err != nil {
		return errors.Wrap(err, "evaluate promo")
	}
	if !ev.Applicable {
		draft.PromoReason = ev.Reason
		return nil
	}
	draft.PromoCode = ev.Code
	draft.DiscountUSD = ev.DiscountUSD
	return nil
}

// mergeLines validates quantities and folds repeated products into one line,
// keeping first-seen order. Every line and every merged sum stays within
// MaxLineQuantity, so the sum cannot overflow.
func mergeLines(items []CartItem) ([]CartItem, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	out := make([]CartItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		if it.ProductID == "" {
			return nil, BadFormat("productId is required")
		}
		if it.Quantity <= 0 {
			return nil, BadFormat("quantity must be greater than 0 for product %s", it.ProductID)
		}
		if it.Quantity > MaxLineQuantity {
			return nil, BadFormat("quantity for product %s exceeds %d", it.ProductID, MaxLineQuantity)
		}
		i, ok := index[it.ProductID]
		if !ok {
			index[it.ProductID] = len(out)
			out = append(out, it)
			continue
		}
		out[i].Quantity += it.Quantity
		if out[i].Quantity > MaxLineQuantity {
			return nil, BadFormat("quantity for product %s exceeds %d", it.ProductID, MaxLineQuantity)
		}
	}
	return out, nil
}
