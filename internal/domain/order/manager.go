package order

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/giftbox/internal/domain/money"
	"github.com/xenking/giftbox/internal/domain/persistence"
	"github.com/xenking/giftbox/internal/domain/promo"
)

const createAttempts = 3

// DefaultPaymentMethod is recorded when checkout does not name one.
const DefaultPaymentMethod = "card"

// Redeemer consumes one use of a promo code.
type Redeemer interface {
	Redeem(ctx context.Context, code string) error
}

// Notifier delivers a paid-order notification.
type Notifier interface {
	Notify(ctx context.Context, o *Order) error
}

// CheckoutRequest is a cart plus the customer details needed to place it.
type CheckoutRequest struct {
	PriceRequest
	Customer        Customer
	ShippingAddress Address
	PaymentMethod   string
}

// Confirmation is the gateway's view of a payment, fetched server-side.
type Confirmation struct {
	IntentID    string
	AmountMinor int64
	Currency    string
	Succeeded   bool
}

// Options configures optional Manager collaborators.
type Options struct {
	// Email and Ops are skipped when nil.
	Email Notifier
	Ops   Notifier

	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Manager owns the order lifecycle: creation from a priced draft, payment
// finalization and admin transitions.
type Manager struct {
	orders  Repository
	pricing *Engine
	promos  Redeemer
	email   Notifier
	ops     Notifier

	now       func() time.Time
	newNumber func(time.Time) string

	tracer      trace.Tracer
	created     metric.Int64Counter
	redemptions metric.Int64Counter
}

// NewManager creates a Manager.
func NewManager(orders Repository, pricing *Engine, promos Redeemer, opts Options) (*Manager, error) {
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = tracenoop.NewTracerProvider()
	}
	meter := opts.MeterProvider.Meter("github.com/xenking/giftbox/internal/domain/order")

	created, err := meter.Int64Counter("giftbox.orders.created",
		metric.WithDescription("Orders placed at checkout"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "orders counter")
	}
	redemptions, err := meter.Int64Counter("giftbox.promo.redemptions",
		metric.WithDescription("Promo redemption attempts on paid orders"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "redemptions counter")
	}

	return &Manager{
		orders:      orders,
		pricing:     pricing,
		promos:      promos,
		email:       opts.Email,
		ops:         opts.Ops,
		now:         time.Now,
		newNumber:   NewNumber,
		tracer:      opts.TracerProvider.Tracer("github.com/xenking/giftbox/internal/domain/order"),
		created:     created,
		redemptions: redemptions,
	}, nil
}

// Quote prices a cart without persisting anything.
func (m *Manager) Quote(ctx context.Context, req PriceRequest) (*Draft, error) {
	return m.pricing.Price(ctx, req)
}

// Create prices the cart and stores a pending order with the frozen draft.
func (m *Manager) Create(ctx context.Context, req CheckoutRequest) (*Order, error) {
	ctx, span := m.tracer.Start(ctx, "order.Create")
	defer span.End()

	if err := validateContact(req.Customer, req.ShippingAddress); err != nil {
		return nil, err
	}
	draft, err := m.pricing.Price(ctx, req.PriceRequest)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	o := &Order{
		ID:              uuid.NewString(),
		Customer:        req.Customer,
		ShippingAddress: req.ShippingAddress,
		Items:           make([]Item, len(draft.Items)),
		Currency:        draft.Currency,
		ExchangeRate:    draft.ExchangeRate,
		SubtotalUSD:     draft.SubtotalUSD,
		DiscountUSD:     draft.DiscountUSD,
		TaxUSD:          draft.TaxUSD,
		TotalUSD:        draft.TotalUSD,
		DisplayTotal:    draft.DisplayTotal,
		PromoCode:       draft.PromoCode,
		PaymentMethod:   req.PaymentMethod,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if o.PaymentMethod == "" {
		o.PaymentMethod = DefaultPaymentMethod
	}
	for i, it := range draft.Items {
		it.ID = uuid.NewString()
		o.Items[i] = it
	}

	for attempt := 1; ; attempt++ {
		o.Number = m.newNumber(now)
		err = m.orders.Create(ctx, o)
		if err == nil {
			break
		}
		if !errors.Is(err, persistence.ErrConflict) || attempt == createAttempts {
			return nil, errors.Wrap(err, "create order")
		}
	}

	m.created.Add(ctx, 1, metric.WithAttributes(attribute.String("currency", o.Currency)))
	span.SetAttributes(attribute.String("order.number", o.Number))
	zctx.From(ctx).Info("Order created",
		zap.String("order_number", o.Number),
		zap.String("total_usd", o.TotalUSD.StringFixed(money.MinorUnits)),
	)
	return o, nil
}

// Get returns an order by ID.
func (m *Manager) Get(ctx context.Context, id string) (*Order, error) {
	return m.orders.GetByID(ctx, id)
}

// GetByNumber returns an order by its order number.
func (m *Manager) GetByNumber(ctx context.Context, number string) (*Order, error) {
	return m.orders.GetByNumber(ctx, strings.ToUpper(strings.TrimSpace(number)))
}

// List returns all orders, newest first.
func (m *Manager) List(ctx context.Context) ([]Order, error) {
	return m.orders.List(ctx)
}

// Delete removes an order.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.orders.Delete(ctx, id)
}

// AttachIntent records the gateway intent id on a pending order.
func (m *Manager) AttachIntent(ctx context.Context, o *Order, intentID string) error {
	if o.PaymentReference == intentID {
		return nil
	}
	if o.Status != StatusPending {
		return errors.Wrapf(ErrInvalidTransition, "order %s is %s", o.Number, o.Status)
	}
	if err := m.orders.SetPaymentReference(ctx, o.ID, intentID); err != nil {
		return errors.Wrap(err, "set payment reference")
	}
	o.PaymentReference = intentID
	return nil
}

// Update applies admin corrections and, if status is non-nil, a lifecycle
// transition. Pricing is never touched.
func (m *Manager) Update(ctx context.Context, id string, patch Patch, status *Status) (*Order, error) {
	if patch.Customer != nil || patch.ShippingAddress != nil || patch.PaymentMethod != nil {
		if err := m.orders.Update(ctx, id, patch); err != nil {
			return nil, errors.Wrap(err, "update order")
		}
	}
	if status != nil {
		return m.Transition(ctx, id, *status)
	}
	return m.orders.GetByID(ctx, id)
}

// Transition moves an order to status to. Paid is only reachable through
// Finalize. Repeating the current status is a no-op.
func (m *Manager) Transition(ctx context.Context, id string, to Status) (*Order, error) {
	if !to.Valid() {
		return nil, BadFormat("unknown status %q", to)
	}
	o, err := m.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status == to {
		return o, nil
	}
	if to == StatusPaid || !CanTransition(o.Status, to) {
		return nil, errors.Wrapf(ErrInvalidTransition, "%s -> %s", o.Status, to)
	}
	if err := m.orders.Transition(ctx, id, o.Status, to); err != nil {
		return nil, errors.Wrapf(err, "transition %s -> %s", o.Status, to)
	}
	o.Status = to
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_number", o.Number),
		zap.String("status", string(to)),
	)
	return o, nil
}

// Finalize applies a verified gateway confirmation. The first successful
// call moves the order to paid and decrements stock; every call then
// completes whichever of promo redemption and notifications have not run
// yet, so retries never repeat a finished side effect.
func (m *Manager) Finalize(ctx context.Context, number string, conf Confirmation) (*Order, error) {
	ctx, span := m.tracer.Start(ctx, "order.Finalize")
	defer span.End()

	o, err := m.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.number", o.Number))

	switch o.Status {
	case StatusPending:
		if err := verify(o, conf); err != nil {
			return nil, err
		}
		err := m.orders.MarkPaid(ctx, o.ID, o.Items)
		switch {
		case err == nil:
			o.Status = StatusPaid
			zctx.From(ctx).Info("Order paid", zap.String("order_number", o.Number))
		case errors.Is(err, persistence.ErrConflict):
			// Lost a race with a concurrent finalize or admin change.
			if o, err = m.orders.GetByID(ctx, o.ID); err != nil {
				return nil, err
			}
			if o.Status != StatusPaid && o.Status != StatusFulfilled {
				return nil, errors.Wrapf(ErrInvalidTransition, "order %s is %s", o.Number, o.Status)
			}
		default:
			return nil, err
		}
	case StatusPaid, StatusFulfilled:
		if conf.IntentID != o.PaymentReference {
			return nil, errors.Wrap(ErrPaymentUnverified, "intent does not belong to order")
		}
	default:
		return nil, errors.Wrapf(ErrInvalidTransition, "order %s is %s", o.Number, o.Status)
	}

	if err := m.settle(ctx, o); err != nil {
		return o, err
	}
	return o, nil
}

func verify(o *Order, conf Confirmation) error {
	if o.PaymentReference == "" || conf.IntentID != o.PaymentReference {
		return errors.Wrap(ErrPaymentUnverified, "intent does not belong to order")
	}
	if !conf.Succeeded {
		return errors.Wrap(ErrPaymentUnverified, "payment has not succeeded")
	}
	if want := money.ToMinor(o.TotalUSD); conf.AmountMinor != want {
		return InvalidAmount("paid amount %d does not match order total %d", conf.AmountMinor, want)
	}
	if conf.Currency != "" && !strings.EqualFold(conf.Currency, money.USD) {
		return InvalidAmount("paid currency %s does not match %s", conf.Currency, money.USD)
	}
	return nil
}

func (m *Manager) settle(ctx context.Context, o *Order) error {
	if o.PromoCode != "" {
		if err := m.redeemOnce(ctx, o); err != nil {
			return err
		}
	}
	o.EmailSent = m.notifyOnce(ctx, o, FlagEmailSent, m.email) || o.EmailSent
	o.Notified = m.notifyOnce(ctx, o, FlagNotified, m.ops) || o.Notified
	return nil
}

func (m *Manager) redeemOnce(ctx context.Context, o *Order) error {
	lg := zctx.From(ctx).With(zap.String("order_number", o.Number), zap.String("promo_code", o.PromoCode))

	claimed, err := m.orders.Claim(ctx, o.ID, FlagPromoRedeemed)
	if err != nil {
		return errors.Wrap(err, "claim promo redemption")
	}
	if !claimed {
		return nil
	}

	err = m.promos.Redeem(ctx, o.PromoCode)
	switch {
	case err == nil:
		m.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "redeemed")))
	case errors.Is(err, promo.ErrExhausted):
		// The customer already paid the discounted total; keep the claim so
		// the order is not retried forever.
		m.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "exhausted")))
		lg.Warn("Promo code exhausted after payment")
	default:
		m.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
		if rerr := m.orders.Release(ctx, o.ID, FlagPromoRedeemed); rerr != nil {
			lg.Error("Release promo claim", zap.Error(rerr))
		}
		return errors.Wrap(err, "redeem promo")
	}
	o.PromoRedeemed = true
	return nil
}

// notifyOnce reports whether this call delivered the notification.
func (m *Manager) notifyOnce(ctx context.Context, o *Order, flag Flag, n Notifier) bool {
	if n == nil {
		return false
	}
	lg := zctx.From(ctx).With(zap.String("order_number", o.Number), zap.String("flag", string(flag)))

	claimed, err := m.orders.Claim(ctx, o.ID, flag)
	if err != nil {
		lg.Warn("Claim notification", zap.Error(err))
		return false
	}
	if !claimed {
		return false
	}
	if err := n.Notify(ctx, o); err != nil {
		lg.Warn("Notification failed", zap.Error(err))
		if rerr := m.orders.Release(ctx, o.ID, flag); rerr != nil {
			lg.Error("Release notification claim", zap.Error(rerr))
		}
		return false
	}
	return true
}

func validateContact(c Customer, a Address) error {
	if strings.TrimSpace(c.Name) == "" {
		return BadFormat("customer name is required")
	}
	if _, err := mail.ParseAddress(c.Email); err != nil || !strings.Contains(c.Email, "@") {
		return BadFormat("customer email is invalid")
	}
	if strings.TrimSpace(a.Line1) == "" || strings.TrimSpace(a.City) == "" || strings.TrimSpace(a.Country) == "" {
		return BadFormat("shipping address requires line1, city and country")
	}
	return nil
}
