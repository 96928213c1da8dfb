package payment

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/giftbox/internal/domain/money"
	"github.com/xenking/giftbox/internal/domain/order"
	"github.com/xenking/giftbox/internal/domain/persistence"
)

// DefaultTimeout bounds a single gateway call.
const DefaultTimeout = 10 * time.Second

// Options configures an Orchestrator.
type Options struct {
	Timeout        time.Duration
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Orchestrator creates and confirms payment intents.
type Orchestrator struct {
	creds   Credentials
	connect Connector
	store   IntentStore
	timeout time.Duration

	tracer  trace.Tracer
	created metric.Int64Counter
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(creds Credentials, connect Connector, store IntentStore, opts Options) (*Orchestrator, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = tracenoop.NewTracerProvider()
	}
	created, err := opts.MeterProvider.Meter("github.com/xenking/giftbox/internal/domain/payment").
		Int64Counter("giftbox.intents.created",
			metric.WithDescription("Payment intents created at the gateway"),
		)
	if err != nil {
		return nil, errors.Wrap(err, "intents counter")
	}
	return &Orchestrator{
		creds:   creds,
		connect: connect,
		store:   store,
		timeout: opts.Timeout,
		tracer:  opts.TracerProvider.Tracer("github.com/xenking/giftbox/internal/domain/payment"),
		created: created,
	}, nil
}

// CreateIntent creates a gateway intent for charge. Calls with the same key
// return the same intent and never create a second charge: the store is
// checked first, and the key is also passed to the gateway so a retry after
// a lost response is deduplicated there.
func (o *Orchestrator) CreateIntent(ctx context.Context, charge Charge, key string) (*Intent, error) {
	ctx, span := o.tracer.Start(ctx, "payment.CreateIntent")
	defer span.End()

	if key == "" {
		return nil, ErrMissingKey
	}
	amount := money.ToMinor(charge.TotalUSD)
	if amount <= 0 {
		return nil, order.InvalidAmount("amount must be positive")
	}

	gw, err := o.gateway(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := o.store.Get(ctx, key)
	switch {
	case err == nil:
		if existing.AmountMinor != amount {
			return nil, order.InvalidAmount("idempotency key %s was used for a different amount", key)
		}
		span.SetAttributes(attribute.Bool("payment.reused", true))
		return existing, nil
	case !errors.Is(err, persistence.ErrNotFound):
		return nil, errors.Wrap(err, "lookup intent")
	}

	req := IntentRequest{
		AmountMinor:    amount,
		Currency:       strings.ToLower(money.USD),
		IdempotencyKey: key,
		Description:    charge.Description,
		Metadata: map[string]string{
			"order_number": charge.OrderNumber,
			"customer":     charge.CustomerRef,
		},
	}
	created, err := retryOnce(ctx, o.timeout, func(ctx context.Context) (*Intent, error) {
		return gw.CreateIntent(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	stored, err := o.store.Save(ctx, key, created)
	if err != nil {
		// The gateway already deduplicates on key, so a retry is safe.
		return nil, errors.Wrap(err, "save intent")
	}

	o.created.Add(ctx, 1)
	span.SetAttributes(attribute.String("payment.intent_id", stored.ID))
	zctx.From(ctx).Info("Payment intent created",
		zap.String("intent_id", stored.ID),
		zap.String("idempotency_key", key),
		zap.Int64("amount_minor", amount),
	)
	return stored, nil
}

// Confirm fetches the current state of an intent from the gateway.
func (o *Orchestrator) Confirm(ctx context.Context, intentID string) (*Intent, error) {
	ctx, span := o.tracer.Start(ctx, "payment.Confirm")
	defer span.End()

	gw, err := o.gateway(ctx)
	if err != nil {
		return nil, err
	}
	return retryOnce(ctx, o.timeout, func(ctx context.Context) (*Intent, error) {
		return gw.GetIntent(ctx, intentID)
	})
}

// PublishableKey returns the client-side key.
func (o *Orchestrator) PublishableKey(ctx context.Context) (string, error) {
	g, err := o.creds.Gateway(ctx)
	if err != nil {
		return "", errors.Wrap(err, "gateway settings")
	}
	if g.PublishableKey == "" {
		return "", &GatewayError{Kind: KindNotConfigured, Message: "publishable key is not configured"}
	}
	return g.PublishableKey, nil
}

func (o *Orchestrator) gateway(ctx context.Context) (Gateway, error) {
	g, err := o.creds.Gateway(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "gateway settings")
	}
	if !g.Configured() {
		return nil, ErrNotConfigured
	}
	return o.connect(g.SecretKey), nil
}

// retryOnce runs call with a bounded timeout and repeats it once on a
// KindTimeout failure. Rejections are returned as is.
func retryOnce(ctx context.Context, timeout time.Duration, call func(context.Context) (*Intent, error)) (*Intent, error) {
	attempt := func() (*Intent, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return call(ctx)
	}

	in, err := attempt()
	if err == nil || !errors.Is(err, ErrTimeout) || ctx.Err() != nil {
		return in, err
	}
	zctx.From(ctx).Warn("Gateway timeout, retrying", zap.Error(err))
	return attempt()
}
