// Package gateway adapts the Stripe API to payment.Gateway.
package gateway

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/giftbox/internal/domain/payment"
)

var _ payment.Gateway = (*Stripe)(nil)

// Stripe is a payment.Gateway backed by Stripe PaymentIntents.
type Stripe struct {
	api *client.API
}

// StripeConfig configures the HTTP side of the Stripe client.
type StripeConfig struct {
	HTTPClient *http.Client
	// URL overrides the API base URL.
	URL string
}

// NewStripe creates a client for secretKey. Network retries are disabled
// here because payment.Orchestrator owns the retry policy.
func NewStripe(secretKey string, cfg StripeConfig) *Stripe {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if cfg.URL != "" {
		backendCfg.URL = stripe.String(cfg.URL)
	}

	api := &client.API{}
	api.Init(secretKey, &stripe.Backends{
		API: stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
	})
	return &Stripe{api: api}
}

// Connector returns a payment.Connector building Stripe clients with cfg.
func Connector(cfg StripeConfig) payment.Connector {
	return func(secretKey string) payment.Gateway {
		return NewStripe(secretKey, cfg)
	}
}

// CreateIntent creates a PaymentIntent. The idempotency key is forwarded so
// Stripe returns the original intent for a repeated request.
func (s *Stripe) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		if v != "" {
			params.AddMetadata(k, v)
		}
	}

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, classify(err)
	}
	return toIntent(pi), nil
}

// GetIntent retrieves a PaymentIntent by id.
func (s *Stripe) GetIntent(ctx context.Context, id string) (*payment.Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, classify(err)
	}
	return toIntent(pi), nil
}

func toIntent(pi *stripe.PaymentIntent) *payment.Intent {
	return &payment.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
	}
}

// classify maps a Stripe client error onto the payment error taxonomy.
// Server-side and rate-limit failures are transient; any other API answer
// is a rejection.
func classify(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode >= http.StatusInternalServerError ||
			se.HTTPStatusCode == http.StatusTooManyRequests ||
			se.Type == stripe.ErrorTypeAPI {
			return payment.Timeout(err)
		}
		return payment.Rejected(se.Msg, err)
	}

	// Deadlines and connection failures: the request may or may not have
	// reached Stripe, and a retry under the same idempotency key is safe.
	return payment.Timeout(err)
}
