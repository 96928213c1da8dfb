// Package payment turns a frozen order total into a gateway payment intent
// exactly once per idempotency key.
package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/giftbox/internal/domain/settings"
)

// StatusSucceeded is the intent status of a captured payment.
const StatusSucceeded = "succeeded"

// Intent is a gateway payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	AmountMinor  int64
	Currency     string
	Status       string
}

// Succeeded reports whether the payment has been captured.
func (i *Intent) Succeeded() bool { return i.Status == StatusSucceeded }

// IntentRequest is what the orchestrator sends to the gateway.
type IntentRequest struct {
	AmountMinor    int64
	Currency       string
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

// Gateway is the one payment gateway integration. Implementations return
// *GatewayError for gateway failures.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
}

// Connector builds a Gateway client for a secret key.
type Connector func(secretKey string) Gateway

// Credentials provides the current gateway credential pair.
type Credentials interface {
	Gateway(ctx context.Context) (settings.Gateway, error)
}

// IntentStore remembers the intent created for each idempotency key.
type IntentStore interface {
	// Get returns persistence.ErrNotFound for unknown keys.
	Get(ctx context.Context, key string) (*Intent, error)
	// Save stores in under key unless the key is already taken, and
	// returns whichever intent is stored.
	Save(ctx context.Context, key string, in *Intent) (*Intent, error)
}

// Charge is the frozen part of an order that is sent to the gateway.
type Charge struct {
	OrderNumber string
	CustomerRef string
	TotalUSD    decimal.Decimal
	Description string
}
