package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/giftbox/internal/domain/payment"
)

const (
	getIntentSQL = `SELECT intent_id, client_secret, amount_minor, currency, status
		FROM payment_intents WHERE idempotency_key = $1`

	saveIntentSQL = `INSERT INTO payment_intents (idempotency_key, intent_id, client_secret, amount_minor, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING`
)

var _ payment.IntentStore = (*IntentStore)(nil)

// IntentStore implements payment.IntentStore on the payment_intents table.
// The primary key on idempotency_key is the uniqueness constraint that makes
// concurrent creates for one key converge on a single intent.
type IntentStore struct {
	pool *pgxpool.Pool
}

// NewIntentStore returns an IntentStore that uses the given pool.
func NewIntentStore(pool *pgxpool.Pool) *IntentStore {
	return &IntentStore{pool: pool}
}

// Get returns the intent stored under key.
func (s *IntentStore) Get(ctx context.Context, key string) (*payment.Intent, error) {
	var in payment.Intent
	err := s.pool.QueryRow(ctx, getIntentSQL, key).Scan(
		&in.ID, &in.ClientSecret, &in.AmountMinor, &in.Currency, &in.Status,
	)
	if err != nil {
		return nil, classify(fmt.Sprintf("getting intent for %q", key), err)
	}
	return &in, nil
}

// Save stores in unless key is taken and returns the stored intent.
func (s *IntentStore) Save(ctx context.Context, key string, in *payment.Intent) (*payment.Intent, error) {
	_, err := s.pool.Exec(ctx, saveIntentSQL, key, in.ID, in.ClientSecret, in.AmountMinor, in.Currency, in.Status)
	if err != nil {
		return nil, classify(fmt.Sprintf("saving intent for %q", key), err)
	}
	return s.Get(ctx, key)
}
