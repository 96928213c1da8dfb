// Package redis implements payment.IntentStore on Redis for deployments
// that run more than one API replica in front of a shared cache.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/giftbox/internal/domain/payment"
	"github.com/xenking/giftbox/internal/domain/persistence"
)

// DefaultTTL matches the gateway's own idempotency-key retention.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "giftbox:intent:"

var _ payment.IntentStore = (*IntentStore)(nil)

// IntentStore remembers the intent created for each idempotency key. SETNX
// decides the first writer.
type IntentStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewIntentStore returns an IntentStore over rdb.
func NewIntentStore(rdb redis.UniversalClient, ttl time.Duration) *IntentStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &IntentStore{rdb: rdb, ttl: ttl}
}

// Get returns the intent stored under key.
func (s *IntentStore) Get(ctx context.Context, key string) (*payment.Intent, error) {
	raw, err := s.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("getting intent for %q: %w", key, persistence.ErrNotFound)
		}
		return nil, persistence.Unavailable(fmt.Sprintf("getting intent for %q", key), err)
	}
	in, err := decodeIntent(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decode intent for %q", key)
	}
	return in, nil
}

// Save stores in unless key is taken and returns the stored intent.
func (s *IntentStore) Save(ctx context.Context, key string, in *payment.Intent) (*payment.Intent, error) {
	ok, err := s.rdb.SetNX(ctx, keyPrefix+key, encodeIntent(in), s.ttl).Result()
	if err != nil {
		return nil, persistence.Unavailable(fmt.Sprintf("saving intent for %q", key), err)
	}
	if ok {
		return in, nil
	}
	return s.Get(ctx, key)
}

func encodeIntent(in *payment.Intent) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(in.ID)
	e.FieldStart("client_secret")
	e.Str(in.ClientSecret)
	e.FieldStart("amount")
	e.Int64(in.AmountMinor)
	e.FieldStart("currency")
	e.Str(in.Currency)
	e.FieldStart("status")
	e.Str(in.Status)
	e.ObjEnd()
	return e.Bytes()
}

func decodeIntent(raw []byte) (*payment.Intent, error) {
	var in payment.Intent
	err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			in.ID, err = d.Str()
		case "client_secret":
			in.ClientSecret, err = d.Str()
		case "amount":
			in.AmountMinor, err = d.Int64()
		case "currency":
			in.Currency, err = d.Str()
		case "status":
			in.Status, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &in, nil
}
