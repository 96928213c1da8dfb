package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/giftbox/internal/domain/payment"
)

func newTestStripe(t *testing.T, h http.HandlerFunc) *Stripe {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewStripe("sk_test_123", StripeConfig{HTTPClient: srv.Client(), URL: srv.URL})
}

func TestStripe_CreateIntent(t *testing.T) {
	var (
		gotKey  string
		gotForm url.Values
	)
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		gotKey = r.Header.Get("Idempotency-Key")
		body, _ := io.ReadAll(r.Body)
		gotForm, _ = url.ParseQuery(string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"pi_123","object":"payment_intent","amount":5398,"currency":"usd",
			"client_secret":"pi_123_secret_abc","status":"requires_payment_method"}`)
	})

	in, err := s.CreateIntent(context.Background(), payment.IntentRequest{
		AmountMinor:    5398,
		Currency:       "usd",
		IdempotencyKey: "GB-20260510-ABC123",
		Metadata:       map[string]string{"order_number": "GB-20260510-ABC123"},
	})
	require.NoError(t, err)

	assert.Equal(t, &payment.Intent{
		ID:           "pi_123",
		ClientSecret: "pi_123_secret_abc",
		AmountMinor:  5398,
		Currency:     "usd",
		Status:       "requires_payment_method",
	}, in)
	assert.Equal(t, "GB-20260510-ABC123", gotKey)
	assert.Equal(t, "5398", gotForm.Get("amount"))
	assert.Equal(t, "usd", gotForm.Get("currency"))
	assert.Equal(t, "GB-20260510-ABC123", gotForm.Get("metadata[order_number]"))
}

func TestStripe_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    error
		message string
	}{
		{
			name:    "card declined",
			status:  http.StatusPaymentRequired,
			body:    `{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`,
			want:    payment.ErrRejected,
			message: "Your card was declined.",
		},
		{
			name:    "bad key",
			status:  http.StatusUnauthorized,
			body:    `{"error":{"type":"invalid_request_error","message":"Invalid API Key provided: sk_test_123"}}`,
			want:    payment.ErrRejected,
			message: "Invalid API Key provided: sk_test_****",
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `{"error":{"type":"api_error","message":"Something went wrong"}}`,
			want:   payment.ErrTimeout,
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"type":"invalid_request_error","message":"Too many requests"}}`,
			want:   payment.ErrTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStripe(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := s.CreateIntent(context.Background(), payment.IntentRequest{AmountMinor: 100, Currency: "usd", IdempotencyKey: "k"})
			require.ErrorIs(t, err, tt.want)
			if tt.message != "" {
				assert.Equal(t, tt.message, err.Error())
			}
		})
	}
}

func TestStripe_Deadline(t *testing.T) {
	release := make(chan struct{})
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.GetIntent(ctx, "pi_123")
	require.ErrorIs(t, err, payment.ErrTimeout)
}

func TestStripe_GetIntent(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payment_intents/pi_9", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"pi_9","object":"payment_intent","amount":1000,"currency":"usd","status":"succeeded"}`)
	})
	in, err := s.GetIntent(context.Background(), "pi_9")
	require.NoError(t, err)
	assert.True(t, in.Succeeded())
	assert.Equal(t, int64(1000), in.AmountMinor)
}
