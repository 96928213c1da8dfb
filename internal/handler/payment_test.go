package handler

import (
	"net/http"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/giftbox/internal/domain/order"
	"github.com/xenking/giftbox/internal/domain/payment"
)

const intentBody = `{"totalUsd": 53.98, "currency": "USD", "metadata": {"orderNumber": "GB-20260510-ABC123", "source": "web"}}`

func TestCreateIntent(t *testing.T) {
	env := newTestEnv(t)
	env.orders.add(pendingOrder())

	w := env.do(t, http.MethodPost, "/payments/create-intent", intentBody, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"clientSecret":"pi_123_secret_abc","intentId":"pi_123"}`, w.Body.String())

	require.Len(t, env.payments.charges, 1)
	charge := env.payments.charges[0]
	assert.Equal(t, "GB-20260510-ABC123", charge.OrderNumber)
	assert.True(t, charge.TotalUSD.Equal(d("53.98")))
	assert.Equal(t, "ada@example.com", charge.CustomerRef)
	assert.Equal(t, []string{"GB-20260510-ABC123"}, env.payments.keys, "order number is the idempotency key")
	assert.Equal(t, "pi_123", env.orders.attached["GB-20260510-ABC123"])
}

func TestCreateIntent_Retry(t *testing.T) {
	env := newTestEnv(t)
	env.orders.add(pendingOrder())

	for range 2 {
		w := env.do(t, http.MethodPost, "/payments/create-intent", intentBody, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"clientSecret":"pi_123_secret_abc","intentId":"pi_123"}`, w.Body.String())
	}
	assert.Equal(t, []string{"GB-20260510-ABC123", "GB-20260510-ABC123"}, env.payments.keys)
}

func TestCreateIntent_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  order.Status
		gateway error
		code    int
		message string
	}{
		{
			name:    "total differs from frozen order",
			body:    `{"totalUsd": 59.98, "currency": "USD", "metadata": {"orderNumber": "GB-20260510-ABC123"}}`,
			code:    http.StatusBadRequest,
			message: "totalUsd 59.98 does not match order total 53.98",
		},
		{
			name:    "missing order number",
			body:    `{"totalUsd": 53.98, "currency": "USD", "metadata": {}}`,
			code:    http.StatusBadRequest,
			message: "metadata.orderNumber is required",
		},
		{
			name:    "missing total",
			body:    `{"currency": "USD", "metadata": {"orderNumber": "GB-20260510-ABC123"}}`,
			code:    http.StatusBadRequest,
			message: "totalUsd is required",
		},
		{
			name:    "unknown order",
			body:    `{"totalUsd": 53.98, "metadata": {"orderNumber": "GB-20260510-ZZZZZZ"}}`,
			code:    http.StatusNotFound,
			message: "not found",
		},
		{
			name:    "currency mismatch",
			body:    `{"totalUsd": 53.98, "currency": "JPY", "metadata": {"orderNumber": "GB-20260510-ABC123"}}`,
			code:    http.StatusBadRequest,
			message: "currency JPY does not match order currency USD",
		},
		{
			name:    "order already paid",
			body:    intentBody,
			status:  order.StatusPaid,
			code:    http.StatusConflict,
			message: "order GB-20260510-ABC123 is paid: invalid status transition",
		},
		{
			name:    "gateway not configured",
			body:    intentBody,
			gateway: payment.ErrNotConfigured,
			code:    http.StatusServiceUnavailable,
			message: "payment gateway is not configured",
		},
		{
			name:    "gateway rejected",
			body:    intentBody,
			gateway: payment.Rejected("Invalid API Key provided: sk_test_****1234", nil),
			code:    http.StatusPaymentRequired,
			message: "Invalid API Key provided: sk_test_****",
		},
		{
			name:    "gateway timeout",
			body:    intentBody,
			gateway: payment.Timeout(errors.New("i/o timeout")),
			code:    http.StatusGatewayTimeout,
			message: "payment gateway timed out",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			o := pendingOrder()
			if tt.status != "" {
				o.Status = tt.status
			}
			env.orders.add(o)
			env.payments.err = tt.gateway

			w := env.do(t, http.MethodPost, "/payments/create-intent", tt.body, "")
			assert.Equal(t, tt.code, w.Code)
			assert.JSONEq(t, `{"error":"`+tt.message+`"}`, w.Body.String())
			assert.Empty(t, env.orders.attached)
		})
	}
}

func TestConfirmPayment(t *testing.T) {
	env := newTestEnv(t)
	o := pendingOrder()
	o.PaymentReference = "pi_123"
	env.orders.add(o)

	w := env.do(t, http.MethodPost, "/payments/confirm", `{"orderNumber":"GB-20260510-ABC123","intentId":"pi_123"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"orderNumber":"GB-20260510-ABC123","status":"paid"}`, w.Body.String())

	require.Len(t, env.orders.confirmed, 1)
	assert.Equal(t, order.Confirmation{
		IntentID:    "pi_123",
		AmountMinor: 5398,
		Currency:    "usd",
		Succeeded:   true,
	}, env.orders.confirmed[0])
}

func TestConfirmPayment_Errors(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		finalizeErr error
		gatewayErr  error
		code        int
	}{
		{name: "missing intent", body: `{"orderNumber":"GB-20260510-ABC123"}`, code: http.StatusBadRequest},
		{name: "unverified", body: `{"orderNumber":"GB-20260510-ABC123","intentId":"pi_other"}`, finalizeErr: errors.Wrap(order.ErrPaymentUnverified, "intent does not belong to order"), code: http.StatusConflict},
		{name: "sold out at payment", body: `{"orderNumber":"GB-20260510-ABC123","intentId":"pi_123"}`, finalizeErr: order.OutOfStock("gift-box-classic"), code: http.StatusConflict},
		{name: "gateway down", body: `{"orderNumber":"GB-20260510-ABC123","intentId":"pi_123"}`, gatewayErr: payment.Timeout(errors.New("dial tcp")), code: http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.orders.add(pendingOrder())
			env.orders.finalizeErr = tt.finalizeErr
			env.payments.err = tt.gatewayErr

			w := env.do(t, http.MethodPost, "/payments/confirm", tt.body, "")
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestPublishableKey(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/payments/publishable-key", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"publishableKey":"pk_test_abc"}`, w.Body.String())

	env.payments.pk = ""
	w = env.do(t, http.MethodGet, "/payments/publishable-key", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"publishable key is not configured"}`, w.Body.String())
}
