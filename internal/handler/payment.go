package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/giftbox/internal/domain/money"
	"github.com/xenking/giftbox/internal/domain/order"
	"github.com/xenking/giftbox/internal/domain/payment"
)

type intentRequest struct {
	totalUSD    decimal.Decimal
	hasTotal    bool
	currency    string
	orderNumber string
}

// CreateIntent creates the gateway payment intent for a placed order. The
// amount always comes from the frozen order; the client total must match it.
// The order number is the idempotency key, so repeated calls return the same
// intent.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "totalUsd":
			req.totalUSD, err = decodeDecimal(d, "totalUsd")
			req.hasTotal = err == nil
		case "currency":
			req.currency, err = decodeString(d)
		case "metadata":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				if key != "orderNumber" {
					return d.Skip()
				}
				var err error
				req.orderNumber, err = decodeString(d)
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		fail(w, r, err)
		return
	}
	if req.orderNumber == "" {
		fail(w, r, order.BadFormat("metadata.orderNumber is required"))
		return
	}
	if !req.hasTotal {
		fail(w, r, order.BadFormat("totalUsd is required"))
		return
	}

	ctx := r.Context()
	o, err := h.orders.GetByNumber(ctx, req.orderNumber)
	if err != nil {
		fail(w, r, err)
		return
	}
	if o.Status != order.StatusPending {
		fail(w, r, errors.Wrapf(order.ErrInvalidTransition, "order %s is %s", o.Number, o.Status))
		return
	}
	if !req.totalUSD.Equal(o.TotalUSD) {
		fail(w, r, order.InvalidAmount("totalUsd %s does not match order total %s",
			req.totalUSD.String(), o.TotalUSD.StringFixed(money.MinorUnits)))
		return
	}
	if req.currency != "" && !strings.EqualFold(req.currency, o.Currency) && !strings.EqualFold(req.currency, money.USD) {
		fail(w, r, order.InvalidAmount("currency %s does not match order currency %s", req.currency, o.Currency))
		return
	}

	intent, err := h.payments.CreateIntent(ctx, payment.Charge{
		OrderNumber: o.Number,
		CustomerRef: o.Customer.Email,
		TotalUSD:    o.TotalUSD,
		Description: "Giftbox order " + o.Number,
	}, o.Number)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := h.orders.AttachIntent(ctx, o, intent.ID); err != nil {
		fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("clientSecret")
		e.Str(intent.ClientSecret)
		e.FieldStart("intentId")
		e.Str(intent.ID)
		e.ObjEnd()
	})
}

// ConfirmPayment verifies the intent with the gateway and finalizes the
// order. It is safe to call again after a partial failure.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var number, intentID string
	if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "orderNumber":
			number, err = decodeString(d)
		case "intentId":
			intentID, err = decodeString(d)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		fail(w, r, err)
		return
	}
	if number == "" || intentID == "" {
		fail(w, r, order.BadFormat("orderNumber and intentId are required"))
		return
	}

	ctx := r.Context()
	intent, err := h.payments.Confirm(ctx, intentID)
	if err != nil {
		fail(w, r, err)
		return
	}
	o, err := h.orders.Finalize(ctx, number, order.Confirmation{
		IntentID:    intent.ID,
		AmountMinor: intent.AmountMinor,
		Currency:    intent.Currency,
		Succeeded:   intent.Succeeded(),
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	zctx.From(ctx).Info("Payment confirmed",
		zap.String("order_number", o.Number),
		zap.String("intent_id", intent.ID),
	)

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("orderNumber")
		e.Str(o.Number)
		e.FieldStart("status")
		e.Str(string(o.Status))
		e.ObjEnd()
	})
}

// PublishableKey returns the client-side gateway key.
func (h *Handler) PublishableKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.payments.PublishableKey(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("publishableKey")
		e.Str(key)
		e.ObjEnd()
	})
}
