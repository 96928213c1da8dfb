package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/giftbox/internal/domain/order"
)

// frozenOrderFields cannot be changed once an order is placed.
var frozenOrderFields = map[string]struct{}{
	"items":        {},
	"subtotalUsd":  {},
	"discountUsd":  {},
	"taxUsd":       {},
	"totalUsd":     {},
	"displayTotal": {},
	"currency":     {},
	"exchangeRate": {},
	"promoCode":    {},
	"orderNumber":  {},
}

// ListOrders returns every order, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("orders")
		e.ArrStart()
		for i := range orders {
			encodeOrder(e, &orders[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// UpdateOrder applies contact and address corrections and an optional
// status change through the lifecycle state machine.
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var (
		patch  order.Patch
		status *order.Status
	)
	if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if _, frozen := frozenOrderFields[key]; frozen {
			return order.BadFormat("%s cannot be edited", key)
		}
		switch key {
		case "customer":
			c, err := decodeCustomer(d)
			patch.Customer = &c
			return err
		case "shippingAddress":
			a, err := decodeAddress(d)
			patch.ShippingAddress = &a
			return err
		case "paymentMethod":
			m, err := decodeString(d)
			patch.PaymentMethod = &m
			return err
		case "status":
			s, err := decodeString(d)
			st := order.Status(s)
			status = &st
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		fail(w, r, err)
		return
	}

	id := r.PathValue("id")
	o, err := h.orders.Update(r.Context(), id, patch, status)
	if err != nil {
		fail(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Order updated",
		zap.String("order_number", o.Number),
		zap.String("status", string(o.Status)),
	)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("success")
		e.Bool(true)
		e.FieldStart("order")
		encodeOrder(e, o)
		e.ObjEnd()
	})
}

// DeleteOrder removes an order.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.orders.Delete(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Order deleted", zap.String("order_id", id))
	writeSuccess(w)
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("orderNumber")
	e.Str(o.Number)
	e.FieldStart("status")
	e.Str(string(o.Status))

	e.FieldStart("customer")
	e.ObjStart()
	e.FieldStart("name")
	e.Str(o.Customer.Name)
	e.FieldStart("email")
	e.Str(o.Customer.Email)
	e.FieldStart("phone")
	e.Str(o.Customer.Phone)
	e.ObjEnd()

	a := o.ShippingAddress
	e.FieldStart("shippingAddress")
	e.ObjStart()
	e.FieldStart("line1")
	e.Str(a.Line1)
	e.FieldStart("line2")
	e.Str(a.Line2)
	e.FieldStart("city")
	e.Str(a.City)
	e.FieldStart("region")
	e.Str(a.Region)
	e.FieldStart("postalCode")
	e.Str(a.PostalCode)
	e.FieldStart("country")
	e.Str(a.Country)
	e.ObjEnd()

	e.FieldStart("items")
	encodeItems(e, o.Items)
	encodeTotals(e, orderTotals(o))
	if o.PromoCode != "" {
		e.FieldStart("promoCode")
		e.Str(o.PromoCode)
	}
	e.FieldStart("paymentMethod")
	e.Str(o.PaymentMethod)
	if o.PaymentReference != "" {
		e.FieldStart("paymentReference")
		e.Str(o.PaymentReference)
	}
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(timeLayout))
	e.FieldStart("updatedAt")
	e.Str(o.UpdatedAt.UTC().Format(timeLayout))
	e.ObjEnd()
}
