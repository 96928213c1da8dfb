package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/giftbox/internal/domain/order"
	"github.com/xenking/giftbox/internal/domain/promo"
)

// Quote prices a cart. Nothing is persisted.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCheckout(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	draft, err := h.orders.Quote(r.Context(), req.PriceRequest)
	if err != nil {
		fail(w, r, err)
		return
	}
	if draft.PromoReason != "" {
		zctx.From(r.Context()).Info("Promo code not applied",
			zap.String("code", promo.Normalize(req.PromoCode)),
			zap.String("reason", string(draft.PromoReason)),
		)
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("items")
		encodeItems(e, draft.Items)
		encodeTotals(e, totals{
			Subtotal:     draft.SubtotalUSD,
			Discount:     draft.DiscountUSD,
			Tax:          draft.TaxUSD,
			Total:        draft.TotalUSD,
			Currency:     draft.Currency,
			ExchangeRate: draft.ExchangeRate,
			DisplayTotal: draft.DisplayTotal,
		})
		e.FieldStart("promoApplied")
		e.Bool(draft.PromoCode != "")
		if draft.PromoCode != "" {
			e.FieldStart("promoCode")
			e.Str(draft.PromoCode)
		}
		if draft.PromoReason != "" {
			e.FieldStart("promoReason")
			e.Str(string(publicPromoReason(draft.PromoReason)))
		}
		e.ObjEnd()
	})
}

// publicPromoReason hides whether a rejected code exists from anonymous
// callers. Only the storefront-wide toggle is reported as is.
func publicPromoReason(r promo.Reason) promo.Reason {
	if r == promo.ReasonDisabled {
		return r
	}
	return promo.ReasonNotFound
}

// PlaceOrder prices the cart, freezes the draft and stores a pending order.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCheckout(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	o, err := h.orders.Create(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("orderNumber")
		e.Str(o.Number)
		e.FieldStart("status")
		e.Str(string(o.Status))
		encodeTotals(e, orderTotals(o))
		if o.PromoCode != "" {
			e.FieldStart("promoCode")
			e.Str(o.PromoCode)
		}
		e.ObjEnd()
	})
}

// decodeCheckout reads a quote or order body. Quote ignores the customer
// fields.
func decodeCheckout(w http.ResponseWriter, r *http.Request) (order.CheckoutRequest, error) {
	var req order.CheckoutRequest
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			req.Items, err = decodeCartItems(d)
		case "promoCode":
			req.PromoCode, err = decodeString(d)
		case "currency":
			req.Currency, err = decodeString(d)
		case "exchangeRate":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.ExchangeRate, err = decodeDecimal(d, "exchangeRate")
		case "country":
			req.Country, err = decodeString(d)
		case "customer":
			req.Customer, err = decodeCustomer(d)
		case "shippingAddress":
			req.ShippingAddress, err = decodeAddress(d)
		case "paymentMethod":
			req.PaymentMethod, err = decodeString(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

func decodeCartItems(d *jx.Decoder) ([]order.CartItem, error) {
	if d.Next() != jx.Array {
		return nil, order.BadFormat("items must be an array")
	}
	var items []order.CartItem
	err := d.Arr(func(d *jx.Decoder) error {
		var it order.CartItem
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "productId":
				it.ProductID, err = decodeString(d)
			case "quantity":
				it.Quantity, err = decodeInt(d, "quantity")
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	return items, err
}

func decodeCustomer(d *jx.Decoder) (order.Customer, error) {
	var c order.Customer
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			c.Name, err = decodeString(d)
		case "email":
			c.Email, err = decodeString(d)
		case "phone":
			c.Phone, err = decodeString(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return c, err
}

func decodeAddress(d *jx.Decoder) (order.Address, error) {
	var a order.Address
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "line1":
			a.Line1, err = decodeString(d)
		case "line2":
			a.Line2, err = decodeString(d)
		case "city":
			a.City, err = decodeString(d)
		case "region":
			a.Region, err = decodeString(d)
		case "postalCode":
			a.PostalCode, err = decodeString(d)
		case "country":
			a.Country, err = decodeString(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return a, err
}

type totals struct {
	Subtotal, Discount, Tax, Total decimal.Decimal
	Currency                       string
	ExchangeRate                   decimal.NullDecimal
	DisplayTotal                   decimal.NullDecimal
}

func orderTotals(o *order.Order) totals {
	return totals{
		Subtotal:     o.SubtotalUSD,
		Discount:     o.DiscountUSD,
		Tax:          o.TaxUSD,
		Total:        o.TotalUSD,
		Currency:     o.Currency,
		ExchangeRate: o.ExchangeRate,
		DisplayTotal: o.DisplayTotal,
	}
}

// encodeTotals writes the pricing fields into the current object.
func encodeTotals(e *jx.Encoder, t totals) {
	e.FieldStart("subtotalUsd")
	encodeMoney(e, t.Subtotal)
	e.FieldStart("discountUsd")
	encodeMoney(e, t.Discount)
	e.FieldStart("taxUsd")
	encodeMoney(e, t.Tax)
	e.FieldStart("totalUsd")
	encodeMoney(e, t.Total)
	e.FieldStart("currency")
	e.Str(t.Currency)
	if t.ExchangeRate.Valid {
		e.FieldStart("exchangeRate")
		e.Raw([]byte(t.ExchangeRate.Decimal.String()))
	}
	if t.DisplayTotal.Valid {
		e.FieldStart("displayTotal")
		encodeMoney(e, t.DisplayTotal.Decimal)
	}
}

func encodeItems(e *jx.Encoder, items []order.Item) {
	e.ArrStart()
	for _, it := range items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("unitPriceUsd")
		encodeMoney(e, it.UnitPriceUSD)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("lineTotalUsd")
		encodeMoney(e, it.TotalUSD())
		e.ObjEnd()
	}
	e.ArrEnd()
}
