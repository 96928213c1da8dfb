package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/giftbox/internal/domain/order"
	"github.com/xenking/giftbox/internal/domain/promo"
)

// ListPromoCodes returns every promo code with its usage.
func (h *Handler) ListPromoCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.promos.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("promoCodes")
		e.ArrStart()
		for i := range codes {
			encodePromo(e, &codes[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// CreatePromoCode stores a new code. Codes are case-insensitive and stored
// upper-case.
func (h *Handler) CreatePromoCode(w http.ResponseWriter, r *http.Request) {
	c := promo.Code{Kind: promo.KindPercentage, Active: true}
	if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key == "code" {
			s, err := decodeString(d)
			c.Code = promo.Normalize(s)
			return err
		}
		return decodePromoField(d, key, &c)
	}); err != nil {
		fail(w, r, err)
		return
	}
	if err := promo.Check(&c); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.promos.Create(r.Context(), &c); err != nil {
		fail(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Promo code created", zap.String("code", c.Code))
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		encodePromo(e, &c)
	})
}

// UpdatePromoCode applies the supplied fields to an existing code. The usage
// count is only written when the body sets usageCount.
func (h *Handler) UpdatePromoCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.promos.FindByCode(ctx, promo.Normalize(r.PathValue("code")))
	if err != nil {
		fail(w, r, err)
		return
	}
	var setUsage bool
	if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			return d.Skip()
		case "usageCount":
			setUsage = true
		}
		return decodePromoField(d, key, c)
	}); err != nil {
		fail(w, r, err)
		return
	}
	if err := promo.Check(c); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.promos.Update(ctx, c, setUsage); err != nil {
		fail(w, r, err)
		return
	}
	zctx.From(ctx).Info("Promo code updated", zap.String("code", c.Code))
	writeSuccess(w)
}

// DeletePromoCode removes a code.
func (h *Handler) DeletePromoCode(w http.ResponseWriter, r *http.Request) {
	code := promo.Normalize(r.PathValue("code"))
	if err := h.promos.Delete(r.Context(), code); err != nil {
		fail(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Promo code deleted", zap.String("code", code))
	writeSuccess(w)
}

func decodePromoField(d *jx.Decoder, key string, c *promo.Code) error {
	var err error
	switch key {
	case "kind":
		var s string
		s, err = decodeString(d)
		c.Kind = promo.Kind(s)
	case "value":
		c.Value, err = decodeDecimal(d, "value")
	case "minOrderUsd":
		c.MinOrderUSD, err = decodeDecimal(d, "minOrderUsd")
	case "expiresAt":
		if d.Next() == jx.Null {
			c.ExpiresAt = nil
			return d.Null()
		}
		var s string
		if s, err = d.Str(); err != nil {
			return err
		}
		t, perr := time.Parse(timeLayout, s)
		if perr != nil {
			return order.BadFormat("expiresAt must be an RFC 3339 timestamp")
		}
		t = t.UTC()
		c.ExpiresAt = &t
	case "usageLimit":
		if d.Next() == jx.Null {
			c.UsageLimit = nil
			return d.Null()
		}
		var n int
		n, err = decodeInt(d, "usageLimit")
		c.UsageLimit = &n
	case "usageCount":
		c.UsageCount, err = decodeInt(d, "usageCount")
	case "active":
		c.Active, err = d.Bool()
	case "description":
		c.Description, err = decodeString(d)
	default:
		err = d.Skip()
	}
	if err != nil {
		return errors.Wrap(err, key)
	}
	return nil
}

func encodePromo(e *jx.Encoder, c *promo.Code) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("kind")
	e.Str(string(c.Kind))
	e.FieldStart("value")
	e.Raw([]byte(c.Value.String()))
	e.FieldStart("minOrderUsd")
	encodeMoney(e, c.MinOrderUSD)
	e.FieldStart("expiresAt")
	if c.ExpiresAt != nil {
		e.Str(c.ExpiresAt.UTC().Format(timeLayout))
	} else {
		e.Null()
	}
	e.FieldStart("usageLimit")
	if c.UsageLimit != nil {
		e.Int(*c.UsageLimit)
	} else {
		e.Null()
	}
	e.FieldStart("usageCount")
	e.Int(c.UsageCount)
	e.FieldStart("active")
	e.Bool(c.Active)
	if c.Description != "" {
		e.FieldStart("description")
		e.Str(c.Description)
	}
	e.ObjEnd()
}
