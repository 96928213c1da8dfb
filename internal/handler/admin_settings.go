package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/giftbox/internal/domain/order"
	"github.com/xenking/giftbox/internal/domain/settings"
)

// GetPromoSettings reports whether the storefront accepts promo codes.
func (h *Handler) GetPromoSettings(w http.ResponseWriter, r *http.Request) {
	enabled, err := h.settings.PromoEnabled(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeEnabled(w, enabled)
}

// PutPromoSettings toggles the storefront promo code field.
func (h *Handler) PutPromoSettings(w http.ResponseWriter, r *http.Request) {
	var (
		enabled bool
		found   bool
	)
	if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key != "enabled" {
			return d.Skip()
		}
		if d.Next() != jx.Bool {
			return order.BadFormat("enabled must be a boolean")
		}
		found = true
		var err error
		enabled, err = d.Bool()
		return err
	}); err != nil {
		fail(w, r, err)
		return
	}
	if !found {
		fail(w, r, order.BadFormat("enabled is required"))
		return
	}
	if err := h.settings.SetPromoEnabled(r.Context(), enabled); err != nil {
		fail(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Promo field toggled", zap.Bool("enabled", enabled))
	writeEnabled(w, enabled)
}

// GetGatewaySettings returns the gateway configuration. The secret key is
// never returned, only whether it is set and a redacted hint.
func (h *Handler) GetGatewaySettings(w http.ResponseWriter, r *http.Request) {
	g, err := h.settings.Gateway(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeGateway(w, g)
}

// PutGatewaySettings replaces the gateway key pair after checking the key
// formats. An empty secretKey keeps the stored one.
func (h *Handler) PutGatewaySettings(w http.ResponseWriter, r *http.Request) {
	var g settings.Gateway
	if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "secretKey":
			g.SecretKey, err = decodeString(d)
		case "publishableKey":
			g.PublishableKey, err = decodeString(d)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		fail(w, r, err)
		return
	}
	saved, err := h.settings.SetGateway(r.Context(), g)
	if err != nil {
		fail(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Gateway settings updated", zap.String("mode", saved.Mode()))
	writeGateway(w, saved)
}

func writeGateway(w http.ResponseWriter, g settings.Gateway) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("secretKeyConfigured")
		e.Bool(g.Configured())
		e.FieldStart("secretKeyHint")
		e.Str(g.SecretHint())
		e.FieldStart("publishableKey")
		e.Str(g.PublishableKey)
		e.FieldStart("mode")
		e.Str(g.Mode())
		e.ObjEnd()
	})
}
