package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/giftbox/internal/domain/product"
)

// StorefrontProducts returns the purchasable catalog. When the store is
// unreachable it serves the static fallback catalog and sets
// X-Catalog-Fallback.
func (h *Handler) StorefrontProducts(w http.ResponseWriter, r *http.Request) {
	items, degraded := h.catalog.Active(r.Context())
	if degraded {
		w.Header().Set("X-Catalog-Fallback", "true")
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("products")
		e.ArrStart()
		for i := range items {
			h.encodeStorefrontProduct(e, &items[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

func (h *Handler) encodeStorefrontProduct(e *jx.Encoder, p *product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("base_price")
	encodeMoney(e, p.PriceUSD)
	e.FieldStart("stock")
	e.Int(p.Stock)
	if p.ImageURL != "" {
		e.FieldStart("image_url")
		e.Str(h.imageURL(p.ImageURL))
	}
	e.ObjEnd()
}

// StorefrontPromoSettings reports whether the checkout shows the promo code
// field.
func (h *Handler) StorefrontPromoSettings(w http.ResponseWriter, r *http.Request) {
	enabled, err := h.settings.PromoEnabled(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeEnabled(w, enabled)
}

func writeEnabled(w http.ResponseWriter, enabled bool) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("enabled")
		e.Bool(enabled)
		e.ObjEnd()
	})
}
