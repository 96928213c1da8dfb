package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/giftbox/internal/domain/product"
)

// ListProducts returns the whole catalog, hidden products included.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("products")
		e.ArrStart()
		for i := range products {
			h.encodeProduct(e, &products[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// CreateProduct adds a product and invalidates the storefront cache.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	p := product.Product{Status: product.StatusActive}
	if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key == "id" {
			var err error
			p.ID, err = decodeString(d)
			return err
		}
		return decodeProductField(d, key, &p)
	}); err != nil {
		fail(w, r, err)
		return
	}
	if err := product.Validate(&p); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.products.Create(r.Context(), &p); err != nil {
		fail(w, r, err)
		return
	}
	h.catalog.Invalidate()
	zctx.From(r.Context()).Info("Product created", zap.String("product_id", p.ID))
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		h.encodeProduct(e, &p)
	})
}

// UpdateProduct changes price, stock, status or copy of a product and
// invalidates the storefront cache.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.products.GetByID(ctx, r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key == "id" {
			return d.Skip()
		}
		return decodeProductField(d, key, p)
	}); err != nil {
		fail(w, r, err)
		return
	}
	if err := product.Validate(p); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.products.Update(ctx, p); err != nil {
		fail(w, r, err)
		return
	}
	h.catalog.Invalidate()
	zctx.From(ctx).Info("Product updated",
		zap.String("product_id", p.ID),
		zap.String("price_usd", p.PriceUSD.String()),
		zap.Int("stock", p.Stock),
	)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("success")
		e.Bool(true)
		e.FieldStart("product")
		h.encodeProduct(e, p)
		e.ObjEnd()
	})
}

func decodeProductField(d *jx.Decoder, key string, p *product.Product) error {
	var err error
	switch key {
	case "name":
		p.Name, err = decodeString(d)
	case "description":
		p.Description, err = decodeString(d)
	case "price", "base_price":
		p.PriceUSD, err = decodeDecimal(d, key)
	case "stock":
		p.Stock, err = decodeInt(d, "stock")
	case "status":
		var s string
		s, err = decodeString(d)
		p.Status = product.Status(s)
	case "imageUrl":
		p.ImageURL, err = decodeString(d)
	default:
		err = d.Skip()
	}
	if err != nil {
		return errors.Wrap(err, key)
	}
	return nil
}

func (h *Handler) encodeProduct(e *jx.Encoder, p *product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("price")
	encodeMoney(e, p.PriceUSD)
	e.FieldStart("stock")
	e.Int(p.Stock)
	e.FieldStart("status")
	e.Str(string(p.Status))
	e.FieldStart("imageUrl")
	e.Str(h.imageURL(p.ImageURL))
	if !p.UpdatedAt.IsZero() {
		e.FieldStart("updatedAt")
		e.Str(p.UpdatedAt.UTC().Format(timeLayout))
	}
	e.ObjEnd()
}
