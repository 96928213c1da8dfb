// Package handler serves the storefront, checkout, payment and admin HTTP
// API on top of the domain services.
package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/giftbox/internal/domain/auth"
	"github.com/xenking/giftbox/internal/domain/order"
	"github.com/xenking/giftbox/internal/domain/payment"
	"github.com/xenking/giftbox/internal/domain/product"
	"github.com/xenking/giftbox/internal/domain/promo"
	"github.com/xenking/giftbox/internal/domain/settings"
)

// Authenticator issues and verifies admin tokens.
type Authenticator interface {
	Issue(username, password string) (string, time.Time, error)
	Verify(token string) (*auth.Claims, error)
}

// Orders is the order lifecycle used by checkout, payment and admin routes.
type Orders interface {
	Quote(ctx context.Context, req order.PriceRequest) (*order.Draft, error)
	Create(ctx context.Context, req order.CheckoutRequest) (*order.Order, error)
	GetByNumber(ctx context.Context, number string) (*order.Order, error)
	List(ctx context.Context) ([]order.Order, error)
	Update(ctx context.Context, id string, patch order.Patch, status *order.Status) (*order.Order, error)
	Delete(ctx context.Context, id string) error
	AttachIntent(ctx context.Context, o *order.Order, intentID string) error
	Finalize(ctx context.Context, number string, conf order.Confirmation) (*order.Order, error)
}

// Payments creates and looks up gateway payment intents.
type Payments interface {
	CreateIntent(ctx context.Context, charge payment.Charge, key string) (*payment.Intent, error)
	Confirm(ctx context.Context, intentID string) (*payment.Intent, error)
	PublishableKey(ctx context.Context) (string, error)
}

// Settings holds runtime-editable storefront settings.
type Settings interface {
	Gateway(ctx context.Context) (settings.Gateway, error)
	SetGateway(ctx context.Context, g settings.Gateway) (settings.Gateway, error)
	PromoEnabled(ctx context.Context) (bool, error)
	SetPromoEnabled(ctx context.Context, enabled bool) error
}

// Catalog is the cached storefront view of the product catalog.
type Catalog interface {
	Active(ctx context.Context) ([]product.Product, bool)
	Invalidate()
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	// When empty, image paths are returned as stored in the database.
	ImageBaseURL string
	// LoginLimit guards POST /admin/login. Optional.
	LoginLimit func(http.Handler) http.Handler
}

// Deps are the domain collaborators of the Handler.
type Deps struct {
	Auth     Authenticator
	Orders   Orders
	Payments Payments
	Settings Settings
	Catalog  Catalog
	Products product.Repository
	Promos   promo.Repository
}

// Handler serves the HTTP API.
type Handler struct {
	auth     Authenticator
	orders   Orders
	payments Payments
	settings Settings
	catalog  Catalog
	products product.Repository
	promos   promo.Repository

	imageBaseURL string
	loginLimit   func(http.Handler) http.Handler
}

// NewHandler constructs a Handler. Every dependency is required.
func NewHandler(cfg HandlerConfig, deps Deps) (*Handler, error) {
	switch {
	case deps.Auth == nil:
		return nil, errors.New("auth is required")
	case deps.Orders == nil:
		return nil, errors.New("orders are required")
	case deps.Payments == nil:
		return nil, errors.New("payments are required")
	case deps.Settings == nil:
		return nil, errors.New("settings are required")
	case deps.Catalog == nil:
		return nil, errors.New("catalog is required")
	case deps.Products == nil:
		return nil, errors.New("products are required")
	case deps.Promos == nil:
		return nil, errors.New("promos are required")
	}
	return &Handler{
		auth:         deps.Auth,
		orders:       deps.Orders,
		payments:     deps.Payments,
		settings:     deps.Settings,
		catalog:      deps.Catalog,
		products:     deps.Products,
		promos:       deps.Promos,
		imageBaseURL: cfg.ImageBaseURL,
		loginLimit:   cfg.LoginLimit,
	}, nil
}

// Register adds every route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	login := http.Handler(http.HandlerFunc(h.Login))
	if h.loginLimit != nil {
		login = h.loginLimit(login)
	}
	mux.Handle("POST /admin/login", login)

	// Storefront.
	mux.HandleFunc("GET /storefront/products", h.StorefrontProducts)
	mux.HandleFunc("GET /storefront/promo-settings", h.StorefrontPromoSettings)

	// Checkout and payment.
	mux.HandleFunc("POST /checkout/quote", h.Quote)
	mux.HandleFunc("POST /checkout/orders", h.PlaceOrder)
	mux.HandleFunc("POST /payments/create-intent", h.CreateIntent)
	mux.HandleFunc("POST /payments/confirm", h.ConfirmPayment)
	mux.HandleFunc("GET /payments/publishable-key", h.PublishableKey)

	// Admin.
	admin := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, h.requireAdmin(fn))
	}
	admin("GET /admin/orders", h.ListOrders)
	admin("PUT /admin/orders/{id}", h.UpdateOrder)
	admin("DELETE /admin/orders/{id}", h.DeleteOrder)

	admin("GET /admin/promo-codes", h.ListPromoCodes)
	admin("POST /admin/promo-codes", h.CreatePromoCode)
	admin("PUT /admin/promo-codes/{code}", h.UpdatePromoCode)
	admin("DELETE /admin/promo-codes/{code}", h.DeletePromoCode)

	admin("GET /admin/promo-settings", h.GetPromoSettings)
	admin("PUT /admin/promo-settings", h.PutPromoSettings)
	admin("GET /admin/gateway-settings", h.GetGatewaySettings)
	admin("PUT /admin/gateway-settings", h.PutGatewaySettings)

	admin("GET /admin/products", h.ListProducts)
	admin("POST /admin/products", h.CreateProduct)
	admin("PUT /admin/products/{id}", h.UpdateProduct)
}

// imageURL prefixes relative image paths with the configured base URL.
func (h *Handler) imageURL(p string) string {
	if p == "" || h.imageBaseURL == "" || strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	return h.imageBaseURL + p
}
