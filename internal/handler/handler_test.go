package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xenking/giftbox/internal/domain/auth"
	"github.com/xenking/giftbox/internal/domain/order"
	"github.com/xenking/giftbox/internal/domain/payment"
	"github.com/xenking/giftbox/internal/domain/persistence"
	"github.com/xenking/giftbox/internal/domain/product"
	"github.com/xenking/giftbox/internal/domain/promo"
	"github.com/xenking/giftbox/internal/domain/settings"
)

var testSecret = []byte("test-signing-secret")

// --- Fakes ---

type fakeOrders struct {
	mu sync.Mutex

	draft    *order.Draft
	byNumber map[string]*order.Order
	err      error

	lastCreate  order.CheckoutRequest
	lastPatch   order.Patch
	lastStatus  *order.Status
	attached    map[string]string
	confirmed   []order.Confirmation
	deleted     []string
	finalizeErr error
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		byNumber: map[string]*order.Order{},
		attached: map[string]string{},
	}
}

func (f *fakeOrders) add(o *order.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byNumber[o.Number] = o
}

func (f *fakeOrders) Quote(_ context.Context, req order.PriceRequest) (*order.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCreate.PriceRequest = req
	if f.err != nil {
		return nil, f.err
	}
	return f.draft, nil
}

func (f *fakeOrders) Create(_ context.Context, req order.CheckoutRequest) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCreate = req
	if f.err != nil {
		return nil, f.err
	}
	o := &order.Order{
		ID:          "order-1",
		Number:      "GB-20260510-ABC123",
		Customer:    req.Customer,
		Items:       f.draft.Items,
		Currency:    f.draft.Currency,
		SubtotalUSD: f.draft.SubtotalUSD,
		DiscountUSD: f.draft.DiscountUSD,
		TaxUSD:      f.draft.TaxUSD,
		TotalUSD:    f.draft.TotalUSD,
		PromoCode:   f.draft.PromoCode,
		Status:      order.StatusPending,
	}
	f.byNumber[o.Number] = o
	return o, nil
}

func (f *fakeOrders) GetByNumber(_ context.Context, number string) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byNumber[strings.ToUpper(number)]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) List(context.Context) ([]order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]order.Order, 0, len(f.byNumber))
	for _, o := range f.byNumber {
		out = append(out, *o)
	}
	slices.SortFunc(out, func(a, b order.Order) int { return strings.Compare(a.Number, b.Number) })
	return out, nil
}

func (f *fakeOrders) Update(_ context.Context, id string, patch order.Patch, status *order.Status) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPatch = patch
	f.lastStatus = status
	if f.err != nil {
		return nil, f.err
	}
	for _, o := range f.byNumber {
		if o.ID != id {
			continue
		}
		if status != nil {
			if !order.CanTransition(o.Status, *status) {
				return nil, errors.Wrap(order.ErrInvalidTransition, "fake")
			}
			o.Status = *status
		}
		if patch.Customer != nil {
			o.Customer = *patch.Customer
		}
		cp := *o
		return &cp, nil
	}
	return nil, persistence.ErrNotFound
}

func (f *fakeOrders) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.err
}

func (f *fakeOrders) AttachIntent(_ context.Context, o *order.Order, intentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached[o.Number] = intentID
	if stored, ok := f.byNumber[o.Number]; ok {
		stored.PaymentReference = intentID
	}
	return nil
}

func (f *fakeOrders) Finalize(_ context.Context, number string, conf order.Confirmation) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, conf)
	if f.finalizeErr != nil {
		return nil, f.finalizeErr
	}
	o, ok := f.byNumber[number]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	o.Status = order.StatusPaid
	cp := *o
	return &cp, nil
}

type fakePayments struct {
	mu      sync.Mutex
	intent  *payment.Intent
	err     error
	charges []payment.Charge
	keys    []string
	pk      string
}

func (f *fakePayments) CreateIntent(_ context.Context, charge payment.Charge, key string) (*payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.charges = append(f.charges, charge)
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	return f.intent, nil
}

func (f *fakePayments) Confirm(_ context.Context, intentID string) (*payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	in := *f.intent
	in.ID = intentID
	return &in, nil
}

func (f *fakePayments) PublishableKey(context.Context) (string, error) {
	if f.pk == "" {
		return "", &payment.GatewayError{Kind: payment.KindNotConfigured, Message: "publishable key is not configured"}
	}
	return f.pk, nil
}

type memSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memSettings) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", persistence.ErrNotFound
	}
	return v, nil
}

func (m *memSettings) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

type memProducts struct {
	mu      sync.Mutex
	byID    map[string]product.Product
	listErr error
}

func (m *memProducts) List(context.Context) ([]product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]product.Product, 0, len(m.byID))
	for _, p := range m.byID {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b product.Product) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *memProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &p, nil
}

func (m *memProducts) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		p, err := m.GetByID(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (m *memProducts) Create(_ context.Context, p *product.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[p.ID]; ok {
		return persistence.Conflict("create product", errors.New("duplicate id"))
	}
	m.byID[p.ID] = *p
	return nil
}

func (m *memProducts) Update(_ context.Context, p *product.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[p.ID]; !ok {
		return persistence.ErrNotFound
	}
	m.byID[p.ID] = *p
	return nil
}

type memPromos struct {
	mu     sync.Mutex
	byCode map[string]promo.Code
	// afterFind runs once the snapshot is taken, outside the lock.
	afterFind func()
}

func (m *memPromos) FindByCode(_ context.Context, code string) (*promo.Code, error) {
	m.mu.Lock()
	c, ok := m.byCode[code]
	m.mu.Unlock()
	if !ok {
		return nil, persistence.ErrNotFound
	}
	if m.afterFind != nil {
		m.afterFind()
	}
	return &c, nil
}

func (m *memPromos) List(context.Context) ([]promo.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]promo.Code, 0, len(m.byCode))
	for _, c := range m.byCode {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b promo.Code) int { return strings.Compare(a.Code, b.Code) })
	return out, nil
}

func (m *memPromos) Create(_ context.Context, c *promo.Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byCode[c.Code]; ok {
		return persistence.Conflict("create promo code", errors.New("duplicate code"))
	}
	m.byCode[c.Code] = *c
	return nil
}

func (m *memPromos) Update(_ context.Context, c *promo.Code, setUsage bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byCode[c.Code]
	if !ok {
		return persistence.ErrNotFound
	}
	if !setUsage {
		c.UsageCount = stored.UsageCount
	}
	m.byCode[c.Code] = *c
	return nil
}

func (m *memPromos) Delete(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byCode[code]; !ok {
		return persistence.ErrNotFound
	}
	delete(m.byCode, code)
	return nil
}

func (m *memPromos) Redeem(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byCode[code]
	if !ok {
		return persistence.ErrNotFound
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return promo.ErrExhausted
	}
	c.UsageCount++
	m.byCode[code] = c
	return nil
}

// --- Test environment ---

type testEnv struct {
	mux      *http.ServeMux
	orders   *fakeOrders
	payments *fakePayments
	settings *memSettings
	products *memProducts
	promos   *memPromos
	token    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, HandlerConfig{ImageBaseURL: "https://cdn.example.com"})
}

func newTestEnvWith(t *testing.T, cfg HandlerConfig) *testEnv {
	t.Helper()

	authority, err := auth.NewAuthority(auth.Config{
		Admin:  auth.Credentials{Username: "admin", Password: "s3cret"},
		Secret: testSecret,
	})
	require.NoError(t, err)

	env := &testEnv{
		orders: newFakeOrders(),
		payments: &fakePayments{
			intent: &payment.Intent{ID: "pi_123", ClientSecret: "pi_123_secret_abc", AmountMinor: 5398, Currency: "usd", Status: payment.StatusSucceeded},
			pk:     "pk_test_abc",
		},
		settings: &memSettings{values: map[string]string{}},
		products: &memProducts{byID: map[string]product.Product{
			"gift-box-classic": {ID: "gift-box-classic", Name: "Classic Gift Box", PriceUSD: decimal.RequireFromString("29.99"), Stock: 12, Status: product.StatusActive},
			"gift-box-hidden":  {ID: "gift-box-hidden", Name: "Retired Box", PriceUSD: decimal.RequireFromString("19.99"), Stock: 3, Status: product.StatusHidden},
		}},
		promos: &memPromos{byCode: map[string]promo.Code{}},
	}

	h, err := NewHandler(cfg, Deps{
		Auth:     authority,
		Orders:   env.orders,
		Payments: env.payments,
		Settings: settings.NewService(env.settings, settings.Gateway{}),
		Catalog:  product.NewCache(env.products, time.Minute, product.DefaultCatalog()),
		Products: env.products,
		Promos:   env.promos,
	})
	require.NoError(t, err)

	env.mux = http.NewServeMux()
	h.Register(env.mux)

	env.token, _, err = authority.Issue("admin", "s3cret")
	require.NoError(t, err)
	return env
}

// do sends a request through the mux. An empty token sends no Authorization
// header.
func (env *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)
	return w
}

func (env *testEnv) admin(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return env.do(t, method, path, body, env.token)
}

func forgeToken(t *testing.T, role string, expiresAt time.Time) string {
	t.Helper()
	claims := auth.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pendingOrder() *order.Order {
	return &order.Order{
		ID:          "order-1",
		Number:      "GB-20260510-ABC123",
		Customer:    order.Customer{Name: "Ada", Email: "ada@example.com"},
		Currency:    "USD",
		SubtotalUSD: d("59.98"),
		DiscountUSD: d("6.00"),
		TaxUSD:      decimal.Zero,
		TotalUSD:    d("53.98"),
		PromoCode:   "SAVE10",
		Status:      order.StatusPending,
		Items: []order.Item{
			{ID: "item-1", ProductID: "gift-box-classic", Name: "Classic Gift Box", UnitPriceUSD: d("29.99"), Quantity: 2},
		},
		CreatedAt: time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC),
	}
}
