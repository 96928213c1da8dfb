package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminRoutes_RequireToken(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	tests := []struct {
		name    string
		header  string
		status  int
		message string
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized, message: "Authorization required"},
		{name: "wrong scheme", header: "Basic YWRtaW46czNjcmV0", status: http.StatusUnauthorized, message: "Invalid token"},
		{name: "garbage", header: "Bearer not-a-token", status: http.StatusUnauthorized, message: "Invalid token"},
		{name: "expired", header: "Bearer " + forgeToken(t, "admin", now.Add(-1000*time.Second)), status: http.StatusUnauthorized, message: "Token expired"},
		{name: "expired with other role", header: "Bearer " + forgeToken(t, "viewer", now.Add(-1000*time.Second)), status: http.StatusUnauthorized, message: "Token expired"},
		{name: "wrong role", header: "Bearer " + forgeToken(t, "viewer", now.Add(time.Hour)), status: http.StatusUnauthorized, message: "Insufficient permissions"},
		{name: "valid", header: "Bearer " + env.token, status: http.StatusOK},
	}

	paths := []struct{ method, path string }{
		{http.MethodGet, "/admin/orders"},
		{http.MethodGet, "/admin/promo-codes"},
		{http.MethodGet, "/admin/gateway-settings"},
		{http.MethodGet, "/admin/products"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, p := range paths {
				req, err := http.NewRequest(p.method, p.path, nil)
				require.NoError(t, err)
				if tt.header != "" {
					req.Header.Set("Authorization", tt.header)
				}
				w := httptest.NewRecorder()
				env.mux.ServeHTTP(w, req)

				assert.Equal(t, tt.status, w.Code, p.path)
				if tt.message != "" {
					assert.JSONEq(t, `{"error":"`+tt.message+`"}`, w.Body.String(), p.path)
				}
			}
		})
	}
}

func TestAdminRoutes_ExpiredTokenNeverReachesHandler(t *testing.T) {
	env := newTestEnv(t)
	env.orders.add(pendingOrder())
	expired := forgeToken(t, "admin", time.Now().Add(-1000*time.Second))

	w := env.do(t, http.MethodDelete, "/admin/orders/order-1", "", expired)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Token expired"}`, w.Body.String())
	assert.Empty(t, env.orders.deleted)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	t.Run("valid credentials", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/admin/login", `{"username":"admin","password":"s3cret"}`, "")
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Token     string `json:"token"`
			ExpiresAt string `json:"expiresAt"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.NotEmpty(t, body.Token)
		assert.NotEmpty(t, body.ExpiresAt)

		// The issued token opens admin routes.
		w = env.do(t, http.MethodGet, "/admin/orders", "", body.Token)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("wrong password", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/admin/login", `{"username":"admin","password":"nope"}`, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"Invalid credentials"}`, w.Body.String())
	})

	t.Run("malformed body", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/admin/login", `{"username":`, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("empty body", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/admin/login", "", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"request body is required"}`, w.Body.String())
	})
}

func TestLogin_RateLimited(t *testing.T) {
	calls := 0
	env := newTestEnvWith(t, HandlerConfig{
		LoginLimit: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				if calls > 1 {
					writeError(w, http.StatusTooManyRequests, "Too many requests, try again later")
					return
				}
				next.ServeHTTP(w, r)
			})
		},
	})

	body := `{"username":"admin","password":"s3cret"}`
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/admin/login", body, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodPost, "/admin/login", body, "").Code)

	// Other routes are not limited.
	for range 3 {
		assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/storefront/products", "", "").Code)
	}
}

func TestNewHandler_RequiresDeps(t *testing.T) {
	_, err := NewHandler(HandlerConfig{}, Deps{})
	require.Error(t, err)
}
