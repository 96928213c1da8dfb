package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/giftbox/internal/domain/auth"
)

// requireAdmin rejects requests without a valid admin bearer token before
// they reach next.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			fail(w, r, err)
			return
		}
		claims, err := h.auth.Verify(token)
		if err != nil {
			fail(w, r, err)
			return
		}
		ctx := zctx.With(r.Context(), zap.String("admin", claims.Identity()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Login exchanges the administrator credentials for a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var username, password string
	if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "username":
			username, err = decodeString(d)
		case "password":
			password, err = decodeString(d)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		fail(w, r, err)
		return
	}

	token, expiresAt, err := h.auth.Issue(username, password)
	if err != nil {
		zctx.From(r.Context()).Warn("Admin login failed", zap.String("username", username))
		fail(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Admin logged in", zap.String("username", username))

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("token")
		e.Str(token)
		e.FieldStart("expiresAt")
		e.Str(expiresAt.UTC().Format(timeLayout))
		e.ObjEnd()
	})
}
