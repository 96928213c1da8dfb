package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/giftbox/internal/domain/auth"
	"github.com/xenking/giftbox/internal/domain/order"
	"github.com/xenking/giftbox/internal/domain/payment"
	"github.com/xenking/giftbox/internal/domain/persistence"
	"github.com/xenking/giftbox/internal/domain/product"
	"github.com/xenking/giftbox/internal/domain/promo"
	"github.com/xenking/giftbox/internal/domain/settings"
)

var authErrors = []error{
	auth.ErrExpired,
	auth.ErrForbidden,
	auth.ErrMalformed,
	auth.ErrMissing,
	auth.ErrInvalidCredentials,
}

// errorStatus maps a domain error to an HTTP status and a message that is
// safe to return to the caller.
func errorStatus(err error) (int, string) {
	var (
		ve *order.ValidationError
		ge *payment.GatewayError
	)
	switch {
	case auth.IsAuthError(err):
		for _, target := range authErrors {
			if errors.Is(err, target) {
				return http.StatusUnauthorized, target.Error()
			}
		}
		return http.StatusUnauthorized, auth.ErrMalformed.Error()
	case errors.As(err, &ve):
		if ve.Reason == order.ReasonOutOfStock {
			return http.StatusConflict, ve.Message
		}
		return http.StatusBadRequest, ve.Message
	case errors.As(err, &ge):
		switch ge.Kind {
		case payment.KindNotConfigured:
			return http.StatusServiceUnavailable, ge.Error()
		case payment.KindRejected:
			return http.StatusPaymentRequired, ge.Error()
		default:
			return http.StatusGatewayTimeout, ge.Error()
		}
	case errors.Is(err, settings.ErrInvalidKey),
		errors.Is(err, product.ErrInvalid),
		errors.Is(err, promo.ErrInvalidRule),
		errors.Is(err, payment.ErrMissingKey):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrPaymentUnverified):
		return http.StatusConflict, err.Error()
	case errors.Is(err, promo.ErrExhausted):
		return http.StatusConflict, promo.ErrExhausted.Error()
	case errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, persistence.ErrConflict):
		return http.StatusConflict, "conflicting update, retry the request"
	case errors.Is(err, persistence.ErrUnavailable):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("error")
		e.Str(message)
		e.ObjEnd()
	})
}

// fail logs err and writes the mapped error response.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := errorStatus(err)
	lg := zctx.From(r.Context())
	if status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.Int("status", status), zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, message)
}
