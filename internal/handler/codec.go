package handler

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/giftbox/internal/domain/money"
	"github.com/xenking/giftbox/internal/domain/order"
)

const (
	maxBodySize = 1 << 20
	timeLayout  = time.RFC3339
)

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("success")
		e.Bool(true)
		e.ObjEnd()
	})
}

// decodeObject reads the request body as one JSON object, calling field for
// every key. Malformed input is reported as a BadFormat validation error.
func decodeObject(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return order.BadFormat("request body is too large or unreadable")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return order.BadFormat("request body is required")
	}
	if err := jx.DecodeBytes(body).Obj(field); err != nil {
		var ve *order.ValidationError
		if errors.As(err, &ve) {
			return ve
		}
		return order.BadFormat("invalid JSON body")
	}
	return nil
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder, name string) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = n.String()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = s
	default:
		return decimal.Decimal{}, order.BadFormat("%s must be a number", name)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, order.BadFormat("%s must be a number", name)
	}
	return v, nil
}

// decodeString reads a string, treating null as empty.
func decodeString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func decodeInt(d *jx.Decoder, name string) (int, error) {
	if d.Next() != jx.Number {
		return 0, order.BadFormat("%s must be an integer", name)
	}
	v, err := d.Int()
	if err != nil {
		return 0, order.BadFormat("%s must be an integer", name)
	}
	return v, nil
}

func encodeMoney(e *jx.Encoder, v decimal.Decimal) {
	e.Raw([]byte(v.StringFixed(money.MinorUnits)))
}
