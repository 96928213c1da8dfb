// Package settings holds runtime-editable storefront settings: the payment
// gateway credential pair and the promo-code field toggle.
package settings

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
)

// Keys under which settings are stored.
const (
	KeyGatewaySecret      = "gateway.secret_key"
	KeyGatewayPublishable = "gateway.publishable_key"
	KeyPromoEnabled       = "storefront.promo_enabled"
)

// ErrInvalidKey is returned when a credential does not have the expected
// format.
var ErrInvalidKey = errors.New("invalid gateway key")

// Repository is a string key/value store for settings. Get returns
// persistence.ErrNotFound for unset keys.
type Repository interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
}

// Gateway is the payment gateway credential pair. SecretKey is only ever
// used server-side.
type Gateway struct {
	SecretKey      string
	PublishableKey string
}

// Configured reports whether a secret key is present.
func (g Gateway) Configured() bool { return g.SecretKey != "" }

// Mode returns "test" or "live" based on the secret key prefix, or "" when
// unknown.
func (g Gateway) Mode() string {
	mode, _ := keyMode(g.SecretKey, "sk_")
	return mode
}

// SecretHint returns a redacted form of the secret key that is safe to show
// in the admin UI.
func (g Gateway) SecretHint() string {
	if g.SecretKey == "" {
		return ""
	}
	mode, ok := keyMode(g.SecretKey, "sk_")
	if !ok {
		return "****"
	}
	body := strings.TrimPrefix(g.SecretKey, "sk_"+mode+"_")
	if len(body) <= 8 {
		return "sk_" + mode + "_****"
	}
	return "sk_" + mode + "_****" + body[len(body)-4:]
}

// ValidateKeys checks the key-format prefixes: the secret key must start with
// sk_test_ or sk_live_, the publishable key with pk_test_ or pk_live_, and
// both must be for the same mode. Empty values are not accepted.
func ValidateKeys(g Gateway) error {
	secretMode, ok := keyMode(g.SecretKey, "sk_")
	if !ok {
		return errors.Wrap(ErrInvalidKey, "secret key must start with sk_test_ or sk_live_")
	}
	publishableMode, ok := keyMode(g.PublishableKey, "pk_")
	if !ok {
		return errors.Wrap(ErrInvalidKey, "publishable key must start with pk_test_ or pk_live_")
	}
	if secretMode != publishableMode {
		return errors.Wrapf(ErrInvalidKey, "secret key is %s mode but publishable key is %s mode", secretMode, publishableMode)
	}
	return nil
}

func keyMode(key, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return "", false
	}
	for _, mode := range []string{"test", "live"} {
		if body, ok := strings.CutPrefix(rest, mode+"_"); ok && body != "" {
			return mode, true
		}
	}
	return "", false
}
