package payment

import (
	"regexp"

	"github.com/go-faster/errors"
)

// Kind classifies a gateway failure.
type Kind string

const (
	// KindNotConfigured means no secret key is available. No network call
	// is made.
	KindNotConfigured Kind = "not_configured"
	// KindRejected is a definitive non-success answer. It is never retried.
	KindRejected Kind = "rejected"
	// KindTimeout is a transient transport failure. It is retried once with
	// the same idempotency key.
	KindTimeout Kind = "timeout"
)

// GatewayError is a classified gateway failure. Message is safe to return
// to clients.
type GatewayError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "payment gateway " + string(e.Kind)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Is matches any *GatewayError of the same Kind.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is checks by kind.
var (
	ErrNotConfigured = &GatewayError{Kind: KindNotConfigured, Message: "payment gateway is not configured"}
	ErrRejected      = &GatewayError{Kind: KindRejected, Message: "payment rejected"}
	ErrTimeout       = &GatewayError{Kind: KindTimeout, Message: "payment gateway timed out"}
)

// ErrMissingKey is returned when no idempotency key is supplied.
var ErrMissingKey = errors.New("idempotency key is required")

// Rejected returns a KindRejected error carrying the gateway's message with
// any credential material removed.
func Rejected(message string, err error) *GatewayError {
	if message == "" {
		message = ErrRejected.Message
	}
	return &GatewayError{Kind: KindRejected, Message: Redact(message), Err: err}
}

// Timeout returns a KindTimeout error wrapping err.
func Timeout(err error) *GatewayError {
	return &GatewayError{Kind: KindTimeout, Message: ErrTimeout.Message, Err: err}
}

var keyPattern = regexp.MustCompile(`\b(sk|rk|pk)_(test|live)_[A-Za-z0-9*]+`)

// Redact masks anything that looks like a gateway API key.
func Redact(s string) string {
	return keyPattern.ReplaceAllString(s, "${1}_${2}_****")
}
