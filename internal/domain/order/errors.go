package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Reason classifies a caller-correctable validation failure.
type Reason string

const (
	ReasonEmptyCart     Reason = "empty_cart"
	ReasonOutOfStock    Reason = "out_of_stock"
	ReasonInvalidAmount Reason = "invalid_amount"
	ReasonBadFormat     Reason = "bad_format"
)

// ValidationError is returned for input the caller can fix. It is never
// retried automatically.
type ValidationError struct {
	Reason    Reason
	Message   string
	ProductID string
}

func (e *ValidationError) Error() string { return e.Message }

// Is matches any *ValidationError with the same Reason.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Reason == e.Reason
}

// Sentinels for errors.Is checks by reason.
var (
	ErrEmptyCart     = &ValidationError{Reason: ReasonEmptyCart, Message: "cart is empty"}
	ErrOutOfStock    = &ValidationError{Reason: ReasonOutOfStock, Message: "out of stock"}
	ErrInvalidAmount = &ValidationError{Reason: ReasonInvalidAmount, Message: "invalid amount"}
	ErrBadFormat     = &ValidationError{Reason: ReasonBadFormat, Message: "bad format"}
)

// BadFormat returns a BadFormat error with a formatted message.
func BadFormat(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: ReasonBadFormat, Message: fmt.Sprintf(format, args...)}
}

// OutOfStock returns an OutOfStock error for productID.
func OutOfStock(productID string) *ValidationError {
	return &ValidationError{
		Reason:    ReasonOutOfStock,
		Message:   fmt.Sprintf("insufficient stock for product %s", productID),
		ProductID: productID,
	}
}

// InvalidAmount returns an InvalidAmount error with a formatted message.
func InvalidAmount(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: ReasonInvalidAmount, Message: fmt.Sprintf(format, args...)}
}

var (
	// ErrInvalidTransition is returned when the lifecycle forbids a status
	// change.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrPaymentUnverified is returned when a confirmation does not match
	// the order or the payment has not succeeded.
	ErrPaymentUnverified = errors.New("payment not verified")
)
