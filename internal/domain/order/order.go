package order

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Status is an order lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFulfilled Status = "fulfilled"
	StatusCanceled  Status = "canceled"
	StatusRefunded  Status = "refunded"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusCanceled},
	StatusPaid:    {StatusFulfilled, StatusRefunded},
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return len(transitions[s]) == 0 }

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusFulfilled, StatusCanceled, StatusRefunded:
		return true
	}
	return false
}

// Customer is the contact info captured at checkout.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// Address is a shipping address.
type Address struct {
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// Item is an order line. Name and unit price are captured at purchase time
// and never change afterwards.
type Item struct {
	ID           string
	ProductID    string
	Name         string
	UnitPriceUSD decimal.Decimal
	Quantity     int
}

// TotalUSD returns unit price × quantity.
func (i Item) TotalUSD() decimal.Decimal {
	return i.UnitPriceUSD.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is a placed order. Pricing fields are frozen at creation.
type Order struct {
	ID              string
	Number          string
	Customer        Customer
	ShippingAddress Address
	Items           []Item

	Currency     string
	ExchangeRate decimal.NullDecimal
	SubtotalUSD  decimal.Decimal
	DiscountUSD  decimal.Decimal
	TaxUSD       decimal.Decimal
	TotalUSD     decimal.Decimal
	DisplayTotal decimal.NullDecimal
	PromoCode    string

	PaymentMethod    string
	PaymentReference string
	Status           Status

	PromoRedeemed bool
	EmailSent     bool
	Notified      bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Flag is a once-only side effect claimed on an order.
type Flag string

const (
	FlagPromoRedeemed Flag = "promo_redeemed"
	FlagEmailSent     Flag = "email_sent"
	FlagNotified      Flag = "notified"
)

// Patch holds admin corrections. Nil fields are left untouched. Pricing
// fields are deliberately absent.
type Patch struct {
	Customer        *Customer
	ShippingAddress *Address
	PaymentMethod   *string
}

// Repository persists orders. Lookups of unknown orders return
// persistence.ErrNotFound.
type Repository interface {
	// Create stores the order and its items. A duplicate order number
	// yields persistence.ErrConflict.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	List(ctx context.Context) ([]Order, error)
	Update(ctx context.Context, id string, p Patch) error
	Delete(ctx context.Context, id string) error
	SetPaymentReference(ctx context.Context, id, ref string) error

	// MarkPaid moves a pending order to paid and decrements stock for every
	// item in one transaction. It returns an OutOfStock *ValidationError
	// when any line cannot be covered and persistence.ErrConflict when the
	// order is no longer pending.
	MarkPaid(ctx context.Context, id string, items []Item) error
	// Transition moves the order from one status to another only if it is
	// still in from. It returns persistence.ErrConflict otherwise.
	Transition(ctx context.Context, id string, from, to Status) error

	// Claim sets flag if it is unset and reports whether this call set it.
	Claim(ctx context.Context, id string, flag Flag) (bool, error)
	// Release clears a flag claimed by a side effect that then failed.
	Release(ctx context.Context, id string, flag Flag) error
}
