package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status controls storefront visibility.
type Status string

const (
	StatusActive Status = "active"
	StatusHidden Status = "hidden"
)

// ErrInvalid is returned for products that violate catalog invariants.
var ErrInvalid = errors.New("invalid product")

// Product represents a catalog item available for purchase.
type Product struct {
	ID          string
	Name        string
	Description string
	// PriceUSD is the canonical price; display prices are derived from it.
	PriceUSD  decimal.Decimal
	Stock     int
	Status    Status
	ImageURL  string
	UpdatedAt time.Time
}

// Purchasable reports whether the product can be added to a cart.
func (p *Product) Purchasable() bool { return p.Status == StatusActive }

// Repository defines operations for the product catalog. Lookups of unknown
// IDs return persistence.ErrNotFound.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	Create(ctx context.Context, p *Product) error
	Update(ctx context.Context, p *Product) error
}

// Validate checks the catalog invariants: price and stock are non-negative
// and the status is known.
func Validate(p *Product) error {
	if p.ID == "" {
		return errors.Wrap(ErrInvalid, "id is required")
	}
	if p.Name == "" {
		return errors.Wrap(ErrInvalid, "name is required")
	}
	if p.PriceUSD.IsNegative() {
		return errors.Wrap(ErrInvalid, "price cannot be negative")
	}
	if p.Stock < 0 {
		return errors.Wrap(ErrInvalid, "stock cannot be negative")
	}
	switch p.Status {
	case StatusActive, StatusHidden:
	default:
		return errors.Wrapf(ErrInvalid, "unknown status %q", p.Status)
	}
	return nil
}
