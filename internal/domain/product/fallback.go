package product

import "github.com/shopspring/decimal"

// DefaultCatalog is the static catalog served when the store is unreachable.
// Stock is reported as zero so nothing can be oversold from it.
func DefaultCatalog() []Product {
	return []Product{
		{ID: "gift-box-classic", Name: "Classic Gift Box", PriceUSD: decimal.RequireFromString("29.99"), Status: StatusActive},
		{ID: "gift-box-deluxe", Name: "Deluxe Gift Box", PriceUSD: decimal.RequireFromString("49.99"), Status: StatusActive},
		{ID: "gift-box-premium", Name: "Premium Gift Box", PriceUSD: decimal.RequireFromString("89.99"), Status: StatusActive},
		{ID: "greeting-card", Name: "Greeting Card", PriceUSD: decimal.RequireFromString("4.99"), Status: StatusActive},
	}
}
