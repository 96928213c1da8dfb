// Package notify delivers paid-order notifications: customer confirmation
// email jobs over RabbitMQ and a text message to the ops channel webhook.
package notify

import (
	"fmt"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/giftbox/internal/domain/money"
	"github.com/xenking/giftbox/internal/domain/order"
)

// encodeEmailJob renders the payload consumed by the mail worker.
func encodeEmailJob(o *order.Order) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("template")
	e.Str("order_confirmation")
	e.FieldStart("to")
	e.Str(o.Customer.Email)
	e.FieldStart("order_number")
	e.Str(o.Number)
	e.FieldStart("customer_name")
	e.Str(o.Customer.Name)
	e.FieldStart("subtotal_usd")
	e.Str(o.SubtotalUSD.StringFixed(money.MinorUnits))
	e.FieldStart("discount_usd")
	e.Str(o.DiscountUSD.StringFixed(money.MinorUnits))
	e.FieldStart("tax_usd")
	e.Str(o.TaxUSD.StringFixed(money.MinorUnits))
	e.FieldStart("total_usd")
	e.Str(o.TotalUSD.StringFixed(money.MinorUnits))
	e.FieldStart("currency")
	e.Str(o.Currency)
	if o.DisplayTotal.Valid {
		e.FieldStart("display_total")
		e.Str(o.DisplayTotal.Decimal.StringFixed(money.MinorUnits))
	}
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unit_price_usd")
		e.Str(it.UnitPriceUSD.StringFixed(money.MinorUnits))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
	return e.Bytes()
}

// opsText is the one-line summary posted to the ops channel.
func opsText(o *order.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New paid order %s: $%s", o.Number, o.TotalUSD.StringFixed(money.MinorUnits))
	if o.DisplayTotal.Valid {
		fmt.Fprintf(&b, " (%s %s)", o.DisplayTotal.Decimal.StringFixed(money.MinorUnits), o.Currency)
	}
	fmt.Fprintf(&b, " from %s", o.Customer.Name)
	if o.PromoCode != "" {
		fmt.Fprintf(&b, ", promo %s", o.PromoCode)
	}
	items := make([]string, len(o.Items))
	for i, it := range o.Items {
		items[i] = fmt.Sprintf("%d× %s", it.Quantity, it.Name)
	}
	if len(items) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(items, ", "))
	}
	return b.String()
}
