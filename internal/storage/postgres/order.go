package postgres

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/giftbox/internal/domain/order"
	"github.com/xenking/giftbox/internal/domain/persistence"
)

const (
	orderColumns = `id, order_number, customer_name, customer_email, customer_phone,
		ship_line1, ship_line2, ship_city, ship_region, ship_postal_code, ship_country,
		currency, exchange_rate, subtotal_usd, discount_usd, tax_usd, total_usd, display_total,
		promo_code, payment_method, payment_reference, status,
		promo_redeemed, email_sent, notified, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, $27)`

	createOrderItemSQL = `INSERT INTO order_items
		(id, order_id, product_id, product_name, unit_price_usd, quantity, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByNumberSQL = `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC`

	listOrderItemsSQL = `SELECT id, order_id, product_id, product_name, unit_price_usd, quantity
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`

	updateOrderSQL = `UPDATE orders SET
		customer_name = COALESCE($2, customer_name),
		customer_email = COALESCE($3, customer_email),
		customer_phone = COALESCE($4, customer_phone),
		ship_line1 = COALESCE($5, ship_line1),
		ship_line2 = COALESCE($6, ship_line2),
		ship_city = COALESCE($7, ship_city),
		ship_region = COALESCE($8, ship_region),
		ship_postal_code = COALESCE($9, ship_postal_code),
		ship_country = COALESCE($10, ship_country),
		payment_method = COALESCE($11, payment_method),
		updated_at = now()
		WHERE id = $1`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`

	setPaymentReferenceSQL = `UPDATE orders SET payment_reference = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'`

	transitionOrderSQL = `UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`

	decrementStockSQL = `UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

// flagColumns whitelists the claimable columns; flag names never reach SQL
// unchecked.
var flagColumns = map[order.Flag]string{
	order.FlagPromoRedeemed: "promo_redeemed",
	order.FlagEmailSent:     "email_sent",
	order.FlagNotified:      "notified",
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order and its items in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createOrderSQL,
			o.ID, o.Number, o.Customer.Name, o.Customer.Email, o.Customer.Phone,
			o.ShippingAddress.Line1, o.ShippingAddress.Line2, o.ShippingAddress.City,
			o.ShippingAddress.Region, o.ShippingAddress.PostalCode, o.ShippingAddress.Country,
			o.Currency, o.ExchangeRate, o.SubtotalUSD, o.DiscountUSD, o.TaxUSD, o.TotalUSD, o.DisplayTotal,
			o.PromoCode, o.PaymentMethod, o.PaymentReference, string(o.Status),
			o.PromoRedeemed, o.EmailSent, o.Notified, o.CreatedAt, o.UpdatedAt,
		); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, it := range o.Items {
			batch.Queue(createOrderItemSQL, it.ID, o.ID, it.ProductID, it.Name, it.UnitPriceUSD, it.Quantity, i)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return classify(fmt.Sprintf("creating order %q", o.Number), err)
	}
	return nil
}

// GetByID returns an order with its items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, fmt.Sprintf("getting order %q", id), getOrderByIDSQL, id)
}

// GetByNumber returns an order with its items by order number.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	return r.getOne(ctx, fmt.Sprintf("getting order %q", number), getOrderByNumberSQL, number)
}

func (r *OrderRepository) getOne(ctx context.Context, op, query string, arg any) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, classify(op, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		return nil, classify(op, err)
	}
	orders := []order.Order{o}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, classify(op, err)
	}
	return &orders[0], nil
}

// List returns all orders with their items, newest first.
func (r *OrderRepository) List(ctx context.Context) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL)
	if err != nil {
		return nil, classify("listing orders", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, classify("listing orders", err)
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, classify("listing orders", err)
	}
	return orders, nil
}

func (r *OrderRepository) attachItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := r.pool.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it      order.Item
			orderID string
		)
		if err := rows.Scan(&it.ID, &orderID, &it.ProductID, &it.Name, &it.UnitPriceUSD, &it.Quantity); err != nil {
			return err
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return rows.Err()
}

// Update applies admin corrections to contact and payment method fields.
func (r *OrderRepository) Update(ctx context.Context, id string, p order.Patch) error {
	var (
		name, email, phone                              *string
		line1, line2, city, region, postalCode, country *string
	)
	if c := p.Customer; c != nil {
		name, email, phone = &c.Name, &c.Email, &c.Phone
	}
	if a := p.ShippingAddress; a != nil {
		line1, line2, city, region, postalCode, country = &a.Line1, &a.Line2, &a.City, &a.Region, &a.PostalCode, &a.Country
	}

	tag, err := r.pool.Exec(ctx, updateOrderSQL, id,
		name, email, phone, line1, line2, city, region, postalCode, country, p.PaymentMethod,
	)
	if err != nil {
		return classify(fmt.Sprintf("updating order %q", id), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating order %q: %w", id, persistence.ErrNotFound)
	}
	return nil
}

// Delete removes an order and, through the foreign key, its items.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return classify(fmt.Sprintf("deleting order %q", id), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deleting order %q: %w", id, persistence.ErrNotFound)
	}
	return nil
}

// SetPaymentReference records the gateway intent on a pending order.
func (r *OrderRepository) SetPaymentReference(ctx context.Context, id, ref string) error {
	tag, err := r.pool.Exec(ctx, setPaymentReferenceSQL, id, ref)
	if err != nil {
		return classify(fmt.Sprintf("setting payment reference on %q", id), err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, fmt.Sprintf("setting payment reference on %q", id), id)
	}
	return nil
}

// MarkPaid moves a pending order to paid and decrements stock in a single
// transaction. Lines are processed in product ID order so two concurrent
// finalizations lock product rows in the same sequence.
func (r *OrderRepository) MarkPaid(ctx context.Context, id string, items []order.Item) error {
	op := fmt.Sprintf("marking order %q paid", id)
	lines := slices.Clone(items)
	slices.SortFunc(lines, func(a, b order.Item) int { return strings.Compare(a.ProductID, b.ProductID) })

	var stockErr error
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, transitionOrderSQL, id, string(order.StatusPending), string(order.StatusPaid))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errNotPending
		}
		for _, it := range lines {
			tag, err := tx.Exec(ctx, decrementStockSQL, it.ProductID, it.Quantity)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				stockErr = order.OutOfStock(it.ProductID)
				return stockErr
			}
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case stockErr != nil:
		return stockErr
	case errors.Is(err, errNotPending):
		return r.missingOrConflict(ctx, op, id)
	default:
		return classify(op, err)
	}
}

// Transition performs a compare-and-set on the order status.
func (r *OrderRepository) Transition(ctx context.Context, id string, from, to order.Status) error {
	op := fmt.Sprintf("moving order %q from %s to %s", id, from, to)
	tag, err := r.pool.Exec(ctx, transitionOrderSQL, id, string(from), string(to))
	if err != nil {
		return classify(op, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, op, id)
	}
	return nil
}

// Claim sets flag only if it is still unset.
func (r *OrderRepository) Claim(ctx context.Context, id string, flag order.Flag) (bool, error) {
	col, ok := flagColumns[flag]
	if !ok {
		return false, fmt.Errorf("unknown order flag %q", flag)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET `+col+` = TRUE, updated_at = now() WHERE id = $1 AND NOT `+col, id)
	if err != nil {
		return false, classify(fmt.Sprintf("claiming %s on %q", flag, id), err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release clears flag.
func (r *OrderRepository) Release(ctx context.Context, id string, flag order.Flag) error {
	col, ok := flagColumns[flag]
	if !ok {
		return fmt.Errorf("unknown order flag %q", flag)
	}
	if _, err := r.pool.Exec(ctx,
		`UPDATE orders SET `+col+` = FALSE, updated_at = now() WHERE id = $1`, id); err != nil {
		return classify(fmt.Sprintf("releasing %s on %q", flag, id), err)
	}
	return nil
}

var errNotPending = errors.New("order is not pending")

func (r *OrderRepository) missingOrConflict(ctx context.Context, op, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return classify(op, err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", op, persistence.ErrNotFound)
	}
	return persistence.Conflict(op, errors.New("order status changed"))
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&o.ShippingAddress.Line1, &o.ShippingAddress.Line2, &o.ShippingAddress.City,
		&o.ShippingAddress.Region, &o.ShippingAddress.PostalCode, &o.ShippingAddress.Country,
		&o.Currency, &o.ExchangeRate, &o.SubtotalUSD, &o.DiscountUSD, &o.TaxUSD, &o.TotalUSD, &o.DisplayTotal,
		&o.PromoCode, &o.PaymentMethod, &o.PaymentReference, &status,
		&o.PromoRedeemed, &o.EmailSent, &o.Notified, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	return o, err
}
