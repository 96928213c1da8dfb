package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/giftbox/internal/domain/persistence"
	"github.com/xenking/giftbox/internal/domain/promo"
)

const (
	promoColumns = `code, kind, value, min_order_usd, expires_at, usage_limit, usage_count, active, description, created_at`

	getPromoByCodeSQL = `SELECT ` + promoColumns + ` FROM promo_codes WHERE code = $1`

	listPromosSQL = `SELECT ` + promoColumns + ` FROM promo_codes ORDER BY created_at DESC, code`

	createPromoSQL = `INSERT INTO promo_codes
		(code, kind, value, min_order_usd, expires_at, usage_limit, usage_count, active, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	updatePromoSQL = `UPDATE promo_codes
		SET kind = $2, value = $3, min_order_usd = $4, expires_at = $5, usage_limit = $6,
			usage_count = COALESCE($7, usage_count), active = $8, description = $9
		WHERE code = $1
		RETURNING usage_count`

	deletePromoSQL = `DELETE FROM promo_codes WHERE code = $1`

	// redeemPromoSQL is the only writer of usage_count on the checkout path.
	// The predicate makes the increment atomic with the limit check.
	redeemPromoSQL = `UPDATE promo_codes SET usage_count = usage_count + 1
		WHERE code = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`

	promoExistsSQL = `SELECT EXISTS (SELECT 1 FROM promo_codes WHERE code = $1)`

	// importPromoSQL never touches existing codes so re-imports keep usage.
	importPromoSQL = `INSERT INTO promo_codes
		(code, kind, value, min_order_usd, expires_at, usage_limit, usage_count, active, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code) DO NOTHING`
)

var _ promo.Repository = (*PromoRepository)(nil)

// PromoRepository implements promo.Repository backed by PostgreSQL.
type PromoRepository struct {
	pool *pgxpool.Pool
}

// NewPromoRepository returns a PromoRepository that uses the given pool.
func NewPromoRepository(pool *pgxpool.Pool) *PromoRepository {
	return &PromoRepository{pool: pool}
}

// FindByCode looks up a code. Callers pass the normalized form.
func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*promo.Code, error) {
	rows, err := r.pool.Query(ctx, getPromoByCodeSQL, code)
	if err != nil {
		return nil, classify(fmt.Sprintf("finding promo code %q", code), err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanPromo)
	if err != nil {
		return nil, classify(fmt.Sprintf("finding promo code %q", code), err)
	}
	return &c, nil
}

// List returns every code, newest first.
func (r *PromoRepository) List(ctx context.Context) ([]promo.Code, error) {
	rows, err := r.pool.Query(ctx, listPromosSQL)
	if err != nil {
		return nil, classify("listing promo codes", err)
	}
	codes, err := pgx.CollectRows(rows, scanPromo)
	if err != nil {
		return nil, classify("listing promo codes", err)
	}
	return codes, nil
}

// Create inserts a code. A duplicate code yields persistence.ErrConflict.
func (r *PromoRepository) Create(ctx context.Context, c *promo.Code) error {
	err := r.pool.QueryRow(ctx, createPromoSQL,
		c.Code, string(c.Kind), c.Value, c.MinOrderUSD, c.ExpiresAt, c.UsageLimit, c.UsageCount, c.Active, c.Description,
	).Scan(&c.CreatedAt)
	if err != nil {
		return classify(fmt.Sprintf("creating promo code %q", c.Code), err)
	}
	return nil
}

// Update overwrites a code's rule. usage_count is only written when setUsage
// is true, so redemptions committed after the caller read c are kept.
func (r *PromoRepository) Update(ctx context.Context, c *promo.Code, setUsage bool) error {
	var usage *int
	if setUsage {
		usage = &c.UsageCount
	}
	err := r.pool.QueryRow(ctx, updatePromoSQL,
		c.Code, string(c.Kind), c.Value, c.MinOrderUSD, c.ExpiresAt, c.UsageLimit, usage, c.Active, c.Description,
	).Scan(&c.UsageCount)
	if err != nil {
		return classify(fmt.Sprintf("updating promo code %q", c.Code), err)
	}
	return nil
}

// Delete removes a code.
func (r *PromoRepository) Delete(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, deletePromoSQL, code)
	if err != nil {
		return classify(fmt.Sprintf("deleting promo code %q", code), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deleting promo code %q: %w", code, persistence.ErrNotFound)
	}
	return nil
}

// Redeem consumes one use. Concurrent callers racing for the last use are
// serialized by the row lock taken by UPDATE, and the loser sees zero rows
// affected.
func (r *PromoRepository) Redeem(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, redeemPromoSQL, code)
	if err != nil {
		return classify(fmt.Sprintf("redeeming promo code %q", code), err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, promoExistsSQL, code).Scan(&exists); err != nil {
		return classify(fmt.Sprintf("redeeming promo code %q", code), err)
	}
	if !exists {
		return fmt.Errorf("redeeming promo code %q: %w", code, persistence.ErrNotFound)
	}
	return promo.ErrExhausted
}

// Import inserts codes in one batch, skipping codes that already exist, and
// returns how many were inserted.
func (r *PromoRepository) Import(ctx context.Context, codes []promo.Code) (int64, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for i := range codes {
		c := &codes[i]
		batch.Queue(importPromoSQL,
			c.Code, string(c.Kind), c.Value, c.MinOrderUSD, c.ExpiresAt, c.UsageLimit, c.UsageCount, c.Active, c.Description,
		)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	var inserted int64
	for i := range codes {
		tag, err := results.Exec()
		if err != nil {
			return inserted, classify(fmt.Sprintf("importing promo code %q", codes[i].Code), err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func scanPromo(row pgx.CollectableRow) (promo.Code, error) {
	var (
		c    promo.Code
		kind string
	)
	err := row.Scan(
		&c.Code, &kind, &c.Value, &c.MinOrderUSD, &c.ExpiresAt,
		&c.UsageLimit, &c.UsageCount, &c.Active, &c.Description, &c.CreatedAt,
	)
	c.Kind = promo.Kind(kind)
	return c, err
}
