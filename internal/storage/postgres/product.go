package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/giftbox/internal/domain/product"
)

const (
	productColumns = `id, name, description, price_usd, stock, status, image_url, updated_at`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY id`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	createProductSQL = `INSERT INTO products (id, name, description, price_usd, stock, status, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING updated_at`

	updateProductSQL = `UPDATE products
		SET name = $2, description = $3, price_usd = $4, stock = $5, status = $6, image_url = $7, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	upsertProductSQL = `INSERT INTO products (id, name, description, price_usd, stock, status, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, description = EXCLUDED.description, price_usd = EXCLUDED.price_usd,
			stock = EXCLUDED.stock, status = EXCLUDED.status, image_url = EXCLUDED.image_url, updated_at = now()
		RETURNING updated_at`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all products, hidden ones included, ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, classify("listing products", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, classify("listing products", err)
	}
	return products, nil
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, classify(fmt.Sprintf("getting product %q", id), err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		return nil, classify(fmt.Sprintf("getting product %q", id), err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs. Unknown IDs are
// skipped.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, classify("getting products by ids", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, classify("getting products by ids", err)
	}
	return products, nil
}

// Create inserts a product. A duplicate ID yields persistence.ErrConflict.
func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	err := r.pool.QueryRow(ctx, createProductSQL,
		p.ID, p.Name, p.Description, p.PriceUSD, p.Stock, string(p.Status), p.ImageURL,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return classify(fmt.Sprintf("creating product %q", p.ID), err)
	}
	return nil
}

// Update overwrites the editable fields of a product.
func (r *ProductRepository) Update(ctx context.Context, p *product.Product) error {
	err := r.pool.QueryRow(ctx, updateProductSQL,
		p.ID, p.Name, p.Description, p.PriceUSD, p.Stock, string(p.Status), p.ImageURL,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return classify(fmt.Sprintf("updating product %q", p.ID), err)
	}
	return nil
}

// Upsert inserts p or overwrites the stored product with the same ID.
func (r *ProductRepository) Upsert(ctx context.Context, p *product.Product) error {
	err := r.pool.QueryRow(ctx, upsertProductSQL,
		p.ID, p.Name, p.Description, p.PriceUSD, p.Stock, string(p.Status), p.ImageURL,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return classify(fmt.Sprintf("upserting product %q", p.ID), err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p      product.Product
		status string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.PriceUSD, &p.Stock, &status, &p.ImageURL, &p.UpdatedAt)
	p.Status = product.Status(status)
	return p, err
}

