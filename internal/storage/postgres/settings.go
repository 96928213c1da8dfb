package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/giftbox/internal/domain/settings"
)

const (
	getSettingSQL = `SELECT value FROM settings WHERE key = $1`

	putSettingSQL = `INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
)

var _ settings.Repository = (*SettingsRepository)(nil)

// SettingsRepository implements settings.Repository backed by PostgreSQL.
type SettingsRepository struct {
	pool *pgxpool.Pool
}

// NewSettingsRepository returns a SettingsRepository that uses the given pool.
func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// Get returns the value stored under key.
func (r *SettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var v string
	if err := r.pool.QueryRow(ctx, getSettingSQL, key).Scan(&v); err != nil {
		return "", classify(fmt.Sprintf("getting setting %q", key), err)
	}
	return v, nil
}

// Put upserts key.
func (r *SettingsRepository) Put(ctx context.Context, key, value string) error {
	if _, err := r.pool.Exec(ctx, putSettingSQL, key, value); err != nil {
		return classify(fmt.Sprintf("putting setting %q", key), err)
	}
	return nil
}
