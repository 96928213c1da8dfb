// Package postgres implements the domain repositories on PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"net"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/giftbox/db"
	"github.com/xenking/giftbox/internal/domain/persistence"
)

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	return pool, nil
}

// RunMigrations applies the embedded schema. It is idempotent and must be
// awaited before the server starts accepting requests.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, db.Schema); err != nil {
		return classify("running migrations", err)
	}
	return nil
}

const (
	codeInvalidText          = "22P02"
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
)

// classify maps driver errors onto the persistence vocabulary.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrap(persistence.ErrNotFound, op)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeInvalidText:
			// A malformed identifier cannot match any row.
			return errors.Wrap(persistence.ErrNotFound, op)
		case codeUniqueViolation, codeSerializationFailure, codeDeadlockDetected:
			return persistence.Conflict(op, err)
		case codeAdminShutdown, codeCannotConnectNow:
			return persistence.Unavailable(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var (
		connErr *pgconn.ConnectError
		netErr  net.Error
	)
	if errors.As(err, &connErr) || errors.As(err, &netErr) ||
		pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return persistence.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
