// Package postgres opens the relational backends and scopes transactions to a
// tenant for row-level security.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"olympus/internal/platform/config"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/tx"
)

// Open returns a database/sql handle on lib/pq for the transactional stores.
func Open(ctx context.Context, cfg config.Postgres) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// OpenPool returns a pgx pool for the event ledger and dead-letter stores.
func OpenPool(ctx context.Context, cfg config.Postgres) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	if cfg.PoolMaxConns > 0 {
		poolCfg.MaxConns = cfg.PoolMaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pgx pool: %w", err)
	}
	return pool, nil
}

// RunInTenant runs fn in a transaction (joining one already in ctx) with
// app.current_tenant_id set for the rest of that transaction.
func RunInTenant(ctx context.Context, db *sql.DB, tenantID id.TenantID, fn func(ctx context.Context) error) error {
	return tx.Run(ctx, db, func(ctx context.Context) error {
		if err := SetTenantScope(ctx, tx.Exec(ctx, db), tenantID); err != nil {
			return err
		}
		return fn(ctx)
	})
}

// SetTenantScope sets the RLS tenant for the current transaction.
func SetTenantScope(ctx context.Context, exec tx.Executor, tenantID id.TenantID) error {
	if _, err := exec.ExecContext(ctx, `SELECT set_config('app.current_tenant_id', $1, true)`, tenantID.String()); err != nil {
		return fmt.Errorf("set tenant scope: %w", err)
	}
	return nil
}

// IsUniqueViolation reports a unique constraint failure from either driver.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
