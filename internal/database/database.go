// Package database manages the PostgreSQL pool behind the durable cost ledger.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationLockID scopes the advisory lock to this application.
const migrationLockID int64 = 0x434C_4C01

// migrations are applied in order; each runs once per database.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS cost_records (
		date            DATE             NOT NULL,
		backend         TEXT             NOT NULL,
		tokens_in       BIGINT           NOT NULL DEFAULT 0,
		tokens_out      BIGINT           NOT NULL DEFAULT 0,
		cost_usd        DOUBLE PRECISION NOT NULL DEFAULT 0,
		execution_count BIGINT           NOT NULL DEFAULT 0,
		updated_at      TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
		PRIMARY KEY (date, backend)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cost_records_backend ON cost_records(backend)`,
}

// DB holds the pool used by the ledger repository.
type DB struct {
	Pool *pgxpool.Pool
}

// New opens a pool sized for ledger traffic and checks it with a ping.
func New(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	// Each routing call performs at most one short upsert.
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close releases every pooled connection.
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate brings the schema up to date. Replicas starting together serialize
// on a session advisory lock, and applied versions are tracked in
// schema_migrations.
func (db *DB) Migrate(ctx context.Context) error {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection for migration: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockID)

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER     PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	var current int
	if err := conn.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, migrations[i]); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version)
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
	}
	return nil
}
