package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/DevCabin/ClawLess/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cost_records (
	date            TEXT    NOT NULL,
	backend         TEXT    NOT NULL,
	tokens_in       INTEGER NOT NULL DEFAULT 0,
	tokens_out      INTEGER NOT NULL DEFAULT 0,
	cost_usd        REAL    NOT NULL DEFAULT 0,
	execution_count INTEGER NOT NULL DEFAULT 0,
	updated_at      TEXT    NOT NULL,
	PRIMARY KEY (date, backend)
);
`

// SQLiteStore persists records in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the ledger database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite ledger: %w", err)
	}
	// One writer keeps upserts serialized without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating sqlite ledger: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Upsert implements Store.
func (s *SQLiteStore) Upsert(ctx context.Context, date string, backend models.BackendKind, d Delta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_records (date, backend, tokens_in, tokens_out, cost_usd, execution_count, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT (date, backend) DO UPDATE
		SET tokens_in       = tokens_in + excluded.tokens_in,
		    tokens_out      = tokens_out + excluded.tokens_out,
		    cost_usd        = cost_usd + excluded.cost_usd,
		    execution_count = execution_count + 1,
		    updated_at      = excluded.updated_at
	`, date, string(backend), d.TokensIn, d.TokensOut, d.CostUSD, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upserting cost record: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, date string, backend models.BackendKind) (*models.CostRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT date, backend, tokens_in, tokens_out, cost_usd, execution_count, updated_at
		FROM cost_records WHERE date = ? AND backend = ?
	`, date, string(backend))

	rec, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting cost record: %w", err)
	}
	return rec, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, from, to string) ([]models.CostRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, backend, tokens_in, tokens_out, cost_usd, execution_count, updated_at
		FROM cost_records
		WHERE date >= ? AND date <= ?
		ORDER BY date, backend
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing cost records: %w", err)
	}
	defer rows.Close()

	var out []models.CostRecord
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cost record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (*models.CostRecord, error) {
	var (
		rec       models.CostRecord
		backend   string
		updatedAt string
	)
	if err := row.Scan(&rec.Date, &backend, &rec.TokensIn, &rec.TokensOut, &rec.CostUSD, &rec.ExecutionCount, &updatedAt); err != nil {
		return nil, err
	}
	rec.Backend = models.BackendKind(backend)
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = ts
	}
	return &rec, nil
}
