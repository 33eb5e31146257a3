package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/DevCabin/ClawLess/pkg/models"
)

// ErrNoRecord is returned when a cost record does not exist.
var ErrNoRecord = errors.New("cost record not found")

// UpsertCostRecord adds the deltas to the (date, backend) row in one statement,
// creating it with execution_count 1 if absent. The row lock taken by
// ON CONFLICT DO UPDATE serializes concurrent writers on the same key.
func (db *DB) UpsertCostRecord(ctx context.Context, date string, backend models.BackendKind, tokensIn, tokensOut int64, costUSD float64) error {
	day, err := parseDate(date)
	if err != nil {
		return err
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO cost_records (date, backend, tokens_in, tokens_out, cost_usd, execution_count)
		VALUES ($1, $2, $3, $4, $5, 1)
		ON CONFLICT (date, backend) DO UPDATE
		SET tokens_in       = cost_records.tokens_in + EXCLUDED.tokens_in,
		    tokens_out      = cost_records.tokens_out + EXCLUDED.tokens_out,
		    cost_usd        = cost_records.cost_usd + EXCLUDED.cost_usd,
		    execution_count = cost_records.execution_count + 1,
		    updated_at      = NOW()
	`, day, string(backend), tokensIn, tokensOut, costUSD)
	if err != nil {
		return fmt.Errorf("upserting cost record: %w", err)
	}
	return nil
}

// GetCostRecord retrieves the row for date and backend.
func (db *DB) GetCostRecord(ctx context.Context, date string, backend models.BackendKind) (*models.CostRecord, error) {
	day, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	row := db.Pool.QueryRow(ctx, `
		SELECT to_char(date, 'YYYY-MM-DD'), backend, tokens_in, tokens_out, cost_usd, execution_count, updated_at
		FROM cost_records WHERE date = $1 AND backend = $2
	`, day, string(backend))

	rec, err := scanCostRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, fmt.Errorf("getting cost record: %w", err)
	}
	return rec, nil
}

// ListCostRecords returns rows with from <= date <= to.
func (db *DB) ListCostRecords(ctx context.Context, from, to string) ([]models.CostRecord, error) {
	fromDay, err := parseDate(from)
	if err != nil {
		return nil, err
	}
	toDay, err := parseDate(to)
	if err != nil {
		return nil, err
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT to_char(date, 'YYYY-MM-DD'), backend, tokens_in, tokens_out, cost_usd, execution_count, updated_at
		FROM cost_records
		WHERE date >= $1 AND date <= $2
		ORDER BY date, backend
	`, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("listing cost records: %w", err)
	}
	defer rows.Close()

	var results []models.CostRecord
	for rows.Next() {
		rec, err := scanCostRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cost record: %w", err)
		}
		results = append(results, *rec)
	}
	return results, rows.Err()
}

func scanCostRecord(row pgx.Row) (*models.CostRecord, error) {
	var (
		rec       models.CostRecord
		backend   string
		updatedAt time.Time
	)
	if err := row.Scan(&rec.Date, &backend, &rec.TokensIn, &rec.TokensOut, &rec.CostUSD, &rec.ExecutionCount, &updatedAt); err != nil {
		return nil, err
	}
	rec.Backend = models.BackendKind(backend)
	rec.UpdatedAt = updatedAt
	return &rec, nil
}

func parseDate(date string) (time.Time, error) {
	day, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ledger date %q: %w", date, err)
	}
	return day, nil
}
