package ledger

import (
	"context"
	"errors"

	"github.com/DevCabin/ClawLess/internal/database"
	"github.com/DevCabin/ClawLess/pkg/models"
)

// PostgresStore persists records in the cost_records table.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore wraps an open, migrated database.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Upsert implements Store.
func (p *PostgresStore) Upsert(ctx context.Context, date string, backend models.BackendKind, d Delta) error {
	return p.db.UpsertCostRecord(ctx, date, backend, d.TokensIn, d.TokensOut, d.CostUSD)
}

// Get implements Store.
func (p *PostgresStore) Get(ctx context.Context, date string, backend models.BackendKind) (*models.CostRecord, error) {
	rec, err := p.db.GetCostRecord(ctx, date, backend)
	if errors.Is(err, database.ErrNoRecord) {
		return nil, ErrNotFound
	}
	return rec, err
}

// List implements Store.
func (p *PostgresStore) List(ctx context.Context, from, to string) ([]models.CostRecord, error) {
	return p.db.ListCostRecords(ctx, from, to)
}

// Close implements Store.
func (p *PostgresStore) Close() error {
	p.db.Close()
	return nil
}
