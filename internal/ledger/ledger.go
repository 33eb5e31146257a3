// Package ledger keeps the daily token and spend aggregate per backend.
//
// Every successful response adds one execution to the record keyed by the
// current UTC date and the backend that produced it. Stores must apply the
// increment atomically per key so concurrent routings never lose updates.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DevCabin/ClawLess/pkg/models"
)

// ErrNotFound is returned by Store.Get when no record exists for the key.
var ErrNotFound = errors.New("ledger: record not found")

// Delta is one execution's contribution to a record.
type Delta struct {
	TokensIn  int64
	TokensOut int64
	CostUSD   float64
}

// Store persists cost records.
type Store interface {
	// Upsert adds delta to the (date, backend) record and increments its
	// execution count, creating the record with count 1 if absent.
	Upsert(ctx context.Context, date string, backend models.BackendKind, delta Delta) error
	Get(ctx context.Context, date string, backend models.BackendKind) (*models.CostRecord, error)
	// List returns records with from <= date <= to, ordered by date then backend.
	List(ctx context.Context, from, to string) ([]models.CostRecord, error)
	Close() error
}

// Recorder is the write side the router depends on.
type Recorder interface {
	Record(ctx context.Context, backend models.BackendKind, tokensIn, tokensOut int64, costUSD float64) error
}

// Ledger stamps records with the current date and forwards them to a Store.
type Ledger struct {
	store Store
	now   func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides time.Now, for tests and replays.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates a Ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record adds one execution for backend on today's UTC date.
func (l *Ledger) Record(ctx context.Context, backend models.BackendKind, tokensIn, tokensOut int64, costUSD float64) error {
	if !backend.Valid() {
		return fmt.Errorf("ledger: unknown backend %q", backend)
	}
	if tokensIn < 0 || tokensOut < 0 || costUSD < 0 {
		return fmt.Errorf("ledger: negative delta (in=%d out=%d cost=%f)", tokensIn, tokensOut, costUSD)
	}
	date := models.LedgerDate(l.now())
	if err := l.store.Upsert(ctx, date, backend, Delta{TokensIn: tokensIn, TokensOut: tokensOut, CostUSD: costUSD}); err != nil {
		return fmt.Errorf("ledger: recording %s/%s: %w", date, backend, err)
	}
	return nil
}

// Today returns today's record for backend, or a zero record if none exists.
func (l *Ledger) Today(ctx context.Context, backend models.BackendKind) (*models.CostRecord, error) {
	date := models.LedgerDate(l.now())
	rec, err := l.store.Get(ctx, date, backend)
	if errors.Is(err, ErrNotFound) {
		return &models.CostRecord{Date: date, Backend: backend}, nil
	}
	return rec, err
}

// Range returns all records between from and to, inclusive, by UTC date.
func (l *Ledger) Range(ctx context.Context, from, to time.Time) ([]models.CostRecord, error) {
	return l.store.List(ctx, models.LedgerDate(from), models.LedgerDate(to))
}

// Now returns the ledger's clock reading.
func (l *Ledger) Now() time.Time { return l.now() }
