package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/DevCabin/ClawLess/pkg/cache"
	"github.com/DevCabin/ClawLess/pkg/models"
)

// maxListDays bounds List so a careless range cannot fan out unbounded reads.
const maxListDays = 366

// RedisStore keeps records as Redis hashes so several router replicas can
// share one ledger.
type RedisStore struct {
	cache *cache.Cache
}

// NewRedisStore wraps a connected cache.
func NewRedisStore(c *cache.Cache) *RedisStore {
	return &RedisStore{cache: c}
}

// Upsert implements Store.
func (r *RedisStore) Upsert(ctx context.Context, date string, backend models.BackendKind, d Delta) error {
	_, err := r.cache.IncrCostCounters(ctx, date, string(backend), d.TokensIn, d.TokensOut, d.CostUSD)
	return err
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, date string, backend models.BackendKind) (*models.CostRecord, error) {
	counters, ok, err := r.cache.GetCostCounters(ctx, date, string(backend))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return toRecord(date, backend, counters), nil
}

// List implements Store.
func (r *RedisStore) List(ctx context.Context, from, to string) ([]models.CostRecord, error) {
	dates, err := dateRange(from, to)
	if err != nil {
		return nil, err
	}
	backends := []string{string(models.BackendLocal), string(models.BackendRemote)}

	found, err := r.cache.GetCostCountersBatch(ctx, dates, backends)
	if err != nil {
		return nil, err
	}

	out := make([]models.CostRecord, 0, len(found))
	for _, date := range dates {
		for _, backend := range backends {
			if c, ok := found[date+":"+backend]; ok {
				out = append(out, *toRecord(date, models.BackendKind(backend), c))
			}
		}
	}
	return out, nil
}

// Close implements Store.
func (r *RedisStore) Close() error { return r.cache.Close() }

func toRecord(date string, backend models.BackendKind, c *cache.CostCounters) *models.CostRecord {
	return &models.CostRecord{
		Date:           date,
		Backend:        backend,
		TokensIn:       c.TokensIn,
		TokensOut:      c.TokensOut,
		CostUSD:        c.CostUSD,
		ExecutionCount: c.ExecutionCount,
		UpdatedAt:      c.UpdatedAt,
	}
}

// dateRange expands an inclusive range of ledger dates.
func dateRange(from, to string) ([]string, error) {
	start, err := time.Parse(models.DateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("ledger: invalid from date %q: %w", from, err)
	}
	end, err := time.Parse(models.DateLayout, to)
	if err != nil {
		return nil, fmt.Errorf("ledger: invalid to date %q: %w", to, err)
	}
	if end.Before(start) {
		return nil, nil
	}
	if end.Sub(start) > maxListDays*24*time.Hour {
		return nil, fmt.Errorf("ledger: range %s..%s exceeds %d days", from, to, maxListDays)
	}

	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(models.DateLayout))
	}
	return dates, nil
}
