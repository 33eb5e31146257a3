package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DevCabin/ClawLess/pkg/models"
)

type recordKey struct {
	date    string
	backend models.BackendKind
}

// MemoryStore keeps records in process. Nothing survives a restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]models.CostRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]models.CostRecord)}
}

// Upsert implements Store.
func (m *MemoryStore) Upsert(_ context.Context, date string, backend models.BackendKind, d Delta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := recordKey{date, backend}
	rec, ok := m.records[k]
	if !ok {
		rec = models.CostRecord{Date: date, Backend: backend}
	}
	rec.TokensIn += d.TokensIn
	rec.TokensOut += d.TokensOut
	rec.CostUSD += d.CostUSD
	rec.ExecutionCount++
	rec.UpdatedAt = time.Now().UTC()
	m.records[k] = rec
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, date string, backend models.BackendKind) (*models.CostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[recordKey{date, backend}]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, from, to string) ([]models.CostRecord, error) {
	m.mu.Lock()
	out := make([]models.CostRecord, 0, len(m.records))
	for k, rec := range m.records {
		if k.date >= from && k.date <= to {
			out = append(out, rec)
		}
	}
	m.mu.Unlock()

	sortRecords(out)
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

func sortRecords(recs []models.CostRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Date != recs[j].Date {
			return recs[i].Date < recs[j].Date
		}
		return recs[i].Backend < recs[j].Backend
	})
}
