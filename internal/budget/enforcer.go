// Package budget implements advisory daily spend controls.
//
// The Monitor wraps the cost ledger's write path. After each recorded
// execution it re-reads today's spend and raises a spend_warning event the
// first time the day crosses the warning level, and again when it crosses the
// limit itself. Requests are never blocked.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DevCabin/ClawLess/internal/events"
	"github.com/DevCabin/ClawLess/internal/ledger"
	"github.com/DevCabin/ClawLess/pkg/models"
)

// Level is how far today's spend has progressed toward the limit.
type Level string

const (
	LevelOK       Level = "ok"
	LevelWarning  Level = "approaching_limit"
	LevelExceeded Level = "limit_exceeded"
)

// DefaultWarnRatio is the share of the limit at which the first warning fires.
const DefaultWarnRatio = 0.8

// SpendSource reads today's aggregate for a backend. *ledger.Ledger
// satisfies it.
type SpendSource interface {
	Today(ctx context.Context, backend models.BackendKind) (*models.CostRecord, error)
}

// Status is a point-in-time view of today's spend.
type Status struct {
	Date     string  `json:"date"`
	SpentUSD float64 `json:"spent_usd"`
	LimitUSD float64 `json:"limit_usd"`
	Level    Level   `json:"level"`
}

// Monitor decorates a ledger.Recorder with spend warnings.
type Monitor struct {
	next      ledger.Recorder
	source    SpendSource
	sink      events.Sink
	limitUSD  float64
	warnRatio float64
	now       func() time.Time

	mu     sync.Mutex
	date   string
	raised Level
}

// NewMonitor creates a Monitor. A limit of zero or less disables warnings
// and the Monitor simply forwards to next.
func NewMonitor(next ledger.Recorder, source SpendSource, sink events.Sink, limitUSD, warnRatio float64) *Monitor {
	if warnRatio <= 0 || warnRatio > 1 {
		warnRatio = DefaultWarnRatio
	}
	if sink == nil {
		sink = events.Nop{}
	}
	return &Monitor{
		next:      next,
		source:    source,
		sink:      sink,
		limitUSD:  limitUSD,
		warnRatio: warnRatio,
		now:       time.Now,
	}
}

// Record forwards to the wrapped recorder, then checks today's spend.
func (m *Monitor) Record(ctx context.Context, backend models.BackendKind, tokensIn, tokensOut int64, costUSD float64) error {
	if err := m.next.Record(ctx, backend, tokensIn, tokensOut, costUSD); err != nil {
		return err
	}
	if m.limitUSD <= 0 || costUSD == 0 {
		return nil
	}

	status, err := m.Status(ctx)
	if err != nil {
		m.sink.Emit(ctx, events.Event{Type: events.LedgerError, Time: m.now(), Reason: "spend_read", Err: err})
		return nil
	}
	if m.shouldRaise(status) {
		m.sink.Emit(ctx, events.Event{
			Type:    events.SpendWarning,
			Time:    m.now(),
			Backend: backend,
			Reason:  string(status.Level),
			CostUSD: status.SpentUSD,
		})
	}
	return nil
}

// Status sums today's spend across both backends.
func (m *Monitor) Status(ctx context.Context) (*Status, error) {
	st := &Status{Date: models.LedgerDate(m.now()), LimitUSD: m.limitUSD}
	for _, b := range []models.BackendKind{models.BackendLocal, models.BackendRemote} {
		rec, err := m.source.Today(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("reading %s spend: %w", b, err)
		}
		st.SpentUSD += rec.CostUSD
	}
	st.Level = m.level(st.SpentUSD)
	return st, nil
}

func (m *Monitor) level(spent float64) Level {
	switch {
	case m.limitUSD <= 0:
		return LevelOK
	case spent >= m.limitUSD:
		return LevelExceeded
	case spent >= m.limitUSD*m.warnRatio:
		return LevelWarning
	}
	return LevelOK
}

// shouldRaise reports whether status reaches a level not yet raised today.
func (m *Monitor) shouldRaise(st *Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st.Date != m.date {
		m.date = st.Date
		m.raised = LevelOK
	}
	if rank(st.Level) <= rank(m.raised) {
		return false
	}
	m.raised = st.Level
	return true
}

func rank(l Level) int {
	switch l {
	case LevelWarning:
		return 1
	case LevelExceeded:
		return 2
	}
	return 0
}
