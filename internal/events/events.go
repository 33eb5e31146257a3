// Package events carries routing observations out of the core. The router
// emits events to an injected Sink instead of writing to a global logger, so
// tests can capture them and deployments can fan them out to logs and metrics.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/DevCabin/ClawLess/pkg/models"
)

// Type names an event.
type Type string

const (
	TaskScored         Type = "task_scored"
	TaskRejected       Type = "task_rejected"
	BackendAttempt     Type = "backend_attempt"
	BackendUnavailable Type = "backend_unavailable"
	BackendFailed      Type = "backend_failed"
	QualityFailed      Type = "quality_failed"
	Fallback           Type = "fallback"
	RouteCompleted     Type = "route_completed"
	RouteFailed        Type = "route_failed"
	LedgerError        Type = "ledger_error"
	SpendWarning       Type = "spend_warning"
)

// Event is one observation. Fields that do not apply are left zero.
type Event struct {
	Type      Type
	Time      time.Time
	TaskKind  models.TaskKind
	Score     int
	Backend   models.BackendKind
	Reason    string
	Err       error
	Latency   time.Duration
	TokensIn  int64
	TokensOut int64
	CostUSD   float64
}

// Sink receives events. Implementations must be safe for concurrent use and
// must not block the caller for long.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(context.Context, Event) {}

// Multi fans events out to several sinks in order.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}

// Capture stores events in memory. Used by tests.
type Capture struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (c *Capture) Emit(_ context.Context, e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

// Events returns a copy of everything captured so far.
func (c *Capture) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Types returns the captured event types in order.
func (c *Capture) Types() []Type {
	evs := c.Events()
	out := make([]Type, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}

// Count returns how many events of type t were captured.
func (c *Capture) Count(t Type) int {
	n := 0
	for _, e := range c.Events() {
		if e.Type == t {
			n++
		}
	}
	return n
}
