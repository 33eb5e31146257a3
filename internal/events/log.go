package events

import (
	"context"

	"github.com/DevCabin/ClawLess/pkg/log"
)

// LogSink writes events as structured log lines.
type LogSink struct {
	l log.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(l log.Logger) *LogSink {
	return &LogSink{l: l}
}

// Emit implements Sink.
func (s *LogSink) Emit(ctx context.Context, e Event) {
	l := s.l.With(fields(e)...)
	switch e.Type {
	case RouteFailed, LedgerError:
		l.Error(ctx, string(e.Type))
	case BackendFailed, BackendUnavailable, QualityFailed, Fallback, TaskRejected, SpendWarning:
		l.Warn(ctx, string(e.Type))
	case RouteCompleted:
		l.Info(ctx, string(e.Type))
	default:
		l.Debug(ctx, string(e.Type))
	}
}

func fields(e Event) []any {
	kv := make([]any, 0, 20)
	if e.TaskKind != "" {
		kv = append(kv, "task_kind", string(e.TaskKind))
	}
	if e.Type == TaskScored || e.Type == TaskRejected {
		kv = append(kv, "score", e.Score)
	}
	if e.Backend != "" {
		kv = append(kv, "backend", string(e.Backend))
	}
	if e.Reason != "" {
		kv = append(kv, "reason", e.Reason)
	}
	if e.Err != nil {
		kv = append(kv, "error", e.Err.Error())
	}
	if e.Latency > 0 {
		kv = append(kv, "latency_ms", e.Latency.Milliseconds())
	}
	if e.Type == RouteCompleted {
		kv = append(kv, "tokens_in", e.TokensIn, "tokens_out", e.TokensOut, "cost_usd", e.CostUSD)
	}
	if e.Type == SpendWarning {
		kv = append(kv, "cost_usd", e.CostUSD)
	}
	return kv
}
