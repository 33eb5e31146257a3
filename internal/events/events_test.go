package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/DevCabin/ClawLess/pkg/log"
	"github.com/DevCabin/ClawLess/pkg/models"
)

func TestMetricsSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsSink(reg)
	ctx := context.Background()

	m.Emit(ctx, Event{Type: TaskScored, Score: 4})
	m.Emit(ctx, Event{Type: TaskRejected})
	m.Emit(ctx, Event{Type: Fallback, Reason: "quality"})
	m.Emit(ctx, Event{Type: Fallback, Reason: "quality"})
	m.Emit(ctx, Event{
		Type:      RouteCompleted,
		Backend:   models.BackendRemote,
		Latency:   300 * time.Millisecond,
		TokensIn:  100,
		TokensOut: 20,
		CostUSD:   0.25,
	})
	m.Emit(ctx, Event{Type: LedgerError})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("quality")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.routes.WithLabelValues("success", "remote")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.tokens.WithLabelValues("remote", "in")))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.cost.WithLabelValues("remote")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerErrors))

	n, err := testutil.GatherAndCount(reg, "clawless_router_complexity_score")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLogSink_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(log.NewZap(zap.New(core)))
	ctx := log.WithRequestID(context.Background(), "req-1")

	sink.Emit(ctx, Event{Type: Fallback, Backend: models.BackendLocal, Reason: "timeout", Err: errors.New("deadline")})
	sink.Emit(ctx, Event{Type: RouteCompleted, Backend: models.BackendRemote, CostUSD: 0.1})
	sink.Emit(ctx, Event{Type: RouteFailed, Err: errors.New("remote down")})

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "fallback", entries[0].Message)
	assert.Equal(t, "timeout", entries[0].ContextMap()["reason"])
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestMultiAndCapture(t *testing.T) {
	a, b := &Capture{}, &Capture{}
	m := Multi{a, nil, b, Nop{}}

	m.Emit(context.Background(), Event{Type: TaskScored})
	m.Emit(context.Background(), Event{Type: RouteCompleted})

	assert.Equal(t, []Type{TaskScored, RouteCompleted}, a.Types())
	assert.Equal(t, 1, b.Count(RouteCompleted))
}
