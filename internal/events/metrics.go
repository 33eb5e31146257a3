package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsSink turns events into Prometheus series.
type MetricsSink struct {
	routes         *prometheus.CounterVec
	rejections     prometheus.Counter
	fallbacks      *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
	tokens         *prometheus.CounterVec
	cost           *prometheus.CounterVec
	scores         prometheus.Histogram
	ledgerErrors   prometheus.Counter
	spendWarnings  prometheus.Counter
}

// NewMetricsSink registers the router's series on reg.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	f := promauto.With(reg)
	return &MetricsSink{
		routes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clawless",
			Subsystem: "router",
			Name:      "routes_total",
			Help:      "Completed routings by outcome and serving backend.",
		}, []string{"outcome", "backend"}),
		rejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: "clawless",
			Subsystem: "router",
			Name:      "rejections_total",
			Help:      "Tasks rejected as deterministic before any backend call.",
		}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clawless",
			Subsystem: "router",
			Name:      "fallbacks_total",
			Help:      "Local attempts abandoned in favour of the remote backend, by reason.",
		}, []string{"reason"}),
		backendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clawless",
			Subsystem: "backend",
			Name:      "execute_latency_seconds",
			Help:      "Latency of successful backend executions.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"backend"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clawless",
			Subsystem: "backend",
			Name:      "tokens_total",
			Help:      "Tokens consumed by accepted responses.",
		}, []string{"backend", "direction"}),
		cost: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clawless",
			Subsystem: "backend",
			Name:      "cost_usd_total",
			Help:      "Spend on accepted responses in USD.",
		}, []string{"backend"}),
		scores: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clawless",
			Subsystem: "router",
			Name:      "complexity_score",
			Help:      "Distribution of task complexity scores.",
			Buckets:   prometheus.LinearBuckets(0, 1, 16),
		}),
		ledgerErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "clawless",
			Subsystem: "ledger",
			Name:      "errors_total",
			Help:      "Cost ledger writes that failed.",
		}),
		spendWarnings: f.NewCounter(prometheus.CounterOpts{
			Namespace: "clawless",
			Subsystem: "spend",
			Name:      "warnings_total",
			Help:      "Daily spend warnings raised.",
		}),
	}
}

// Emit implements Sink.
func (m *MetricsSink) Emit(_ context.Context, e Event) {
	switch e.Type {
	case TaskScored:
		m.scores.Observe(float64(e.Score))
	case TaskRejected:
		m.rejections.Inc()
	case Fallback:
		m.fallbacks.WithLabelValues(e.Reason).Inc()
	case RouteCompleted:
		backend := string(e.Backend)
		m.routes.WithLabelValues("success", backend).Inc()
		m.backendLatency.WithLabelValues(backend).Observe(e.Latency.Seconds())
		m.tokens.WithLabelValues(backend, "in").Add(float64(e.TokensIn))
		m.tokens.WithLabelValues(backend, "out").Add(float64(e.TokensOut))
		m.cost.WithLabelValues(backend).Add(e.CostUSD)
	case RouteFailed:
		m.routes.WithLabelValues("failure", string(e.Backend)).Inc()
	case LedgerError:
		m.ledgerErrors.Inc()
	case SpendWarning:
		m.spendWarnings.Inc()
	}
}
