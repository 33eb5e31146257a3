package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/DevCabin/ClawLess/internal/analytics"
	"github.com/DevCabin/ClawLess/internal/backend"
	"github.com/DevCabin/ClawLess/internal/budget"
	"github.com/DevCabin/ClawLess/internal/events"
	"github.com/DevCabin/ClawLess/internal/ledger"
	"github.com/DevCabin/ClawLess/internal/router"
	"github.com/DevCabin/ClawLess/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubBackend struct {
	kind models.BackendKind
	down bool
	err  error
}

func (s *stubBackend) Kind() models.BackendKind { return s.kind }

func (s *stubBackend) Probe(context.Context) bool { return !s.down }

func (s *stubBackend) Execute(_ context.Context, _ *models.Task, _ backend.Options) (*models.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	cost := 0.0
	if s.kind == models.BackendRemote {
		cost = 0.02
	}
	return &models.Response{
		Content:     "answer from " + string(s.kind),
		BackendUsed: s.kind,
		Model:       "stub",
		TokensIn:    40,
		TokensOut:   10,
		CostUSD:     cost,
	}, nil
}

type testServer struct {
	engine *gin.Engine
	local  *stubBackend
	remote *stubBackend
	ledger *ledger.Ledger
}

func newTestServer(t *testing.T, opts ServerOptions) *testServer {
	t.Helper()
	ts := &testServer{
		local:  &stubBackend{kind: models.BackendLocal},
		remote: &stubBackend{kind: models.BackendRemote},
		ledger: ledger.New(ledger.NewMemoryStore()),
	}
	reg := prometheus.NewRegistry()
	sink := events.NewMetricsSink(reg)
	monitor := budget.NewMonitor(ts.ledger, ts.ledger, sink, 10, 0.8)

	r, err := router.New(models.RouterConfig{Mode: models.ModeAuto, FallbackEnabled: true}, router.Deps{
		Local:    ts.local,
		Remote:   ts.remote,
		Recorder: monitor,
		Sink:     sink,
	})
	require.NoError(t, err)

	pricing, _ := models.LookupPricing("claude-sonnet-4-20250514")
	h := NewHandlers(Deps{
		Router:   r,
		Ledger:   ts.ledger,
		Insights: analytics.NewInsightsEngine(ts.ledger, pricing),
		Monitor:  monitor,
		Local:    ts.local,
		Remote:   ts.remote,
	})
	opts.Gatherer = reg
	ts.engine = NewEngine(h, opts)
	return ts
}

func (ts *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func TestRoute_Local(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	w := ts.do(http.MethodPost, "/v1/route",
		`{"kind":"extraction","prompt":"Extract repo name from: https://github.com/user/repo"}`,
		"X-Request-ID", "req-42")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := w.Body.String()
	assert.Equal(t, "local", gjson.Get(body, "backend_used").String())
	assert.Equal(t, "req-42", gjson.Get(body, "request_id").String())
	assert.Equal(t, 0.0, gjson.Get(body, "cost_usd").Float())
}

func TestRoute_Remote(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	w := ts.do(http.MethodPost, "/v1/route", `{"kind":"code_review","prompt":"Review this code for security issues"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "remote", gjson.Get(w.Body.String(), "backend_used").String())
	assert.Greater(t, gjson.Get(w.Body.String(), "cost_usd").Float(), 0.0)
}

func TestRoute_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		remoteErr error
		wantCode  int
		wantKind  string
	}{
		{
			name:     "deterministic",
			body:     `{"kind":"classification","prompt":"label sentiment"}`,
			wantCode: http.StatusUnprocessableEntity,
			wantKind: "deterministic_task_rejected",
		},
		{
			name:     "blank prompt",
			body:     `{"kind":"planning","prompt":""}`,
			wantCode: http.StatusBadRequest,
			wantKind: "invalid_task",
		},
		{
			name:     "malformed json",
			body:     `{"kind":`,
			wantCode: http.StatusBadRequest,
			wantKind: "invalid_task",
		},
		{
			name:      "remote timeout",
			body:      `{"kind":"security_analysis","prompt":"Audit the session handling"}`,
			remoteErr: &backend.Error{Backend: models.BackendRemote, Kind: backend.KindTimeout, Err: errors.New("slow")},
			wantCode:  http.StatusGatewayTimeout,
			wantKind:  "backend_timeout",
		},
		{
			name:      "remote execution",
			body:      `{"kind":"security_analysis","prompt":"Audit the session handling"}`,
			remoteErr: &backend.Error{Backend: models.BackendRemote, Kind: backend.KindExecution, Err: errors.New("500")},
			wantCode:  http.StatusBadGateway,
			wantKind:  "backend_execution_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, ServerOptions{})
			ts.remote.err = tt.remoteErr

			w := ts.do(http.MethodPost, "/v1/route", tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, tt.wantKind, gjson.Get(w.Body.String(), "error").String())
		})
	}
}

func TestRoute_Exhausted(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	ts.local.down = true
	ts.remote.err = &backend.Error{Backend: models.BackendRemote, Kind: backend.KindExecution, Err: errors.New("down")}

	w := ts.do(http.MethodPost, "/v1/route", `{"kind":"extraction","prompt":"Extract the version"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "all_backends_exhausted", gjson.Get(w.Body.String(), "error").String())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusClientClosedRequest, StatusFor(&router.Error{Kind: router.KindRoutingCancelled}))
	assert.Equal(t, http.StatusBadGateway, StatusFor(&router.Error{Kind: router.KindQualityValidationFailed}))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("unknown")))
}

func TestDecide(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	w := ts.do(http.MethodPost, "/v1/route/decide", `{"kind":"planning","prompt":"Should I refactor module A or module B?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 9, gjson.Get(w.Body.String(), "score.total").Int())
	assert.Equal(t, "remote", gjson.Get(w.Body.String(), "path").String())
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	w := ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", gjson.Get(w.Body.String(), "status").String())

	ts.local.down = true
	w = ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "degraded", gjson.Get(w.Body.String(), "status").String())
	assert.False(t, gjson.Get(w.Body.String(), "backends.local").Bool())

	ts.remote.down = true
	w = ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDailyCostsAndReport(t *testing.T) {
	ts := newTestServer(t, ServerOptions{AdminAPIKey: "admin-key-0123456789"})

	for i := 0; i < 3; i++ {
		w := ts.do(http.MethodPost, "/v1/route", `{"kind":"extraction","prompt":"Extract the version"}`)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := ts.do(http.MethodPost, "/v1/route", `{"kind":"code_review","prompt":"Review the diff"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/costs/daily", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/costs/daily", "", "X-API-Key", "admin-key-0123456789")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := w.Body.String()
	assert.EqualValues(t, 2, gjson.Get(body, "count").Int())
	assert.EqualValues(t, 3, gjson.Get(body, `data.#(backend=="local").execution_count`).Int())
	assert.EqualValues(t, 1, gjson.Get(body, `data.#(backend=="remote").execution_count`).Int())

	today := time.Now().UTC().Format(models.DateLayout)
	w = ts.do(http.MethodGet, fmt.Sprintf("/api/v1/report?from=%s&to=%s", today, today), "", "X-API-Key", "admin-key-0123456789")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 4, gjson.Get(w.Body.String(), "total_executions").Int())
	assert.InDelta(t, 0.75, gjson.Get(w.Body.String(), "local_share").Float(), 1e-9)

	w = ts.do(http.MethodGet, "/api/v1/spend", "", "X-API-Key", "admin-key-0123456789")
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 0.02, gjson.Get(w.Body.String(), "spent_usd").Float(), 1e-9)
}

func TestDailyCosts_BadRange(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/v1/costs/daily?from=yesterday", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/v1/costs/daily?from=2026-03-02&to=2026-03-01", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/v1/costs/daily?from=2020-01-01&to=2026-01-01", "").Code)

	w := ts.do(http.MethodGet, "/api/v1/costs/daily?from=2026-03-01&to=2026-03-02", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gjson.Get(w.Body.String(), "data").IsArray())
}

func TestRouteAPIKeyAndMetrics(t *testing.T) {
	ts := newTestServer(t, ServerOptions{RouteAPIKey: "route-key-abcdefgh"})

	w := ts.do(http.MethodPost, "/v1/route", `{"kind":"extraction","prompt":"Extract the version"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodPost, "/v1/route", `{"kind":"extraction","prompt":"Extract the version"}`,
		"Authorization", "Bearer route-key-abcdefgh")
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `clawless_router_routes_total{backend="local",outcome="success"} 1`)
}
