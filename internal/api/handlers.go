// Package api implements the HTTP endpoints for routing tasks and reading
// the cost ledger.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DevCabin/ClawLess/internal/analytics"
	"github.com/DevCabin/ClawLess/internal/backend"
	"github.com/DevCabin/ClawLess/internal/budget"
	"github.com/DevCabin/ClawLess/internal/ledger"
	"github.com/DevCabin/ClawLess/internal/router"
	"github.com/DevCabin/ClawLess/pkg/log"
	"github.com/DevCabin/ClawLess/pkg/models"
)

// StatusClientClosedRequest is returned when the caller went away mid-route.
const StatusClientClosedRequest = 499

const (
	defaultCostWindowDays = 7
	maxCostWindowDays     = 366
	healthProbeTimeout    = 3 * time.Second
)

// Version is reported by the health endpoint.
var Version = "0.1.0"

// Handlers provides the HTTP endpoint handlers.
type Handlers struct {
	router  *router.Router
	ledger  *ledger.Ledger
	insight *analytics.InsightsEngine
	monitor *budget.Monitor
	local   backend.Backend
	remote  backend.Backend
	logger  log.Logger
}

// Deps are the collaborators Handlers serve from. Local, Remote and Monitor
// are optional.
type Deps struct {
	Router   *router.Router
	Ledger   *ledger.Ledger
	Insights *analytics.InsightsEngine
	Monitor  *budget.Monitor
	Local    backend.Backend
	Remote   backend.Backend
	Logger   log.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(d Deps) *Handlers {
	l := d.Logger
	if l == nil {
		l = log.NewNop()
	}
	return &Handlers{
		router:  d.Router,
		ledger:  d.Ledger,
		insight: d.Insights,
		monitor: d.Monitor,
		local:   d.Local,
		remote:  d.Remote,
		logger:  l,
	}
}

// HealthCheck probes the configured backends. The service is healthy when
// every configured backend answers, degraded when only some do, and
// unavailable when none do.
func (h *Handlers) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()

	backends := gin.H{}
	configured, up := 0, 0
	for _, b := range []backend.Backend{h.local, h.remote} {
		if b == nil {
			continue
		}
		configured++
		ok := b.Probe(ctx)
		if ok {
			up++
		}
		backends[string(b.Kind())] = ok
	}

	status, code := "healthy", http.StatusOK
	switch {
	case up == 0:
		status, code = "unavailable", http.StatusServiceUnavailable
	case up < configured:
		status = "degraded"
	}

	c.JSON(code, gin.H{
		"status":   status,
		"service":  "clawless",
		"version":  Version,
		"backends": backends,
	})
}

type routeResponse struct {
	*models.Response
	RequestID string `json:"request_id"`
}

// Route scores and executes a task.
func (h *Handlers) Route(c *gin.Context) {
	var task models.Task
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   string(router.KindInvalidTask),
			"message": "invalid request body: " + err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	resp, err := h.router.Route(ctx, &task)
	if err != nil {
		h.writeRouteError(c, err)
		return
	}

	c.JSON(http.StatusOK, routeResponse{Response: resp, RequestID: log.RequestID(ctx)})
}

// Decide scores a task without executing it.
func (h *Handlers) Decide(c *gin.Context) {
	var task models.Task
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   string(router.KindInvalidTask),
			"message": "invalid request body: " + err.Error(),
		})
		return
	}
	if err := task.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(router.KindInvalidTask), "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.router.Decide(&task))
}

// StatusFor maps a routing error to its HTTP status.
func StatusFor(err error) int {
	switch router.KindOf(err) {
	case router.KindInvalidTask:
		return http.StatusBadRequest
	case router.KindDeterministicTaskRejected:
		return http.StatusUnprocessableEntity
	case router.KindBackendTimeout:
		return http.StatusGatewayTimeout
	case router.KindRoutingCancelled:
		return StatusClientClosedRequest
	case router.KindBackendUnavailable, router.KindBackendExecutionError,
		router.KindQualityValidationFailed, router.KindAllBackendsExhausted:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handlers) writeRouteError(c *gin.Context, err error) {
	code := StatusFor(err)
	body := gin.H{
		"error":      string(router.KindOf(err)),
		"message":    err.Error(),
		"request_id": log.RequestID(c.Request.Context()),
	}
	var re *router.Error
	if errors.As(err, &re) {
		body["score"] = re.Score
		if re.Backend != "" {
			body["backend"] = string(re.Backend)
		}
	}
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, body)
}

// dateRange parses from/to query params as YYYY-MM-DD. Missing values
// default to the last defaultCostWindowDays days ending today.
func (h *Handlers) dateRange(c *gin.Context) (time.Time, time.Time, bool) {
	now := h.ledger.Now().UTC()
	to := now
	from := now.AddDate(0, 0, -(defaultCostWindowDays - 1))

	if s := c.Query("from"); s != "" {
		t, err := time.Parse(models.DateLayout, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'from' date format, use YYYY-MM-DD"})
			return time.Time{}, time.Time{}, false
		}
		from = t
	}
	if s := c.Query("to"); s != "" {
		t, err := time.Parse(models.DateLayout, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'to' date format, use YYYY-MM-DD"})
			return time.Time{}, time.Time{}, false
		}
		to = t
	}
	if to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'to' must not be before 'from'"})
		return time.Time{}, time.Time{}, false
	}
	if to.Sub(from) > maxCostWindowDays*24*time.Hour {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date range too large"})
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// GetDailyCosts returns ledger records for a date range.
// Query params: from, to (YYYY-MM-DD)
func (h *Handlers) GetDailyCosts(c *gin.Context) {
	from, to, ok := h.dateRange(c)
	if !ok {
		return
	}

	records, err := h.ledger.Range(c.Request.Context(), from, to)
	if err != nil {
		h.logger.Errorf(c.Request.Context(), "api: listing cost records: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read cost ledger"})
		return
	}
	if records == nil {
		records = []models.CostRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"from":  models.LedgerDate(from),
		"to":    models.LedgerDate(to),
		"count": len(records),
		"data":  records,
	})
}

// GetReport returns the analytics report with insights for a date range.
func (h *Handlers) GetReport(c *gin.Context) {
	if h.insight == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analytics unavailable"})
		return
	}
	from, to, ok := h.dateRange(c)
	if !ok {
		return
	}

	report, err := h.insight.GenerateReport(c.Request.Context(), from, to)
	if err != nil {
		h.logger.Errorf(c.Request.Context(), "api: generating report: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate report"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetSpend returns today's spend against the advisory daily limit.
func (h *Handlers) GetSpend(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "spend monitoring is not configured"})
		return
	}
	status, err := h.monitor.Status(c.Request.Context())
	if err != nil {
		h.logger.Errorf(c.Request.Context(), "api: reading spend: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read spend"})
		return
	}
	c.JSON(http.StatusOK, status)
}
