package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DevCabin/ClawLess/internal/middleware"
	"github.com/DevCabin/ClawLess/pkg/log"
)

// ServerOptions controls the middleware stack around the handlers.
type ServerOptions struct {
	AdminAPIKey    string
	RouteAPIKey    string
	AllowedOrigins []string
	RateLimitRPM   int64
	RateChecker    middleware.RateChecker
	Gatherer       prometheus.Gatherer
	Logger         log.Logger
}

// NewEngine builds the gin engine with every endpoint registered.
func NewEngine(h *Handlers, opts ServerOptions) *gin.Engine {
	l := opts.Logger
	if l == nil {
		l = log.NewNop()
	}
	checker := opts.RateChecker
	if checker == nil {
		checker = middleware.NewLocalRateChecker(0)
	}

	r := gin.New()
	r.Use(middleware.RecoveryMiddleware(l))
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggingMiddleware(l))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORSMiddleware(opts.AllowedOrigins))
	}

	r.GET("/health", h.HealthCheck)
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(opts.RouteAPIKey))
	v1.Use(middleware.RateLimitMiddleware(checker, l, opts.RateLimitRPM, time.Minute))
	v1.POST("/route", h.Route)
	v1.POST("/route/decide", h.Decide)

	admin := r.Group("/api/v1")
	admin.Use(middleware.AuthMiddleware(opts.AdminAPIKey))
	admin.GET("/costs/daily", h.GetDailyCosts)
	admin.GET("/report", h.GetReport)
	admin.GET("/spend", h.GetSpend)

	return r
}
