package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/DevCabin/ClawLess/internal/analytics"
	"github.com/DevCabin/ClawLess/internal/backend"
	"github.com/DevCabin/ClawLess/internal/backend/local"
	"github.com/DevCabin/ClawLess/internal/backend/remote"
	"github.com/DevCabin/ClawLess/internal/budget"
	"github.com/DevCabin/ClawLess/internal/config"
	"github.com/DevCabin/ClawLess/internal/database"
	"github.com/DevCabin/ClawLess/internal/events"
	"github.com/DevCabin/ClawLess/internal/ledger"
	"github.com/DevCabin/ClawLess/internal/router"
	"github.com/DevCabin/ClawLess/pkg/cache"
	"github.com/DevCabin/ClawLess/pkg/log"
	"github.com/DevCabin/ClawLess/pkg/models"
)

const (
	connectTimeout = 10 * time.Second
	migrateTimeout = 30 * time.Second
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   log.Logger
	registry *prometheus.Registry

	store    ledger.Store
	ledger   *ledger.Ledger
	cache    *cache.Cache
	local    *local.Backend
	remote   *remote.Backend
	monitor  *budget.Monitor
	router   *router.Router
	insights *analytics.InsightsEngine

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// loadApp reads configuration and builds the logger.
func loadApp() (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := log.Init(cfg.ZapConfig())
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.closers = append(a.closers, func() { _ = logger.Sync() })
	return a, nil
}

// openLedger connects the configured ledger store.
func (a *app) openLedger(ctx context.Context) error {
	cfg := a.cfg
	switch cfg.Ledger.Store {
	case config.StorePostgres:
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		db, err := database.New(cctx, cfg.DSN())
		if err != nil {
			return fmt.Errorf("connecting to postgres at %s: %w", cfg.RedactedDSN(), err)
		}
		mctx, mcancel := context.WithTimeout(ctx, migrateTimeout)
		defer mcancel()
		if err := db.Migrate(mctx); err != nil {
			db.Close()
			return fmt.Errorf("running migrations: %w", err)
		}
		a.store = ledger.NewPostgresStore(db)
		a.logger.Infof(ctx, "Ledger: postgres at %s", cfg.RedactedDSN())

	case config.StoreSQLite:
		s, err := ledger.OpenSQLite(ctx, cfg.Ledger.SQLitePath)
		if err != nil {
			return err
		}
		a.store = s
		a.logger.Infof(ctx, "Ledger: sqlite at %s", cfg.Ledger.SQLitePath)

	case config.StoreRedis:
		c, err := a.openCache(ctx)
		if err != nil {
			return err
		}
		a.store = ledger.NewRedisStore(c)
		a.logger.Infof(ctx, "Ledger: redis at %s", cfg.RedisAddr())

	default:
		a.store = ledger.NewMemoryStore()
		a.logger.Warn(ctx, "Ledger: in-memory store, costs are lost on restart")
	}

	store := a.store
	a.closers = append(a.closers, func() { _ = store.Close() })
	a.ledger = ledger.New(store)
	return nil
}

// openCache connects to Redis once and reuses the client.
func (a *app) openCache(ctx context.Context) (*cache.Cache, error) {
	if a.cache != nil {
		return a.cache, nil
	}
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	c, err := cache.NewCache(cctx, cache.Options{
		Addr:     a.cfg.RedisAddr(),
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", a.cfg.RedisAddr(), err)
	}
	a.cache = c
	// The redis ledger store owns the client when it is in use.
	if a.cfg.Ledger.Store != config.StoreRedis {
		a.closers = append(a.closers, func() { _ = c.Close() })
	}
	return c, nil
}

// buildRouter wires backends, sinks and the spend monitor around the ledger.
func (a *app) buildRouter(ctx context.Context) error {
	cfg := a.cfg
	mode := cfg.Routing.Mode

	if mode != models.ModeRemoteOnly {
		a.local = local.New(local.Config{
			Endpoint:    cfg.Local.Endpoint,
			Model:       cfg.Local.Model,
			Timeout:     cfg.LocalTimeout(),
			Temperature: cfg.Local.Temperature,
			MaxTokens:   cfg.Local.MaxTokens,
			ProbeTTL:    cfg.Local.ProbeTTL,
		})
		a.logger.Infof(ctx, "Local backend: %s at %s", a.local.Model(), cfg.Local.Endpoint)
	}

	if mode != models.ModeLocalOnly {
		if cfg.Remote.APIKey == "" {
			return fmt.Errorf("remote backend needs an API key: set remote.api_key or the provider's API key env var")
		}
		completer, err := remote.NewCompleter(cfg.Remote.Provider, cfg.Remote.APIKey, cfg.Remote.BaseURL, cfg.Remote.MaxRetries)
		if err != nil {
			return err
		}
		rb, err := remote.New(completer, remote.Config{
			Model:              cfg.Remote.Model,
			Temperature:        cfg.Remote.Temperature,
			MaxTokens:          int(cfg.Remote.MaxTokens),
			PriceInPerMillion:  cfg.Remote.PriceInPerMillion,
			PriceOutPerMillion: cfg.Remote.PriceOutPerMillion,
			ProbeTTL:           cfg.Remote.ProbeTTL,
		})
		if err != nil {
			return err
		}
		a.remote = rb
		a.logger.Infof(ctx, "Remote backend: %s/%s", cfg.Remote.Provider, rb.Model())
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink := events.Multi{events.NewLogSink(a.logger), events.NewMetricsSink(a.registry)}

	a.monitor = budget.NewMonitor(a.ledger, a.ledger, sink, cfg.Spend.DailyLimitUSD, cfg.Spend.WarnRatio)

	localB, remoteB := a.backends()
	r, err := router.New(cfg.RouterConfig(), router.Deps{
		Local:    localB,
		Remote:   remoteB,
		Recorder: a.monitor,
		Sink:     sink,
	})
	if err != nil {
		return err
	}
	a.router = r
	a.insights = analytics.NewInsightsEngine(a.ledger, a.remotePricing())
	return nil
}

// backends returns the configured backends as interfaces, leaving absent
// ones as untyped nil.
func (a *app) backends() (l, r backend.Backend) {
	if a.local != nil {
		l = a.local
	}
	if a.remote != nil {
		r = a.remote
	}
	return l, r
}

// remotePricing is the price used to value local executions in reports.
func (a *app) remotePricing() models.ModelPricing {
	if a.remote != nil {
		return a.remote.Pricing()
	}
	if p, ok := models.LookupPricing(a.cfg.Remote.Model); ok {
		return p
	}
	return models.ModelPricing{
		Provider:        a.cfg.Remote.Provider,
		Model:           a.cfg.Remote.Model,
		InputPerMToken:  a.cfg.Remote.PriceInPerMillion,
		OutputPerMToken: a.cfg.Remote.PriceOutPerMillion,
	}
}
