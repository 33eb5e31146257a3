package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/DevCabin/ClawLess/internal/api"
	"github.com/DevCabin/ClawLess/internal/middleware"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP routing service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	if err := a.openLedger(ctx); err != nil {
		return err
	}
	if err := a.buildRouter(ctx); err != nil {
		return err
	}

	var checker middleware.RateChecker = middleware.NewLocalRateChecker(0)
	if cfg.Server.RateLimitRPM > 0 {
		if c, err := a.openCache(ctx); err != nil {
			a.logger.Warnf(ctx, "Redis unavailable (%v). Rate limiting is per instance.", err)
		} else {
			checker = c
		}
	}

	if cfg.Server.AdminAPIKey == "" {
		a.logger.Warn(ctx, "server.admin_api_key not set. Cost endpoints are UNAUTHENTICATED.")
	}
	if cfg.Server.RouteAPIKey == "" {
		a.logger.Warn(ctx, "server.route_api_key not set. Route endpoint is UNAUTHENTICATED.")
	}

	gin.SetMode(cfg.Server.Mode)
	localB, remoteB := a.backends()
	h := api.NewHandlers(api.Deps{
		Router:   a.router,
		Ledger:   a.ledger,
		Insights: a.insights,
		Monitor:  a.monitor,
		Local:    localB,
		Remote:   remoteB,
		Logger:   a.logger,
	})
	engine := api.NewEngine(h, api.ServerOptions{
		AdminAPIKey:    cfg.Server.AdminAPIKey,
		RouteAPIKey:    cfg.Server.RouteAPIKey,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimitRPM:   int64(cfg.Server.RateLimitRPM),
		RateChecker:    checker,
		Gatherer:       a.registry,
		Logger:         a.logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof(ctx, "ClawLess is ready on %s (mode=%s)", srv.Addr, cfg.Routing.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info(context.Background(), "Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info(context.Background(), "Server exited.")
	return nil
}
