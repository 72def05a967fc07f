// Package main is the entrypoint for the panoptes API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/panoptes/internal/api"
	"github.com/kiranshivaraju/panoptes/internal/api/handler"
	mw "github.com/kiranshivaraju/panoptes/internal/api/middleware"
	"github.com/kiranshivaraju/panoptes/internal/api/response"
	"github.com/kiranshivaraju/panoptes/internal/cache"
	"github.com/kiranshivaraju/panoptes/internal/config"
	"github.com/kiranshivaraju/panoptes/internal/dbconf"
	"github.com/kiranshivaraju/panoptes/internal/store"
	"github.com/kiranshivaraju/panoptes/internal/workflow"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "db_conf_format", cfg.Database.ConfFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Resolve and open the database
	connString, opts := resolveDatabase(cfg.Database)
	db, err := store.Open(ctx, connString, opts)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create cache
	c, closeCache, err := newCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeCache()

	// 5. Build router with dependencies
	svc := workflow.NewService(db, c, cfg.Workflow.CacheTTL)

	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(c, cfg.RateLimit.RequestsPerMinute),

		HealthHandler:      healthHandler(db, c),
		ServiceInfoHandler: handler.NewServiceInfoHandler(),
		ListWorkflows:      handler.NewListWorkflowsHandler(svc),
		CreateWorkflow:     handler.NewCreateWorkflowHandler(svc),
		GetWorkflow:        handler.NewGetWorkflowHandler(svc),
		UpdateWorkflowName: handler.NewUpdateWorkflowNameHandler(svc),
		ListWorkflowJobs:   handler.NewListWorkflowJobsHandler(svc),
	}

	router := api.NewRouter(deps)

	// 6. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// resolveDatabase picks the connection string and pool options. DATABASE_URL
// wins; otherwise the database configuration file is resolved, which never
// fails and degrades to the local SQLite database.
func resolveDatabase(cfg config.DatabaseConfig) (string, store.Options) {
	base := store.OptionsFromConfig(cfg)
	if cfg.URL != "" {
		return cfg.URL, base
	}

	var res dbconf.Resolution
	switch cfg.ConfFormat {
	case config.DBConfFormatLegacy:
		res = dbconf.ResolveLegacy(cfg.LegacyConfPath)
	default:
		res = dbconf.Resolve(cfg.ConfPath)
	}

	opts, err := store.OptionsFromMap(base, res.Options)
	if err != nil {
		slog.Warn("ignoring database options", "error", err)
	}
	return res.ConnString, opts
}

// newCache connects to Redis when REDIS_URL is set and falls back to a cache
// that never hits otherwise.
func newCache(ctx context.Context, cfg config.RedisConfig) (cache.Cache, func(), error) {
	if cfg.URL == "" {
		slog.Info("redis not configured, caching disabled")
		return cache.Noop{}, func() {}, nil
	}

	redisCache, err := cache.NewRedisCache(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := redisCache.Ping(ctx); err != nil {
		_ = redisCache.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")
	return redisCache, func() { _ = redisCache.Close() }, nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
