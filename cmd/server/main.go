// Package main is the entrypoint for the UltraImage API server.
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

	"github.com/ultraimage/ultraimage/internal/api"
	"github.com/ultraimage/ultraimage/internal/api/handler"
	mw "github.com/ultraimage/ultraimage/internal/api/middleware"
	"github.com/ultraimage/ultraimage/internal/api/response"
	"github.com/ultraimage/ultraimage/internal/cache"
	"github.com/ultraimage/ultraimage/internal/config"
	"github.com/ultraimage/ultraimage/internal/enhance"
	"github.com/ultraimage/ultraimage/internal/runner"
	"github.com/ultraimage/ultraimage/internal/storage"
	"github.com/ultraimage/ultraimage/internal/store"
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
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"backend", cfg.Database.Backend,
		"provider", cfg.Enhance.Provider,
		"env", cfg.Server.Env,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Create the job store
	var jobStore store.Store
	switch cfg.Database.Backend {
	case "postgres":
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		slog.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")

		jobStore = store.NewPostgresStore(pool)
	case "memory":
		jobStore = store.NewMemoryStore()
		slog.Warn("using in-memory job store; jobs do not survive restarts")
	}

	// 3. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 4. Create artifact storage
	files, err := storage.New(cfg.Storage.UploadDir, cfg.Storage.ProcessedDir)
	if err != nil {
		return fmt.Errorf("create file storage: %w", err)
	}

	// 5. Create enhancement provider
	enhancer, err := enhance.NewEnhancer(cfg.Enhance)
	if err != nil {
		return fmt.Errorf("create enhancement provider: %w", err)
	}
	slog.Info("enhancement provider initialized", "provider", enhancer.Name())

	// 6. Start the worker pool
	jobRunner := runner.NewRunner(jobStore, redisCache, files, enhancer, runner.Config{
		MaxPixels:       cfg.Image.MaxPixels,
		EnhanceTimeout:  cfg.Enhance.Timeout,
		DownloadTimeout: cfg.Enhance.DownloadTimeout,
	})
	pool := runner.NewPool(jobRunner, cfg.Runner.Workers, cfg.Runner.QueueSize)

	// 7. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, 60),

		HealthHandler:   healthHandler(jobStore, redisCache),
		UploadHandler:   handler.NewUploadHandler(jobStore, redisCache, files, pool),
		StatusHandler:   handler.NewStatusHandler(jobStore, redisCache),
		DownloadHandler: handler.NewDownloadHandler(jobStore, files),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Stop accepting requests first, then let in-flight jobs finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	pool.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
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
			"status":   "healthy",
			"services": checks,
		})
	}
}
