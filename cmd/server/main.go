// Command server runs the continuous prompt-caching probe service: the model
// rotation scheduler plus the dashboard-facing HTTP API.
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

	"github.com/redis/go-redis/v9"

	"github.com/georgeglarson/venice-caching-tests/internal/adapter/ai/tokencount"
	"github.com/georgeglarson/venice-caching-tests/internal/adapter/ai/venice"
	"github.com/georgeglarson/venice-caching-tests/internal/adapter/cache"
	"github.com/georgeglarson/venice-caching-tests/internal/adapter/httpserver"
	"github.com/georgeglarson/venice-caching-tests/internal/adapter/observability"
	"github.com/georgeglarson/venice-caching-tests/internal/adapter/queue/redpanda"
	"github.com/georgeglarson/venice-caching-tests/internal/adapter/repo/postgres"
	"github.com/georgeglarson/venice-caching-tests/internal/app"
	"github.com/georgeglarson/venice-caching-tests/internal/config"
	"github.com/georgeglarson/venice-caching-tests/internal/service/probes"
	"github.com/georgeglarson/venice-caching-tests/internal/service/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// The API key is the only credential; without it every probe call fails,
	// so refuse to start.
	if cfg.VeniceAPIKey == "" {
		slog.Error("VENICE_API_KEY is required")
		os.Exit(1)
	}

	observability.InitMetrics()

	ctx := context.Background()

	shutdownTracer, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	resRepo := postgres.NewResultRepo(pool)
	usageRepo := postgres.NewUsageRepo(pool)

	cleanup := postgres.NewCleanupService(pool, 0)
	go cleanup.Run(ctx, 24*time.Hour)

	// Redis is optional; without it cache invalidation is a no-op and the
	// readiness probe skips the check.
	var rdb *redis.Client
	var redisCheck func(context.Context) error
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		redisCheck = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	invalidator := cache.NewInvalidator(rdb)

	bus := scheduler.NewEventBus()
	if cfg.EventsEnabled() {
		publisher, err := redpanda.NewPublisher(cfg.KafkaBrokers)
		if err != nil {
			slog.Error("redpanda connect failed, probe events stay in-process", slog.Any("error", err))
		} else {
			bus.Subscribe(publisher)
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := publisher.Close(closeCtx); err != nil {
					slog.Error("failed to close event publisher", slog.Any("error", err))
				}
			}()
		}
	}

	prompts, err := config.LoadPromptConfig(cfg.PromptsPath)
	if err != nil {
		slog.Error("prompt config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	client := venice.New(cfg)
	runner := probes.NewRunner(client, tokencount.NewCounter(), cfg, prompts)
	orch := scheduler.NewOrchestrator(runner, resRepo, usageRepo, invalidator, bus, cfg)
	sched := scheduler.New(cfg, client, orch, logger)
	sched.Start(ctx)
	defer sched.Stop()

	srv := &httpserver.Server{
		Cfg:        cfg,
		Sched:      sched,
		DBCheck:    func(ctx context.Context) error { return pool.Ping(ctx) },
		RedisCheck: redisCheck,
	}
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
