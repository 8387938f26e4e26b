// Command server starts the batch generation HTTP server.
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

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/events"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-ad-generator/internal/app"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
	"github.com/fairyhunter13/ai-ad-generator/internal/usecase"
	"github.com/fairyhunter13/ai-ad-generator/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}
	store := postgres.NewStore(pool)

	blobs, err := app.BuildBlobStore(ctx, cfg)
	if err != nil {
		slog.Error("blob store init failed", slog.Any("error", err))
		os.Exit(1)
	}

	var sink domain.EventSink = events.Noop{}
	if cfg.EventsEnabled() {
		pub, err := events.NewPublisher(cfg)
		if err != nil {
			slog.Error("event publisher init failed; continuing without events", slog.Any("error", err))
		} else {
			sink = pub
			defer pub.Close()
		}
	}

	wk := worker.New(store, blobs, app.BuildProviders(cfg), sink, cfg)
	batches := usecase.NewBatchService(store, sink)

	dbCheck := func(ctx context.Context) error { return pool.Ping(ctx) }
	var redisCheck func(ctx context.Context) error
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer func() { _ = rdb.Close() }()
		redisCheck = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	srv := httpserver.NewServer(cfg, batches, wk, dbCheck, redisCheck)
	handler := app.BuildRouter(cfg, srv)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	go func() {
		slog.Info("http server listening", slog.Int("port", cfg.Port), slog.String("env", cfg.AppEnv))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", slog.Any("error", err))
	}
}
