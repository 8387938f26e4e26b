// Command scheduler runs the fast worker tick and the janitor.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/events"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/leader"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-ad-generator/internal/app"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	// The lock TTL covers one janitor interval so a crashed leader is
	// replaced by the next tick.
	lock := leader.New(cfg.RedisAddr, cfg.RedisPassword, cfg.JanitorInterval)
	defer func() { _ = lock.Close() }()

	wk := worker.New(store, blobs, app.BuildProviders(cfg), sink, cfg)
	janitor := app.NewJanitor(cfg, store, blobs, sink, lock)
	app.NewScheduler(cfg, wk, janitor).Run(ctx)
}
