package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/worker"
)

// Scheduler drives the worker with a fast tick and runs the janitor on a
// slow tick. Several replicas may run concurrently; job claiming and the
// janitor leader lock keep them from duplicating work.
type Scheduler struct {
	cfg     config.Config
	worker  *worker.Worker
	janitor *Janitor
}

// NewScheduler constructs a Scheduler. The janitor may be nil when this
// replica should only drive the fast tick.
func NewScheduler(cfg config.Config, wk *worker.Worker, janitor *Janitor) *Scheduler {
	return &Scheduler{cfg: cfg, worker: wk, janitor: janitor}
}

// Run blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	fast := time.NewTicker(s.cfg.TickInterval)
	defer fast.Stop()

	var slow *time.Ticker
	if s.janitor != nil {
		slow = time.NewTicker(s.cfg.JanitorInterval)
		defer slow.Stop()
	} else {
		slow = time.NewTicker(time.Hour)
		slow.Stop()
	}

	slog.Info("scheduler started",
		slog.Duration("tick", s.cfg.TickInterval),
		slog.Int("parallelism", s.cfg.TickParallelism),
		slog.Duration("janitor", s.cfg.JanitorInterval))

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopping")
			return
		case <-fast.C:
			s.fastTick(ctx)
		case <-slow.C:
			if s.janitor != nil {
				s.janitor.RunOnce(ctx)
			}
		}
	}
}

// fastTick invokes RunOnce in parallel under the tick budget. Each goroutine
// keeps draining until the queue is empty or the budget expires.
func (s *Scheduler) fastTick(ctx context.Context) {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.TickBudget)
	defer cancel()

	m := s.cfg.TickParallelism
	if m < 1 {
		m = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if tctx.Err() != nil {
					return
				}
				res, err := s.worker.RunOnce(tctx)
				if err != nil {
					slog.Error("worker run-once", slog.Any("error", err))
					return
				}
				if !res.Processed {
					return
				}
			}
		}()
	}
	wg.Wait()
}
