package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/leader"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

// Janitor reaps stuck and expired state. Every step is idempotent and
// safe to run concurrently with the fast tick; the leader lock only
// avoids redundant sweeps across replicas.
type Janitor struct {
	cfg    config.Config
	store  domain.Store
	blobs  domain.BlobStore
	events domain.EventSink
	lock   *leader.Lock
}

// NewJanitor constructs a Janitor. A nil lock disables leader election.
func NewJanitor(cfg config.Config, store domain.Store, blobs domain.BlobStore, events domain.EventSink, lock *leader.Lock) *Janitor {
	return &Janitor{cfg: cfg, store: store, blobs: blobs, events: events, lock: lock}
}

// RunOnce performs one full sweep, in order: unstick running jobs, harvest
// failed jobs, time out stale batches, purge old failed batches, apply
// clip retention, purge old done jobs. A failing step logs and the sweep
// continues; the next tick retries.
func (j *Janitor) RunOnce(ctx context.Context) {
	if !j.lock.TryAcquire(ctx) {
		slog.Debug("janitor skipped; another replica holds the lease")
		return
	}
	start := time.Now()

	if n, err := j.store.ResetStuckJobs(ctx, j.cfg.StuckRunningThreshold); err != nil {
		slog.Error("janitor reset stuck jobs", slog.Any("error", err))
	} else if n > 0 {
		slog.Info("janitor reset stuck jobs", slog.Int("count", n))
	}

	if n, err := j.store.HarvestFailedJobs(ctx); err != nil {
		slog.Error("janitor harvest failed jobs", slog.Any("error", err))
	} else if n > 0 {
		slog.Info("janitor harvested failed jobs", slog.Int("count", n))
	}

	j.timeoutStaleBatches(ctx)
	j.purgeFailedBatches(ctx)
	j.applyRetention(ctx)

	if n, err := j.store.PurgeDoneJobs(ctx, j.cfg.DoneJobAge); err != nil {
		slog.Error("janitor purge done jobs", slog.Any("error", err))
	} else if n > 0 {
		slog.Info("janitor purged done jobs", slog.Int("count", n))
	}

	slog.Info("janitor sweep complete", slog.Duration("took", time.Since(start)))
}

// timeoutStaleBatches fails batches stuck in running past the age limit,
// drops their jobs and settles the refund.
func (j *Janitor) timeoutStaleBatches(ctx context.Context) {
	batches, err := j.store.ListStaleRunningBatches(ctx, j.cfg.IncompleteBatchAge)
	if err != nil {
		slog.Error("janitor list stale batches", slog.Any("error", err))
		return
	}
	for _, b := range batches {
		lg := slog.With(slog.String("batch_id", b.ID))
		if err := j.store.SetBatchStatus(ctx, b.ID, domain.BatchFailed, "timed out"); err != nil {
			lg.Error("janitor timeout batch", slog.Any("error", err))
			continue
		}
		if err := j.store.FailBatchClips(ctx, b.ID, "timed out"); err != nil {
			lg.Error("janitor fail clips", slog.Any("error", err))
		}
		if err := j.store.DeleteBatchJobs(ctx, b.ID); err != nil {
			lg.Error("janitor delete jobs", slog.Any("error", err))
		}
		refunded, err := j.store.RefundBatch(ctx, b.ID)
		if err != nil {
			lg.Error("janitor refund", slog.Any("error", err))
		} else if refunded > 0 {
			observability.CreditsRefundedTotal.Add(float64(refunded))
		}
		observability.BatchesClosedTotal.WithLabelValues(string(domain.BatchFailed)).Inc()
		lg.Warn("janitor timed out batch", slog.Int64("refunded_cents", refunded))
		j.events.Publish(ctx, domain.Event{
			Kind:    "batch.failed",
			BatchID: b.ID,
			UserID:  b.UserID,
			Status:  string(domain.BatchFailed),
			Detail:  "timed out",
		})
	}
}

// purgeFailedBatches deletes long-failed batches with their clips and
// jobs; storage blobs go best-effort.
func (j *Janitor) purgeFailedBatches(ctx context.Context) {
	batches, err := j.store.ListPurgeableFailedBatches(ctx, j.cfg.FailedBatchAge)
	if err != nil {
		slog.Error("janitor list purgeable batches", slog.Any("error", err))
		return
	}
	for _, b := range batches {
		clips, err := j.store.GetBatchClips(ctx, b.ID)
		if err != nil {
			slog.Error("janitor load clips for purge", slog.String("batch_id", b.ID), slog.Any("error", err))
			continue
		}
		for _, c := range clips {
			j.deleteClipBlobs(ctx, c.ID)
		}
		if err := j.store.DeleteBatch(ctx, b.ID); err != nil {
			slog.Error("janitor delete batch", slog.String("batch_id", b.ID), slog.Any("error", err))
			continue
		}
		slog.Info("janitor purged failed batch", slog.String("batch_id", b.ID))
	}
}

// applyRetention soft-deletes killed clips and expired non-winner clips
// and removes their blobs.
func (j *Janitor) applyRetention(ctx context.Context) {
	retention := time.Duration(j.cfg.ClipRetentionDays) * 24 * time.Hour
	clips, err := j.store.ListExpiredClips(ctx, retention)
	if err != nil {
		slog.Error("janitor list expired clips", slog.Any("error", err))
		return
	}
	for _, c := range clips {
		if err := j.store.SoftDeleteClip(ctx, c.ID); err != nil {
			slog.Error("janitor soft delete clip", slog.String("clip_id", c.ID), slog.Any("error", err))
			continue
		}
		j.deleteClipBlobs(ctx, c.ID)
	}
	if len(clips) > 0 {
		slog.Info("janitor applied retention", slog.Int("count", len(clips)))
	}
}

func (j *Janitor) deleteClipBlobs(ctx context.Context, clipID string) {
	for _, key := range domain.ClipArtifactKeys(clipID) {
		if err := j.blobs.Delete(ctx, key); err != nil {
			slog.Warn("janitor blob delete", slog.String("key", key), slog.Any("error", err))
		}
	}
}
