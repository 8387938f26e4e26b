// Package worker claims and executes pipeline jobs. One RunOnce call
// processes at most one job; parallelism comes from the scheduler
// invoking RunOnce concurrently, and spacing between retries comes from
// the scheduler tick, never from sleeps inside the worker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/httpx"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
	obsctx "github.com/fairyhunter13/ai-ad-generator/internal/observability"
)

// Providers bundles every adapter the stage handlers dispatch to. Video
// is keyed by service name so batches choose their renderer.
type Providers struct {
	Script    domain.ScriptAdapter
	Voice     domain.VoiceAdapter
	Video     map[string]domain.VideoAdapter
	Watermark domain.WatermarkRemover
	Compose   domain.ComposeAdapter
	Image     domain.ImageAdapter
	Research  domain.ResearchAdapter
}

// Result reports what a single RunOnce invocation did.
type Result struct {
	Processed  bool   `json:"processed"`
	JobID      string `json:"job_id,omitempty"`
	JobType    string `json:"job_type,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// Worker drives jobs through their stage handlers.
type Worker struct {
	store  domain.Store
	blobs  domain.BlobStore
	prov   Providers
	events domain.EventSink
	cfg    config.Config
	dl     *http.Client
}

// New constructs a Worker. The download client fetches rendered assets
// from provider URLs under the per-call cap.
func New(store domain.Store, blobs domain.BlobStore, prov Providers, events domain.EventSink, cfg config.Config) *Worker {
	return &Worker{
		store:  store,
		blobs:  blobs,
		prov:   prov,
		events: events,
		cfg:    cfg,
		dl:     httpx.NewClient(30 * time.Second),
	}
}

// RunOnce claims the oldest queued job and executes it under the per-job
// timeout. Claiming nothing is not an error.
func (w *Worker) RunOnce(ctx domain.Context) (Result, error) {
	job, ok, err := w.store.ClaimNextJob(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("op=worker.RunOnce claim: %w", err)
	}
	if !ok {
		return Result{}, nil
	}
	lg := obsctx.LoggerFromContext(ctx).With("job_id", job.ID, "job_type", string(job.Type), "attempts", job.Attempts)

	if job.Attempts > w.cfg.WorkerMaxAttempts {
		lg.Warn("job exceeded max attempts")
		if err := w.store.FailJob(ctx, job.ID, "max retries exceeded", false); err != nil {
			return Result{}, fmt.Errorf("op=worker.RunOnce fail: %w", err)
		}
		if job.ClipID != nil {
			if err := w.store.FailClip(ctx, *job.ClipID, "max retries exceeded"); err != nil {
				lg.Error("fail clip", "error", err)
			}
			w.publishClipEvent(ctx, job, "clip.failed", "max retries exceeded")
		}
		observability.JobsFailedTotal.WithLabelValues(string(job.Type)).Inc()
		w.closeBatchIfComplete(ctx, job.BatchID)
		return Result{Processed: true, JobID: job.ID, JobType: string(job.Type)}, nil
	}

	observability.StartProcessingJob(string(job.Type))
	start := time.Now()
	jctx, cancel := w.jobContext(ctx)
	err = w.dispatch(jctx, job)
	cancel()
	dur := time.Since(start)

	res := Result{Processed: true, JobID: job.ID, JobType: string(job.Type), DurationMS: dur.Milliseconds()}
	switch {
	case err == nil:
		if cerr := w.store.CompleteJob(ctx, job.ID); cerr != nil {
			return Result{}, fmt.Errorf("op=worker.RunOnce complete: %w", cerr)
		}
		observability.CompleteJob(string(job.Type))
		w.appendLog(ctx, job, dur, "ok", "")
		w.closeBatchIfComplete(ctx, job.BatchID)

	case errors.Is(err, domain.ErrVideoRendering):
		// The video task is submitted but not finished. The job stays
		// running; the janitor re-queues it after the stuck threshold and
		// a later attempt resumes polling the stored task id.
		observability.JobsProcessing.WithLabelValues(string(job.Type)).Dec()
		w.appendLog(ctx, job, dur, "rendering", err.Error())
		lg.Info("video still rendering; leaving job running")

	case domain.Retryable(err) && job.Attempts < domain.AttemptCap(err, w.cfg.WorkerMaxAttempts):
		lg.Warn("job failed; re-queueing", "error", err)
		if ferr := w.store.FailJob(ctx, job.ID, err.Error(), true); ferr != nil {
			return Result{}, fmt.Errorf("op=worker.RunOnce requeue: %w", ferr)
		}
		observability.RequeueJob(string(job.Type))
		w.appendLog(ctx, job, dur, "retry", err.Error())

	default:
		lg.Error("job failed permanently", "error", err)
		if ferr := w.store.FailJob(ctx, job.ID, err.Error(), false); ferr != nil {
			return Result{}, fmt.Errorf("op=worker.RunOnce fail: %w", ferr)
		}
		if job.ClipID != nil {
			if cerr := w.store.FailClip(ctx, *job.ClipID, err.Error()); cerr != nil {
				lg.Error("fail clip", "error", cerr)
			}
			w.publishClipEvent(ctx, job, "clip.failed", err.Error())
		}
		observability.FailJob(string(job.Type))
		w.appendLog(ctx, job, dur, "failed", err.Error())
		w.closeBatchIfComplete(ctx, job.BatchID)
	}
	return res, nil
}

func (w *Worker) jobContext(ctx domain.Context) (domain.Context, func()) {
	if w.cfg.WorkerJobTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, w.cfg.WorkerJobTimeout)
}

func (w *Worker) dispatch(ctx domain.Context, job domain.Job) error {
	switch job.Type {
	case domain.JobCompile:
		return w.handleCompile(ctx, job)
	case domain.JobTTS:
		return w.handleTTS(ctx, job)
	case domain.JobVideo:
		return w.handleVideo(ctx, job)
	case domain.JobAssemble:
		return w.handleAssemble(ctx, job)
	case domain.JobImageCompile:
		return w.handleImageCompile(ctx, job)
	case domain.JobImage:
		return w.handleImage(ctx, job)
	case domain.JobResearch:
		return w.handleResearch(ctx, job)
	}
	return fmt.Errorf("%w: unknown job type %q", domain.ErrInternal, job.Type)
}

// closeBatchIfComplete runs the completion check and, when the batch just
// closed, settles the refund and publishes the terminal event. RefundBatch
// is idempotent and credits nothing when every clip is ready.
func (w *Worker) closeBatchIfComplete(ctx domain.Context, batchID string) {
	lg := obsctx.LoggerFromContext(ctx).With("batch_id", batchID)
	status, closed, err := w.store.CheckBatchComplete(ctx, batchID)
	if err != nil {
		lg.Error("batch completion check", "error", err)
		return
	}
	if !closed {
		return
	}
	refunded, err := w.store.RefundBatch(ctx, batchID)
	if err != nil {
		lg.Error("refund on batch close", "error", err)
	} else if refunded > 0 {
		observability.CreditsRefundedTotal.Add(float64(refunded))
	}
	observability.BatchesClosedTotal.WithLabelValues(string(status)).Inc()
	lg.Info("batch closed", "status", string(status), "refunded_cents", refunded)
	w.events.Publish(ctx, domain.Event{
		Kind:    "batch." + string(status),
		BatchID: batchID,
		Status:  string(status),
	})
}

// enqueueNext inserts the next-stage job, treating an existing active job
// for the same (batch, clip, type) as success so re-entered handlers stay
// idempotent.
func (w *Worker) enqueueNext(ctx domain.Context, batchID string, clipID *string, typ domain.JobType, payload domain.JobPayload) error {
	if _, err := w.store.Enqueue(ctx, batchID, clipID, typ, payload); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		return fmt.Errorf("op=worker.enqueueNext type=%s: %w", typ, err)
	}
	observability.JobsEnqueuedTotal.WithLabelValues(string(typ)).Inc()
	return nil
}

func (w *Worker) appendLog(ctx domain.Context, job domain.Job, dur time.Duration, outcome, detail string) {
	clipID := ""
	if job.ClipID != nil {
		clipID = *job.ClipID
	}
	entry := domain.ServiceLogEntry{
		BatchID:    job.BatchID,
		ClipID:     clipID,
		JobID:      job.ID,
		JobType:    string(job.Type),
		Provider:   w.providerName(job),
		DurationMS: dur.Milliseconds(),
		Outcome:    outcome,
		Detail:     detail,
	}
	if err := w.store.AppendServiceLog(ctx, entry); err != nil {
		obsctx.LoggerFromContext(ctx).Warn("service log append failed", "error", err)
	}
}

func (w *Worker) providerName(job domain.Job) string {
	switch job.Type {
	case domain.JobCompile, domain.JobImageCompile:
		return "script"
	case domain.JobTTS:
		return "voice"
	case domain.JobVideo:
		return job.Payload.String("video_service")
	case domain.JobAssemble:
		return "compose"
	case domain.JobImage:
		return "image"
	case domain.JobResearch:
		return "research"
	}
	return ""
}

func (w *Worker) publishClipEvent(ctx domain.Context, job domain.Job, kind, detail string) {
	clipID := ""
	if job.ClipID != nil {
		clipID = *job.ClipID
	}
	w.events.Publish(ctx, domain.Event{
		Kind:    kind,
		BatchID: job.BatchID,
		ClipID:  clipID,
		Detail:  detail,
	})
}

// download fetches a provider asset. An optional header carries the
// provider credential for authenticated content URLs.
func (w *Worker) download(ctx domain.Context, url, hdrKey, hdrVal string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("op=worker.download: %w", err)
	}
	if hdrKey != "" {
		req.Header.Set(hdrKey, hdrVal)
	}
	resp, err := w.dl.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: download: %v", domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, httpx.StatusError("download", resp.StatusCode, httpx.Snippet(resp.Body, 256))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: download read: %v", domain.ErrTransient, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: downloaded empty asset", domain.ErrProviderPermanent)
	}
	return data, nil
}
