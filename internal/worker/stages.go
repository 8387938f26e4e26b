package worker

import (
	"fmt"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/httpx"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
	obsctx "github.com/fairyhunter13/ai-ad-generator/internal/observability"
)

// Stage handlers. Each writes progress in order: advance the clip with
// its artifacts, enqueue the next stage, let RunOnce mark the job done.
// Re-entry after a crash is safe: an artifact already on the clip skips
// the provider call, and enqueueNext tolerates the existing next job.

func (w *Worker) handleResearch(ctx domain.Context, job domain.Job) error {
	batch, err := w.store.GetBatch(ctx, job.BatchID)
	if err != nil {
		return err
	}
	if batch.Status.Terminal() {
		return fmt.Errorf("%w: batch %s is %s", domain.ErrConflict, batch.ID, batch.Status)
	}
	if err := w.store.SetBatchStatus(ctx, batch.ID, domain.BatchResearching, ""); err != nil {
		return err
	}

	// Research enriches scripts but never blocks them; failures fall
	// through to compile without context.
	if batch.ResearchSummary == "" {
		summary, rerr := w.runResearch(ctx, batch)
		if rerr != nil {
			obsctx.LoggerFromContext(ctx).Warn("research failed; compiling without context",
				"batch_id", batch.ID, "error", rerr)
		} else if err := w.store.SetBatchResearch(ctx, batch.ID, summary); err != nil {
			return err
		}
	}

	if err := w.store.SetBatchStatus(ctx, batch.ID, domain.BatchRunning, ""); err != nil {
		return err
	}
	root := domain.JobCompile
	if batch.OutputType == domain.OutputImage {
		root = domain.JobImageCompile
	}
	return w.enqueueNext(ctx, batch.ID, nil, root, domain.JobPayload{})
}

func (w *Worker) runResearch(ctx domain.Context, batch domain.Batch) (string, error) {
	start := time.Now()
	videos, err := w.prov.Research.Search(ctx, batch.IntentText, 100_000, "")
	if err != nil {
		observability.ObserveProviderCall("research", "error", time.Since(start))
		return "", err
	}
	if len(videos) == 0 {
		observability.ObserveProviderCall("research", "empty", time.Since(start))
		return "", fmt.Errorf("%w: research found no references", domain.ErrProviderPermanent)
	}
	summary, err := w.prov.Research.Analyze(ctx, videos, batch.IntentText)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.ObserveProviderCall("research", outcome, time.Since(start))
	return summary, err
}

func (w *Worker) handleCompile(ctx domain.Context, job domain.Job) error {
	batch, err := w.store.GetBatch(ctx, job.BatchID)
	if err != nil {
		return err
	}
	if batch.Status.Terminal() {
		return fmt.Errorf("%w: batch %s is %s", domain.ErrConflict, batch.ID, batch.Status)
	}
	if err := w.store.SetBatchStatus(ctx, batch.ID, domain.BatchRunning, ""); err != nil {
		return err
	}
	clips, err := w.store.GetBatchClips(ctx, batch.ID)
	if err != nil {
		return err
	}
	target := domain.TargetDurationFor(batch.QualityMode)

	for i, clip := range clips {
		if clip.Status.Terminal() {
			continue
		}
		if clip.ScriptSpoken == "" {
			start := time.Now()
			res, gerr := w.prov.Script.Generate(ctx, domain.ScriptRequest{
				IntentText:     batch.IntentText,
				PresetKey:      clip.PresetKey,
				Mode:           batch.Mode,
				VariantIndex:   i,
				VariantCount:   len(clips),
				TargetDuration: target,
				ResearchCtx:    batch.ResearchSummary,
			})
			if gerr != nil {
				observability.ObserveProviderCall("script", "error", time.Since(start))
				return gerr
			}
			observability.ObserveProviderCall("script", "ok", time.Since(start))
			err = w.store.AdvanceClip(ctx, clip.ID, domain.ClipScripting, domain.ClipPatch{
				ScriptSpoken: &res.Spoken,
				OnScreenText: res.Overlays,
				SoraPrompt:   &res.VisualPrompt,
			})
			if err != nil {
				return err
			}
		}
		cid := clip.ID
		err = w.enqueueNext(ctx, batch.ID, &cid, domain.JobTTS, domain.JobPayload{
			"duration_seconds": target,
			"video_service":    w.videoService(batch, clip),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) handleTTS(ctx domain.Context, job domain.Job) error {
	clip, err := w.clipFor(ctx, job)
	if err != nil {
		return err
	}
	target := job.Payload.Int("duration_seconds")
	if target == 0 {
		target = 15
	}

	if clip.VoiceURL == "" {
		if clip.ScriptSpoken == "" {
			return fmt.Errorf("%w: clip %s has no script", domain.ErrInternal, clip.ID)
		}
		start := time.Now()
		voice, serr := w.prov.Voice.Synthesize(ctx, clip.ScriptSpoken)
		if serr != nil {
			observability.ObserveProviderCall("voice", "error", time.Since(start))
			return serr
		}
		observability.ObserveProviderCall("voice", "ok", time.Since(start))
		url, perr := w.blobs.Put(ctx, domain.VoiceKey(clip.ID), "audio/mpeg", voice.Audio)
		if perr != nil {
			return perr
		}
		if err := w.store.AdvanceClip(ctx, clip.ID, domain.ClipVO, domain.ClipPatch{VoiceURL: &url}); err != nil {
			return err
		}
	}
	return w.enqueueNext(ctx, job.BatchID, job.ClipID, domain.JobVideo, domain.JobPayload{
		"duration_seconds": target,
		"video_service":    job.Payload.String("video_service"),
	})
}

func (w *Worker) handleVideo(ctx domain.Context, job domain.Job) error {
	clip, err := w.clipFor(ctx, job)
	if err != nil {
		return err
	}
	if clip.RawVideoURL != "" {
		return w.enqueueNext(ctx, job.BatchID, job.ClipID, domain.JobAssemble, domain.JobPayload{
			"duration_seconds": job.Payload.Int("duration_seconds"),
		})
	}

	service := job.Payload.String("video_service")
	if service == "" {
		service = domain.VideoServiceSora
	}
	adapter, ok := w.prov.Video[service]
	if !ok {
		return fmt.Errorf("%w: no video adapter for service %q", domain.ErrInternal, service)
	}
	duration := job.Payload.Int("duration_seconds")
	if duration == 0 {
		duration = 15
	}

	// Submit exactly once. The task id lives on the job payload so a
	// revived attempt resumes polling instead of paying for a new render.
	taskID := job.Payload.String("task_id")
	if taskID == "" {
		if clip.SoraPrompt == "" {
			return fmt.Errorf("%w: clip %s has no visual prompt", domain.ErrInternal, clip.ID)
		}
		batch, berr := w.store.GetBatch(ctx, job.BatchID)
		if berr != nil {
			return berr
		}
		start := time.Now()
		taskID, err = adapter.Submit(ctx, domain.VideoSubmission{
			Prompt:          clip.SoraPrompt,
			DurationSeconds: duration,
			AspectRatio:     "9:16",
			GenerationMode:  batch.QualityMode,
		})
		if err != nil {
			observability.ObserveProviderCall(service, "error", time.Since(start))
			return err
		}
		observability.ObserveProviderCall(service, "submitted", time.Since(start))
		payload := domain.JobPayload{}
		for k, v := range job.Payload {
			payload[k] = v
		}
		payload["task_id"] = taskID
		if err := w.store.UpdateJobPayload(ctx, job.ID, payload); err != nil {
			return err
		}
	}

	task, err := w.pollVideo(ctx, adapter, taskID)
	if err != nil {
		return err
	}

	hdrKey, hdrVal := w.downloadAuth(adapter)
	data, err := w.download(ctx, task.URL, hdrKey, hdrVal)
	if err != nil {
		return err
	}
	rawURL, err := w.blobs.Put(ctx, domain.RawVideoKey(clip.ID), "video/mp4", data)
	if err != nil {
		return err
	}
	if adapter.NeedsWatermarkRemoval() {
		start := time.Now()
		cleanURL, werr := w.prov.Watermark.Remove(ctx, rawURL)
		if werr != nil {
			observability.ObserveProviderCall("watermark", "error", time.Since(start))
			return werr
		}
		observability.ObserveProviderCall("watermark", "ok", time.Since(start))
		clean, derr := w.download(ctx, cleanURL, "", "")
		if derr != nil {
			return derr
		}
		if rawURL, err = w.blobs.Put(ctx, domain.RawVideoKey(clip.ID), "video/mp4", clean); err != nil {
			return err
		}
	}

	provider := adapter.Name()
	err = w.store.AdvanceClip(ctx, clip.ID, domain.ClipRendering, domain.ClipPatch{
		RawVideoURL: &rawURL,
		Provider:    &provider,
	})
	if err != nil {
		return err
	}
	return w.enqueueNext(ctx, job.BatchID, job.ClipID, domain.JobAssemble, domain.JobPayload{
		"duration_seconds": duration,
	})
}

// pollVideo polls the task inside the remaining job budget, leaving two
// poll intervals of headroom for the download and upload that follow.
func (w *Worker) pollVideo(ctx domain.Context, adapter domain.VideoAdapter, taskID string) (domain.VideoTask, error) {
	wait := w.cfg.VideoPollWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	for {
		start := time.Now()
		task, err := adapter.Status(ctx, taskID)
		if err != nil {
			observability.ObserveProviderCall(adapter.Name(), "error", time.Since(start))
			return domain.VideoTask{}, err
		}
		switch task.State {
		case domain.VideoTaskCompleted:
			observability.ObserveProviderCall(adapter.Name(), "ok", time.Since(start))
			if task.URL == "" {
				return domain.VideoTask{}, fmt.Errorf("%w: completed task %s has no URL", domain.ErrProviderPermanent, taskID)
			}
			return task, nil
		case domain.VideoTaskFailed:
			observability.ObserveProviderCall(adapter.Name(), "failed", time.Since(start))
			return domain.VideoTask{}, videoFailure(adapter.Name(), task.Reason)
		}

		deadline, ok := ctx.Deadline()
		if ok && time.Until(deadline) < 2*wait {
			return domain.VideoTask{}, fmt.Errorf("%w: task %s", domain.ErrVideoRendering, taskID)
		}
		select {
		case <-ctx.Done():
			return domain.VideoTask{}, fmt.Errorf("%w: task %s", domain.ErrVideoRendering, taskID)
		case <-time.After(wait):
		}
	}
}

// videoFailure maps a provider failure reason to the error taxonomy.
func videoFailure(provider, reason string) error {
	low := strings.ToLower(reason)
	switch {
	case httpx.IsPolicyRefusal(reason):
		return fmt.Errorf("%w: %s: %s", domain.ErrContentPolicy, provider, reason)
	case strings.Contains(low, "timeout") || strings.Contains(low, "temporar") || strings.Contains(low, "overload"):
		return fmt.Errorf("%w: %s: %s", domain.ErrTransient, provider, reason)
	}
	return fmt.Errorf("%w: %s: %s", domain.ErrProviderPermanent, provider, reason)
}

func (w *Worker) downloadAuth(adapter domain.VideoAdapter) (string, string) {
	type authed interface{ AuthHeader() (string, string) }
	if a, ok := adapter.(authed); ok {
		return a.AuthHeader()
	}
	return "", ""
}

func (w *Worker) handleAssemble(ctx domain.Context, job domain.Job) error {
	clip, err := w.clipFor(ctx, job)
	if err != nil {
		return err
	}
	if clip.FinalURL != "" {
		return w.store.AdvanceClip(ctx, clip.ID, domain.ClipReady, domain.ClipPatch{})
	}
	if clip.RawVideoURL == "" || clip.VoiceURL == "" {
		return fmt.Errorf("%w: clip %s missing assembly inputs", domain.ErrInternal, clip.ID)
	}
	if err := w.store.AdvanceClip(ctx, clip.ID, domain.ClipAssembling, domain.ClipPatch{}); err != nil {
		return err
	}

	target := job.Payload.Int("duration_seconds")
	if target == 0 {
		target = 15
	}
	start := time.Now()
	composedURL, err := w.prov.Compose.Compose(ctx, domain.ComposeRequest{
		VideoURL:       clip.RawVideoURL,
		AudioURL:       clip.VoiceURL,
		Overlays:       clip.OnScreenText,
		Config:         domain.ResolvePresetOverlay(clip.PresetKey),
		TargetDuration: target,
	})
	if err != nil {
		observability.ObserveProviderCall("compose", "error", time.Since(start))
		return err
	}
	observability.ObserveProviderCall("compose", "ok", time.Since(start))

	data, err := w.download(ctx, composedURL, "", "")
	if err != nil {
		return err
	}
	finalURL, err := w.blobs.Put(ctx, domain.FinalKey(clip.ID), "video/mp4", data)
	if err != nil {
		return err
	}
	if err := w.store.AdvanceClip(ctx, clip.ID, domain.ClipReady, domain.ClipPatch{FinalURL: &finalURL}); err != nil {
		return err
	}
	w.publishClipEvent(ctx, job, "clip.ready", "")
	return nil
}

func (w *Worker) handleImageCompile(ctx domain.Context, job domain.Job) error {
	batch, err := w.store.GetBatch(ctx, job.BatchID)
	if err != nil {
		return err
	}
	if batch.Status.Terminal() {
		return fmt.Errorf("%w: batch %s is %s", domain.ErrConflict, batch.ID, batch.Status)
	}
	if err := w.store.SetBatchStatus(ctx, batch.ID, domain.BatchRunning, ""); err != nil {
		return err
	}
	clips, err := w.store.GetBatchClips(ctx, batch.ID)
	if err != nil {
		return err
	}

	for i, clip := range clips {
		if clip.Status.Terminal() {
			continue
		}
		if clip.ImagePrompt == "" {
			start := time.Now()
			prompt, gerr := w.prov.Script.ImagePrompt(ctx, batch.IntentText, clip.PresetKey, batch.Mode, i, len(clips))
			if gerr != nil {
				observability.ObserveProviderCall("script", "error", time.Since(start))
				return gerr
			}
			observability.ObserveProviderCall("script", "ok", time.Since(start))
			err = w.store.AdvanceClip(ctx, clip.ID, domain.ClipScripting, domain.ClipPatch{ImagePrompt: &prompt})
			if err != nil {
				return err
			}
		}
		cid := clip.ID
		if err := w.enqueueNext(ctx, batch.ID, &cid, domain.JobImage, domain.JobPayload{}); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) handleImage(ctx domain.Context, job domain.Job) error {
	clip, err := w.clipFor(ctx, job)
	if err != nil {
		return err
	}
	if clip.ImageURL != "" {
		return w.store.AdvanceClip(ctx, clip.ID, domain.ClipReady, domain.ClipPatch{FinalURL: &clip.ImageURL})
	}
	if clip.ImagePrompt == "" {
		return fmt.Errorf("%w: clip %s has no image prompt", domain.ErrInternal, clip.ID)
	}
	if err := w.store.AdvanceClip(ctx, clip.ID, domain.ClipGenerating, domain.ClipPatch{}); err != nil {
		return err
	}

	imageType := job.Payload.String("image_type")
	if imageType == "" {
		imageType = "lifestyle"
	}
	start := time.Now()
	data, err := w.prov.Image.Generate(ctx, clip.ImagePrompt, imageType, "9:16")
	if err != nil {
		observability.ObserveProviderCall("image", "error", time.Since(start))
		return err
	}
	observability.ObserveProviderCall("image", "ok", time.Since(start))

	url, err := w.blobs.Put(ctx, domain.ImageKey(clip.ID), "image/png", data)
	if err != nil {
		return err
	}
	// Images skip assembly; the image doubles as the final artifact.
	err = w.store.AdvanceClip(ctx, clip.ID, domain.ClipReady, domain.ClipPatch{
		ImageURL: &url,
		FinalURL: &url,
	})
	if err != nil {
		return err
	}
	w.publishClipEvent(ctx, job, "clip.ready", "")
	return nil
}

// clipFor loads the job's clip and aborts on terminal state so cancelled
// work stops before any provider call.
func (w *Worker) clipFor(ctx domain.Context, job domain.Job) (domain.Clip, error) {
	if job.ClipID == nil {
		return domain.Clip{}, fmt.Errorf("%w: %s job has no clip", domain.ErrInternal, job.Type)
	}
	clip, err := w.store.GetClip(ctx, *job.ClipID)
	if err != nil {
		return domain.Clip{}, err
	}
	if clip.Status == domain.ClipFailed {
		return domain.Clip{}, fmt.Errorf("%w: clip %s failed (%s)", domain.ErrConflict, clip.ID, clip.Error)
	}
	return clip, nil
}

func (w *Worker) videoService(batch domain.Batch, clip domain.Clip) string {
	if clip.VideoService != "" {
		return clip.VideoService
	}
	if batch.VideoService != "" {
		return batch.VideoService
	}
	return domain.VideoServiceSora
}
