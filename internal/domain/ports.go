package domain

import "time"

// NewBatch carries everything intake needs to open a batch.
type NewBatch struct {
	UserID             string
	IntentText         string
	PresetKey          string
	Mode               string
	OutputType         string
	BatchSize          int
	QualityMode        string
	VideoService       string
	NeedsResearch      bool
	EstimatedCostCents int64
}

// ClipPatch is the set of writable artifact fields for AdvanceClip. Nil
// pointers leave the column untouched.
type ClipPatch struct {
	ScriptSpoken *string
	OnScreenText []Overlay
	SoraPrompt   *string
	VoiceURL     *string
	RawVideoURL  *string
	FinalURL     *string
	ImageURL     *string
	ImagePrompt  *string
	Provider     *string
}

// Store is the durable state port: batches, clips, jobs, the credit ledger
// and the service log. All writes are transactional; ClaimNextJob is the
// single hot contention point and must hand each queued job to exactly one
// caller.
//
//go:generate mockery --name=Store --with-expecter --filename=store_mock.go
type Store interface {
	// CreateBatchWithClips atomically debits the user, inserts the batch,
	// its N planned clips (V01..VN) and the single root job. It fails with
	// ErrInsufficientCredits before any write.
	CreateBatchWithClips(ctx Context, nb NewBatch) (Batch, error)

	GetBatch(ctx Context, id string) (Batch, error)
	GetBatchClips(ctx Context, batchID string) ([]Clip, error)
	GetClip(ctx Context, id string) (Clip, error)

	// ClaimNextJob returns the oldest queued job transitioned to running
	// with attempts incremented, or ok=false when the queue is empty.
	ClaimNextJob(ctx Context) (Job, bool, error)

	// Enqueue inserts a queued job, rejecting with ErrConflict when a
	// non-terminal job already exists for the same (batch, clip, type).
	Enqueue(ctx Context, batchID string, clipID *string, typ JobType, payload JobPayload) (string, error)

	// UpdateJobPayload persists an in-flight payload mutation (e.g. the
	// provider task id recorded by the video stage after submit).
	UpdateJobPayload(ctx Context, jobID string, payload JobPayload) error

	CompleteJob(ctx Context, jobID string) error

	// FailJob marks the job failed, or resets it to queued when requeue is
	// true so a later worker retries it from scratch.
	FailJob(ctx Context, jobID, errMsg string, requeue bool) error

	// AdvanceClip applies a forward-only, status-guarded single-row update.
	// A terminal or farther-along clip is left untouched and ErrConflict is
	// returned so in-flight handlers observe cancellation.
	AdvanceClip(ctx Context, clipID string, next ClipStatus, patch ClipPatch) error

	FailClip(ctx Context, clipID, errMsg string) error

	// FailBatchClips fails every non-ready clip of a batch with the given
	// reason (janitor timeout, user cancellation).
	FailBatchClips(ctx Context, batchID, reason string) error

	SetBatchStatus(ctx Context, batchID string, status BatchStatus, errMsg string) error
	SetBatchResearch(ctx Context, batchID, summary string) error

	// CheckBatchComplete closes the batch once every clip is terminal: done
	// when at least one clip is ready, failed when all failed. Safe under
	// concurrent worker calls; reports the resulting status and whether the
	// batch just closed.
	CheckBatchComplete(ctx Context, batchID string) (BatchStatus, bool, error)

	// RefundBatch credits the user the per-clip price of every clip not in
	// ready, exactly once per batch; repeat calls are no-ops. Returns the
	// cents refunded by this call.
	RefundBatch(ctx Context, batchID string) (int64, error)

	// CancelBatch flips the batch to cancelled, fails its non-ready clips
	// with "cancelled by user" and deletes its queued/running jobs.
	CancelBatch(ctx Context, batchID string) error

	UserBalance(ctx Context, userID string) (int64, error)
	AddCredits(ctx Context, userID string, cents int64) error

	AppendServiceLog(ctx Context, e ServiceLogEntry) error

	// Janitor operations.
	ResetStuckJobs(ctx Context, olderThan time.Duration) (int, error)
	HarvestFailedJobs(ctx Context) (int, error)
	ListStaleRunningBatches(ctx Context, olderThan time.Duration) ([]Batch, error)
	ListPurgeableFailedBatches(ctx Context, olderThan time.Duration) ([]Batch, error)
	DeleteBatch(ctx Context, batchID string) error
	DeleteBatchJobs(ctx Context, batchID string) error
	ListExpiredClips(ctx Context, retention time.Duration) ([]Clip, error)
	SoftDeleteClip(ctx Context, clipID string) error
	PurgeDoneJobs(ctx Context, olderThan time.Duration) (int, error)
}

// ScriptRequest parameterizes one variant's script generation.
type ScriptRequest struct {
	IntentText     string
	PresetKey      string
	Mode           string
	VariantIndex   int
	VariantCount   int
	TargetDuration int
	ResearchCtx    string
}

// ScriptResult is the script provider's validated output.
type ScriptResult struct {
	Spoken       string
	Overlays     []Overlay
	VisualPrompt string
}

// ScriptAdapter generates spoken scripts, on-screen overlays and visual
// prompts, plus detailed prompts for still images.
type ScriptAdapter interface {
	Generate(ctx Context, req ScriptRequest) (ScriptResult, error)
	ImagePrompt(ctx Context, intent, preset, mode string, i, n int) (string, error)
}

// VoiceResult carries synthesized audio as opaque bytes plus metadata.
type VoiceResult struct {
	Audio              []byte
	EstimatedDurationS float64
}

// VoiceAdapter synthesizes a spoken script.
type VoiceAdapter interface {
	Synthesize(ctx Context, spoken string) (VoiceResult, error)
}

// Video task states reported by Status.
const (
	VideoTaskPending    = "pending"
	VideoTaskProcessing = "processing"
	VideoTaskCompleted  = "completed"
	VideoTaskFailed     = "failed"
)

// VideoSubmission parameterizes an async text-to-video task.
type VideoSubmission struct {
	Prompt          string
	DurationSeconds int
	AspectRatio     string
	GenerationMode  string
	RefImageURLs    []string
}

// VideoTask is a provider task snapshot.
type VideoTask struct {
	State  string
	URL    string
	Reason string
}

// VideoAdapter is the async text-to-video contract: submit once, poll until
// terminal. Retries must reuse the submitted task id, never resubmit.
type VideoAdapter interface {
	Submit(ctx Context, sub VideoSubmission) (string, error)
	Status(ctx Context, taskID string) (VideoTask, error)
	// NeedsWatermarkRemoval reports whether this provider's output carries
	// a watermark that must be stripped before assembly.
	NeedsWatermarkRemoval() bool
	Name() string
}

// WatermarkRemover strips the provider watermark from a rendered video.
type WatermarkRemover interface {
	Remove(ctx Context, videoURL string) (string, error)
}

// OverlayConfig is the preset-resolved compositor configuration.
type OverlayConfig struct {
	CaptionStyle   string  `json:"caption_style"`
	ZoomCadenceS   float64 `json:"zoom_cadence_s"`
	ZoomRangePct   float64 `json:"zoom_range_pct"`
	ProgressBar    bool    `json:"progress_bar"`
	CaptionAccent  string  `json:"caption_accent"`
	SafeAreaBottom float64 `json:"safe_area_bottom"`
}

// ComposeRequest parameterizes final assembly.
type ComposeRequest struct {
	VideoURL       string
	AudioURL       string
	Overlays       []Overlay
	Config         OverlayConfig
	TargetDuration int
}

// ComposeAdapter renders the final clip; it polls the compositor
// internally and honours the caller's deadline.
type ComposeAdapter interface {
	Compose(ctx Context, req ComposeRequest) (string, error)
}

// ImageAdapter generates a still image; the result is opaque bytes the
// caller persists under the clip's deterministic storage key.
type ImageAdapter interface {
	Generate(ctx Context, prompt, imageType, aspect string) ([]byte, error)
}

// ResearchVideo is one scraped reference video.
type ResearchVideo struct {
	URL      string
	Title    string
	Views    int64
	Category string
}

// ResearchAdapter searches social media for trending references and distils
// them into a trend analysis used as script context.
type ResearchAdapter interface {
	Search(ctx Context, query string, minViews int64, category string) ([]ResearchVideo, error)
	Analyze(ctx Context, videos []ResearchVideo, query string) (string, error)
}

// BlobStore persists artifacts under deterministic keys; uploads are
// upserts so retried handlers stay idempotent.
type BlobStore interface {
	Put(ctx Context, key, contentType string, data []byte) (string, error)
	Delete(ctx Context, key string) error
}

// EventSink publishes lifecycle events best-effort; implementations log
// and swallow their own failures.
type EventSink interface {
	Publish(ctx Context, e Event)
}

// Deterministic artifact keys.
func VoiceKey(clipID string) string    { return "voice/" + clipID + ".mp3" }
func RawVideoKey(clipID string) string { return "raw/" + clipID + ".mp4" }
func FinalKey(clipID string) string    { return "final/" + clipID + ".mp4" }
func ImageKey(clipID string) string    { return "images/" + clipID + ".png" }

// ClipArtifactKeys lists every storage key a clip may own, for best-effort
// blob cleanup.
func ClipArtifactKeys(clipID string) []string {
	return []string{VoiceKey(clipID), RawVideoKey(clipID), FinalKey(clipID), ImageKey(clipID)}
}
