// Package domain defines the entities, ports and error taxonomy of the
// batch media-generation control plane.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels). The worker decides retry vs. permanent fail
// from these alone; see Retryable.
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrTransient           = errors.New("transient upstream failure")
	ErrContentPolicy       = errors.New("content policy refusal")
	ErrProviderPermanent   = errors.New("permanent provider failure")
	ErrInternal            = errors.New("internal error")

	// ErrVideoRendering signals that a submitted text-to-video task is not
	// finished yet. The worker leaves the job running; the janitor revives
	// it once the stuck threshold passes.
	ErrVideoRendering = errors.New("video still rendering")
)

// Retryable reports whether an error should be retried by a future worker
// invocation. Errors outside the taxonomy are retryable but capped by
// AttemptCap at a single retry.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrInsufficientCredits),
		errors.Is(err, ErrContentPolicy),
		errors.Is(err, ErrProviderPermanent):
		return false
	}
	return true
}

var taxonomy = []error{
	ErrInvalidArgument,
	ErrNotFound,
	ErrConflict,
	ErrUnauthorized,
	ErrInsufficientCredits,
	ErrTransient,
	ErrContentPolicy,
	ErrProviderPermanent,
	ErrInternal,
	ErrVideoRendering,
}

// AttemptCap returns how many attempts a failing job is allowed before the
// worker fails it permanently. Classified errors use the configured
// maximum; an error matching no sentinel gets exactly one retry.
func AttemptCap(err error, maxAttempts int) int {
	for _, s := range taxonomy {
		if errors.Is(err, s) {
			return maxAttempts
		}
	}
	if maxAttempts > 2 {
		return 2
	}
	return maxAttempts
}

// BatchStatus is the user-visible batch state machine.
type BatchStatus string

const (
	BatchQueued      BatchStatus = "queued"
	BatchResearching BatchStatus = "researching"
	BatchRunning     BatchStatus = "running"
	BatchDone        BatchStatus = "done"
	BatchFailed      BatchStatus = "failed"
	BatchCancelled   BatchStatus = "cancelled"
)

// Terminal reports whether the batch status is final.
func (s BatchStatus) Terminal() bool {
	return s == BatchDone || s == BatchFailed || s == BatchCancelled
}

// Batch modes, output types, quality tiers and video services.
const (
	ModeHookTest   = "hook_test"
	ModeAngleTest  = "angle_test"
	ModeFormatTest = "format_test"

	OutputVideo = "video"
	OutputImage = "image"

	QualityFast   = "fast"
	QualityGood   = "good"
	QualityBetter = "better"

	VideoServiceSora  = "sora"
	VideoServiceKling = "kling"
)

// Batch is one user request producing N variant clips.
type Batch struct {
	ID                 string
	UserID             string
	IntentText         string
	PresetKey          string
	Mode               string
	OutputType         string
	BatchSize          int
	QualityMode        string
	VideoService       string
	NeedsResearch      bool
	ResearchSummary    string
	EstimatedCostCents int64
	UserChargeCents    int64
	Status             BatchStatus
	Error              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ClipStatus is the per-clip stage machine. Video clips move
// planned → scripting → vo → rendering → assembling → ready; image clips
// move planned → scripting → generating → ready. Both may end failed.
type ClipStatus string

const (
	ClipPlanned    ClipStatus = "planned"
	ClipScripting  ClipStatus = "scripting"
	ClipVO         ClipStatus = "vo"
	ClipRendering  ClipStatus = "rendering"
	ClipAssembling ClipStatus = "assembling"
	ClipGenerating ClipStatus = "generating"
	ClipReady      ClipStatus = "ready"
	ClipFailed     ClipStatus = "failed"
)

// Terminal reports whether the clip status is final.
func (s ClipStatus) Terminal() bool { return s == ClipReady || s == ClipFailed }

// clipRank orders forward transitions; AdvanceClip refuses any update that
// does not strictly increase the rank. Ready and failed are absorbing.
var clipRank = map[ClipStatus]int{
	ClipPlanned:    0,
	ClipScripting:  1,
	ClipVO:         2,
	ClipGenerating: 2,
	ClipRendering:  3,
	ClipAssembling: 4,
	ClipReady:      5,
	ClipFailed:     5,
}

// ClipStatusRank returns the ordering rank used for regression guards.
func ClipStatusRank(s ClipStatus) int { return clipRank[s] }

// Overlay is one timed on-screen text entry.
type Overlay struct {
	TSeconds float64 `json:"t_seconds"`
	Text     string  `json:"text"`
}

// Clip is one variant within a batch.
type Clip struct {
	ID           string
	BatchID      string
	VariantID    string
	PresetKey    string
	Status       ClipStatus
	ScriptSpoken string
	OnScreenText []Overlay
	SoraPrompt   string
	VoiceURL     string
	RawVideoURL  string
	FinalURL     string
	ImageURL     string
	ImagePrompt  string
	Winner       bool
	Killed       bool
	Provider     string
	VideoService string
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// JobStatus is the job state machine.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// JobType enumerates the stage each job drives.
type JobType string

const (
	JobCompile      JobType = "compile"
	JobTTS          JobType = "tts"
	JobVideo        JobType = "video"
	JobAssemble     JobType = "assemble"
	JobImageCompile JobType = "image_compile"
	JobImage        JobType = "image"
	JobResearch     JobType = "research"
)

// JobPayload is the opaque per-type payload. Handlers read only the fields
// they declare and must tolerate extras.
type JobPayload map[string]any

// String reads a string field, tolerating absence and other types.
func (p JobPayload) String(key string) string {
	if p == nil {
		return ""
	}
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Int reads a numeric field; JSON round-trips land as float64.
func (p JobPayload) Int(key string) int {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Job is one unit of work for the worker.
type Job struct {
	ID        string
	BatchID   string
	ClipID    *string
	Type      JobType
	Status    JobStatus
	Attempts  int
	Payload   JobPayload
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ServiceLogEntry is one append-only telemetry row. Logging failures must
// never propagate as job failures.
type ServiceLogEntry struct {
	BatchID    string
	ClipID     string
	JobID      string
	JobType    string
	Provider   string
	DurationMS int64
	Outcome    string
	Detail     string
}

// Event is a best-effort lifecycle notification (batch/clip transitions).
type Event struct {
	Kind    string `json:"kind"`
	BatchID string `json:"batch_id"`
	ClipID  string `json:"clip_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Context is an alias so adapters and usecases share the std context type.
type Context = context.Context
