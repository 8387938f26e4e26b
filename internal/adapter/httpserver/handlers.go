package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
	"github.com/fairyhunter13/ai-ad-generator/internal/usecase"
	"github.com/fairyhunter13/ai-ad-generator/internal/worker"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Batches    usecase.BatchService
	Worker     *worker.Worker
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, batches usecase.BatchService, wk *worker.Worker, dbCheck, redisCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Batches: batches, Worker: wk, DBCheck: dbCheck, RedisCheck: redisCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type generateBatchRequest struct {
	UserID             string `json:"user_id" validate:"required"`
	IntentText         string `json:"intent_text" validate:"required"`
	PresetKey          string `json:"preset_key"`
	Mode               string `json:"mode" validate:"required"`
	BatchSize          int    `json:"batch_size" validate:"required"`
	OutputType         string `json:"output_type" validate:"required,oneof=video image"`
	QualityMode        string `json:"quality_mode" validate:"required"`
	EstimatedCostCents int64  `json:"estimated_cost_cents" validate:"required,gt=0"`
	VideoService       string `json:"video_service"`
	NeedsResearch      bool   `json:"needs_research"`
}

// GenerateBatch handles POST /v1/batches.
func (s *Server) GenerateBatch(w http.ResponseWriter, r *http.Request) {
	var req generateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidArgument), nil)
		return
	}
	if err := getValidator().Struct(req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
		return
	}
	batch, err := s.Batches.Create(r.Context(), domain.NewBatch{
		UserID:             req.UserID,
		IntentText:         req.IntentText,
		PresetKey:          req.PresetKey,
		Mode:               req.Mode,
		OutputType:         req.OutputType,
		BatchSize:          req.BatchSize,
		QualityMode:        req.QualityMode,
		VideoService:       req.VideoService,
		NeedsResearch:      req.NeedsResearch,
		EstimatedCostCents: req.EstimatedCostCents,
	})
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	LoggerFrom(r).Info("batch created",
		"batch_id", batch.ID, "user_id", batch.UserID, "batch_size", batch.BatchSize)
	writeJSON(w, http.StatusCreated, map[string]string{"batch_id": batch.ID})
}

type workerRequest struct {
	Action string `json:"action" validate:"required,eq=run-once"`
}

// RunWorker handles POST /v1/worker. The scheduler is the only intended
// caller; one request processes at most one job.
func (s *Server) RunWorker(w http.ResponseWriter, r *http.Request) {
	var req workerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidArgument), nil)
		return
	}
	if err := getValidator().Struct(req); err != nil {
		writeError(w, r, fmt.Errorf("%w: action must be run-once", domain.ErrInvalidArgument), nil)
		return
	}
	res, err := s.Worker.RunOnce(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelBatch handles POST /v1/batches/{id}/cancel.
func (s *Server) CancelBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")
	if err := s.Batches.Cancel(r.Context(), batchID); err != nil {
		writeError(w, r, err, nil)
		return
	}
	LoggerFrom(r).Info("batch cancelled", "batch_id", batchID)
	writeJSON(w, http.StatusOK, map[string]string{"batch_id": batchID, "status": string(domain.BatchCancelled)})
}

type clipResponse struct {
	ID           string           `json:"id"`
	VariantID    string           `json:"variant_id"`
	Status       string           `json:"status"`
	ScriptSpoken string           `json:"script_spoken,omitempty"`
	OnScreenText []domain.Overlay `json:"on_screen_text,omitempty"`
	VoiceURL     string           `json:"voice_url,omitempty"`
	RawVideoURL  string           `json:"raw_video_url,omitempty"`
	FinalURL     string           `json:"final_url,omitempty"`
	ImageURL     string           `json:"image_url,omitempty"`
	Provider     string           `json:"provider,omitempty"`
	Error        string           `json:"error,omitempty"`
}

type batchResponse struct {
	ID              string         `json:"id"`
	Status          string         `json:"status"`
	Mode            string         `json:"mode"`
	OutputType      string         `json:"output_type"`
	BatchSize       int            `json:"batch_size"`
	UserChargeCents int64          `json:"user_charge_cents"`
	ResearchSummary string         `json:"research_summary,omitempty"`
	Error           string         `json:"error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	Clips           []clipResponse `json:"clips"`
}

// GetBatch handles GET /v1/batches/{id}.
func (s *Server) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch, clips, err := s.Batches.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	resp := batchResponse{
		ID:              batch.ID,
		Status:          string(batch.Status),
		Mode:            batch.Mode,
		OutputType:      batch.OutputType,
		BatchSize:       batch.BatchSize,
		UserChargeCents: batch.UserChargeCents,
		ResearchSummary: batch.ResearchSummary,
		Error:           batch.Error,
		CreatedAt:       batch.CreatedAt,
	}
	for _, c := range clips {
		resp.Clips = append(resp.Clips, clipResponse{
			ID:           c.ID,
			VariantID:    c.VariantID,
			Status:       string(c.Status),
			ScriptSpoken: c.ScriptSpoken,
			OnScreenText: c.OnScreenText,
			VoiceURL:     c.VoiceURL,
			RawVideoURL:  c.RawVideoURL,
			FinalURL:     c.FinalURL,
			ImageURL:     c.ImageURL,
			Provider:     c.Provider,
			Error:        c.Error,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Healthz is the static liveness probe.
func (s *Server) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz checks the hard dependencies. Redis is optional and only
// checked when configured.
func (s *Server) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if s.DBCheck != nil {
		if err := s.DBCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unavailable"})
			return
		}
	}
	if s.RedisCheck != nil {
		if err := s.RedisCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "redis unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
