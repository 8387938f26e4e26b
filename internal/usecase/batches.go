// Package usecase holds the application services between the HTTP layer
// and the store: batch intake, cancellation and read surfaces.
package usecase

import (
	"fmt"
	"strings"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

// BatchService drives batch intake, cancellation and reads.
type BatchService struct {
	Store  domain.Store
	Events domain.EventSink
}

// NewBatchService constructs a BatchService.
func NewBatchService(store domain.Store, events domain.EventSink) BatchService {
	return BatchService{Store: store, Events: events}
}

var validModes = map[string]bool{
	domain.ModeHookTest:   true,
	domain.ModeAngleTest:  true,
	domain.ModeFormatTest: true,
}

var validQuality = map[string]bool{
	domain.QualityFast:   true,
	domain.QualityGood:   true,
	domain.QualityBetter: true,
}

// Create validates intake input and opens the batch: debit, batch row,
// N planned clips and the root job, all in one transaction.
func (s BatchService) Create(ctx domain.Context, nb domain.NewBatch) (domain.Batch, error) {
	nb.IntentText = strings.TrimSpace(nb.IntentText)
	if nb.UserID == "" {
		return domain.Batch{}, fmt.Errorf("%w: user_id required", domain.ErrInvalidArgument)
	}
	if nb.IntentText == "" {
		return domain.Batch{}, fmt.Errorf("%w: intent_text required", domain.ErrInvalidArgument)
	}
	if !domain.ValidBatchSize(nb.BatchSize) {
		return domain.Batch{}, fmt.Errorf("%w: batch_size must be 2, 4, 6 or 8", domain.ErrInvalidArgument)
	}
	if nb.OutputType != domain.OutputVideo && nb.OutputType != domain.OutputImage {
		return domain.Batch{}, fmt.Errorf("%w: output_type must be video or image", domain.ErrInvalidArgument)
	}
	if !validModes[nb.Mode] {
		return domain.Batch{}, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidArgument, nb.Mode)
	}
	if !validQuality[nb.QualityMode] {
		return domain.Batch{}, fmt.Errorf("%w: unknown quality_mode %q", domain.ErrInvalidArgument, nb.QualityMode)
	}
	if nb.EstimatedCostCents <= 0 {
		return domain.Batch{}, fmt.Errorf("%w: estimated_cost_cents must be positive", domain.ErrInvalidArgument)
	}
	if nb.OutputType == domain.OutputVideo {
		if nb.VideoService == "" {
			nb.VideoService = domain.VideoServiceSora
		}
		if nb.VideoService != domain.VideoServiceSora && nb.VideoService != domain.VideoServiceKling {
			return domain.Batch{}, fmt.Errorf("%w: unknown video_service %q", domain.ErrInvalidArgument, nb.VideoService)
		}
	}
	nb.PresetKey = domain.ResolvePresetKey(nb.PresetKey, nb.OutputType)

	batch, err := s.Store.CreateBatchWithClips(ctx, nb)
	if err != nil {
		return domain.Batch{}, err
	}
	observability.CreditsDebitedTotal.Add(float64(nb.EstimatedCostCents))
	observability.JobsEnqueuedTotal.WithLabelValues(rootJobType(nb)).Inc()
	s.Events.Publish(ctx, domain.Event{
		Kind:    "batch.created",
		BatchID: batch.ID,
		UserID:  batch.UserID,
		Status:  string(batch.Status),
	})
	return batch, nil
}

func rootJobType(nb domain.NewBatch) string {
	if nb.NeedsResearch {
		return string(domain.JobResearch)
	}
	if nb.OutputType == domain.OutputImage {
		return string(domain.JobImageCompile)
	}
	return string(domain.JobCompile)
}

// Cancel stops a batch: terminal status, failed clips, deleted jobs, then
// the idempotent refund for everything not ready.
func (s BatchService) Cancel(ctx domain.Context, batchID string) error {
	if batchID == "" {
		return fmt.Errorf("%w: batch_id required", domain.ErrInvalidArgument)
	}
	if err := s.Store.CancelBatch(ctx, batchID); err != nil {
		return err
	}
	refunded, err := s.Store.RefundBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if refunded > 0 {
		observability.CreditsRefundedTotal.Add(float64(refunded))
	}
	observability.BatchesClosedTotal.WithLabelValues(string(domain.BatchCancelled)).Inc()
	s.Events.Publish(ctx, domain.Event{
		Kind:    "batch.cancelled",
		BatchID: batchID,
		Status:  string(domain.BatchCancelled),
	})
	return nil
}

// Get returns a batch and its clips.
func (s BatchService) Get(ctx domain.Context, batchID string) (domain.Batch, []domain.Clip, error) {
	batch, err := s.Store.GetBatch(ctx, batchID)
	if err != nil {
		return domain.Batch{}, nil, err
	}
	clips, err := s.Store.GetBatchClips(ctx, batchID)
	if err != nil {
		return domain.Batch{}, nil, err
	}
	return batch, clips, nil
}
