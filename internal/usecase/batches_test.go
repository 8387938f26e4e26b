package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/repo/memstore"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
	"github.com/fairyhunter13/ai-ad-generator/internal/usecase"
)

type sink struct{ events []domain.Event }

func (s *sink) Publish(_ domain.Context, e domain.Event) { s.events = append(s.events, e) }

func validIntake() domain.NewBatch {
	return domain.NewBatch{
		UserID:             "user-1",
		IntentText:         "sell the ceramic mug",
		Mode:               domain.ModeHookTest,
		OutputType:         domain.OutputVideo,
		BatchSize:          4,
		QualityMode:        domain.QualityGood,
		EstimatedCostCents: 800,
	}
}

func TestCreateValidation(t *testing.T) {
	svc := usecase.NewBatchService(memstore.New(), &sink{})
	ctx := context.Background()

	cases := []struct {
		name string
		mut  func(*domain.NewBatch)
		want string
	}{
		{"missing user", func(nb *domain.NewBatch) { nb.UserID = "" }, "user_id"},
		{"blank intent", func(nb *domain.NewBatch) { nb.IntentText = "   " }, "intent_text"},
		{"odd batch size", func(nb *domain.NewBatch) { nb.BatchSize = 3 }, "batch_size"},
		{"bad output type", func(nb *domain.NewBatch) { nb.OutputType = "audio" }, "output_type"},
		{"unknown mode", func(nb *domain.NewBatch) { nb.Mode = "vibes_test" }, "mode"},
		{"unknown quality", func(nb *domain.NewBatch) { nb.QualityMode = "ultra" }, "quality_mode"},
		{"zero cost", func(nb *domain.NewBatch) { nb.EstimatedCostCents = 0 }, "estimated_cost_cents"},
		{"unknown video service", func(nb *domain.NewBatch) { nb.VideoService = "runway" }, "video_service"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			nb := validIntake()
			tc.mut(&nb)
			_, err := svc.Create(ctx, nb)
			require.ErrorIs(t, err, domain.ErrInvalidArgument)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestCreateDefaultsAndDebit(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	events := &sink{}
	svc := usecase.NewBatchService(store, events)
	require.NoError(t, store.AddCredits(ctx, "user-1", 1000))

	batch, err := svc.Create(ctx, validIntake())
	require.NoError(t, err)
	assert.Equal(t, domain.BatchQueued, batch.Status)
	assert.Equal(t, domain.VideoServiceSora, batch.VideoService)
	assert.Equal(t, "ugc_casual", batch.PresetKey)
	assert.Equal(t, int64(800), batch.UserChargeCents)

	bal, err := store.UserBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), bal)

	clips, err := store.GetBatchClips(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, clips, 4)
	assert.Equal(t, "V01", clips[0].VariantID)
	assert.Equal(t, "V04", clips[3].VariantID)
	for _, c := range clips {
		assert.Equal(t, domain.ClipPlanned, c.Status)
	}

	j, ok := store.JobByType(domain.JobCompile)
	require.True(t, ok)
	assert.Nil(t, j.ClipID)

	require.Len(t, events.events, 1)
	assert.Equal(t, "batch.created", events.events[0].Kind)
}

func TestCreateImagePresetDefault(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := usecase.NewBatchService(store, &sink{})
	require.NoError(t, store.AddCredits(ctx, "user-1", 1000))

	nb := validIntake()
	nb.OutputType = domain.OutputImage
	nb.PresetKey = domain.PresetAuto
	batch, err := svc.Create(ctx, nb)
	require.NoError(t, err)
	assert.Equal(t, "clean_product", batch.PresetKey)

	_, ok := store.JobByType(domain.JobImageCompile)
	assert.True(t, ok)
}

func TestCreateInsufficientCredits(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := usecase.NewBatchService(store, &sink{})
	require.NoError(t, store.AddCredits(ctx, "user-1", 100))

	_, err := svc.Create(ctx, validIntake())
	require.ErrorIs(t, err, domain.ErrInsufficientCredits)

	// Nothing debited on rejection.
	bal, err := store.UserBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)
}

func TestCancelIsTerminalAndRefunds(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	events := &sink{}
	svc := usecase.NewBatchService(store, events)
	require.NoError(t, store.AddCredits(ctx, "user-1", 800))

	batch, err := svc.Create(ctx, validIntake())
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, batch.ID))

	got, err := store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchCancelled, got.Status)

	bal, err := store.UserBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(800), bal)

	// A second cancel conflicts: the batch is already terminal.
	err = svc.Cancel(ctx, batch.ID)
	require.ErrorIs(t, err, domain.ErrConflict)

	err = svc.Cancel(ctx, "")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestGetReturnsBatchWithClips(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := usecase.NewBatchService(store, &sink{})
	require.NoError(t, store.AddCredits(ctx, "user-1", 800))

	created, err := svc.Create(ctx, validIntake())
	require.NoError(t, err)

	batch, clips, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, batch.ID)
	assert.Len(t, clips, 4)

	_, _, err = svc.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
