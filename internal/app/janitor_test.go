package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/repo/memstore"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/storage/memory"
	"github.com/fairyhunter13/ai-ad-generator/internal/app"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

type eventRec struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *eventRec) Publish(_ domain.Context, e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRec) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func janitorCfg() config.Config {
	return config.Config{
		AppEnv:                "test",
		StuckRunningThreshold: 20 * time.Minute,
		IncompleteBatchAge:    2 * time.Hour,
		FailedBatchAge:        24 * time.Hour,
		DoneJobAge:            time.Hour,
		ClipRetentionDays:     14,
	}
}

func seedBatch(t *testing.T, s *memstore.Store, cents int64) domain.Batch {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.AddCredits(ctx, "user-1", cents))
	b, err := s.CreateBatchWithClips(ctx, domain.NewBatch{
		UserID:             "user-1",
		IntentText:         "promote the travel mug",
		PresetKey:          "ugc_casual",
		Mode:               domain.ModeHookTest,
		OutputType:         domain.OutputVideo,
		BatchSize:          2,
		QualityMode:        domain.QualityGood,
		VideoService:       domain.VideoServiceSora,
		EstimatedCostCents: cents,
	})
	require.NoError(t, err)
	return b
}

func TestJanitorTimesOutStaleBatch(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	blobs := memory.New()
	events := &eventRec{}
	batch := seedBatch(t, store, 400)
	store.TouchBatch(batch.ID, time.Now().Add(-3*time.Hour))

	app.NewJanitor(janitorCfg(), store, blobs, events, nil).RunOnce(ctx)

	got, err := store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchFailed, got.Status)
	assert.Equal(t, "timed out", got.Error)
	assert.Equal(t, int64(0), got.UserChargeCents)

	clips, err := store.GetBatchClips(ctx, batch.ID)
	require.NoError(t, err)
	for _, c := range clips {
		assert.Equal(t, domain.ClipFailed, c.Status)
		assert.Equal(t, "timed out", c.Error)
	}

	// The root job is dropped and the full charge comes back.
	assert.Empty(t, store.Jobs())
	bal, err := store.UserBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(400), bal)
	assert.Contains(t, events.kinds(), "batch.failed")
}

func TestJanitorResetsStuckJobs(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	batch := seedBatch(t, store, 400)

	job, ok, err := store.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	store.TouchJob(job.ID, time.Now().Add(-30*time.Minute))

	app.NewJanitor(janitorCfg(), store, memory.New(), &eventRec{}, nil).RunOnce(ctx)

	jobs := store.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobQueued, jobs[0].Status)
	assert.Equal(t, "reset: stuck job", jobs[0].Error)

	// The batch is young, so nothing else fires.
	got, err := store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchQueued, got.Status)
}

func TestJanitorHarvestsFailedJobs(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	batch := seedBatch(t, store, 400)

	// Finish the root job, then fail a clip-scoped one.
	root, ok, err := store.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.CompleteJob(ctx, root.ID))

	clips, err := store.GetBatchClips(ctx, batch.ID)
	require.NoError(t, err)
	cid := clips[0].ID
	_, err = store.Enqueue(ctx, batch.ID, &cid, domain.JobTTS, nil)
	require.NoError(t, err)
	job, ok, err := store.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.FailJob(ctx, job.ID, "boom", false))

	app.NewJanitor(janitorCfg(), store, memory.New(), &eventRec{}, nil).RunOnce(ctx)

	clip, err := store.GetClip(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, domain.ClipFailed, clip.Status)
	assert.Equal(t, "boom", clip.Error)

	// The failed job is gone; the fresh done job survives the purge.
	jobs := store.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobDone, jobs[0].Status)
}

func TestJanitorPurgesOldFailedBatch(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	blobs := memory.New()
	batch := seedBatch(t, store, 400)
	require.NoError(t, store.SetBatchStatus(ctx, batch.ID, domain.BatchFailed, "all clips failed"))
	store.TouchBatch(batch.ID, time.Now().Add(-48*time.Hour))

	clips, err := store.GetBatchClips(ctx, batch.ID)
	require.NoError(t, err)
	_, err = blobs.Put(ctx, domain.VoiceKey(clips[0].ID), "audio/mpeg", []byte("audio"))
	require.NoError(t, err)

	app.NewJanitor(janitorCfg(), store, blobs, &eventRec{}, nil).RunOnce(ctx)

	_, err = store.GetBatch(ctx, batch.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, blobs.Len())
	assert.Empty(t, store.Jobs())
}

func TestJanitorAppliesClipRetention(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	blobs := memory.New()
	batch := seedBatch(t, store, 400)

	clips, err := store.GetBatchClips(ctx, batch.ID)
	require.NoError(t, err)
	victim := clips[0].ID
	store.MarkKilled(victim)
	_, err = blobs.Put(ctx, domain.FinalKey(victim), "video/mp4", []byte("video"))
	require.NoError(t, err)

	app.NewJanitor(janitorCfg(), store, blobs, &eventRec{}, nil).RunOnce(ctx)

	clip, err := store.GetClip(ctx, victim)
	require.NoError(t, err)
	assert.NotNil(t, clip.DeletedAt)
	assert.Equal(t, 0, blobs.Len())

	// The sibling clip is untouched.
	other, err := store.GetClip(ctx, clips[1].ID)
	require.NoError(t, err)
	assert.Nil(t, other.DeletedAt)
}

func TestJanitorPurgesOldDoneJobs(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedBatch(t, store, 400)

	job, ok, err := store.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.CompleteJob(ctx, job.ID))
	store.TouchJob(job.ID, time.Now().Add(-2*time.Hour))

	app.NewJanitor(janitorCfg(), store, memory.New(), &eventRec{}, nil).RunOnce(ctx)

	assert.Empty(t, store.Jobs())
}
