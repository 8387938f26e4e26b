package memstore_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/repo/memstore"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

func seedBatch(t *testing.T, s *memstore.Store, size int) domain.Batch {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.AddCredits(ctx, "user-1", 2000))
	batch, err := s.CreateBatchWithClips(ctx, domain.NewBatch{
		UserID:             "user-1",
		IntentText:         "launch the new sparkling water",
		PresetKey:          "ugc_casual",
		Mode:               domain.ModeHookTest,
		OutputType:         domain.OutputVideo,
		BatchSize:          size,
		QualityMode:        domain.QualityGood,
		VideoService:       domain.VideoServiceSora,
		EstimatedCostCents: 800,
	})
	require.NoError(t, err)
	return batch
}

func TestConcurrentClaimsAreDistinct(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	batch := seedBatch(t, s, 8)

	clips, err := s.GetBatchClips(ctx, batch.ID)
	require.NoError(t, err)
	for i := range clips {
		_, err := s.Enqueue(ctx, batch.ID, &clips[i].ID, domain.JobTTS, nil)
		require.NoError(t, err)
	}

	// 8 tts jobs plus the compile root are queued; 6 concurrent claimers
	// must each get a different job.
	const claimers = 6
	var (
		mu  sync.Mutex
		got []domain.Job
		wg  sync.WaitGroup
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, ok, err := s.ClaimNextJob(ctx)
			assert.NoError(t, err)
			if !ok {
				return
			}
			mu.Lock()
			got = append(got, job)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, got, claimers)
	seen := map[string]bool{}
	for _, j := range got {
		assert.False(t, seen[j.ID], "job %s claimed twice", j.ID)
		seen[j.ID] = true
		assert.Equal(t, domain.JobRunning, j.Status)
		assert.Equal(t, 1, j.Attempts)
	}

	// Drain the remaining three, then the queue is empty.
	for i := 0; i < 3; i++ {
		_, ok, err := s.ClaimNextJob(ctx)
		require.NoError(t, err)
		require.True(t, ok)
	}
	_, ok, err := s.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRefundBatchCreditsOnce(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	batch := seedBatch(t, s, 4)

	bal, err := s.UserBalance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1200), bal)

	// No clip is ready, so the first refund returns the full charge.
	refunded, err := s.RefundBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(800), refunded)

	bal, err = s.UserBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), bal)

	// Every later call is a no-op.
	for i := 0; i < 2; i++ {
		refunded, err = s.RefundBatch(ctx, batch.ID)
		require.NoError(t, err)
		assert.Zero(t, refunded)
	}
	bal, err = s.UserBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), bal)

	got, err := s.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.UserChargeCents)
}
