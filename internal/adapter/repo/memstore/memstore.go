// Package memstore implements domain.Store in process memory with the
// same transition guards as the Postgres store. It backs unit tests so
// pipeline behaviour can be exercised without a database.
package memstore

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

// Store holds all state behind one mutex. Claim order follows job
// creation time with an insertion counter as tiebreaker.
type Store struct {
	mu sync.Mutex

	balances map[string]int64
	batches  map[string]*domain.Batch
	clips    map[string]*domain.Clip
	jobs     map[string]*jobRec
	refunds  map[string]bool
	Logs     []domain.ServiceLogEntry

	seq int64
	now func() time.Time
}

type jobRec struct {
	domain.Job
	seq int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		balances: make(map[string]int64),
		batches:  make(map[string]*domain.Batch),
		clips:    make(map[string]*domain.Clip),
		jobs:     make(map[string]*jobRec),
		refunds:  make(map[string]bool),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store clock, for janitor threshold tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

var batchRank = map[domain.BatchStatus]int{
	domain.BatchQueued:      0,
	domain.BatchResearching: 1,
	domain.BatchRunning:     2,
	domain.BatchDone:        3,
	domain.BatchFailed:      3,
	domain.BatchCancelled:   3,
}

func (s *Store) CreateBatchWithClips(_ domain.Context, nb domain.NewBatch) (domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.balances[nb.UserID] < nb.EstimatedCostCents {
		return domain.Batch{}, fmt.Errorf("op=batch.create.debit: %w", domain.ErrInsufficientCredits)
	}
	s.balances[nb.UserID] -= nb.EstimatedCostCents

	now := s.now()
	b := &domain.Batch{
		ID:                 uuid.New().String(),
		UserID:             nb.UserID,
		IntentText:         nb.IntentText,
		PresetKey:          nb.PresetKey,
		Mode:               nb.Mode,
		OutputType:         nb.OutputType,
		BatchSize:          nb.BatchSize,
		QualityMode:        nb.QualityMode,
		VideoService:       nb.VideoService,
		NeedsResearch:      nb.NeedsResearch,
		EstimatedCostCents: nb.EstimatedCostCents,
		UserChargeCents:    nb.EstimatedCostCents,
		Status:             domain.BatchQueued,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.batches[b.ID] = b

	for i := 0; i < nb.BatchSize; i++ {
		c := &domain.Clip{
			ID:           uuid.New().String(),
			BatchID:      b.ID,
			VariantID:    fmt.Sprintf("V%02d", i+1),
			PresetKey:    nb.PresetKey,
			Status:       domain.ClipPlanned,
			VideoService: nb.VideoService,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		s.clips[c.ID] = c
	}

	rootType := domain.JobCompile
	if nb.OutputType == domain.OutputImage {
		rootType = domain.JobImageCompile
	}
	if nb.NeedsResearch {
		rootType = domain.JobResearch
	}
	s.insertJob(b.ID, nil, rootType, domain.JobPayload{})
	return *b, nil
}

func (s *Store) insertJob(batchID string, clipID *string, typ domain.JobType, payload domain.JobPayload) string {
	s.seq++
	now := s.now()
	j := &jobRec{
		Job: domain.Job{
			ID:        uuid.New().String(),
			BatchID:   batchID,
			ClipID:    clipID,
			Type:      typ,
			Status:    domain.JobQueued,
			Payload:   payload,
			CreatedAt: now,
			UpdatedAt: now,
		},
		seq: s.seq,
	}
	s.jobs[j.ID] = j
	return j.ID
}

func (s *Store) GetBatch(_ domain.Context, id string) (domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return domain.Batch{}, fmt.Errorf("op=batch.get: %w", domain.ErrNotFound)
	}
	return *b, nil
}

func (s *Store) GetBatchClips(_ domain.Context, batchID string) ([]domain.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchClipsLocked(batchID), nil
}

func (s *Store) batchClipsLocked(batchID string) []domain.Clip {
	var out []domain.Clip
	for _, c := range s.clips {
		if c.BatchID == batchID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out
}

func (s *Store) GetClip(_ domain.Context, id string) (domain.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clips[id]
	if !ok {
		return domain.Clip{}, fmt.Errorf("op=clip.get: %w", domain.ErrNotFound)
	}
	return *c, nil
}

func (s *Store) ClaimNextJob(_ domain.Context) (domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *jobRec
	for _, j := range s.jobs {
		if j.Status != domain.JobQueued {
			continue
		}
		if oldest == nil || j.seq < oldest.seq {
			oldest = j
		}
	}
	if oldest == nil {
		return domain.Job{}, false, nil
	}
	oldest.Status = domain.JobRunning
	oldest.Attempts++
	oldest.UpdatedAt = s.now()
	return oldest.Job, true, nil
}

func (s *Store) Enqueue(_ domain.Context, batchID string, clipID *string, typ domain.JobType, payload domain.JobPayload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.BatchID != batchID || j.Type != typ {
			continue
		}
		if !sameClip(j.ClipID, clipID) {
			continue
		}
		if j.Status == domain.JobQueued || j.Status == domain.JobRunning {
			return "", fmt.Errorf("op=job.enqueue: %w: active %s job exists", domain.ErrConflict, typ)
		}
	}
	if payload == nil {
		payload = domain.JobPayload{}
	}
	return s.insertJob(batchID, clipID, typ, payload), nil
}

func sameClip(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Store) UpdateJobPayload(_ domain.Context, jobID string, payload domain.JobPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		j.Payload = payload
		j.UpdatedAt = s.now()
	}
	return nil
}

func (s *Store) CompleteJob(_ domain.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok && j.Status == domain.JobRunning {
		j.Status = domain.JobDone
		j.Error = ""
		j.UpdatedAt = s.now()
	}
	return nil
}

func (s *Store) FailJob(_ domain.Context, jobID, errMsg string, requeue bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != domain.JobRunning {
		return nil
	}
	if requeue {
		j.Status = domain.JobQueued
	} else {
		j.Status = domain.JobFailed
	}
	j.Error = errMsg
	j.UpdatedAt = s.now()
	return nil
}

func (s *Store) AdvanceClip(_ domain.Context, clipID string, next domain.ClipStatus, patch domain.ClipPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clips[clipID]
	if !ok {
		return fmt.Errorf("op=clip.advance: %w", domain.ErrNotFound)
	}
	if c.Status == domain.ClipFailed {
		return fmt.Errorf("op=clip.advance: %w: clip failed (%s)", domain.ErrConflict, c.Error)
	}
	if c.Status == domain.ClipReady && next != domain.ClipReady {
		return fmt.Errorf("op=clip.advance: %w: clip already ready", domain.ErrConflict)
	}
	if domain.ClipStatusRank(c.Status) >= domain.ClipStatusRank(next) {
		return nil
	}
	c.Status = next
	applyPatch(c, patch)
	c.UpdatedAt = s.now()
	return nil
}

func applyPatch(c *domain.Clip, p domain.ClipPatch) {
	if p.ScriptSpoken != nil {
		c.ScriptSpoken = *p.ScriptSpoken
	}
	if p.OnScreenText != nil {
		c.OnScreenText = p.OnScreenText
	}
	if p.SoraPrompt != nil {
		c.SoraPrompt = *p.SoraPrompt
	}
	if p.VoiceURL != nil {
		c.VoiceURL = *p.VoiceURL
	}
	if p.RawVideoURL != nil {
		c.RawVideoURL = *p.RawVideoURL
	}
	if p.FinalURL != nil {
		c.FinalURL = *p.FinalURL
	}
	if p.ImageURL != nil {
		c.ImageURL = *p.ImageURL
	}
	if p.ImagePrompt != nil {
		c.ImagePrompt = *p.ImagePrompt
	}
	if p.Provider != nil {
		c.Provider = *p.Provider
	}
}

func (s *Store) FailClip(_ domain.Context, clipID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failClipLocked(clipID, errMsg)
	return nil
}

func (s *Store) failClipLocked(clipID, errMsg string) {
	c, ok := s.clips[clipID]
	if !ok || c.Status == domain.ClipReady || c.Status == domain.ClipFailed {
		return
	}
	if errMsg == "" {
		errMsg = "failed"
	}
	c.Status = domain.ClipFailed
	c.Error = errMsg
	c.UpdatedAt = s.now()
}

func (s *Store) FailBatchClips(_ domain.Context, batchID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clips {
		if c.BatchID == batchID {
			s.failClipLocked(id, reason)
		}
	}
	return nil
}

func (s *Store) SetBatchStatus(_ domain.Context, batchID string, status domain.BatchStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil
	}
	if b.Status.Terminal() || batchRank[b.Status] >= batchRank[status] {
		return nil
	}
	b.Status = status
	b.Error = errMsg
	b.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetBatchResearch(_ domain.Context, batchID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.batches[batchID]; ok {
		b.ResearchSummary = summary
		b.UpdatedAt = s.now()
	}
	return nil
}

func (s *Store) CheckBatchComplete(_ domain.Context, batchID string) (domain.BatchStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return "", false, fmt.Errorf("op=batch.check_complete: %w", domain.ErrNotFound)
	}
	if b.Status.Terminal() {
		return b.Status, false, nil
	}
	anyReady := false
	for _, c := range s.clips {
		if c.BatchID != batchID {
			continue
		}
		switch c.Status {
		case domain.ClipReady:
			anyReady = true
		case domain.ClipFailed:
		default:
			return b.Status, false, nil
		}
	}
	if anyReady {
		b.Status = domain.BatchDone
	} else {
		b.Status = domain.BatchFailed
		b.Error = "all clips failed"
	}
	b.UpdatedAt = s.now()
	return b.Status, true, nil
}

func (s *Store) RefundBatch(_ domain.Context, batchID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refunds[batchID] {
		return 0, nil
	}
	b, ok := s.batches[batchID]
	if !ok {
		return 0, fmt.Errorf("op=credits.refund: %w", domain.ErrNotFound)
	}
	var refunded []int
	for _, c := range s.clips {
		if c.BatchID != batchID || c.Status == domain.ClipReady {
			continue
		}
		refunded = append(refunded, variantIndex(c.VariantID))
	}
	total := domain.RefundForClips(b.EstimatedCostCents, b.BatchSize, refunded)
	s.refunds[batchID] = true
	if total > 0 {
		s.balances[b.UserID] += total
		b.UserChargeCents = b.EstimatedCostCents - total
		b.UpdatedAt = s.now()
	}
	return total, nil
}

func variantIndex(variantID string) int {
	if len(variantID) < 2 {
		return 0
	}
	n, err := strconv.Atoi(variantID[1:])
	if err != nil || n < 1 {
		return 0
	}
	return n - 1
}

func (s *Store) CancelBatch(_ domain.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok || b.Status.Terminal() {
		return fmt.Errorf("op=batch.cancel: %w: batch terminal or missing", domain.ErrConflict)
	}
	b.Status = domain.BatchCancelled
	b.UpdatedAt = s.now()
	for id, c := range s.clips {
		if c.BatchID == batchID {
			s.failClipLocked(id, "cancelled by user")
		}
	}
	for id, j := range s.jobs {
		if j.BatchID == batchID && (j.Status == domain.JobQueued || j.Status == domain.JobRunning) {
			delete(s.jobs, id)
		}
	}
	return nil
}

func (s *Store) UserBalance(_ domain.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

func (s *Store) AddCredits(_ domain.Context, userID string, cents int64) error {
	if cents < 0 {
		return fmt.Errorf("op=credits.add: %w: negative amount", domain.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] += cents
	return nil
}

func (s *Store) AppendServiceLog(_ domain.Context, e domain.ServiceLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Logs = append(s.Logs, e)
	return nil
}

func (s *Store) ResetStuckJobs(_ domain.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	n := 0
	for _, j := range s.jobs {
		if j.Status == domain.JobRunning && j.UpdatedAt.Before(cutoff) {
			j.Status = domain.JobQueued
			j.Error = "reset: stuck job"
			j.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func (s *Store) HarvestFailedJobs(_ domain.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status != domain.JobFailed {
			continue
		}
		if j.ClipID != nil {
			msg := j.Error
			if msg == "" {
				msg = "job failed"
			}
			s.failClipLocked(*j.ClipID, msg)
		}
		delete(s.jobs, id)
		n++
	}
	return n, nil
}

func (s *Store) ListStaleRunningBatches(_ domain.Context, olderThan time.Duration) ([]domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	var out []domain.Batch
	for _, b := range s.batches {
		if !b.Status.Terminal() && b.CreatedAt.Before(cutoff) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *Store) ListPurgeableFailedBatches(_ domain.Context, olderThan time.Duration) ([]domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	var out []domain.Batch
	for _, b := range s.batches {
		if b.Status == domain.BatchFailed && b.UpdatedAt.Before(cutoff) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *Store) DeleteBatch(_ domain.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, batchID)
	for id, c := range s.clips {
		if c.BatchID == batchID {
			delete(s.clips, id)
		}
	}
	for id, j := range s.jobs {
		if j.BatchID == batchID {
			delete(s.jobs, id)
		}
	}
	return nil
}

func (s *Store) DeleteBatchJobs(_ domain.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		if j.BatchID == batchID && (j.Status == domain.JobQueued || j.Status == domain.JobRunning) {
			delete(s.jobs, id)
		}
	}
	return nil
}

func (s *Store) ListExpiredClips(_ domain.Context, retention time.Duration) ([]domain.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-retention)
	var out []domain.Clip
	for _, c := range s.clips {
		if c.DeletedAt != nil {
			continue
		}
		if c.Killed || (!c.Winner && c.Status == domain.ClipReady && c.CreatedAt.Before(cutoff)) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *Store) SoftDeleteClip(_ domain.Context, clipID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clips[clipID]; ok && c.DeletedAt == nil {
		now := s.now()
		c.DeletedAt = &now
		c.UpdatedAt = now
	}
	return nil
}

func (s *Store) PurgeDoneJobs(_ domain.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	n := 0
	for id, j := range s.jobs {
		if j.Status == domain.JobDone && j.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// Test inspection helpers.

// Jobs returns a snapshot of all jobs.
func (s *Store) Jobs() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// JobByType returns the first job of the given type, if any.
func (s *Store) JobByType(typ domain.JobType) (domain.Job, bool) {
	for _, j := range s.Jobs() {
		if j.Type == typ {
			return j, true
		}
	}
	return domain.Job{}, false
}

// MarkKilled flags a clip for retention cleanup.
func (s *Store) MarkKilled(clipID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clips[clipID]; ok {
		c.Killed = true
	}
}

// TouchJob backdates a job's updated_at, for stuck-job tests.
func (s *Store) TouchJob(jobID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		j.UpdatedAt = at
	}
}

// TouchBatch backdates a batch's timestamps, for janitor tests.
func (s *Store) TouchBatch(batchID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.batches[batchID]; ok {
		b.CreatedAt = at
		b.UpdatedAt = at
	}
}

var _ domain.Store = (*Store)(nil)
