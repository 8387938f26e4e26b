package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

const batchColumns = `id, user_id, intent_text, preset_key, mode, output_type, batch_size,
	quality_mode, video_service, needs_research, research_summary,
	estimated_cost_cents, user_charge_cents, status, COALESCE(error,''), created_at, updated_at`

func scanBatch(row pgx.Row) (domain.Batch, error) {
	var b domain.Batch
	err := row.Scan(&b.ID, &b.UserID, &b.IntentText, &b.PresetKey, &b.Mode, &b.OutputType,
		&b.BatchSize, &b.QualityMode, &b.VideoService, &b.NeedsResearch, &b.ResearchSummary,
		&b.EstimatedCostCents, &b.UserChargeCents, &b.Status, &b.Error, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

// CreateBatchWithClips atomically debits the user, inserts the batch, its N
// planned clips and the single root job. Fails with ErrInsufficientCredits
// before any write sticks.
func (s *Store) CreateBatchWithClips(ctx domain.Context, nb domain.NewBatch) (domain.Batch, error) {
	tracer := otel.Tracer("repo.batches")
	ctx, span := tracer.Start(ctx, "batches.CreateWithClips")
	defer span.End()

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("op=batch.create.begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Debit first: the conditional update both checks and reserves the
	// balance under the user row's lock.
	tag, err := tx.Exec(ctx,
		`UPDATE user_credits SET balance_cents = balance_cents - $2, updated_at = now()
		 WHERE user_id = $1 AND balance_cents >= $2`,
		nb.UserID, nb.EstimatedCostCents)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("op=batch.create.debit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Batch{}, fmt.Errorf("op=batch.create.debit: %w", domain.ErrInsufficientCredits)
	}

	batchID := uuid.New().String()
	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`INSERT INTO batches (id, user_id, intent_text, preset_key, mode, output_type, batch_size,
			quality_mode, video_service, needs_research, estimated_cost_cents, user_charge_cents,
			status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11,'queued',$12,$12)`,
		batchID, nb.UserID, nb.IntentText, nb.PresetKey, nb.Mode, nb.OutputType, nb.BatchSize,
		nb.QualityMode, nb.VideoService, nb.NeedsResearch, nb.EstimatedCostCents, now)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("op=batch.create.insert: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO credit_ledger (id, user_id, batch_id, kind, amount_cents) VALUES ($1,$2,$3,'debit',$4)`,
		uuid.New().String(), nb.UserID, batchID, nb.EstimatedCostCents)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("op=batch.create.ledger: %w", err)
	}

	for i := 0; i < nb.BatchSize; i++ {
		_, err = tx.Exec(ctx,
			`INSERT INTO clips (id, batch_id, variant_id, preset_key, status, video_service, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,'planned',$5,$6,$6)`,
			uuid.New().String(), batchID, fmt.Sprintf("V%02d", i+1), nb.PresetKey, nb.VideoService, now)
		if err != nil {
			return domain.Batch{}, fmt.Errorf("op=batch.create.clips: %w", err)
		}
	}

	rootType := domain.JobCompile
	if nb.OutputType == domain.OutputImage {
		rootType = domain.JobImageCompile
	}
	if nb.NeedsResearch {
		rootType = domain.JobResearch
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO jobs (id, batch_id, type, status, payload, created_at, updated_at)
		 VALUES ($1,$2,$3,'queued','{}',$4,$4)`,
		uuid.New().String(), batchID, rootType, now)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("op=batch.create.rootjob: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Batch{}, fmt.Errorf("op=batch.create.commit: %w", err)
	}
	return s.GetBatch(ctx, batchID)
}

// GetBatch loads a batch by id.
func (s *Store) GetBatch(ctx domain.Context, id string) (domain.Batch, error) {
	tracer := otel.Tracer("repo.batches")
	ctx, span := tracer.Start(ctx, "batches.Get")
	defer span.End()
	b, err := scanBatch(s.Pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=$1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Batch{}, fmt.Errorf("op=batch.get: %w", domain.ErrNotFound)
		}
		return domain.Batch{}, fmt.Errorf("op=batch.get: %w", err)
	}
	return b, nil
}

// SetBatchStatus applies a forward-only status transition; regressions and
// terminal rewrites are silently skipped.
func (s *Store) SetBatchStatus(ctx domain.Context, batchID string, status domain.BatchStatus, errMsg string) error {
	tracer := otel.Tracer("repo.batches")
	ctx, span := tracer.Start(ctx, "batches.SetStatus")
	defer span.End()
	_, err := s.Pool.Exec(ctx,
		`UPDATE batches SET status=$2, error=$3, updated_at=now()
		 WHERE id=$1 AND status NOT IN ('done','failed','cancelled')
		   AND batch_status_rank(status) < batch_status_rank($2)`,
		batchID, status, errMsg)
	if err != nil {
		return fmt.Errorf("op=batch.set_status: %w", err)
	}
	return nil
}

// SetBatchResearch stores the research summary produced by the research stage.
func (s *Store) SetBatchResearch(ctx domain.Context, batchID, summary string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE batches SET research_summary=$2, updated_at=now() WHERE id=$1`, batchID, summary)
	if err != nil {
		return fmt.Errorf("op=batch.set_research: %w", err)
	}
	return nil
}

// CheckBatchComplete closes the batch once every clip is terminal: done when
// at least one clip is ready, failed when all failed. The single guarded
// UPDATE makes the transition race-safe under concurrent worker calls.
func (s *Store) CheckBatchComplete(ctx domain.Context, batchID string) (domain.BatchStatus, bool, error) {
	tracer := otel.Tracer("repo.batches")
	ctx, span := tracer.Start(ctx, "batches.CheckComplete")
	defer span.End()

	row := s.Pool.QueryRow(ctx, `
		UPDATE batches b SET
			status = CASE WHEN EXISTS (SELECT 1 FROM clips c WHERE c.batch_id = b.id AND c.status = 'ready')
				THEN 'done' ELSE 'failed' END,
			error = CASE WHEN EXISTS (SELECT 1 FROM clips c WHERE c.batch_id = b.id AND c.status = 'ready')
				THEN b.error ELSE 'all clips failed' END,
			updated_at = now()
		WHERE b.id = $1
		  AND b.status IN ('queued','researching','running')
		  AND NOT EXISTS (SELECT 1 FROM clips c WHERE c.batch_id = b.id AND c.status NOT IN ('ready','failed'))
		RETURNING b.status`, batchID)
	var status domain.BatchStatus
	if err := row.Scan(&status); err != nil {
		if err == pgx.ErrNoRows {
			// Not complete yet, or already terminal; report the current state.
			b, gerr := s.GetBatch(ctx, batchID)
			if gerr != nil {
				return "", false, gerr
			}
			return b.Status, false, nil
		}
		return "", false, fmt.Errorf("op=batch.check_complete: %w", err)
	}
	return status, true, nil
}

// CancelBatch flips the batch to cancelled, fails its non-ready clips and
// deletes every queued or running job so no worker picks them up.
func (s *Store) CancelBatch(ctx domain.Context, batchID string) error {
	tracer := otel.Tracer("repo.batches")
	ctx, span := tracer.Start(ctx, "batches.Cancel")
	defer span.End()

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("op=batch.cancel.begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE batches SET status='cancelled', updated_at=now()
		 WHERE id=$1 AND status NOT IN ('done','failed','cancelled')`, batchID)
	if err != nil {
		return fmt.Errorf("op=batch.cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=batch.cancel: %w: batch terminal or missing", domain.ErrConflict)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE clips SET status='failed', error='cancelled by user', updated_at=now()
		 WHERE batch_id=$1 AND status NOT IN ('ready','failed')`, batchID); err != nil {
		return fmt.Errorf("op=batch.cancel.clips: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM jobs WHERE batch_id=$1 AND status IN ('queued','running')`, batchID); err != nil {
		return fmt.Errorf("op=batch.cancel.jobs: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=batch.cancel.commit: %w", err)
	}
	return nil
}

// ListStaleRunningBatches returns non-terminal batches older than the cutoff.
func (s *Store) ListStaleRunningBatches(ctx domain.Context, olderThan time.Duration) ([]domain.Batch, error) {
	return s.listBatches(ctx,
		`SELECT `+batchColumns+` FROM batches
		 WHERE status IN ('queued','researching','running') AND created_at < $1
		 ORDER BY created_at`, time.Now().UTC().Add(-olderThan))
}

// ListPurgeableFailedBatches returns failed batches past the retention age.
func (s *Store) ListPurgeableFailedBatches(ctx domain.Context, olderThan time.Duration) ([]domain.Batch, error) {
	return s.listBatches(ctx,
		`SELECT `+batchColumns+` FROM batches
		 WHERE status = 'failed' AND updated_at < $1
		 ORDER BY updated_at`, time.Now().UTC().Add(-olderThan))
}

func (s *Store) listBatches(ctx domain.Context, q string, cutoff time.Time) ([]domain.Batch, error) {
	rows, err := s.Pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("op=batch.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("op=batch.list.scan: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBatch removes a batch row; clips and jobs go with it via cascade.
func (s *Store) DeleteBatch(ctx domain.Context, batchID string) error {
	if _, err := s.Pool.Exec(ctx, `DELETE FROM batches WHERE id=$1`, batchID); err != nil {
		return fmt.Errorf("op=batch.delete: %w", err)
	}
	return nil
}

// DeleteBatchJobs removes every queued or running job of a batch.
func (s *Store) DeleteBatchJobs(ctx domain.Context, batchID string) error {
	if _, err := s.Pool.Exec(ctx,
		`DELETE FROM jobs WHERE batch_id=$1 AND status IN ('queued','running')`, batchID); err != nil {
		return fmt.Errorf("op=batch.delete_jobs: %w", err)
	}
	return nil
}
