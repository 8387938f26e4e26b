package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var payload []byte
	err := row.Scan(&j.ID, &j.BatchID, &j.ClipID, &j.Type, &j.Status, &j.Attempts, &payload,
		&j.Error, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return domain.Job{}, err
	}
	if len(payload) > 0 {
		if uerr := json.Unmarshal(payload, &j.Payload); uerr != nil {
			return domain.Job{}, fmt.Errorf("op=job.scan.payload: %w", uerr)
		}
	}
	if j.Payload == nil {
		j.Payload = domain.JobPayload{}
	}
	return j, nil
}

// ClaimNextJob hands the oldest queued job to exactly one caller. The CTE
// locks the candidate row with SKIP LOCKED so concurrent claimers each see
// a distinct job; the claim bumps attempts and updated_at.
func (s *Store) ClaimNextJob(ctx domain.Context) (domain.Job, bool, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Claim")
	defer span.End()

	row := s.Pool.QueryRow(ctx, `
		WITH next AS (
			SELECT id FROM jobs
			WHERE status = 'queued'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs j SET status = 'running', attempts = j.attempts + 1, updated_at = now()
		FROM next WHERE j.id = next.id
		RETURNING j.id, j.batch_id, j.clip_id, j.type, j.status, j.attempts, j.payload,
			COALESCE(j.error,''), j.created_at, j.updated_at`)
	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("op=job.claim: %w", err)
	}
	return j, true, nil
}

// Enqueue inserts a queued job. The partial unique index on
// (batch, clip, type) for non-terminal jobs turns duplicate stage chaining
// into ErrConflict instead of a second job.
func (s *Store) Enqueue(ctx domain.Context, batchID string, clipID *string, typ domain.JobType, payload domain.JobPayload) (string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Enqueue")
	defer span.End()

	if payload == nil {
		payload = domain.JobPayload{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("op=job.enqueue.payload: %w", err)
	}
	id := uuid.New().String()
	_, err = s.Pool.Exec(ctx,
		`INSERT INTO jobs (id, batch_id, clip_id, type, status, payload, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,'queued',$5,now(),now())`,
		id, batchID, clipID, typ, b)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("op=job.enqueue: %w: active %s job exists", domain.ErrConflict, typ)
		}
		return "", fmt.Errorf("op=job.enqueue: %w", err)
	}
	return id, nil
}

// UpdateJobPayload persists an in-flight payload mutation without touching
// status; used by the video stage to record the provider task id.
func (s *Store) UpdateJobPayload(ctx domain.Context, jobID string, payload domain.JobPayload) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=job.update_payload: %w", err)
	}
	if _, err := s.Pool.Exec(ctx,
		`UPDATE jobs SET payload=$2, updated_at=now() WHERE id=$1`, jobID, b); err != nil {
		return fmt.Errorf("op=job.update_payload: %w", err)
	}
	return nil
}

// CompleteJob marks a job done.
func (s *Store) CompleteJob(ctx domain.Context, jobID string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Complete")
	defer span.End()
	if _, err := s.Pool.Exec(ctx,
		`UPDATE jobs SET status='done', error='', updated_at=now() WHERE id=$1 AND status='running'`, jobID); err != nil {
		return fmt.Errorf("op=job.complete: %w", err)
	}
	return nil
}

// FailJob records the failure; with requeue the job returns to the queue so
// a later worker retries it from scratch.
func (s *Store) FailJob(ctx domain.Context, jobID, errMsg string, requeue bool) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Fail")
	defer span.End()
	status := "failed"
	if requeue {
		status = "queued"
	}
	if _, err := s.Pool.Exec(ctx,
		`UPDATE jobs SET status=$2, error=$3, updated_at=now() WHERE id=$1 AND status='running'`,
		jobID, status, errMsg); err != nil {
		return fmt.Errorf("op=job.fail: %w", err)
	}
	return nil
}

// ResetStuckJobs re-queues running jobs whose updated_at predates the
// threshold. The threshold is chosen so no live handler can be raced.
func (s *Store) ResetStuckJobs(ctx domain.Context, olderThan time.Duration) (int, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ResetStuck")
	defer span.End()
	tag, err := s.Pool.Exec(ctx,
		`UPDATE jobs SET status='queued', error='reset: stuck job', updated_at=now()
		 WHERE status='running' AND updated_at < $1`, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("op=job.reset_stuck: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// HarvestFailedJobs fails the clips of terminally failed jobs (unless
// already ready) and deletes the job rows.
func (s *Store) HarvestFailedJobs(ctx domain.Context) (int, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.HarvestFailed")
	defer span.End()

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("op=job.harvest.begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE clips SET status='failed',
			error=COALESCE(NULLIF(j.error,''),'job failed'), updated_at=now()
		FROM jobs j
		WHERE j.clip_id = clips.id AND j.status='failed'
		  AND clips.status NOT IN ('ready','failed')`); err != nil {
		return 0, fmt.Errorf("op=job.harvest.clips: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM jobs WHERE status='failed'`)
	if err != nil {
		return 0, fmt.Errorf("op=job.harvest.delete: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("op=job.harvest.commit: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PurgeDoneJobs deletes done jobs older than the cutoff.
func (s *Store) PurgeDoneJobs(ctx domain.Context, olderThan time.Duration) (int, error) {
	tag, err := s.Pool.Exec(ctx,
		`DELETE FROM jobs WHERE status='done' AND updated_at < $1`, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("op=job.purge_done: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
