package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

const clipColumns = `id, batch_id, variant_id, preset_key, status, script_spoken, on_screen_text,
	sora_prompt, voice_url, raw_video_url, final_url, image_url, image_prompt,
	winner, killed, provider, video_service, COALESCE(error,''), created_at, updated_at, deleted_at`

func scanClip(row pgx.Row) (domain.Clip, error) {
	var c domain.Clip
	var overlays []byte
	err := row.Scan(&c.ID, &c.BatchID, &c.VariantID, &c.PresetKey, &c.Status, &c.ScriptSpoken,
		&overlays, &c.SoraPrompt, &c.VoiceURL, &c.RawVideoURL, &c.FinalURL, &c.ImageURL,
		&c.ImagePrompt, &c.Winner, &c.Killed, &c.Provider, &c.VideoService, &c.Error,
		&c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
	if err != nil {
		return domain.Clip{}, err
	}
	if len(overlays) > 0 {
		if uerr := json.Unmarshal(overlays, &c.OnScreenText); uerr != nil {
			return domain.Clip{}, fmt.Errorf("op=clip.scan.overlays: %w", uerr)
		}
	}
	return c, nil
}

// GetClip loads one clip by id.
func (s *Store) GetClip(ctx domain.Context, id string) (domain.Clip, error) {
	tracer := otel.Tracer("repo.clips")
	ctx, span := tracer.Start(ctx, "clips.Get")
	defer span.End()
	c, err := scanClip(s.Pool.QueryRow(ctx, `SELECT `+clipColumns+` FROM clips WHERE id=$1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Clip{}, fmt.Errorf("op=clip.get: %w", domain.ErrNotFound)
		}
		return domain.Clip{}, fmt.Errorf("op=clip.get: %w", err)
	}
	return c, nil
}

// GetBatchClips loads every clip of a batch ordered by variant.
func (s *Store) GetBatchClips(ctx domain.Context, batchID string) ([]domain.Clip, error) {
	tracer := otel.Tracer("repo.clips")
	ctx, span := tracer.Start(ctx, "clips.ListByBatch")
	defer span.End()
	rows, err := s.Pool.Query(ctx,
		`SELECT `+clipColumns+` FROM clips WHERE batch_id=$1 ORDER BY variant_id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("op=clip.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, fmt.Errorf("op=clip.list.scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AdvanceClip applies a forward-only status transition plus artifact
// patches in one guarded UPDATE. Re-entry at or beyond the target stage is
// a no-op; a failed (e.g. cancelled) clip surfaces ErrConflict so in-flight
// handlers abort without further provider calls.
func (s *Store) AdvanceClip(ctx domain.Context, clipID string, next domain.ClipStatus, patch domain.ClipPatch) error {
	tracer := otel.Tracer("repo.clips")
	ctx, span := tracer.Start(ctx, "clips.Advance")
	defer span.End()

	var overlays []byte
	if patch.OnScreenText != nil {
		b, err := json.Marshal(patch.OnScreenText)
		if err != nil {
			return fmt.Errorf("op=clip.advance.overlays: %w", err)
		}
		overlays = b
	}
	tag, err := s.Pool.Exec(ctx, `
		UPDATE clips SET
			status = $2,
			script_spoken = COALESCE($3, script_spoken),
			on_screen_text = COALESCE($4::jsonb, on_screen_text),
			sora_prompt = COALESCE($5, sora_prompt),
			voice_url = COALESCE($6, voice_url),
			raw_video_url = COALESCE($7, raw_video_url),
			final_url = COALESCE($8, final_url),
			image_url = COALESCE($9, image_url),
			image_prompt = COALESCE($10, image_prompt),
			provider = COALESCE($11, provider),
			updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		  AND status NOT IN ('ready','failed')
		  AND clip_status_rank(status) < clip_status_rank($2)`,
		clipID, next, patch.ScriptSpoken, overlays, patch.SoraPrompt, patch.VoiceURL,
		patch.RawVideoURL, patch.FinalURL, patch.ImageURL, patch.ImagePrompt, patch.Provider)
	if err != nil {
		return fmt.Errorf("op=clip.advance: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Nothing updated: distinguish idempotent re-entry from a terminal clip.
	c, err := s.GetClip(ctx, clipID)
	if err != nil {
		return err
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
	return fmt.Errorf("op=clip.advance: %w: %s -> %s", domain.ErrConflict, c.Status, next)
}

// FailClip marks a non-ready clip failed with the given reason; already
// terminal clips are left untouched.
func (s *Store) FailClip(ctx domain.Context, clipID, errMsg string) error {
	tracer := otel.Tracer("repo.clips")
	ctx, span := tracer.Start(ctx, "clips.Fail")
	defer span.End()
	if errMsg == "" {
		errMsg = "failed"
	}
	_, err := s.Pool.Exec(ctx,
		`UPDATE clips SET status='failed', error=$2, updated_at=now()
		 WHERE id=$1 AND status NOT IN ('ready','failed')`, clipID, errMsg)
	if err != nil {
		return fmt.Errorf("op=clip.fail: %w", err)
	}
	return nil
}

// FailBatchClips fails every non-ready clip of a batch with one reason.
func (s *Store) FailBatchClips(ctx domain.Context, batchID, reason string) error {
	if reason == "" {
		reason = "failed"
	}
	_, err := s.Pool.Exec(ctx,
		`UPDATE clips SET status='failed', error=$2, updated_at=now()
		 WHERE batch_id=$1 AND status NOT IN ('ready','failed')`, batchID, reason)
	if err != nil {
		return fmt.Errorf("op=clip.fail_batch: %w", err)
	}
	return nil
}

// ListExpiredClips returns clips eligible for retention cleanup: killed
// clips and non-winner ready clips past the retention window.
func (s *Store) ListExpiredClips(ctx domain.Context, retention time.Duration) ([]domain.Clip, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+clipColumns+` FROM clips
		 WHERE deleted_at IS NULL
		   AND (killed OR (NOT winner AND status = 'ready' AND created_at < $1))`,
		time.Now().UTC().Add(-retention))
	if err != nil {
		return nil, fmt.Errorf("op=clip.list_expired: %w", err)
	}
	defer rows.Close()
	var out []domain.Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, fmt.Errorf("op=clip.list_expired.scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SoftDeleteClip tombstones a clip; its storage blobs are removed separately.
func (s *Store) SoftDeleteClip(ctx domain.Context, clipID string) error {
	if _, err := s.Pool.Exec(ctx,
		`UPDATE clips SET deleted_at=now(), updated_at=now() WHERE id=$1 AND deleted_at IS NULL`, clipID); err != nil {
		return fmt.Errorf("op=clip.soft_delete: %w", err)
	}
	return nil
}
