package postgres

import (
	"fmt"

	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

// AppendServiceLog inserts one telemetry row. Callers treat failures as
// non-fatal; this method only reports them.
func (s *Store) AppendServiceLog(ctx domain.Context, e domain.ServiceLogEntry) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO service_log (batch_id, clip_id, job_id, job_type, provider, duration_ms, outcome, detail)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.BatchID, e.ClipID, e.JobID, e.JobType, e.Provider, e.DurationMS, e.Outcome, e.Detail)
	if err != nil {
		return fmt.Errorf("op=servicelog.append: %w", err)
	}
	return nil
}
