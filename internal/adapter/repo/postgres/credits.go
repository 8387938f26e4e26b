package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

// UserBalance returns the user's prepaid balance; a missing row reads as 0.
func (s *Store) UserBalance(ctx domain.Context, userID string) (int64, error) {
	tracer := otel.Tracer("repo.credits")
	ctx, span := tracer.Start(ctx, "credits.Balance")
	defer span.End()
	var balance int64
	err := s.Pool.QueryRow(ctx,
		`SELECT balance_cents FROM user_credits WHERE user_id=$1`, userID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("op=credits.balance: %w", err)
	}
	return balance, nil
}

// AddCredits grants cents to a user, creating the credit row on first use.
func (s *Store) AddCredits(ctx domain.Context, userID string, cents int64) error {
	tracer := otel.Tracer("repo.credits")
	ctx, span := tracer.Start(ctx, "credits.Add")
	defer span.End()
	if cents < 0 {
		return fmt.Errorf("op=credits.add: %w: negative grant", domain.ErrInvalidArgument)
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO user_credits (user_id, balance_cents) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET balance_cents = user_credits.balance_cents + EXCLUDED.balance_cents, updated_at = now()`,
		userID, cents)
	if err != nil {
		return fmt.Errorf("op=credits.add: %w", err)
	}
	return nil
}

// RefundBatch credits the user the per-clip price of every clip not in
// ready. The partial unique index on (batch_id, kind='refund') makes the
// whole operation idempotent: a second call inserts nothing and credits
// nothing. Returns the cents refunded by this call.
func (s *Store) RefundBatch(ctx domain.Context, batchID string) (int64, error) {
	tracer := otel.Tracer("repo.credits")
	ctx, span := tracer.Start(ctx, "credits.RefundBatch")
	defer span.End()

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("op=refund.begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var b domain.Batch
	row := tx.QueryRow(ctx,
		`SELECT id, user_id, estimated_cost_cents, batch_size FROM batches WHERE id=$1 FOR UPDATE`, batchID)
	if err := row.Scan(&b.ID, &b.UserID, &b.EstimatedCostCents, &b.BatchSize); err != nil {
		if err == pgx.ErrNoRows {
			return 0, fmt.Errorf("op=refund: %w", domain.ErrNotFound)
		}
		return 0, fmt.Errorf("op=refund.batch: %w", err)
	}

	rows, err := tx.Query(ctx, `SELECT variant_id, status FROM clips WHERE batch_id=$1`, batchID)
	if err != nil {
		return 0, fmt.Errorf("op=refund.clips: %w", err)
	}
	var refundIdx []int
	for rows.Next() {
		var variantID string
		var status domain.ClipStatus
		if err := rows.Scan(&variantID, &status); err != nil {
			rows.Close()
			return 0, fmt.Errorf("op=refund.clips.scan: %w", err)
		}
		if status != domain.ClipReady {
			refundIdx = append(refundIdx, variantIndex(variantID))
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("op=refund.clips: %w", err)
	}

	total := domain.RefundForClips(b.EstimatedCostCents, b.BatchSize, refundIdx)

	// The marker row doubles as the idempotency guard; amount 0 still marks
	// the batch as settled.
	var markerID string
	err = tx.QueryRow(ctx, `
		INSERT INTO credit_ledger (id, user_id, batch_id, kind, amount_cents)
		VALUES ($1,$2,$3,'refund',$4)
		ON CONFLICT (batch_id, kind) WHERE kind = 'refund' DO NOTHING
		RETURNING id`,
		uuid.New().String(), b.UserID, batchID, total).Scan(&markerID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil // already refunded
		}
		return 0, fmt.Errorf("op=refund.ledger: %w", err)
	}

	if total > 0 {
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_credits (user_id, balance_cents) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE
			SET balance_cents = user_credits.balance_cents + EXCLUDED.balance_cents, updated_at = now()`,
			b.UserID, total); err != nil {
			return 0, fmt.Errorf("op=refund.credit: %w", err)
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE batches SET user_charge_cents = estimated_cost_cents - $2, updated_at=now() WHERE id=$1`,
		batchID, total); err != nil {
		return 0, fmt.Errorf("op=refund.charge: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("op=refund.commit: %w", err)
	}
	return total, nil
}

// variantIndex maps "V01" to 0; malformed ids fall back to 0 which only
// shifts the remainder cent.
func variantIndex(variantID string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(variantID, "V"))
	if err != nil || n < 1 {
		return 0
	}
	return n - 1
}
