package postgres

import (
	"context"
	"fmt"
)

// schema is applied on startup; every statement is idempotent.
const schema = `
CREATE OR REPLACE FUNCTION clip_status_rank(s TEXT) RETURNS INT AS $$
SELECT CASE s
	WHEN 'planned' THEN 0
	WHEN 'scripting' THEN 1
	WHEN 'vo' THEN 2
	WHEN 'generating' THEN 2
	WHEN 'rendering' THEN 3
	WHEN 'assembling' THEN 4
	ELSE 5
END
$$ LANGUAGE SQL IMMUTABLE;

CREATE OR REPLACE FUNCTION batch_status_rank(s TEXT) RETURNS INT AS $$
SELECT CASE s
	WHEN 'queued' THEN 0
	WHEN 'researching' THEN 1
	WHEN 'running' THEN 2
	ELSE 3
END
$$ LANGUAGE SQL IMMUTABLE;

CREATE TABLE IF NOT EXISTS user_credits (
	user_id       TEXT PRIMARY KEY,
	balance_cents BIGINT NOT NULL DEFAULT 0 CHECK (balance_cents >= 0),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS batches (
	id                   UUID PRIMARY KEY,
	user_id              TEXT NOT NULL,
	intent_text          TEXT NOT NULL,
	preset_key           TEXT NOT NULL DEFAULT 'AUTO',
	mode                 TEXT NOT NULL,
	output_type          TEXT NOT NULL,
	batch_size           INT NOT NULL,
	quality_mode         TEXT NOT NULL,
	video_service        TEXT NOT NULL DEFAULT '',
	needs_research       BOOLEAN NOT NULL DEFAULT FALSE,
	research_summary     TEXT NOT NULL DEFAULT '',
	estimated_cost_cents BIGINT NOT NULL DEFAULT 0,
	user_charge_cents    BIGINT NOT NULL DEFAULT 0,
	status               TEXT NOT NULL DEFAULT 'queued',
	error                TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS batches_status_idx ON batches (status, created_at);

CREATE TABLE IF NOT EXISTS credit_ledger (
	id           UUID PRIMARY KEY,
	user_id      TEXT NOT NULL,
	batch_id     UUID REFERENCES batches(id) ON DELETE SET NULL,
	kind         TEXT NOT NULL,
	amount_cents BIGINT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS credit_ledger_refund_once
	ON credit_ledger (batch_id, kind) WHERE kind = 'refund';

CREATE TABLE IF NOT EXISTS clips (
	id             UUID PRIMARY KEY,
	batch_id       UUID NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
	variant_id     TEXT NOT NULL,
	preset_key     TEXT NOT NULL DEFAULT 'AUTO',
	status         TEXT NOT NULL DEFAULT 'planned',
	script_spoken  TEXT NOT NULL DEFAULT '',
	on_screen_text JSONB NOT NULL DEFAULT '[]',
	sora_prompt    TEXT NOT NULL DEFAULT '',
	voice_url      TEXT NOT NULL DEFAULT '',
	raw_video_url  TEXT NOT NULL DEFAULT '',
	final_url      TEXT NOT NULL DEFAULT '',
	image_url      TEXT NOT NULL DEFAULT '',
	image_prompt   TEXT NOT NULL DEFAULT '',
	winner         BOOLEAN NOT NULL DEFAULT FALSE,
	killed         BOOLEAN NOT NULL DEFAULT FALSE,
	provider       TEXT NOT NULL DEFAULT '',
	video_service  TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS clips_batch_idx ON clips (batch_id);

CREATE TABLE IF NOT EXISTS jobs (
	id         UUID PRIMARY KEY,
	batch_id   UUID NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
	clip_id    UUID REFERENCES clips(id) ON DELETE CASCADE,
	type       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	attempts   INT NOT NULL DEFAULT 0,
	payload    JSONB NOT NULL DEFAULT '{}',
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS jobs_one_active
	ON jobs (batch_id, COALESCE(clip_id::TEXT, ''), type)
	WHERE status IN ('queued', 'running');
CREATE INDEX IF NOT EXISTS jobs_claim_idx ON jobs (created_at) WHERE status = 'queued';
CREATE INDEX IF NOT EXISTS jobs_running_idx ON jobs (updated_at) WHERE status = 'running';

CREATE TABLE IF NOT EXISTS service_log (
	id          BIGSERIAL PRIMARY KEY,
	batch_id    TEXT NOT NULL DEFAULT '',
	clip_id     TEXT NOT NULL DEFAULT '',
	job_id      TEXT NOT NULL DEFAULT '',
	job_type    TEXT NOT NULL DEFAULT '',
	provider    TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	outcome     TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema applies the bootstrap DDL.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("op=schema.ensure: %w", err)
	}
	return nil
}
