package db

import (
	"context"
	"fmt"
)

// schemaDDL is the full schema, applied idempotently at startup. Interview
// tables carry no foreign keys: rows arrive through the async write queue and
// a cycle can land before its interview row does.
const schemaDDL = `
-- Accounts and credentials

CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	full_name     TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL DEFAULT 'user',
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_login    TIMESTAMPTZ,
	metadata      JSONB
);

CREATE TABLE IF NOT EXISTS api_keys (
	id          UUID PRIMARY KEY,
	key_hash    TEXT NOT NULL UNIQUE,
	key_prefix  TEXT NOT NULL,
	user_id     UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	scopes      TEXT[] NOT NULL DEFAULT '{}',
	last_used   TIMESTAMPTZ,
	expires_at  TIMESTAMPTZ,
	is_active   BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	token_hash TEXT NOT NULL UNIQUE,
	user_id    UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	expires_at TIMESTAMPTZ NOT NULL,
	revoked    BOOLEAN NOT NULL DEFAULT FALSE,
	revoked_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	event_type TEXT NOT NULL,
	user_id    UUID,
	details    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- Interview history

CREATE TABLE IF NOT EXISTS interviews (
	id            UUID PRIMARY KEY,
	workflow_id   TEXT NOT NULL UNIQUE,
	run_id        TEXT NOT NULL DEFAULT '',
	session_id    TEXT NOT NULL DEFAULT '',
	user_id       UUID,
	problem       TEXT NOT NULL,
	model         TEXT NOT NULL DEFAULT '',
	phase         TEXT NOT NULL DEFAULT 'running',
	cycles_used   INTEGER NOT NULL DEFAULT 0,
	report_ready  BOOLEAN NOT NULL DEFAULT FALSE,
	error_message TEXT,
	total_tokens  INTEGER NOT NULL DEFAULT 0,
	metadata      JSONB,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS interview_cycles (
	id              UUID PRIMARY KEY,
	workflow_id     TEXT NOT NULL,
	cycle           INTEGER NOT NULL,
	attempt         INTEGER NOT NULL DEFAULT 1,
	records         JSONB,
	answers         JSONB,
	calc_rounds     JSONB,
	is_valid        BOOLEAN NOT NULL DEFAULT FALSE,
	best_hypothesis TEXT NOT NULL DEFAULT '',
	verdict_reason  TEXT NOT NULL DEFAULT '',
	retry_guidance  TEXT NOT NULL DEFAULT '',
	tokens_used     INTEGER NOT NULL DEFAULT 0,
	started_at      TIMESTAMPTZ NOT NULL,
	completed_at    TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (workflow_id, cycle, attempt)
);

CREATE TABLE IF NOT EXISTS interview_reports (
	id           UUID PRIMARY KEY,
	workflow_id  TEXT NOT NULL UNIQUE,
	session_id   TEXT NOT NULL DEFAULT '',
	user_id      UUID,
	content      TEXT NOT NULL,
	format       TEXT NOT NULL DEFAULT 'markdown',
	cycles       INTEGER NOT NULL DEFAULT 0,
	solved       BOOLEAN NOT NULL DEFAULT FALSE,
	generated_at TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- Indexes for common queries
CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix);
CREATE INDEX IF NOT EXISTS idx_audit_logs_type ON audit_logs(event_type, created_at);
CREATE INDEX IF NOT EXISTS idx_interviews_session ON interviews(session_id);
CREATE INDEX IF NOT EXISTS idx_interviews_user ON interviews(user_id);
CREATE INDEX IF NOT EXISTS idx_cycles_workflow ON interview_cycles(workflow_id);
CREATE INDEX IF NOT EXISTS idx_reports_session ON interview_reports(session_id);
`

// EnsureSchema creates all tables and indexes if they do not exist. lib/pq
// sends parameter-free statements over the simple query protocol, so the
// whole DDL runs as one round trip.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	c.logger.Info("Database schema ensured")
	return nil
}
