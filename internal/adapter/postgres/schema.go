package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS corpus_records (
	seq          BIGSERIAL PRIMARY KEY,
	fingerprint  TEXT NOT NULL UNIQUE,
	source_url   TEXT NOT NULL,
	raw_text     TEXT NOT NULL,
	fields       JSONB NOT NULL DEFAULT '{}'::jsonb,
	label        TEXT,
	inserted_at  TIMESTAMPTZ NOT NULL
);

ALTER TABLE corpus_records
	ADD COLUMN IF NOT EXISTS insert_xid xid8 NOT NULL DEFAULT pg_current_xact_id();

CREATE TABLE IF NOT EXISTS fetch_tasks (
	url              TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	attempts         INTEGER NOT NULL DEFAULT 0,
	last_error       TEXT NOT NULL DEFAULT '',
	error_kind       TEXT NOT NULL DEFAULT '',
	http_status_code INTEGER NOT NULL DEFAULT 0,
	run_count        INTEGER NOT NULL DEFAULT 1,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS fetch_tasks_status_idx ON fetch_tasks (status, updated_at);
`

// Migrate creates the tables used by the Postgres adapters.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
