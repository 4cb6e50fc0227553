package db

import (
	"context"
	"fmt"
)

// schemaStatements create the jobs table when running standalone and add the
// render columns to a table created by the upstream generation stages.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id UUID PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'pending',
		image_urls TEXT[] NOT NULL DEFAULT '{}',
		audio_url TEXT,
		captions_url TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`ALTER TABLE jobs ADD COLUMN IF NOT EXISTS final_video_url TEXT`,
	`ALTER TABLE jobs ADD COLUMN IF NOT EXISTS total_duration_seconds INTEGER`,
	`ALTER TABLE jobs ADD COLUMN IF NOT EXISTS progress_percent INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE jobs ADD COLUMN IF NOT EXISTS error_message TEXT`,
	`ALTER TABLE jobs ADD COLUMN IF NOT EXISTS render_started_at TIMESTAMPTZ`,
	`ALTER TABLE jobs ADD COLUMN IF NOT EXISTS render_done_at TIMESTAMPTZ`,
	`ALTER TABLE jobs ADD COLUMN IF NOT EXISTS render_lease_owner TEXT`,
	`ALTER TABLE jobs ADD COLUMN IF NOT EXISTS render_lease_expires_at TIMESTAMPTZ`,
	`CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status)`,
}

// EnsureSchema applies schemaStatements. Every statement is idempotent.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
