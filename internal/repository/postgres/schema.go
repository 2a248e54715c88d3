package postgres

import (
	"context"
	"fmt"
)

// EnsureSchema creates the session tables for the configured prefix if they
// do not exist yet.
func EnsureSchema(ctx context.Context, config *RepositoryConfig) error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id             TEXT PRIMARY KEY,
				model          TEXT NOT NULL,
				system_prompt  TEXT,
				status         TEXT NOT NULL,
				max_iterations INTEGER NOT NULL,
				iterations     INTEGER NOT NULL DEFAULT 0,
				final_reason   TEXT,
				final_source   TEXT,
				response       TEXT,
				error          TEXT,
				progress       JSONB,
				turns          JSONB NOT NULL DEFAULT '[]'::jsonb,
				created_at     TIMESTAMPTZ NOT NULL,
				completed_at   TIMESTAMPTZ
			)`, config.Tables.Sessions),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				session_id      TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
				iteration       INTEGER NOT NULL,
				recorded_at     TIMESTAMPTZ NOT NULL,
				status          TEXT NOT NULL,
				source          TEXT NOT NULL,
				tool_call_count INTEGER NOT NULL DEFAULT 0,
				reason          TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (session_id, iteration)
			)`, config.Tables.SessionHistory, config.Tables.Sessions),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS progress JSONB`, config.Tables.Sessions),
	}

	for _, stmt := range statements {
		if _, err := config.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
