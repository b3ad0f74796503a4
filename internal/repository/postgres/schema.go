package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/emirks/tercihify-chat/pkg/errors"
)

// The schema sticks to types and syntax shared by PostgreSQL and SQLite. Timestamps are
// unix milliseconds so bucket arithmetic is plain integer division in both.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS chat_usage_logs (
		id                TEXT PRIMARY KEY,
		session_id        TEXT NOT NULL,
		message_id        TEXT NOT NULL,
		user_id           TEXT NOT NULL DEFAULT '',
		model             TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL,
		error_text        TEXT NOT NULL DEFAULT '',
		prompt_tokens     BIGINT NOT NULL DEFAULT 0,
		completion_tokens BIGINT NOT NULL DEFAULT 0,
		total_tokens      BIGINT NOT NULL DEFAULT 0,
		execution_time_ms BIGINT NOT NULL DEFAULT 0,
		request_size      BIGINT NOT NULL DEFAULT 0,
		response_size     BIGINT NOT NULL DEFAULT 0,
		context_json      TEXT,
		created_at_ms     BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_usage_logs_created ON chat_usage_logs (created_at_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_usage_logs_session ON chat_usage_logs (session_id, created_at_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_usage_logs_user ON chat_usage_logs (user_id, created_at_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_usage_logs_model ON chat_usage_logs (model, created_at_ms)`,

	`CREATE TABLE IF NOT EXISTS chat_usage_steps (
		log_id            TEXT NOT NULL REFERENCES chat_usage_logs (id) ON DELETE CASCADE,
		step_index        INTEGER NOT NULL,
		step_name         TEXT NOT NULL,
		timestamp_ms      BIGINT NOT NULL,
		prompt_tokens     BIGINT,
		completion_tokens BIGINT,
		total_tokens      BIGINT,
		payload           TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (log_id, step_index)
	)`,

	`CREATE TABLE IF NOT EXISTS chat_usage_daily_model_rollups (
		day               TEXT NOT NULL,
		model             TEXT NOT NULL,
		total_tokens      BIGINT NOT NULL DEFAULT 0,
		prompt_tokens     BIGINT NOT NULL DEFAULT 0,
		completion_tokens BIGINT NOT NULL DEFAULT 0,
		requests          BIGINT NOT NULL DEFAULT 0,
		unique_sessions   BIGINT NOT NULL DEFAULT 0,
		updated_at_ms     BIGINT NOT NULL,
		PRIMARY KEY (day, model)
	)`,
}

// Migrate applies the usage schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply usage schema")
		}
	}
	return nil
}
