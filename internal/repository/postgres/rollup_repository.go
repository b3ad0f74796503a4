package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/emirks/tercihify-chat/internal/domain/usage"
	"github.com/emirks/tercihify-chat/pkg/errors"
)

// Compile-time check
var _ usage.RollupRepository = (*RollupRepository)(nil)

const dayLayout = "2006-01-02"

// RollupRepository maintains chat_usage_daily_model_rollups
type RollupRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewRollupRepository creates a new rollup repository
func NewRollupRepository(db *sqlx.DB) *RollupRepository {
	return &RollupRepository{db: db, now: time.Now}
}

// UpsertDailyModelRollups recomputes the per-model rollups of one UTC day from the log table.
// Running it again for the same day overwrites the rows with fresh totals.
func (r *RollupRepository) UpsertDailyModelRollups(ctx context.Context, day time.Time) (int, error) {
	start := utcDay(day)
	end := start.AddDate(0, 0, 1)

	query := r.db.Rebind(`
		INSERT INTO chat_usage_daily_model_rollups (
			day, model, total_tokens, prompt_tokens, completion_tokens,
			requests, unique_sessions, updated_at_ms
		)
		SELECT
			CAST(? AS TEXT),
			model,
			COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0),
			COUNT(*),
			COUNT(DISTINCT session_id),
			CAST(? AS BIGINT)
		FROM chat_usage_logs
		WHERE created_at_ms >= ? AND created_at_ms < ?
		GROUP BY model
		ON CONFLICT (day, model) DO UPDATE SET
			total_tokens      = excluded.total_tokens,
			prompt_tokens     = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens,
			requests          = excluded.requests,
			unique_sessions   = excluded.unique_sessions,
			updated_at_ms     = excluded.updated_at_ms`)

	result, err := r.db.ExecContext(ctx, query,
		start.Format(dayLayout),
		r.now().UnixMilli(),
		start.UnixMilli(),
		end.UnixMilli(),
	)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to upsert rollups for %s", start.Format(dayLayout))
	}

	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// GetDailyModelRollups returns rollups for days in [from, to], oldest first
func (r *RollupRepository) GetDailyModelRollups(ctx context.Context, from, to time.Time) ([]usage.DailyModelRollup, error) {
	var rows []struct {
		Day              string `db:"day"`
		Model            string `db:"model"`
		TotalTokens      int64  `db:"total_tokens"`
		PromptTokens     int64  `db:"prompt_tokens"`
		CompletionTokens int64  `db:"completion_tokens"`
		Requests         int64  `db:"requests"`
		UniqueSessions   int64  `db:"unique_sessions"`
	}

	query := r.db.Rebind(`
		SELECT day, model, total_tokens, prompt_tokens, completion_tokens, requests, unique_sessions
		FROM chat_usage_daily_model_rollups
		WHERE day >= ? AND day <= ?
		ORDER BY day ASC, total_tokens DESC, model ASC`)

	if err := r.db.SelectContext(ctx, &rows, query, utcDay(from).Format(dayLayout), utcDay(to).Format(dayLayout)); err != nil {
		return nil, errors.Wrap(err, "failed to get daily rollups")
	}

	rollups := make([]usage.DailyModelRollup, 0, len(rows))
	for _, row := range rows {
		day, err := time.Parse(dayLayout, row.Day)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid rollup day %q", row.Day)
		}
		rollups = append(rollups, usage.DailyModelRollup{
			Day:              day,
			Model:            row.Model,
			TotalTokens:      row.TotalTokens,
			PromptTokens:     row.PromptTokens,
			CompletionTokens: row.CompletionTokens,
			Requests:         row.Requests,
			UniqueSessions:   row.UniqueSessions,
		})
	}
	return rollups, nil
}

func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
