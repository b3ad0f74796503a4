package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/emirks/tercihify-chat/internal/domain/usage"
	"github.com/emirks/tercihify-chat/pkg/errors"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

// Compile-time check
var _ usage.Repository = (*UsageRepository)(nil)

const (
	hourMs   = int64(time.Hour / time.Millisecond)
	minuteMs = int64(time.Minute / time.Millisecond)
)

// UsageRepository implements usage.Repository on PostgreSQL (or SQLite through the same queries)
type UsageRepository struct {
	db  *sqlx.DB
	log *logger.Logger
	now func() time.Time
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *sqlx.DB) *UsageRepository {
	return &UsageRepository{
		db:  db,
		log: logger.Get().With("component", "usage_repository"),
		now: time.Now,
	}
}

type logRow struct {
	ID               string         `db:"id"`
	SessionID        string         `db:"session_id"`
	MessageID        string         `db:"message_id"`
	UserID           string         `db:"user_id"`
	Model            string         `db:"model"`
	Status           string         `db:"status"`
	ErrorText        string         `db:"error_text"`
	PromptTokens     int64          `db:"prompt_tokens"`
	CompletionTokens int64          `db:"completion_tokens"`
	TotalTokens      int64          `db:"total_tokens"`
	ExecutionTimeMs  int64          `db:"execution_time_ms"`
	RequestSize      int64          `db:"request_size"`
	ResponseSize     int64          `db:"response_size"`
	ContextJSON      sql.NullString `db:"context_json"`
	CreatedAtMs      int64          `db:"created_at_ms"`
}

type stepRow struct {
	LogID            string        `db:"log_id"`
	StepIndex        int           `db:"step_index"`
	StepName         string        `db:"step_name"`
	TimestampMs      int64         `db:"timestamp_ms"`
	PromptTokens     sql.NullInt64 `db:"prompt_tokens"`
	CompletionTokens sql.NullInt64 `db:"completion_tokens"`
	TotalTokens      sql.NullInt64 `db:"total_tokens"`
	Payload          string        `db:"payload"`
}

// stepPayload holds the structured parts of a step that are not queried by column
type stepPayload struct {
	ToolCalls       []usage.ToolCallResult `json:"toolCalls,omitempty"`
	PromptBreakdown *usage.PromptBreakdown `json:"promptBreakdown,omitempty"`
	ActualContent   *usage.CapturedContent `json:"actualContent,omitempty"`
	AdditionalData  map[string]any         `json:"additionalData,omitempty"`
}

// Persist writes the log and its steps in one transaction
func (r *UsageRepository) Persist(ctx context.Context, log *usage.Log) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin usage transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := insertLog(ctx, tx, log); err != nil {
		return err
	}
	for i, step := range log.Steps {
		if err := insertStep(ctx, tx, log.ID, i, step); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit usage log")
	}
	return nil
}

func insertLog(ctx context.Context, q DBTX, log *usage.Log) error {
	var contextJSON sql.NullString
	if log.Context != nil {
		data, err := json.Marshal(log.Context)
		if err != nil {
			return errors.Wrap(err, "failed to marshal conversation context")
		}
		contextJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := q.Rebind(`
		INSERT INTO chat_usage_logs (
			id, session_id, message_id, user_id, model,
			status, error_text,
			prompt_tokens, completion_tokens, total_tokens,
			execution_time_ms, request_size, response_size,
			context_json, created_at_ms
		) VALUES (
			?, ?, ?, ?, ?,
			?, ?,
			?, ?, ?,
			?, ?, ?,
			?, ?
		)`)

	_, err := q.ExecContext(ctx, query,
		log.ID.String(), log.SessionID, log.MessageID, log.UserID, log.Model,
		string(log.Status), log.ErrorText,
		log.PromptTokens, log.CompletionTokens, log.TotalTokens,
		log.ExecutionTimeMs, log.RequestSize, log.ResponseSize,
		contextJSON, log.StartedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert usage log")
	}
	return nil
}

func insertStep(ctx context.Context, q DBTX, logID uuid.UUID, index int, step usage.Step) error {
	payload, err := json.Marshal(stepPayload{
		ToolCalls:       step.ToolCalls,
		PromptBreakdown: step.PromptBreakdown,
		ActualContent:   step.ActualContent,
		AdditionalData:  step.AdditionalData,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to marshal step %d payload", index)
	}

	query := q.Rebind(`
		INSERT INTO chat_usage_steps (
			log_id, step_index, step_name, timestamp_ms,
			prompt_tokens, completion_tokens, total_tokens, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = q.ExecContext(ctx, query,
		logID.String(), index, string(step.StepName), step.Timestamp.UnixMilli(),
		nullInt(step.PromptTokens), nullInt(step.CompletionTokens), nullInt(step.TotalTokens),
		string(payload),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to insert usage step %d", index)
	}
	return nil
}

// DeleteLog removes a log; the FK cascade removes its steps
func (r *UsageRepository) DeleteLog(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM chat_usage_logs WHERE id = ?`), id.String())
	if err != nil {
		return errors.Wrap(err, "failed to delete usage log")
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "usage log %s", id)
	}
	return nil
}

// GetTokenUsageSummary aggregates totals over the filter. An empty set yields zeros.
func (r *UsageRepository) GetTokenUsageSummary(ctx context.Context, filter usage.Filter) (*usage.TokenUsageSummary, error) {
	where, args, err := r.where(filter)
	if err != nil {
		return nil, err
	}

	var row struct {
		TotalTokens      int64 `db:"total_tokens"`
		PromptTokens     int64 `db:"prompt_tokens"`
		CompletionTokens int64 `db:"completion_tokens"`
		PeakTokens       int64 `db:"peak_tokens"`
		Requests         int64 `db:"requests"`
		UniqueSessions   int64 `db:"unique_sessions"`
	}

	query := r.db.Rebind(`
		SELECT
			COALESCE(SUM(total_tokens), 0)      AS total_tokens,
			COALESCE(SUM(prompt_tokens), 0)     AS prompt_tokens,
			COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
			COALESCE(MAX(total_tokens), 0)      AS peak_tokens,
			COUNT(*)                            AS requests,
			COUNT(DISTINCT session_id)          AS unique_sessions
		FROM chat_usage_logs` + where)

	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to get token usage summary")
	}

	return &usage.TokenUsageSummary{
		TotalTokens:             row.TotalTokens,
		PromptTokens:            row.PromptTokens,
		CompletionTokens:        row.CompletionTokens,
		AverageTokensPerRequest: usage.Average(row.TotalTokens, row.Requests),
		PeakTokenUsage:          row.PeakTokens,
		TotalRequests:           row.Requests,
		UniqueSessions:          row.UniqueSessions,
	}, nil
}

// GetHighUsageSessions ranks sessions whose summed tokens reach minTokens
func (r *UsageRepository) GetHighUsageSessions(ctx context.Context, filter usage.Filter, limit int, minTokens int64) ([]usage.SessionUsage, error) {
	where, args, err := r.where(filter)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		SessionID      string `db:"session_id"`
		UserID         string `db:"user_id"`
		TotalTokens    int64  `db:"total_tokens"`
		PeakTokens     int64  `db:"peak_tokens"`
		MessageCount   int64  `db:"message_count"`
		LastActivityMs int64  `db:"last_activity_ms"`
	}

	query := r.db.Rebind(`
		SELECT
			session_id,
			MAX(user_id)                   AS user_id,
			COALESCE(SUM(total_tokens), 0) AS total_tokens,
			COALESCE(MAX(total_tokens), 0) AS peak_tokens,
			COUNT(*)                       AS message_count,
			COALESCE(MAX(created_at_ms), 0) AS last_activity_ms
		FROM chat_usage_logs` + where + `
		GROUP BY session_id
		HAVING COALESCE(SUM(total_tokens), 0) >= ?
		ORDER BY COALESCE(SUM(total_tokens), 0) DESC, session_id ASC
		LIMIT ?`)

	args = append(args, minTokens, limit)
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to get high usage sessions")
	}

	sessions := make([]usage.SessionUsage, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, usage.SessionUsage{
			SessionID:      row.SessionID,
			UserID:         row.UserID,
			TotalTokens:    row.TotalTokens,
			PeakTokenUsage: row.PeakTokens,
			MessageCount:   row.MessageCount,
			LastActivity:   time.UnixMilli(row.LastActivityMs).UTC(),
		})
	}
	return sessions, nil
}

// GetModelUsageSummary aggregates per model, heaviest first
func (r *UsageRepository) GetModelUsageSummary(ctx context.Context, filter usage.Filter) ([]usage.ModelUsage, error) {
	where, args, err := r.where(filter)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Model            string `db:"model"`
		TotalTokens      int64  `db:"total_tokens"`
		PromptTokens     int64  `db:"prompt_tokens"`
		CompletionTokens int64  `db:"completion_tokens"`
		Requests         int64  `db:"requests"`
		UniqueSessions   int64  `db:"unique_sessions"`
		PeakTokens       int64  `db:"peak_tokens"`
		LastUsedMs       int64  `db:"last_used_ms"`
	}

	query := r.db.Rebind(`
		SELECT
			model,
			COALESCE(SUM(total_tokens), 0)      AS total_tokens,
			COALESCE(SUM(prompt_tokens), 0)     AS prompt_tokens,
			COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
			COUNT(*)                            AS requests,
			COUNT(DISTINCT session_id)          AS unique_sessions,
			COALESCE(MAX(total_tokens), 0)      AS peak_tokens,
			COALESCE(MAX(created_at_ms), 0)     AS last_used_ms
		FROM chat_usage_logs` + where + `
		GROUP BY model
		ORDER BY COALESCE(SUM(total_tokens), 0) DESC, model ASC`)

	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to get model usage summary")
	}

	models := make([]usage.ModelUsage, 0, len(rows))
	for _, row := range rows {
		models = append(models, usage.ModelUsage{
			Model:                   row.Model,
			TotalTokens:             row.TotalTokens,
			PromptTokens:            row.PromptTokens,
			CompletionTokens:        row.CompletionTokens,
			TotalRequests:           row.Requests,
			UniqueSessions:          row.UniqueSessions,
			AverageTokensPerRequest: usage.Average(row.TotalTokens, row.Requests),
			PeakTokenUsage:          row.PeakTokens,
			LastUsed:                time.UnixMilli(row.LastUsedMs).UTC(),
		})
	}
	return models, nil
}

// GetHourlyUsage returns hour buckets that have at least one turn, ascending
func (r *UsageRepository) GetHourlyUsage(ctx context.Context, filter usage.Filter) ([]usage.UsageBucket, error) {
	return r.buckets(ctx, filter, hourMs)
}

// GetMinuteUsage returns minute buckets that have at least one turn, ascending
func (r *UsageRepository) GetMinuteUsage(ctx context.Context, filter usage.Filter) ([]usage.UsageBucket, error) {
	return r.buckets(ctx, filter, minuteMs)
}

func (r *UsageRepository) buckets(ctx context.Context, filter usage.Filter, sizeMs int64) ([]usage.UsageBucket, error) {
	where, args, err := r.where(filter)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		BucketMs int64 `db:"bucket_ms"`
		Tokens   int64 `db:"tokens"`
		Requests int64 `db:"requests"`
	}

	bucket := fmt.Sprintf("(created_at_ms / %d) * %d", sizeMs, sizeMs)
	query := r.db.Rebind(`
		SELECT
			` + bucket + `                 AS bucket_ms,
			COALESCE(SUM(total_tokens), 0) AS tokens,
			COUNT(*)                       AS requests
		FROM chat_usage_logs` + where + `
		GROUP BY ` + bucket + `
		ORDER BY bucket_ms ASC`)

	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to get usage buckets")
	}

	buckets := make([]usage.UsageBucket, 0, len(rows))
	for _, row := range rows {
		buckets = append(buckets, usage.UsageBucket{
			BucketStart: time.UnixMilli(row.BucketMs).UTC(),
			Tokens:      row.Tokens,
			Requests:    row.Requests,
		})
	}
	return buckets, nil
}

// GetSessionLogs loads a session's logs in start order with their steps
func (r *UsageRepository) GetSessionLogs(ctx context.Context, sessionID string) ([]*usage.Log, error) {
	var rows []logRow
	query := r.db.Rebind(`
		SELECT id, session_id, message_id, user_id, model, status, error_text,
		       prompt_tokens, completion_tokens, total_tokens,
		       execution_time_ms, request_size, response_size,
		       context_json, created_at_ms
		FROM chat_usage_logs
		WHERE session_id = ?
		ORDER BY created_at_ms ASC, id ASC`)

	if err := r.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, errors.Wrap(err, "failed to get session logs")
	}
	if len(rows) == 0 {
		return []*usage.Log{}, nil
	}

	logs := make([]*usage.Log, 0, len(rows))
	byID := make(map[string]*usage.Log, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		log, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
		byID[row.ID] = log
		ids = append(ids, row.ID)
	}

	stepsQuery, args, err := sqlx.In(`
		SELECT log_id, step_index, step_name, timestamp_ms,
		       prompt_tokens, completion_tokens, total_tokens, payload
		FROM chat_usage_steps
		WHERE log_id IN (?)
		ORDER BY log_id ASC, step_index ASC`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build steps query")
	}

	var steps []stepRow
	if err := r.db.SelectContext(ctx, &steps, r.db.Rebind(stepsQuery), args...); err != nil {
		return nil, errors.Wrap(err, "failed to get session steps")
	}

	for _, row := range steps {
		log, ok := byID[row.LogID]
		if !ok {
			continue
		}
		step, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		log.Steps = append(log.Steps, step)
	}

	return logs, nil
}

func (r *UsageRepository) where(filter usage.Filter) (string, []interface{}, error) {
	start, end, err := filter.Range(r.now())
	if err != nil {
		return "", nil, err
	}

	clauses := []string{"created_at_ms >= ?", "created_at_ms <= ?"}
	args := []interface{}{start.UnixMilli(), end.UnixMilli()}
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, filter.SessionID)
	}

	return "\n\t\tWHERE " + strings.Join(clauses, " AND "), args, nil
}

func (row logRow) toDomain() (*usage.Log, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid usage log id %q", row.ID)
	}

	log := &usage.Log{
		ID:               id,
		SessionID:        row.SessionID,
		MessageID:        row.MessageID,
		UserID:           row.UserID,
		Model:            row.Model,
		StartedAt:        time.UnixMilli(row.CreatedAtMs).UTC(),
		Status:           usage.Status(row.Status),
		ErrorText:        row.ErrorText,
		Steps:            []usage.Step{},
		PromptTokens:     int(row.PromptTokens),
		CompletionTokens: int(row.CompletionTokens),
		TotalTokens:      int(row.TotalTokens),
		ExecutionTimeMs:  row.ExecutionTimeMs,
		RequestSize:      int(row.RequestSize),
		ResponseSize:     int(row.ResponseSize),
	}

	if row.ContextJSON.Valid && row.ContextJSON.String != "" {
		var fc usage.FullConversationContext
		if err := json.Unmarshal([]byte(row.ContextJSON.String), &fc); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal conversation context")
		}
		log.Context = &fc
	}
	return log, nil
}

func (row stepRow) toDomain() (usage.Step, error) {
	var payload stepPayload
	if row.Payload != "" {
		if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
			return usage.Step{}, errors.Wrapf(err, "failed to unmarshal step %d payload", row.StepIndex)
		}
	}

	return usage.Step{
		StepName:         usage.StepName(row.StepName),
		Timestamp:        time.UnixMilli(row.TimestampMs).UTC(),
		PromptTokens:     intPtr(row.PromptTokens),
		CompletionTokens: intPtr(row.CompletionTokens),
		TotalTokens:      intPtr(row.TotalTokens),
		ToolCalls:        payload.ToolCalls,
		PromptBreakdown:  payload.PromptBreakdown,
		ActualContent:    payload.ActualContent,
		AdditionalData:   payload.AdditionalData,
	}, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	return usage.IntPtr(int(v.Int64))
}
