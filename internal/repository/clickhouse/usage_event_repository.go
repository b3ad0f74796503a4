package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/emirks/tercihify-chat/internal/domain/usage"
	"github.com/emirks/tercihify-chat/internal/events"
	"github.com/emirks/tercihify-chat/pkg/clickhouse"
	"github.com/emirks/tercihify-chat/pkg/errors"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

const usageEventsTable = "chat_usage_events"

const usageEventsSchema = `
	CREATE TABLE IF NOT EXISTS chat_usage_events (
		event_id                String,
		log_id                  String,
		session_id              String,
		message_id              String,
		user_id                 String,
		model                   LowCardinality(String),
		status                  LowCardinality(String),
		error                   String,
		prompt_tokens           Int64,
		completion_tokens       Int64,
		total_tokens            Int64,
		request_size            Int64,
		response_size           Int64,
		execution_time_ms       Int64,
		step_count              Int32,
		tool_call_count         Int32,
		cleaning_tokens_saved   Int64,
		limitation_tokens_saved Int64,
		summarized              Bool,
		started_at              DateTime64(3, 'UTC'),
		published_at            DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree()
	PARTITION BY toYYYYMM(started_at)
	ORDER BY (started_at, session_id, log_id)
	TTL toDateTime(started_at) + INTERVAL 400 DAY
`

// Aggregate aliases must not reuse column names: ClickHouse resolves an alias
// before the column, so max(total_tokens) would read sum(total_tokens).
const modelTokenTotalsQuery = `
	SELECT
		model,
		toInt64(sum(total_tokens))      AS sum_total_tokens,
		toInt64(sum(prompt_tokens))     AS sum_prompt_tokens,
		toInt64(sum(completion_tokens)) AS sum_completion_tokens,
		toInt64(count())                AS request_count,
		toInt64(uniqExact(session_id))  AS unique_sessions,
		toInt64(max(total_tokens))      AS peak_total_tokens,
		max(started_at)                 AS last_used
	FROM chat_usage_events FINAL
	WHERE started_at >= ? AND started_at < ?
	GROUP BY model
	ORDER BY sum_total_tokens DESC
`

const dailyTokenTotalsQuery = `
	SELECT
		toDateTime(toStartOfDay(started_at), 'UTC') AS day,
		toInt64(sum(total_tokens))                  AS day_tokens,
		toInt64(count())                            AS day_requests
	FROM chat_usage_events FINAL
	WHERE started_at >= today() - ? AND (? = '' OR user_id = ?)
	GROUP BY day
	ORDER BY day ASC
`

// Compile-time check
var _ usage.WarehouseRepository = (*UsageEventRepository)(nil)

// UsageEventRepository keeps the event-sourced usage copy in ClickHouse.
// Writes are buffered through the batch writer, reads aggregate directly.
type UsageEventRepository struct {
	conn        driver.Conn
	batchWriter *clickhouse.BatchWriter[events.TurnCompletedEvent]
	log         *logger.Logger
}

// UsageEventRepositoryConfig tunes the batch writer
type UsageEventRepositoryConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

// NewUsageEventRepository creates the repository with its batch writer
func NewUsageEventRepository(conn driver.Conn, cfg UsageEventRepositoryConfig, log *logger.Logger) *UsageEventRepository {
	repo := &UsageEventRepository{
		conn: conn,
		log:  log.With("component", "usage_event_repository"),
	}

	repo.batchWriter = clickhouse.NewBatchWriter(clickhouse.BatchWriterConfig[events.TurnCompletedEvent]{
		FlushFunc:    repo.flushBatch,
		TableName:    usageEventsTable,
		MaxBatchSize: cfg.BatchSize,
		MaxAge:       cfg.FlushInterval,
		// Keep one extra batch around while ClickHouse is briefly unavailable
		MaxRetained: cfg.BatchSize,
		Logger:      log,
	})

	return repo
}

// Migrate creates the events table
func Migrate(ctx context.Context, conn driver.Conn) error {
	if err := conn.Exec(ctx, usageEventsSchema); err != nil {
		return errors.Wrap(err, "failed to create chat_usage_events")
	}
	return nil
}

// Start begins the background flush loop
func (r *UsageEventRepository) Start(ctx context.Context) {
	r.batchWriter.Start(ctx)
}

// Stop flushes what is buffered and stops the writer
func (r *UsageEventRepository) Stop(ctx context.Context) error {
	return r.batchWriter.Stop(ctx)
}

// Store buffers an event; it is written on the next flush
func (r *UsageEventRepository) Store(ctx context.Context, event events.TurnCompletedEvent) error {
	return r.batchWriter.Add(ctx, event)
}

// Stats exposes the batch writer state for health output
func (r *UsageEventRepository) Stats() clickhouse.BatchWriterStats {
	return r.batchWriter.GetStats()
}

// flushBatch sends one batch INSERT. Append only buffers rows, the network call happens in Send.
func (r *UsageEventRepository) flushBatch(ctx context.Context, batch []events.TurnCompletedEvent) error {
	if len(batch) == 0 {
		return nil
	}

	query := `
		INSERT INTO chat_usage_events (
			event_id, log_id, session_id, message_id, user_id,
			model, status, error,
			prompt_tokens, completion_tokens, total_tokens,
			request_size, response_size, execution_time_ms,
			step_count, tool_call_count,
			cleaning_tokens_saved, limitation_tokens_saved, summarized,
			started_at, published_at
		)
	`

	stmt, err := r.conn.PrepareBatch(ctx, query)
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}
	defer stmt.Close()

	for _, event := range batch {
		if err := stmt.Append(eventRow(event)...); err != nil {
			return errors.Wrapf(err, "failed to append event %s", event.ID)
		}
	}

	if err := stmt.Send(); err != nil {
		return errors.Wrap(err, "failed to send batch")
	}
	return nil
}

// eventRow orders the event fields like the INSERT column list
func eventRow(event events.TurnCompletedEvent) []interface{} {
	startedAt := event.StartedAt
	if startedAt.IsZero() {
		startedAt = event.Timestamp
	}
	return []interface{}{
		event.ID, event.LogID, event.SessionID, event.MessageID, event.UserID,
		event.Model, event.Status, event.Error,
		int64(event.PromptTokens), int64(event.CompletionTokens), int64(event.TotalTokens),
		int64(event.RequestSize), int64(event.ResponseSize), event.ExecutionTimeMs,
		int32(event.StepCount), int32(event.ToolCallCount),
		int64(event.CleaningTokensSaved), int64(event.LimitationTokensSaved), event.Summarized,
		startedAt.UTC(), event.Timestamp.UTC(),
	}
}

// GetModelTokenTotals aggregates per model over [from, to)
func (r *UsageEventRepository) GetModelTokenTotals(ctx context.Context, from, to time.Time) ([]usage.ModelUsage, error) {
	if !to.After(from) {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "warehouse window %s..%s is empty", from, to)
	}

	rows, err := r.conn.Query(ctx, modelTokenTotalsQuery, from.UTC(), to.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to query model token totals")
	}
	defer rows.Close()

	var result []usage.ModelUsage
	for rows.Next() {
		var m usage.ModelUsage
		if err := rows.Scan(
			&m.Model, &m.TotalTokens, &m.PromptTokens, &m.CompletionTokens,
			&m.TotalRequests, &m.UniqueSessions, &m.PeakTokenUsage, &m.LastUsed,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan model token totals")
		}
		m.AverageTokensPerRequest = usage.Average(m.TotalTokens, m.TotalRequests)
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate model token totals")
	}

	return result, nil
}

// GetDailyTokenTotals returns one bucket per UTC day for the last days, optionally for one user
func (r *UsageEventRepository) GetDailyTokenTotals(ctx context.Context, userID string, days int) ([]usage.UsageBucket, error) {
	if days <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "days must be positive, got %d", days)
	}

	rows, err := r.conn.Query(ctx, dailyTokenTotalsQuery, days-1, userID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query daily token totals")
	}
	defer rows.Close()

	var buckets []usage.UsageBucket
	for rows.Next() {
		var b usage.UsageBucket
		if err := rows.Scan(&b.BucketStart, &b.Tokens, &b.Requests); err != nil {
			return nil, errors.Wrap(err, "failed to scan daily token totals")
		}
		b.BucketStart = b.BucketStart.UTC()
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate daily token totals")
	}

	return buckets, nil
}
