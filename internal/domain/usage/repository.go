package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the durable usage store
type Repository interface {
	// Persist writes a log and all of its steps atomically
	Persist(ctx context.Context, log *Log) error

	// DeleteLog removes a log; its steps go with it
	DeleteLog(ctx context.Context, id uuid.UUID) error

	GetTokenUsageSummary(ctx context.Context, filter Filter) (*TokenUsageSummary, error)

	// GetHighUsageSessions ranks sessions with summed tokens >= minTokens, descending
	GetHighUsageSessions(ctx context.Context, filter Filter, limit int, minTokens int64) ([]SessionUsage, error)

	GetModelUsageSummary(ctx context.Context, filter Filter) ([]ModelUsage, error)

	// GetHourlyUsage and GetMinuteUsage return non-empty buckets in ascending order
	GetHourlyUsage(ctx context.Context, filter Filter) ([]UsageBucket, error)
	GetMinuteUsage(ctx context.Context, filter Filter) ([]UsageBucket, error)

	// GetSessionLogs returns a session's logs ordered by start time, steps in order
	GetSessionLogs(ctx context.Context, sessionID string) ([]*Log, error)
}

// RollupRepository maintains the idempotent daily per-model rollups
type RollupRepository interface {
	UpsertDailyModelRollups(ctx context.Context, day time.Time) (int, error)
	GetDailyModelRollups(ctx context.Context, from, to time.Time) ([]DailyModelRollup, error)
}

// SessionStore is the file-backed legacy variant
type SessionStore interface {
	Persist(ctx context.Context, log *Log) error
	GetSessionAnalytics(ctx context.Context, sessionID string) (*SessionAnalytics, error)
}

// WarehouseRepository reads the event-sourced usage copy kept in the warehouse
type WarehouseRepository interface {
	GetModelTokenTotals(ctx context.Context, from, to time.Time) ([]ModelUsage, error)
	GetDailyTokenTotals(ctx context.Context, userID string, days int) ([]UsageBucket, error)
}
