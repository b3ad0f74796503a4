package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/emirks/tercihify-chat/internal/domain/usage"
	"github.com/emirks/tercihify-chat/internal/metrics"
	"github.com/emirks/tercihify-chat/pkg/errors"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

const (
	DefaultHighUsageLimit = 10
	MaxHighUsageLimit     = 100
)

// QueryCache caches analytics results under a generation number. Invalidate starts a new
// generation, orphaning everything cached so far.
type QueryCache interface {
	Version(ctx context.Context) (int64, error)
	Get(ctx context.Context, version int64, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, version int64, key string, value interface{}) error
	Invalidate(ctx context.Context) error
}

// Analytics serves the read side of the usage store. Store failures degrade to empty results;
// only invalid filters surface as errors.
type Analytics struct {
	repo      usage.Repository
	rollups   usage.RollupRepository
	sessions  usage.SessionStore
	warehouse usage.WarehouseRepository
	cache     QueryCache
	pricing   usage.PricingTable
	log       *logger.Logger
	now       func() time.Time
}

// AnalyticsOption configures optional sources
type AnalyticsOption func(*Analytics)

func WithRollups(r usage.RollupRepository) AnalyticsOption {
	return func(a *Analytics) { a.rollups = r }
}

func WithSessionStore(s usage.SessionStore) AnalyticsOption {
	return func(a *Analytics) { a.sessions = s }
}

func WithWarehouse(w usage.WarehouseRepository) AnalyticsOption {
	return func(a *Analytics) { a.warehouse = w }
}

func WithQueryCache(c QueryCache) AnalyticsOption {
	return func(a *Analytics) { a.cache = c }
}

func WithPricing(p usage.PricingTable) AnalyticsOption {
	return func(a *Analytics) { a.pricing = p }
}

func WithAnalyticsClock(now func() time.Time) AnalyticsOption {
	return func(a *Analytics) { a.now = now }
}

// NewAnalytics creates the analytics service
func NewAnalytics(repo usage.Repository, log *logger.Logger, opts ...AnalyticsOption) *Analytics {
	a := &Analytics{
		repo:    repo,
		pricing: usage.DefaultPricing(),
		log:     log.With("component", "usage_analytics"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// TokenUsageSummary aggregates tokens over the filter
func (a *Analytics) TokenUsageSummary(ctx context.Context, filter usage.Filter) (*usage.TokenUsageSummary, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return cached(ctx, a, "summary", filterKey(filter), &usage.TokenUsageSummary{},
		func(ctx context.Context) (*usage.TokenUsageSummary, error) {
			return a.repo.GetTokenUsageSummary(ctx, filter)
		}), nil
}

// HighUsageSessions ranks sessions by summed tokens
func (a *Analytics) HighUsageSessions(ctx context.Context, filter usage.Filter, limit int, minTokens int64) ([]usage.SessionUsage, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHighUsageLimit
	}
	if limit > MaxHighUsageLimit {
		limit = MaxHighUsageLimit
	}
	if minTokens < 0 {
		minTokens = 0
	}

	key := fmt.Sprintf("%s|%d|%d", filterKey(filter), limit, minTokens)
	return cached(ctx, a, "high_usage_sessions", key, []usage.SessionUsage{},
		func(ctx context.Context) ([]usage.SessionUsage, error) {
			return a.repo.GetHighUsageSessions(ctx, filter, limit, minTokens)
		}), nil
}

// ModelUsageSummary aggregates per model and estimates cost
func (a *Analytics) ModelUsageSummary(ctx context.Context, filter usage.Filter) ([]usage.ModelUsage, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return cached(ctx, a, "model_usage", filterKey(filter), []usage.ModelUsage{},
		func(ctx context.Context) ([]usage.ModelUsage, error) {
			models, err := a.repo.GetModelUsageSummary(ctx, filter)
			if err != nil {
				return nil, err
			}
			a.priceModels(models)
			return models, nil
		}), nil
}

// HourlyUsage returns non-empty hour buckets, ascending
func (a *Analytics) HourlyUsage(ctx context.Context, filter usage.Filter) ([]usage.UsageBucket, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return cached(ctx, a, "hourly_usage", filterKey(filter), []usage.UsageBucket{},
		func(ctx context.Context) ([]usage.UsageBucket, error) {
			return a.repo.GetHourlyUsage(ctx, filter)
		}), nil
}

// MinuteUsage returns non-empty minute buckets, ascending
func (a *Analytics) MinuteUsage(ctx context.Context, filter usage.Filter) ([]usage.UsageBucket, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return cached(ctx, a, "minute_usage", filterKey(filter), []usage.UsageBucket{},
		func(ctx context.Context) ([]usage.UsageBucket, error) {
			return a.repo.GetMinuteUsage(ctx, filter)
		}), nil
}

// SessionAnalytics returns a session's turns and cumulative summary. Sessions the primary store
// has never seen are looked up in the file store.
func (a *Analytics) SessionAnalytics(ctx context.Context, sessionID string) (*usage.SessionAnalytics, error) {
	if sessionID == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "session id is required")
	}

	empty := &usage.SessionAnalytics{
		SessionID: sessionID,
		Logs:      []*usage.Log{},
		Summary:   usage.NewSessionSummary(sessionID),
	}

	logs, err := a.repo.GetSessionLogs(ctx, sessionID)
	metrics.RecordAnalyticsQuery("session_analytics", err)
	if err != nil {
		a.log.Errorw("Failed to load session logs", "session_id", sessionID, "error", err)
		logs = nil
	}
	if len(logs) > 0 {
		usage.SortLogsByStart(logs)
		return &usage.SessionAnalytics{
			SessionID: sessionID,
			Logs:      logs,
			Summary:   usage.SummarizeSession(sessionID, logs),
		}, nil
	}

	if a.sessions == nil {
		return empty, nil
	}
	analytics, err := a.sessions.GetSessionAnalytics(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			a.log.Errorw("Failed to load session from file store", "session_id", sessionID, "error", err)
		}
		return empty, nil
	}
	return analytics, nil
}

// DailyRollups returns per-model daily rollups for the last n days, today included
func (a *Analytics) DailyRollups(ctx context.Context, days int) ([]usage.DailyModelRollup, error) {
	if days <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "days must be positive")
	}
	if a.rollups == nil {
		return []usage.DailyModelRollup{}, nil
	}

	to := a.now().UTC().Truncate(24 * time.Hour)
	from := to.AddDate(0, 0, -(days - 1))
	rollups, err := a.rollups.GetDailyModelRollups(ctx, from, to)
	metrics.RecordAnalyticsQuery("daily_rollups", err)
	if err != nil {
		a.log.Errorw("Failed to load daily rollups", "error", err)
		return []usage.DailyModelRollup{}, nil
	}
	return rollups, nil
}

// WarehouseModelTotals reads per-model totals from the warehouse for the last n days
func (a *Analytics) WarehouseModelTotals(ctx context.Context, days int) ([]usage.ModelUsage, error) {
	if days <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "days must be positive")
	}
	if a.warehouse == nil {
		return []usage.ModelUsage{}, nil
	}

	to := a.now()
	models, err := a.warehouse.GetModelTokenTotals(ctx, to.AddDate(0, 0, -days), to)
	metrics.RecordAnalyticsQuery("warehouse_models", err)
	if err != nil {
		a.log.Errorw("Failed to read warehouse model totals", "error", err)
		return []usage.ModelUsage{}, nil
	}
	a.priceModels(models)
	return models, nil
}

// WarehouseDailyTotals reads per-day token totals from the warehouse, optionally for one user
func (a *Analytics) WarehouseDailyTotals(ctx context.Context, userID string, days int) ([]usage.UsageBucket, error) {
	if days <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "days must be positive")
	}
	if a.warehouse == nil {
		return []usage.UsageBucket{}, nil
	}

	buckets, err := a.warehouse.GetDailyTokenTotals(ctx, userID, days)
	metrics.RecordAnalyticsQuery("warehouse_daily", err)
	if err != nil {
		a.log.Errorw("Failed to read warehouse daily totals", "user_id", userID, "error", err)
		return []usage.UsageBucket{}, nil
	}
	return buckets, nil
}

func (a *Analytics) priceModels(models []usage.ModelUsage) {
	for i := range models {
		models[i].EstimatedCostUSD = a.pricing.Cost(models[i].Model, models[i].PromptTokens, models[i].CompletionTokens)
	}
}

// cached serves from the query cache when possible and degrades to zero on store errors
func cached[T any](ctx context.Context, a *Analytics, query, key string, zero T, load func(context.Context) (T, error)) T {
	cacheKey := query + ":" + key

	// Read the generation once: a load that races an Invalidate is stored under the old one
	cache := a.cache
	var version int64
	if cache != nil {
		v, err := cache.Version(ctx)
		if err != nil {
			a.log.Warnw("Analytics cache version read failed", "query", query, "error", err)
			cache = nil
		}
		version = v
	}

	if cache != nil {
		var hit T
		ok, err := cache.Get(ctx, version, cacheKey, &hit)
		if err != nil {
			a.log.Warnw("Analytics cache read failed", "query", query, "error", err)
		}
		if ok {
			metrics.AnalyticsQueries.WithLabelValues(query, "cache_hit").Inc()
			return hit
		}
	}

	result, err := load(ctx)
	metrics.RecordAnalyticsQuery(query, err)
	if err != nil {
		a.log.Errorw("Analytics query failed", "query", query, "error", err)
		return zero
	}

	if cache != nil {
		if err := cache.Set(ctx, version, cacheKey, result); err != nil {
			a.log.Warnw("Analytics cache write failed", "query", query, "error", err)
		}
	}
	return result
}

// filterKey identifies a filter for caching. Relative windows are keyed by name and rely on the
// cache TTL for freshness.
func filterKey(f usage.Filter) string {
	window := f.Window
	if window == "" {
		window = usage.WindowLastDay
	}
	key := fmt.Sprintf("%s|u=%s|s=%s", window, f.UserID, f.SessionID)
	if window == usage.WindowCustom {
		key += fmt.Sprintf("|%d|%d", f.Start.Unix(), f.End.Unix())
	}
	return key
}
