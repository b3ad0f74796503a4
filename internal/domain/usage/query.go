package usage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/emirks/tercihify-chat/pkg/errors"
)

// TimeWindow selects the analytics time range
type TimeWindow string

const (
	WindowLastMinute TimeWindow = "last_minute"
	WindowLastHour   TimeWindow = "last_hour"
	WindowLastDay    TimeWindow = "last_day"
	WindowLastWeek   TimeWindow = "last_week"
	WindowLastMonth  TimeWindow = "last_month"
	WindowCustom     TimeWindow = "custom"
)

// Filter narrows analytics queries
type Filter struct {
	Window    TimeWindow
	Start     time.Time // custom window only
	End       time.Time // custom window only
	UserID    string
	SessionID string
}

// TrailingHours is a custom window covering the last n hours
func TrailingHours(n int, now time.Time) Filter {
	return Filter{Window: WindowCustom, Start: now.Add(-time.Duration(n) * time.Hour), End: now}
}

// TrailingMinutes is a custom window covering the last n minutes
func TrailingMinutes(n int, now time.Time) Filter {
	return Filter{Window: WindowCustom, Start: now.Add(-time.Duration(n) * time.Minute), End: now}
}

// Range resolves the filter into [start, end]. An empty window means last_day.
func (f Filter) Range(now time.Time) (time.Time, time.Time, error) {
	switch f.Window {
	case WindowLastMinute:
		return now.Add(-time.Minute), now, nil
	case WindowLastHour:
		return now.Add(-time.Hour), now, nil
	case "", WindowLastDay:
		return now.Add(-24 * time.Hour), now, nil
	case WindowLastWeek:
		return now.AddDate(0, 0, -7), now, nil
	case WindowLastMonth:
		return now.AddDate(0, -1, 0), now, nil
	case WindowCustom:
		if f.Start.IsZero() || f.End.IsZero() || !f.Start.Before(f.End) {
			return time.Time{}, time.Time{}, errors.Wrapf(errors.ErrInvalidTimeWindow,
				"custom window needs start < end (start=%s end=%s)", f.Start, f.End)
		}
		return f.Start, f.End, nil
	default:
		return time.Time{}, time.Time{}, errors.Wrapf(errors.ErrInvalidTimeWindow, "unknown window %q", f.Window)
	}
}

// Validate checks the window without resolving it
func (f Filter) Validate() error {
	_, _, err := f.Range(time.Now())
	return err
}

// TokenUsageSummary aggregates usage over a filtered set of turns
type TokenUsageSummary struct {
	TotalTokens             int64   `json:"totalTokens"`
	PromptTokens            int64   `json:"promptTokens"`
	CompletionTokens        int64   `json:"completionTokens"`
	AverageTokensPerRequest float64 `json:"averageTokensPerRequest"`
	PeakTokenUsage          int64   `json:"peakTokenUsage"`
	TotalRequests           int64   `json:"totalRequests"`
	UniqueSessions          int64   `json:"uniqueSessions"`
}

// SessionUsage is one row of the high-usage session ranking
type SessionUsage struct {
	SessionID      string    `json:"sessionId"`
	UserID         string    `json:"userId"`
	TotalTokens    int64     `json:"totalTokens"`
	PeakTokenUsage int64     `json:"peakTokenUsage"`
	MessageCount   int64     `json:"messageCount"`
	LastActivity   time.Time `json:"lastActivity"`
}

// ModelUsage aggregates usage per model identifier
type ModelUsage struct {
	Model                   string          `json:"model"`
	TotalTokens             int64           `json:"totalTokens"`
	PromptTokens            int64           `json:"promptTokens"`
	CompletionTokens        int64           `json:"completionTokens"`
	TotalRequests           int64           `json:"totalRequests"`
	UniqueSessions          int64           `json:"uniqueSessions"`
	AverageTokensPerRequest float64         `json:"averageTokensPerRequest"`
	PeakTokenUsage          int64           `json:"peakTokenUsage"`
	LastUsed                time.Time       `json:"lastUsed"`
	EstimatedCostUSD        decimal.Decimal `json:"estimatedCostUsd"`
}

// UsageBucket is one non-empty minute or hour bucket
type UsageBucket struct {
	BucketStart time.Time `json:"bucketStart"`
	Tokens      int64     `json:"tokens"`
	Requests    int64     `json:"requests"`
}

// DailyModelRollup is the persisted per-day, per-model aggregate
type DailyModelRollup struct {
	Day              time.Time `json:"day"`
	Model            string    `json:"model"`
	TotalTokens      int64     `json:"totalTokens"`
	PromptTokens     int64     `json:"promptTokens"`
	CompletionTokens int64     `json:"completionTokens"`
	Requests         int64     `json:"requests"`
	UniqueSessions   int64     `json:"uniqueSessions"`
}

// Average divides with a zero guard
func Average(total, count int64) float64 {
	if count == 0 {
		return 0
	}
	return float64(total) / float64(count)
}
