package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/emirks/tercihify-chat/internal/domain/usage"
	"github.com/emirks/tercihify-chat/internal/events"
)

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Save(ctx context.Context, log *usage.Log) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

type MockPersister struct {
	mock.Mock
}

func (m *MockPersister) Persist(ctx context.Context, log *usage.Log) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishTurnCompleted(ctx context.Context, event events.TurnCompletedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Persist(ctx context.Context, log *usage.Log) error {
	return m.Called(ctx, log).Error(0)
}

func (m *MockRepository) DeleteLog(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepository) GetTokenUsageSummary(ctx context.Context, filter usage.Filter) (*usage.TokenUsageSummary, error) {
	args := m.Called(ctx, filter)
	summary, _ := args.Get(0).(*usage.TokenUsageSummary)
	return summary, args.Error(1)
}

func (m *MockRepository) GetHighUsageSessions(ctx context.Context, filter usage.Filter, limit int, minTokens int64) ([]usage.SessionUsage, error) {
	args := m.Called(ctx, filter, limit, minTokens)
	sessions, _ := args.Get(0).([]usage.SessionUsage)
	return sessions, args.Error(1)
}

func (m *MockRepository) GetModelUsageSummary(ctx context.Context, filter usage.Filter) ([]usage.ModelUsage, error) {
	args := m.Called(ctx, filter)
	models, _ := args.Get(0).([]usage.ModelUsage)
	return models, args.Error(1)
}

func (m *MockRepository) GetHourlyUsage(ctx context.Context, filter usage.Filter) ([]usage.UsageBucket, error) {
	args := m.Called(ctx, filter)
	buckets, _ := args.Get(0).([]usage.UsageBucket)
	return buckets, args.Error(1)
}

func (m *MockRepository) GetMinuteUsage(ctx context.Context, filter usage.Filter) ([]usage.UsageBucket, error) {
	args := m.Called(ctx, filter)
	buckets, _ := args.Get(0).([]usage.UsageBucket)
	return buckets, args.Error(1)
}

func (m *MockRepository) GetSessionLogs(ctx context.Context, sessionID string) ([]*usage.Log, error) {
	args := m.Called(ctx, sessionID)
	logs, _ := args.Get(0).([]*usage.Log)
	return logs, args.Error(1)
}

type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) Persist(ctx context.Context, log *usage.Log) error {
	return m.Called(ctx, log).Error(0)
}

func (m *MockSessionStore) GetSessionAnalytics(ctx context.Context, sessionID string) (*usage.SessionAnalytics, error) {
	args := m.Called(ctx, sessionID)
	analytics, _ := args.Get(0).(*usage.SessionAnalytics)
	return analytics, args.Error(1)
}

type MockWarehouse struct {
	mock.Mock
}

func (m *MockWarehouse) GetModelTokenTotals(ctx context.Context, from, to time.Time) ([]usage.ModelUsage, error) {
	args := m.Called(ctx, from, to)
	models, _ := args.Get(0).([]usage.ModelUsage)
	return models, args.Error(1)
}

func (m *MockWarehouse) GetDailyTokenTotals(ctx context.Context, userID string, days int) ([]usage.UsageBucket, error) {
	args := m.Called(ctx, userID, days)
	buckets, _ := args.Get(0).([]usage.UsageBucket)
	return buckets, args.Error(1)
}

// memoryCache is a QueryCache backed by a map
type memoryCache struct {
	entries     map[string]interface{}
	version     int64
	invalidated int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]interface{}{}}
}

func (c *memoryCache) Version(context.Context) (int64, error) {
	return c.version, nil
}

func (c *memoryCache) Get(_ context.Context, version int64, key string, dest interface{}) (bool, error) {
	v, ok := c.entries[fmt.Sprintf("v%d:%s", version, key)]
	if !ok {
		return false, nil
	}
	switch d := dest.(type) {
	case **usage.TokenUsageSummary:
		*d = v.(*usage.TokenUsageSummary)
	case *[]usage.SessionUsage:
		*d = v.([]usage.SessionUsage)
	case *[]usage.ModelUsage:
		*d = v.([]usage.ModelUsage)
	case *[]usage.UsageBucket:
		*d = v.([]usage.UsageBucket)
	default:
		return false, nil
	}
	return true, nil
}

func (c *memoryCache) Set(_ context.Context, version int64, key string, value interface{}) error {
	c.entries[fmt.Sprintf("v%d:%s", version, key)] = value
	return nil
}

func (c *memoryCache) Invalidate(context.Context) error {
	c.invalidated++
	c.version++
	return nil
}

// fixedClock returns a clock that advances by step on every call
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	current := start
	return func() time.Time {
		now := current
		current = current.Add(step)
		return now
	}
}
