package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emirks/tercihify-chat/internal/domain/usage"
	"github.com/emirks/tercihify-chat/internal/testsupport"
)

// memoryClient mimics the adapter: JSON values, redis.Nil on a miss
type memoryClient struct {
	mu       sync.Mutex
	values   map[string][]byte
	counters map[string]int64
	ttls     map[string]time.Duration
	fail     error
}

func newMemoryClient() *memoryClient {
	return &memoryClient{
		values:   map[string][]byte{},
		counters: map[string]int64{},
		ttls:     map[string]time.Duration{},
	}
}

func (m *memoryClient) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	data, ok := m.values[key]
	if !ok {
		return redis.Nil
	}
	return json.Unmarshal(data, dest)
}

func (m *memoryClient) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = data
	m.ttls[key] = ttl
	return nil
}

func (m *memoryClient) GetInt64(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, m.fail
	}
	return m.counters[key], nil
}

func (m *memoryClient) Increment(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

func TestVersionedKey(t *testing.T) {
	assert.Equal(t, "chat_usage:analytics:v0:summary:last_day", versionedKey(0, "summary:last_day"))
	assert.Equal(t, "chat_usage:analytics:v7:models", versionedKey(7, "models"))
}

func TestAnalyticsCache_MissThenHit(t *testing.T) {
	client := newMemoryClient()
	cache := NewAnalyticsCache(client, time.Minute)
	ctx := context.Background()

	version, err := cache.Version(ctx)
	require.NoError(t, err)

	var miss usage.TokenUsageSummary
	found, err := cache.Get(ctx, version, "summary", &miss)
	require.NoError(t, err)
	assert.False(t, found)

	summary := usage.TokenUsageSummary{TotalTokens: 1650, TotalRequests: 3, UniqueSessions: 2}
	require.NoError(t, cache.Set(ctx, version, "summary", summary))
	assert.Equal(t, time.Minute, client.ttls[versionedKey(0, "summary")])

	var hit usage.TokenUsageSummary
	found, err = cache.Get(ctx, version, "summary", &hit)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, summary, hit)
}

func TestAnalyticsCache_InvalidateOrphansEntries(t *testing.T) {
	client := newMemoryClient()
	cache := NewAnalyticsCache(client, 0)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, 0, "models", []usage.ModelUsage{{Model: "gpt-4o"}}))
	require.NoError(t, cache.Invalidate(ctx))

	version, err := cache.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	var models []usage.ModelUsage
	found, err := cache.Get(ctx, version, "models", &models)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 30*time.Second, cache.ttl)

	require.NoError(t, cache.Set(ctx, version, "models", []usage.ModelUsage{{Model: "gemini-2.0-flash"}}))
	found, err = cache.Get(ctx, version, "models", &models)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "gemini-2.0-flash", models[0].Model)
}

func TestAnalyticsCache_StaleWriteStaysUnderOldVersion(t *testing.T) {
	client := newMemoryClient()
	cache := NewAnalyticsCache(client, time.Minute)
	ctx := context.Background()

	before, err := cache.Version(ctx)
	require.NoError(t, err)

	// a persist lands while the query is still loading
	require.NoError(t, cache.Invalidate(ctx))
	require.NoError(t, cache.Set(ctx, before, "summary", usage.TokenUsageSummary{TotalTokens: 1}))

	after, err := cache.Version(ctx)
	require.NoError(t, err)

	var hit usage.TokenUsageSummary
	found, err := cache.Get(ctx, after, "summary", &hit)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAnalyticsCache_ClientError(t *testing.T) {
	client := newMemoryClient()
	client.fail = errors.New("connection refused")
	cache := NewAnalyticsCache(client, time.Minute)

	_, err := cache.Version(context.Background())
	assert.Error(t, err)

	var dest usage.TokenUsageSummary
	found, err := cache.Get(context.Background(), 0, "summary", &dest)
	assert.Error(t, err)
	assert.False(t, found)
}

func TestAnalyticsCache_Redis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := testsupport.NewRedisTestClient(t, testsupport.RedisConfigFromEnv(t))
	cache := NewAnalyticsCache(client, time.Minute)
	ctx := context.Background()

	version, err := cache.Version(ctx)
	require.NoError(t, err)
	require.NoError(t, cache.Set(ctx, version, "summary", usage.TokenUsageSummary{TotalTokens: 42}))

	var hit usage.TokenUsageSummary
	found, err := cache.Get(ctx, version, "summary", &hit)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(42), hit.TotalTokens)

	require.NoError(t, cache.Invalidate(ctx))
	version, err = cache.Version(ctx)
	require.NoError(t, err)
	found, err = cache.Get(ctx, version, "summary", &hit)
	require.NoError(t, err)
	assert.False(t, found)
}
