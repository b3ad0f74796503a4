package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/emirks/tercihify-chat/pkg/errors"
)

const (
	analyticsKeyPrefix  = "chat_usage:analytics"
	analyticsVersionKey = analyticsKeyPrefix + ":version"
)

// JSONClient is the slice of the redis adapter the cache needs
type JSONClient interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetInt64(ctx context.Context, key string) (int64, error)
	Increment(ctx context.Context, key string) (int64, error)
}

// AnalyticsCache caches analytics results as JSON with a TTL.
// Keys embed a version counter, so Invalidate orphans every cached entry with one INCR
// and the old entries expire on their own.
type AnalyticsCache struct {
	client JSONClient
	ttl    time.Duration
}

// NewAnalyticsCache creates a new analytics cache
func NewAnalyticsCache(client JSONClient, ttl time.Duration) *AnalyticsCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &AnalyticsCache{
		client: client,
		ttl:    ttl,
	}
}

// Version returns the current cache generation. Callers read it once per lookup and pass it
// to both Get and Set, so a result loaded before an Invalidate lands under the old generation.
func (c *AnalyticsCache) Version(ctx context.Context) (int64, error) {
	version, err := c.client.GetInt64(ctx, analyticsVersionKey)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read analytics cache version")
	}
	return version, nil
}

// Get decodes a cached value into dest and reports whether it was present
func (c *AnalyticsCache) Get(ctx context.Context, version int64, key string, dest interface{}) (bool, error) {
	err := c.client.Get(ctx, versionedKey(version, key), dest)
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to get analytics cache entry: %s", key)
	}
	return true, nil
}

// Set stores a value under the given version
func (c *AnalyticsCache) Set(ctx context.Context, version int64, key string, value interface{}) error {
	if err := c.client.Set(ctx, versionedKey(version, key), value, c.ttl); err != nil {
		return errors.Wrapf(err, "failed to save analytics cache entry: %s", key)
	}
	return nil
}

// Invalidate bumps the version counter
func (c *AnalyticsCache) Invalidate(ctx context.Context) error {
	if _, err := c.client.Increment(ctx, analyticsVersionKey); err != nil {
		return errors.Wrap(err, "failed to invalidate analytics cache")
	}
	return nil
}

func versionedKey(version int64, key string) string {
	return fmt.Sprintf("%s:v%d:%s", analyticsKeyPrefix, version, key)
}
