package testsupport

import (
	"context"
	"testing"

	"github.com/emirks/tercihify-chat/internal/adapters/config"
	redisadapter "github.com/emirks/tercihify-chat/internal/adapters/redis"
)

// NewRedisTestClient connects the JSON redis adapter used by the analytics cache.
// The selected database is flushed before the test and again on cleanup.
func NewRedisTestClient(t *testing.T, cfg config.RedisConfig) *redisadapter.Client {
	t.Helper()

	client, err := redisadapter.NewClient(cfg)
	if err != nil {
		t.Fatalf("failed to connect to redis at %s: %v", cfg.Addr(), err)
	}

	flush := func() error {
		return client.Client().FlushDB(context.Background()).Err()
	}
	if err := flush(); err != nil {
		_ = client.Close()
		t.Fatalf("failed to flush redis db %d before test: %v", cfg.DB, err)
	}

	t.Cleanup(func() {
		_ = flush()
		_ = client.Close()
	})

	return client
}
