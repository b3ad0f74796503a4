package testsupport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostgresConfigFromEnv(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "chat")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "usage_test")
	t.Setenv("POSTGRES_PORT", "5543")
	t.Setenv("POSTGRES_DRIVER", "sqlite")

	cfg := PostgresConfigFromEnv(t)

	assert.Equal(t, "db", cfg.Host)
	assert.Equal(t, 5543, cfg.Port)
	assert.Equal(t, "usage_test", cfg.Database)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, "postgres", cfg.Driver, "integration tests always target a real server")
	assert.Equal(t, 10, cfg.MaxConns)
}

func TestClickHouseConfigFromEnv(t *testing.T) {
	t.Setenv("CLICKHOUSE_HOST", "click")
	t.Setenv("CLICKHOUSE_DB", "chat_usage_test")

	cfg := ClickHouseConfigFromEnv(t)

	assert.Equal(t, "click", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "default", cfg.User)
	assert.True(t, cfg.Enabled)
}

func TestRedisConfigFromEnv(t *testing.T) {
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "2")

	cfg := RedisConfigFromEnv(t)

	assert.Equal(t, "cache:6380", cfg.Addr())
	assert.Equal(t, 2, cfg.DB)
	assert.True(t, cfg.Enabled)
}

func TestRedisConfigFromEnv_SkipsWithoutHost(t *testing.T) {
	t.Setenv("REDIS_HOST", "")

	skipped := true
	t.Run("redis", func(t *testing.T) {
		RedisConfigFromEnv(t)
		skipped = false
	})
	assert.True(t, skipped)
}
