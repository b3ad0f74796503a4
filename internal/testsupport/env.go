package testsupport

import (
	"os"
	"sync"
	"testing"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/emirks/tercihify-chat/internal/adapters/config"
)

var envOnce sync.Once

// Variables that must be set before an integration test touches a backend.
// Everything else falls back to the config defaults.
var (
	postgresEnv   = []string{"POSTGRES_HOST", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB"}
	clickhouseEnv = []string{"CLICKHOUSE_HOST", "CLICKHOUSE_DB"}
	redisEnv      = []string{"REDIS_HOST"}
)

// PostgresConfigFromEnv returns the Postgres section for integration tests,
// skipping the test when the server is not configured.
func PostgresConfigFromEnv(t *testing.T) config.PostgresConfig {
	t.Helper()
	requireEnv(t, "postgres", postgresEnv)

	var cfg config.PostgresConfig
	processEnv(t, &cfg)
	cfg.Driver = "postgres"
	cfg.MaxConns = 10
	return cfg
}

// ClickHouseConfigFromEnv returns the warehouse section for integration tests
func ClickHouseConfigFromEnv(t *testing.T) config.ClickHouseConfig {
	t.Helper()
	requireEnv(t, "clickhouse", clickhouseEnv)

	var cfg config.ClickHouseConfig
	processEnv(t, &cfg)
	cfg.Enabled = true
	return cfg
}

// RedisConfigFromEnv returns the analytics cache section for integration tests
func RedisConfigFromEnv(t *testing.T) config.RedisConfig {
	t.Helper()
	requireEnv(t, "redis", redisEnv)

	var cfg config.RedisConfig
	processEnv(t, &cfg)
	cfg.Enabled = true
	return cfg
}

// requireEnv loads .env.test once (already-set variables win) and skips the test
// when any of keys is still empty
func requireEnv(t *testing.T, backend string, keys []string) {
	t.Helper()

	envOnce.Do(func() {
		_ = godotenv.Load(".env.test")
	})

	var missing []string
	for _, key := range keys {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		t.Skipf("%s integration environment missing, set %v to run", backend, missing)
	}
}

func processEnv(t *testing.T, spec interface{}) {
	t.Helper()
	if err := envconfig.Process("", spec); err != nil {
		t.Fatalf("failed to read integration config: %v", err)
	}
}
