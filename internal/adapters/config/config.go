package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/emirks/tercihify-chat/pkg/errors"
)

type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	AI            AIConfig
	Usage         UsageConfig
	ErrorTracking ErrorTrackingConfig
	Workers       WorkerConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"tercihify-chat-usage"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type HTTPConfig struct {
	Port            int           `envconfig:"HTTP_PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

// PostgresConfig also covers the embedded sqlite mode (Driver=sqlite), used for
// single-node deployments and tests.
type PostgresConfig struct {
	Driver     string `envconfig:"POSTGRES_DRIVER" default:"postgres"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"data/chat-usage.db"`
	Host       string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port       int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User       string `envconfig:"POSTGRES_USER" default:"postgres"`
	Password   string `envconfig:"POSTGRES_PASSWORD"`
	Database   string `envconfig:"POSTGRES_DB" default:"tercihify"`
	SSLMode    string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns   int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
	Migrate    bool   `envconfig:"POSTGRES_MIGRATE" default:"true"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Enabled  bool   `envconfig:"CLICKHOUSE_ENABLED" default:"false"`
	Host     string `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"chat_usage"`
	// BatchSize and FlushInterval tune the usage event batch writer
	BatchSize     int           `envconfig:"CLICKHOUSE_BATCH_SIZE" default:"500"`
	FlushInterval time.Duration `envconfig:"CLICKHOUSE_FLUSH_INTERVAL" default:"5s"`
}

type RedisConfig struct {
	Enabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Enabled    bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers    []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	GroupID    string   `envconfig:"KAFKA_GROUP_ID" default:"tercihify-chat-usage"`
	UsageTopic string   `envconfig:"KAFKA_USAGE_TOPIC" default:"chat.usage.turns"`
}

// AIConfig selects the auxiliary model used for conversation summaries
type AIConfig struct {
	OpenAIKey                string        `envconfig:"OPENAI_API_KEY"`
	GeminiKey                string        `envconfig:"GEMINI_API_KEY"`
	AnthropicKey             string        `envconfig:"ANTHROPIC_API_KEY"`
	SummaryProvider          string        `envconfig:"AI_SUMMARY_PROVIDER" default:"openai"`
	SummaryModel             string        `envconfig:"AI_SUMMARY_MODEL" default:"gpt-4o-mini"`
	SummaryRequestsPerMinute int           `envconfig:"AI_SUMMARY_REQUESTS_PER_MINUTE" default:"60"`
	SummaryTimeout           time.Duration `envconfig:"AI_SUMMARY_TIMEOUT" default:"20s"`
}

// UsageConfig drives the usage accounting pipeline
type UsageConfig struct {
	CaptureContent         bool          `envconfig:"USAGE_CAPTURE_CONTENT" default:"true"`
	MaxContextTokens       int           `envconfig:"USAGE_MAX_CONTEXT_TOKENS" default:"8000"`
	PreserveSystemMessages bool          `envconfig:"USAGE_PRESERVE_SYSTEM_MESSAGES" default:"true"`
	SummarizationEnabled   bool          `envconfig:"USAGE_SUMMARIZATION_ENABLED" default:"false"`
	SummaryTriggerTokens   int           `envconfig:"USAGE_SUMMARY_TRIGGER_TOKENS" default:"6000"`
	KeepRecentMessages     int           `envconfig:"USAGE_KEEP_RECENT_MESSAGES" default:"6"`
	SummaryMaxOutputTokens int           `envconfig:"USAGE_SUMMARY_MAX_OUTPUT_TOKENS" default:"300"`
	PersistTimeout         time.Duration `envconfig:"USAGE_PERSIST_TIMEOUT" default:"5s"`
	FallbackEnabled        bool          `envconfig:"USAGE_FALLBACK_ENABLED" default:"true"`
	FallbackDir            string        `envconfig:"USAGE_FALLBACK_DIR" default:"data/chat-usage"`
	AnalyticsCacheTTL      time.Duration `envconfig:"USAGE_ANALYTICS_CACHE_TTL" default:"30s"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// WorkerConfig contains intervals for background workers
type WorkerConfig struct {
	DailyRollupEnabled  bool          `envconfig:"WORKER_DAILY_ROLLUP_ENABLED" default:"true"`
	DailyRollupInterval time.Duration `envconfig:"WORKER_DAILY_ROLLUP_INTERVAL" default:"15m"`
}

// Load reads configuration from environment variables.
// A .env file is loaded first when present (.env.test when ENV=test).
func Load() (*Config, error) {
	envFile := ".env"
	if os.Getenv("ENV") == "test" {
		envFile = ".env.test"
	}
	_ = godotenv.Load(envFile)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}
	if err := cfg.Usage.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects a summary trigger the limiter would always pre-empt
func (c UsageConfig) Validate() error {
	if c.MaxContextTokens <= 0 {
		return errors.Wrapf(errors.ErrInvalidInput, "USAGE_MAX_CONTEXT_TOKENS must be positive, got %d", c.MaxContextTokens)
	}
	if c.SummarizationEnabled && c.SummaryTriggerTokens >= c.MaxContextTokens {
		return errors.Wrapf(errors.ErrInvalidInput,
			"USAGE_SUMMARY_TRIGGER_TOKENS (%d) must be below USAGE_MAX_CONTEXT_TOKENS (%d)",
			c.SummaryTriggerTokens, c.MaxContextTokens)
	}
	return nil
}
