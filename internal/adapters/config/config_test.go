package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emirks/tercihify-chat/internal/conversation"
	"github.com/emirks/tercihify-chat/pkg/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Usage.MaxContextTokens)
	assert.True(t, cfg.Usage.PreserveSystemMessages)
	assert.False(t, cfg.Usage.SummarizationEnabled)
	assert.Equal(t, 6, cfg.Usage.KeepRecentMessages)
	assert.Equal(t, conversation.DefaultMaxTokens, cfg.Usage.MaxContextTokens)
	assert.Equal(t, conversation.DefaultSummaryTriggerTokens, cfg.Usage.SummaryTriggerTokens)
	assert.Less(t, cfg.Usage.SummaryTriggerTokens, cfg.Usage.MaxContextTokens)
	assert.Equal(t, 5*time.Second, cfg.Usage.PersistTimeout)
	assert.Equal(t, "postgres", cfg.Postgres.Driver)
	assert.Equal(t, "chat.usage.turns", cfg.Kafka.UsageTopic)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("USAGE_MAX_CONTEXT_TOKENS", "4000")
	t.Setenv("USAGE_SUMMARIZATION_ENABLED", "true")
	t.Setenv("AI_SUMMARY_PROVIDER", "anthropic")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Usage.MaxContextTokens)
	assert.True(t, cfg.Usage.SummarizationEnabled)
	assert.Equal(t, "anthropic", cfg.AI.SummaryProvider)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadRejectsUnreachableSummaryTrigger(t *testing.T) {
	t.Setenv("USAGE_SUMMARIZATION_ENABLED", "true")
	t.Setenv("USAGE_SUMMARY_TRIGGER_TOKENS", "8000")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestUsageConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     UsageConfig
		wantErr bool
	}{
		{"summarization off ignores trigger", UsageConfig{MaxContextTokens: 8000, SummaryTriggerTokens: 9000}, false},
		{"trigger below budget", UsageConfig{MaxContextTokens: 8000, SummarizationEnabled: true, SummaryTriggerTokens: 6000}, false},
		{"trigger equal to budget", UsageConfig{MaxContextTokens: 8000, SummarizationEnabled: true, SummaryTriggerTokens: 8000}, true},
		{"zero budget", UsageConfig{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidInput)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDSNAndAddr(t *testing.T) {
	pg := PostgresConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "chat", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=chat sslmode=disable", pg.DSN())

	assert.Equal(t, "cache:6380", RedisConfig{Host: "cache", Port: 6380}.Addr())
}
