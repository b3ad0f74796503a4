package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emirks/tercihify-chat/internal/domain/usage"
	"github.com/emirks/tercihify-chat/internal/testsupport"
	"github.com/emirks/tercihify-chat/pkg/errors"
)

func setupUsageDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db := testsupport.NewSQLiteDB(t)
	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func countRows(t *testing.T, db *sqlx.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM "+table))
	return n
}

func TestUsageRepository_MigrateIsIdempotent(t *testing.T) {
	db := setupUsageDB(t)
	assert.NoError(t, Migrate(context.Background(), db))
}

func TestUsageRepository_PersistAndGetSessionLogs(t *testing.T) {
	db := setupUsageDB(t)
	repo := NewUsageRepository(db)
	ctx := context.Background()

	sessionID := testsupport.UniqueSessionID()
	base := time.Now().UTC().Add(-10 * time.Minute)

	second := testsupport.NewUsageLogFixture().WithSession(sessionID).WithStartedAt(base.Add(time.Minute)).Build()
	first := testsupport.NewUsageLogFixture().
		WithSession(sessionID).
		WithStartedAt(base).
		WithToolCalls("search_programs", "get_quota").
		Build()
	first.Context = &usage.FullConversationContext{
		SystemPrompt:   "You are an advisor.",
		TokenBreakdown: usage.TokenBreakdown{Total: 620, ToolsAndOverheadActual: 40},
	}
	first.Steps[0].AdditionalData = map[string]any{"tokensSaved": 1200}

	require.NoError(t, repo.Persist(ctx, second))
	require.NoError(t, repo.Persist(ctx, first))

	logs, err := repo.GetSessionLogs(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	got := logs[0]
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, first.MessageID, got.MessageID)
	assert.Equal(t, 620, got.TotalTokens)
	assert.True(t, first.StartedAt.Equal(got.StartedAt))

	require.Len(t, got.Steps, 2)
	assert.Equal(t, usage.StepFinalLLMCall, got.Steps[0].StepName)
	require.NotNil(t, got.Steps[0].TotalTokens)
	assert.Equal(t, 620, *got.Steps[0].TotalTokens)
	assert.EqualValues(t, 1200, got.Steps[0].AdditionalData["tokensSaved"])
	assert.Equal(t, usage.StepToolCall, got.Steps[1].StepName)
	assert.Nil(t, got.Steps[1].TotalTokens)
	assert.Len(t, got.Steps[1].ToolCalls, 2)

	require.NotNil(t, got.Context)
	assert.Equal(t, "You are an advisor.", got.Context.SystemPrompt)
	assert.Equal(t, 40, got.Context.TokenBreakdown.ToolsAndOverheadActual)

	assert.Equal(t, second.ID, logs[1].ID)
	assert.Nil(t, logs[1].Context)
}

func TestUsageRepository_GetSessionLogsUnknownSession(t *testing.T) {
	repo := NewUsageRepository(setupUsageDB(t))

	logs, err := repo.GetSessionLogs(context.Background(), "missing")
	require.NoError(t, err)
	assert.NotNil(t, logs)
	assert.Empty(t, logs)
}

func TestUsageRepository_PersistIsAtomic(t *testing.T) {
	db := setupUsageDB(t)
	repo := NewUsageRepository(db)

	log := testsupport.NewUsageLogFixture().WithToolCalls("search").Build()
	// a channel cannot be JSON encoded, so the second step fails after the log row was written
	log.Steps[1].AdditionalData = map[string]any{"bad": make(chan int)}

	err := repo.Persist(context.Background(), log)
	require.Error(t, err)

	assert.Zero(t, countRows(t, db, "chat_usage_logs"))
	assert.Zero(t, countRows(t, db, "chat_usage_steps"))
}

func TestUsageRepository_DeleteCascadesToSteps(t *testing.T) {
	db := setupUsageDB(t)
	repo := NewUsageRepository(db)
	ctx := context.Background()

	log := testsupport.NewUsageLogFixture().WithToolCalls("a", "b").Build()
	require.NoError(t, repo.Persist(ctx, log))
	assert.Equal(t, 2, countRows(t, db, "chat_usage_steps"))

	require.NoError(t, repo.DeleteLog(ctx, log.ID))
	assert.Zero(t, countRows(t, db, "chat_usage_logs"))
	assert.Zero(t, countRows(t, db, "chat_usage_steps"))

	err := repo.DeleteLog(ctx, uuid.New())
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestUsageRepository_EmptySummaryIsZeroed(t *testing.T) {
	repo := NewUsageRepository(setupUsageDB(t))

	summary, err := repo.GetTokenUsageSummary(context.Background(), usage.Filter{Window: usage.WindowLastHour})
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, usage.TokenUsageSummary{}, *summary)
}

func TestUsageRepository_TokenUsageSummary(t *testing.T) {
	db := setupUsageDB(t)
	repo := NewUsageRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	sessionA := testsupport.UniqueSessionID()
	fixtures := []*usage.Log{
		testsupport.NewUsageLogFixture().WithSession(sessionA).WithUser("u1").WithTokens(400, 100).WithStartedAt(now.Add(-5 * time.Minute)).Build(),
		testsupport.NewUsageLogFixture().WithSession(sessionA).WithUser("u1").WithTokens(800, 200).WithStartedAt(now.Add(-4 * time.Minute)).Build(),
		testsupport.NewUsageLogFixture().WithUser("u2").WithTokens(100, 50).WithStartedAt(now.Add(-3 * time.Minute)).Build(),
		// outside the last hour
		testsupport.NewUsageLogFixture().WithUser("u1").WithTokens(9000, 0).WithStartedAt(now.Add(-3 * time.Hour)).Build(),
	}
	for _, log := range fixtures {
		require.NoError(t, repo.Persist(ctx, log))
	}

	summary, err := repo.GetTokenUsageSummary(ctx, usage.Filter{Window: usage.WindowLastHour})
	require.NoError(t, err)
	assert.Equal(t, int64(1650), summary.TotalTokens)
	assert.Equal(t, int64(1300), summary.PromptTokens)
	assert.Equal(t, int64(350), summary.CompletionTokens)
	assert.Equal(t, int64(1000), summary.PeakTokenUsage)
	assert.Equal(t, int64(3), summary.TotalRequests)
	assert.Equal(t, int64(2), summary.UniqueSessions)
	assert.InDelta(t, 550.0, summary.AverageTokensPerRequest, 0.001)

	byUser, err := repo.GetTokenUsageSummary(ctx, usage.Filter{Window: usage.WindowLastDay, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), byUser.TotalRequests)
	assert.Equal(t, int64(10500), byUser.TotalTokens)

	bySession, err := repo.GetTokenUsageSummary(ctx, usage.Filter{SessionID: sessionA})
	require.NoError(t, err)
	assert.Equal(t, int64(2), bySession.TotalRequests)
}

func TestUsageRepository_HighUsageSessions(t *testing.T) {
	repo := NewUsageRepository(setupUsageDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	totals := map[string]int{"s-low": 500, "s-mid": 1200, "s-high": 5000}
	for sessionID, total := range totals {
		// split each session over two turns
		first := total / 2
		require.NoError(t, repo.Persist(ctx, testsupport.NewUsageLogFixture().
			WithSession(sessionID).WithTotalTokens(first).WithStartedAt(now.Add(-20*time.Minute)).Build()))
		require.NoError(t, repo.Persist(ctx, testsupport.NewUsageLogFixture().
			WithSession(sessionID).WithTotalTokens(total-first).WithStartedAt(now.Add(-10*time.Minute)).Build()))
	}

	sessions, err := repo.GetHighUsageSessions(ctx, usage.Filter{Window: usage.WindowLastDay}, 2, 1000)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Equal(t, "s-high", sessions[0].SessionID)
	assert.Equal(t, int64(5000), sessions[0].TotalTokens)
	assert.Equal(t, int64(2500), sessions[0].PeakTokenUsage)
	assert.Equal(t, int64(2), sessions[0].MessageCount)
	assert.WithinDuration(t, now.Add(-10*time.Minute), sessions[0].LastActivity, time.Second)

	assert.Equal(t, "s-mid", sessions[1].SessionID)
	assert.Equal(t, int64(1200), sessions[1].TotalTokens)
}

func TestUsageRepository_ModelUsageSummary(t *testing.T) {
	repo := NewUsageRepository(setupUsageDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Persist(ctx, testsupport.NewUsageLogFixture().WithModel("gpt-4o-mini").WithTokens(100, 20).WithStartedAt(now.Add(-time.Minute)).Build()))
	require.NoError(t, repo.Persist(ctx, testsupport.NewUsageLogFixture().WithModel("gpt-4o-mini").WithTokens(300, 80).WithStartedAt(now.Add(-2*time.Minute)).Build()))
	require.NoError(t, repo.Persist(ctx, testsupport.NewUsageLogFixture().WithModel("gemini-2.5-pro").WithTokens(2000, 500).WithStartedAt(now.Add(-3*time.Minute)).Build()))

	models, err := repo.GetModelUsageSummary(ctx, usage.Filter{Window: usage.WindowLastHour})
	require.NoError(t, err)
	require.Len(t, models, 2)

	assert.Equal(t, "gemini-2.5-pro", models[0].Model)
	assert.Equal(t, int64(2500), models[0].TotalTokens)

	mini := models[1]
	assert.Equal(t, "gpt-4o-mini", mini.Model)
	assert.Equal(t, int64(500), mini.TotalTokens)
	assert.Equal(t, int64(400), mini.PromptTokens)
	assert.Equal(t, int64(2), mini.TotalRequests)
	assert.Equal(t, int64(380), mini.PeakTokenUsage)
	assert.InDelta(t, 250.0, mini.AverageTokensPerRequest, 0.001)
	assert.WithinDuration(t, now.Add(-time.Minute), mini.LastUsed, time.Second)
}

func TestUsageRepository_HourlyBucketsAscendingWithoutGaps(t *testing.T) {
	repo := NewUsageRepository(setupUsageDB(t))
	ctx := context.Background()

	now := time.Now().UTC()
	hour := now.Truncate(time.Hour)
	times := []time.Time{
		hour.Add(-5*time.Hour + 10*time.Minute),
		hour.Add(-5*time.Hour + 40*time.Minute),
		hour.Add(-2*time.Hour + 5*time.Minute),
	}
	for _, ts := range times {
		require.NoError(t, repo.Persist(ctx, testsupport.NewUsageLogFixture().WithTotalTokens(100).WithStartedAt(ts).Build()))
	}

	buckets, err := repo.GetHourlyUsage(ctx, usage.TrailingHours(24, now))
	require.NoError(t, err)
	require.Len(t, buckets, 2, "empty hours are not filled")

	assert.True(t, hour.Add(-5*time.Hour).Equal(buckets[0].BucketStart))
	assert.Equal(t, int64(200), buckets[0].Tokens)
	assert.Equal(t, int64(2), buckets[0].Requests)
	assert.True(t, hour.Add(-2*time.Hour).Equal(buckets[1].BucketStart))
	assert.True(t, buckets[0].BucketStart.Before(buckets[1].BucketStart))
}

func TestUsageRepository_MinuteBuckets(t *testing.T) {
	repo := NewUsageRepository(setupUsageDB(t))
	ctx := context.Background()

	now := time.Now().UTC()
	minute := now.Truncate(time.Minute)
	for _, ts := range []time.Time{
		minute.Add(-3*time.Minute + 5*time.Second),
		minute.Add(-3*time.Minute + 50*time.Second),
		minute.Add(-time.Minute + 1*time.Second),
	} {
		require.NoError(t, repo.Persist(ctx, testsupport.NewUsageLogFixture().WithTotalTokens(10).WithStartedAt(ts).Build()))
	}

	buckets, err := repo.GetMinuteUsage(ctx, usage.TrailingMinutes(60, now))
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, int64(20), buckets[0].Tokens)
	assert.Equal(t, int64(1), buckets[1].Requests)
}

func TestUsageRepository_InvalidWindow(t *testing.T) {
	repo := NewUsageRepository(setupUsageDB(t))
	now := time.Now()

	_, err := repo.GetTokenUsageSummary(context.Background(), usage.Filter{Window: usage.WindowCustom, Start: now, End: now.Add(-time.Hour)})
	assert.ErrorIs(t, err, errors.ErrInvalidTimeWindow)
}

func TestUsageRepository_PostgresIntegration(t *testing.T) {
	helper := testsupport.NewTestPostgres(t)
	db := helper.DB()
	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db))

	repo := NewUsageRepository(db)
	failed := testsupport.NewUsageLogFixture().WithToolCalls("search_universities").AsError("model timeout").Build()
	require.NoError(t, repo.Persist(ctx, failed))
	t.Cleanup(func() { _ = repo.DeleteLog(context.Background(), failed.ID) })

	logs, err := repo.GetSessionLogs(ctx, failed.SessionID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, usage.StatusError, logs[0].Status)
	assert.Equal(t, "model timeout", logs[0].ErrorText)
	require.Len(t, logs[0].Steps, len(failed.Steps))
	assert.Equal(t, "search_universities", logs[0].Steps[1].ToolCalls[0].ToolName)
}
