package testsupport

import (
	"time"

	"github.com/google/uuid"

	"github.com/emirks/tercihify-chat/internal/domain/usage"
)

// ========================================
// Fixture Builders for usage store tests
// ========================================

// UsageLogFixture provides builder pattern for creating test usage logs
type UsageLogFixture struct {
	log usage.Log
}

// NewUsageLogFixture creates a successful turn with a single LLM call step.
// Default: gpt-4o-mini, 500 prompt + 120 completion tokens, started a minute ago.
func NewUsageLogFixture() *UsageLogFixture {
	started := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
	return &UsageLogFixture{
		log: usage.Log{
			ID:               uuid.New(),
			SessionID:        UniqueSessionID(),
			MessageID:        UniqueMessageID(),
			UserID:           "user_fixture",
			Model:            "gpt-4o-mini",
			StartedAt:        started,
			Status:           usage.StatusSuccess,
			PromptTokens:     500,
			CompletionTokens: 120,
			TotalTokens:      620,
			ExecutionTimeMs:  850,
			RequestSize:      2048,
			ResponseSize:     512,
			Steps: []usage.Step{
				{
					StepName:         usage.StepFinalLLMCall,
					Timestamp:        started.Add(800 * time.Millisecond),
					PromptTokens:     usage.IntPtr(500),
					CompletionTokens: usage.IntPtr(120),
					TotalTokens:      usage.IntPtr(620),
				},
			},
		},
	}
}

// WithSession sets the session ID
func (f *UsageLogFixture) WithSession(sessionID string) *UsageLogFixture {
	f.log.SessionID = sessionID
	return f
}

// WithUser sets the user ID
func (f *UsageLogFixture) WithUser(userID string) *UsageLogFixture {
	f.log.UserID = userID
	return f
}

// WithModel sets the model identifier
func (f *UsageLogFixture) WithModel(model string) *UsageLogFixture {
	f.log.Model = model
	return f
}

// WithStartedAt sets the turn start time
func (f *UsageLogFixture) WithStartedAt(t time.Time) *UsageLogFixture {
	f.log.StartedAt = t.UTC().Truncate(time.Millisecond)
	for i := range f.log.Steps {
		f.log.Steps[i].Timestamp = f.log.StartedAt.Add(time.Duration(i+1) * 100 * time.Millisecond)
	}
	return f
}

// WithTokens sets the token totals; the LLM step mirrors them
func (f *UsageLogFixture) WithTokens(prompt, completion int) *UsageLogFixture {
	f.log.PromptTokens = prompt
	f.log.CompletionTokens = completion
	f.log.TotalTokens = prompt + completion
	for i := range f.log.Steps {
		if f.log.Steps[i].StepName == usage.StepFinalLLMCall {
			f.log.Steps[i].PromptTokens = usage.IntPtr(prompt)
			f.log.Steps[i].CompletionTokens = usage.IntPtr(completion)
			f.log.Steps[i].TotalTokens = usage.IntPtr(prompt + completion)
		}
	}
	return f
}

// WithTotalTokens sets only the total, for ranking tests
func (f *UsageLogFixture) WithTotalTokens(total int) *UsageLogFixture {
	return f.WithTokens(total, 0)
}

// WithToolCalls appends a tool_call step
func (f *UsageLogFixture) WithToolCalls(names ...string) *UsageLogFixture {
	calls := make([]usage.ToolCallResult, 0, len(names))
	for _, name := range names {
		calls = append(calls, usage.ToolCallResult{ToolName: name, ArgsSize: 32, ResultSize: 256, DurationMs: 40, Success: true})
	}
	f.log.Steps = append(f.log.Steps, usage.Step{
		StepName:  usage.StepToolCall,
		Timestamp: f.log.StartedAt.Add(time.Duration(len(f.log.Steps)+1) * 100 * time.Millisecond),
		ToolCalls: calls,
	})
	return f
}

// AsError marks the turn as failed
func (f *UsageLogFixture) AsError(message string) *UsageLogFixture {
	f.log.Status = usage.StatusError
	f.log.ErrorText = message
	return f
}

// Build returns the constructed log
func (f *UsageLogFixture) Build() *usage.Log {
	log := f.log
	log.Steps = append([]usage.Step(nil), f.log.Steps...)
	return &log
}

// BuildMany creates count logs in the same session, one minute apart
func (f *UsageLogFixture) BuildMany(count int) []*usage.Log {
	logs := make([]*usage.Log, count)
	start := f.log.StartedAt
	for i := 0; i < count; i++ {
		f.WithStartedAt(start.Add(time.Duration(i) * time.Minute))
		log := f.Build()
		log.ID = uuid.New()
		log.MessageID = UniqueMessageID()
		logs[i] = log
	}
	f.WithStartedAt(start)
	return logs
}
