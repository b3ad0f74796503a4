package usage

import (
	"time"

	"github.com/google/uuid"
)

// StepName tags the pipeline stage a step was recorded for
type StepName string

const (
	StepToolsLoaded               StepName = "tools_loaded"
	StepSystemPromptBreakdown     StepName = "system_prompt_breakdown"
	StepToolCall                  StepName = "tool_call"
	StepContentCleaning           StepName = "content_cleaning"
	StepConversationLimitation    StepName = "conversation_limitation"
	StepConversationSummarization StepName = "conversation_summarization"
	StepFinalLLMCall              StepName = "final_llm_call"
	StepFinalResponse             StepName = "final_response"
	StepError                     StepName = "error"
)

// Status is the outcome of a chat turn
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Log is the usage record of one chat turn
type Log struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"sessionId"`
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	Model     string    `json:"model"`
	StartedAt time.Time `json:"startedAt"`
	Status    Status    `json:"status"`
	ErrorText string    `json:"error,omitempty"`

	Steps []Step `json:"steps"`

	// Totals folded from steps
	PromptTokens     int   `json:"promptTokens"`
	CompletionTokens int   `json:"completionTokens"`
	TotalTokens      int   `json:"totalTokens"`
	ExecutionTimeMs  int64 `json:"executionTimeMs"`
	RequestSize      int   `json:"requestSize"`
	ResponseSize     int   `json:"responseSize"`

	Context *FullConversationContext `json:"fullConversationContext,omitempty"`
}

// NewLog creates an empty log for a turn that starts now
func NewLog(sessionID, messageID, userID, model string, requestSize int, startedAt time.Time) *Log {
	return &Log{
		ID:          uuid.New(),
		SessionID:   sessionID,
		MessageID:   messageID,
		UserID:      userID,
		Model:       model,
		StartedAt:   startedAt,
		Status:      StatusSuccess,
		Steps:       make([]Step, 0, 8),
		RequestSize: requestSize,
	}
}

// Step is one timestamped instrumentation event within a turn
type Step struct {
	StepName  StepName  `json:"stepName"`
	Timestamp time.Time `json:"timestamp"`

	PromptTokens     *int `json:"promptTokens,omitempty"`
	CompletionTokens *int `json:"completionTokens,omitempty"`
	TotalTokens      *int `json:"totalTokens,omitempty"`

	ToolCalls       []ToolCallResult `json:"toolCalls,omitempty"`
	PromptBreakdown *PromptBreakdown `json:"promptBreakdown,omitempty"`
	ActualContent   *CapturedContent `json:"actualContent,omitempty"`
	AdditionalData  map[string]any   `json:"additionalData,omitempty"`
}

// TokenDelta returns the amounts the step adds to the log totals.
// TotalTokens wins when present, otherwise prompt+completion is used.
func (s Step) TokenDelta() (prompt, completion, total int) {
	if s.PromptTokens != nil {
		prompt = *s.PromptTokens
	}
	if s.CompletionTokens != nil {
		completion = *s.CompletionTokens
	}
	if s.TotalTokens != nil {
		total = *s.TotalTokens
	} else {
		total = prompt + completion
	}
	return prompt, completion, total
}

// ToolCallResult describes one executed tool call
type ToolCallResult struct {
	ToolName   string `json:"toolName"`
	ToolCallID string `json:"toolCallId,omitempty"`
	ArgsSize   int    `json:"argsSize"`
	ResultSize int    `json:"resultSize"`
	DurationMs int64  `json:"durationMs"`
	Success    bool   `json:"success"`
}

// PromptBreakdown splits the prompt size by component
type PromptBreakdown struct {
	SystemPromptSize   int `json:"systemPromptSize"`
	SystemPromptTokens int `json:"systemPromptTokens"`
	MessagesSize       int `json:"messagesSize"`
	MessagesTokens     int `json:"messagesTokens"`
	ToolsCount         int `json:"toolsCount"`
	TotalEstimated     int `json:"totalEstimated"`
}

// CapturedContent holds raw text, only populated when content capture is enabled
type CapturedContent struct {
	SystemPrompt string `json:"systemPrompt,omitempty"`
	Response     string `json:"response,omitempty"`
}

// IntPtr is a helper for optional token fields
func IntPtr(v int) *int {
	return &v
}
