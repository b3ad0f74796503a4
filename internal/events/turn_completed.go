package events

import (
	"time"

	"github.com/emirks/tercihify-chat/internal/domain/usage"
)

// TurnCompletedEvent is published once per persisted chat turn
type TurnCompletedEvent struct {
	ID        string    `json:"id"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`

	LogID     string `json:"logId"`
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Model     string `json:"model"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`

	PromptTokens     int   `json:"promptTokens"`
	CompletionTokens int   `json:"completionTokens"`
	TotalTokens      int   `json:"totalTokens"`
	RequestSize      int   `json:"requestSize"`
	ResponseSize     int   `json:"responseSize"`
	ExecutionTimeMs  int64 `json:"executionTimeMs"`

	StepCount     int `json:"stepCount"`
	ToolCallCount int `json:"toolCallCount"`

	CleaningTokensSaved   int  `json:"cleaningTokensSaved"`
	LimitationTokensSaved int  `json:"limitationTokensSaved"`
	Summarized            bool `json:"summarized"`

	StartedAt time.Time `json:"startedAt"`
}

// NewTurnCompletedEvent flattens a finalized log into an event
func NewTurnCompletedEvent(log *usage.Log) TurnCompletedEvent {
	event := TurnCompletedEvent{
		ID:               generateEventID(),
		Version:          EventVersion,
		Timestamp:        time.Now().UTC(),
		LogID:            log.ID.String(),
		SessionID:        log.SessionID,
		MessageID:        log.MessageID,
		UserID:           log.UserID,
		Model:            log.Model,
		Status:           string(log.Status),
		Error:            SanitizeUTF8(log.ErrorText),
		PromptTokens:     log.PromptTokens,
		CompletionTokens: log.CompletionTokens,
		TotalTokens:      log.TotalTokens,
		RequestSize:      log.RequestSize,
		ResponseSize:     log.ResponseSize,
		ExecutionTimeMs:  log.ExecutionTimeMs,
		StepCount:        len(log.Steps),
		StartedAt:        log.StartedAt.UTC(),
	}

	for _, step := range log.Steps {
		event.ToolCallCount += len(step.ToolCalls)

		switch step.StepName {
		case usage.StepContentCleaning:
			event.CleaningTokensSaved += intField(step.AdditionalData, "estimatedTokensSaved")
		case usage.StepConversationLimitation:
			event.LimitationTokensSaved += intField(step.AdditionalData, "tokensSaved")
		case usage.StepConversationSummarization:
			if applied, ok := step.AdditionalData["applied"].(bool); ok && applied {
				event.Summarized = true
			}
		}
	}

	return event
}

// intField reads a numeric value that may have been through a JSON round trip
func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
