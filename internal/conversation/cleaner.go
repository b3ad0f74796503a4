package conversation

import (
	"encoding/json"

	"github.com/emirks/tercihify-chat/internal/domain/chat"
)

// RemovedItem identifies a tool result dropped by the cleaner
type RemovedItem struct {
	MessageIndex int    `json:"messageIndex"`
	ToolName     string `json:"toolName"`
	ToolCallID   string `json:"toolCallId,omitempty"`
	Size         int    `json:"size"`
}

// CleaningResult is the cleaned message list plus what was removed
type CleaningResult struct {
	Messages               []chat.Message
	OriginalMessageCount   int
	CleanedMessageCount    int
	OriginalSize           int
	CleanedSize            int
	RemovedToolResults     int
	RemovedToolResultsSize int
	RemovedItems           []RemovedItem
	EstimatedTokensSaved   int
}

// AdditionalData flattens the report for a usage step
func (r CleaningResult) AdditionalData() map[string]any {
	return map[string]any{
		"originalMessageCount":   r.OriginalMessageCount,
		"cleanedMessageCount":    r.CleanedMessageCount,
		"originalSize":           r.OriginalSize,
		"cleanedSize":            r.CleanedSize,
		"sizeReduction":          r.OriginalSize - r.CleanedSize,
		"removedToolResults":     r.RemovedToolResults,
		"removedToolResultsSize": r.RemovedToolResultsSize,
		"removedItems":           r.RemovedItems,
		"estimatedTokensSaved":   r.EstimatedTokensSaved,
	}
}

// ContentCleaner drops completed tool invocations from history before submission
type ContentCleaner struct {
	estimator TokenEstimator
}

// NewContentCleaner creates a cleaner. A nil estimator uses the default.
func NewContentCleaner(estimator TokenEstimator) *ContentCleaner {
	if estimator == nil {
		estimator = DefaultEstimator
	}
	return &ContentCleaner{estimator: estimator}
}

// Clean returns a new message list without tool-invocation parts that carry a result.
// The input is not modified.
func (c *ContentCleaner) Clean(messages []chat.Message) CleaningResult {
	result := CleaningResult{
		Messages:             make([]chat.Message, 0, len(messages)),
		OriginalMessageCount: len(messages),
		OriginalSize:         serializedSize(messages),
		RemovedItems:         []RemovedItem{},
	}

	for i, msg := range messages {
		cleaned := msg.Clone()
		if len(msg.Parts) > 0 {
			kept := make([]chat.Part, 0, len(msg.Parts))
			for _, part := range cleaned.Parts {
				if part.IsToolInvocation() && part.ToolInvocation.HasResult() {
					size := len(part.ToolInvocation.Result)
					result.RemovedToolResults++
					result.RemovedToolResultsSize += size
					result.RemovedItems = append(result.RemovedItems, RemovedItem{
						MessageIndex: i,
						ToolName:     part.ToolInvocation.ToolName,
						ToolCallID:   part.ToolInvocation.ToolCallID,
						Size:         size,
					})
					continue
				}
				kept = append(kept, part)
			}
			cleaned.Parts = kept
		}
		result.Messages = append(result.Messages, cleaned)
	}

	result.CleanedMessageCount = len(result.Messages)
	result.CleanedSize = serializedSize(result.Messages)
	result.EstimatedTokensSaved = c.estimator.EstimateBytes(result.RemovedToolResultsSize)
	return result
}

func serializedSize(messages []chat.Message) int {
	encoded, err := json.Marshal(messages)
	if err != nil {
		total := 0
		for _, m := range messages {
			total += MessageBytes(m)
		}
		return total
	}
	return len(encoded)
}
