package usage

import (
	"fmt"

	"github.com/emirks/tercihify-chat/internal/domain/chat"
)

// FullConversationContext is the per-turn snapshot kept for debugging token usage
type FullConversationContext struct {
	SystemPrompt   string         `json:"systemPrompt,omitempty"`
	Messages       []chat.Message `json:"messages,omitempty"`
	FinalResponse  string         `json:"finalResponse,omitempty"`
	TokenBreakdown TokenBreakdown `json:"tokenBreakdown"`
}

// TokenBreakdown decomposes the provider token count. The parts need not add up to Total:
// ToolsAndOverheadActual is a clamped residual, not an accounting identity.
type TokenBreakdown struct {
	SystemPromptActual     int              `json:"systemPromptActual"`
	MessagesContentActual  int              `json:"messagesContentActual"`
	ToolsAndOverheadActual int              `json:"toolsAndOverheadActual"`
	ResponseActual         int              `json:"responseActual"`
	Total                  int              `json:"total"`
	Overhead               OverheadAnalysis `json:"overheadAnalysis"`
}

// OverheadAnalysis explains the residual
type OverheadAnalysis struct {
	RawResidual         int     `json:"rawResidual"`
	ToolCount           int     `json:"toolCount"`
	TokensPerTool       float64 `json:"tokensPerTool"`
	OverheadPercentage  float64 `json:"overheadPercentage"`
	ResidualWasNegative bool    `json:"residualWasNegative"`
	Explanation         string  `json:"explanation"`
}

// BreakdownInput carries the measurements a TokenBreakdown is derived from
type BreakdownInput struct {
	PromptTokens       int
	CompletionTokens   int
	TotalTokens        int
	SystemPromptTokens int
	MessageTokens      int
	ToolCount          int
}

// NewTokenBreakdown derives the breakdown from provider usage and local estimates
func NewTokenBreakdown(in BreakdownInput) TokenBreakdown {
	total := in.TotalTokens
	if total == 0 {
		total = in.PromptTokens + in.CompletionTokens
	}

	raw := in.PromptTokens - in.SystemPromptTokens - in.MessageTokens
	residual := raw
	if residual < 0 {
		residual = 0
	}

	analysis := OverheadAnalysis{
		RawResidual:         raw,
		ToolCount:           in.ToolCount,
		ResidualWasNegative: raw < 0,
	}
	if in.ToolCount > 0 {
		analysis.TokensPerTool = float64(residual) / float64(in.ToolCount)
	}
	if in.PromptTokens > 0 {
		analysis.OverheadPercentage = float64(residual) / float64(in.PromptTokens) * 100
	}

	switch {
	case raw < 0:
		analysis.Explanation = "local estimates exceed provider prompt tokens; residual clamped to zero"
	case in.ToolCount > 0:
		analysis.Explanation = fmt.Sprintf("residual attributed to %d tool definitions and message formatting", in.ToolCount)
	default:
		analysis.Explanation = "residual attributed to message formatting"
	}

	return TokenBreakdown{
		SystemPromptActual:     in.SystemPromptTokens,
		MessagesContentActual:  in.MessageTokens,
		ToolsAndOverheadActual: residual,
		ResponseActual:         in.CompletionTokens,
		Total:                  total,
		Overhead:               analysis,
	}
}
