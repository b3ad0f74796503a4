package conversation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/emirks/tercihify-chat/internal/domain/chat"
)

func TestEstimateTokens_ExcludesToolResults(t *testing.T) {
	toolCall := `{"toolName":"search","args":{"q":"go"}}`
	msg := chat.Message{
		Role:    chat.RoleAssistant,
		Content: "abcd",
		Parts: []chat.Part{
			chat.TextPart("hello"),
			chat.ToolPart(chat.ToolInvocation{
				ToolName: "search",
				Args:     json.RawMessage(`{"q":"go"}`),
				State:    chat.ToolStateResult,
				Result:   json.RawMessage(`"` + strings.Repeat("r", 5000) + `"`),
			}),
		},
	}

	wantBytes := len("abcd") + len("hello") + len(toolCall)
	assert.Equal(t, wantBytes, MessageBytes(msg))
	assert.Equal(t, (wantBytes+3)/4, EstimateTokens([]chat.Message{msg}))
}

func TestEstimateTokens_RoundsUpOverWholeList(t *testing.T) {
	messages := []chat.Message{
		{Role: chat.RoleUser, Content: "abcde"},  // 5 bytes
		{Role: chat.RoleAssistant, Content: "fg"}, // 2 bytes
	}

	assert.Equal(t, 2, EstimateTokens(messages))
	assert.Equal(t, 0, EstimateTokens(nil))
}

func TestEstimateTokens_MalformedPartsCountZero(t *testing.T) {
	msg := chat.Message{
		Role:    chat.RoleUser,
		Content: "1234",
		Parts: []chat.Part{
			{Type: chat.PartTypeToolInvocation},
			{Type: "image", Text: "ignored"},
		},
	}

	assert.Equal(t, 1, EstimateTokens([]chat.Message{msg}))
}

func TestEstimateTokens_InvalidArgsChargedRaw(t *testing.T) {
	part := chat.ToolPart(chat.ToolInvocation{ToolName: "calc", Args: json.RawMessage(`{broken`)})

	assert.Equal(t, len("calc")+len("{broken"), PartBytes(part))
}

func TestByteRatioEstimator_Pluggable(t *testing.T) {
	e := NewByteRatioEstimator(2)
	assert.Equal(t, 3, e.EstimateText("abcde"))
	assert.Equal(t, 2, NewByteRatioEstimator(0).EstimateBytes(5))
}
