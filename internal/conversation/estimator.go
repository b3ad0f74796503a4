package conversation

import (
	"encoding/json"

	"github.com/emirks/tercihify-chat/internal/domain/chat"
)

// DefaultBytesPerToken is the byte-to-token approximation used when no tokenizer is wired in
const DefaultBytesPerToken = 4

// TokenEstimator approximates token counts for outgoing messages
type TokenEstimator interface {
	EstimateMessages(messages []chat.Message) int
	EstimateMessage(message chat.Message) int
	EstimateText(text string) int
	EstimateBytes(n int) int
}

// ByteRatioEstimator counts bytes and divides by a fixed ratio, rounding up.
// Tool results are never counted; the cleaner removes them before submission.
type ByteRatioEstimator struct {
	BytesPerToken int
}

// NewByteRatioEstimator returns an estimator with the given ratio, falling back to the default
func NewByteRatioEstimator(bytesPerToken int) ByteRatioEstimator {
	if bytesPerToken <= 0 {
		bytesPerToken = DefaultBytesPerToken
	}
	return ByteRatioEstimator{BytesPerToken: bytesPerToken}
}

// DefaultEstimator is the 4 bytes/token estimator
var DefaultEstimator TokenEstimator = NewByteRatioEstimator(DefaultBytesPerToken)

// EstimateTokens estimates a message list with the default estimator
func EstimateTokens(messages []chat.Message) int {
	return DefaultEstimator.EstimateMessages(messages)
}

// EstimateMessages sums message bytes before dividing, so rounding happens once
func (e ByteRatioEstimator) EstimateMessages(messages []chat.Message) int {
	total := 0
	for _, m := range messages {
		total += MessageBytes(m)
	}
	return e.tokens(total)
}

// EstimateMessage estimates a single message
func (e ByteRatioEstimator) EstimateMessage(message chat.Message) int {
	return e.tokens(MessageBytes(message))
}

// EstimateText estimates raw text by its byte length
func (e ByteRatioEstimator) EstimateText(text string) int {
	return e.tokens(len(text))
}

// EstimateBytes converts a byte count to tokens, rounding up
func (e ByteRatioEstimator) EstimateBytes(n int) int {
	return e.tokens(n)
}

func (e ByteRatioEstimator) tokens(bytes int) int {
	ratio := e.BytesPerToken
	if ratio <= 0 {
		ratio = DefaultBytesPerToken
	}
	return (bytes + ratio - 1) / ratio
}

// MessageBytes is the byte length the estimator charges for a message
func MessageBytes(m chat.Message) int {
	size := len(m.Content)
	for _, p := range m.Parts {
		size += PartBytes(p)
	}
	return size
}

// PartBytes is the byte length charged for one part. Malformed parts count as zero.
func PartBytes(p chat.Part) int {
	switch {
	case p.IsText():
		return len(p.Text)
	case p.IsToolInvocation():
		return toolCallBytes(p.ToolInvocation)
	default:
		return 0
	}
}

type toolCallPayload struct {
	ToolName string          `json:"toolName"`
	Args     json.RawMessage `json:"args"`
}

func toolCallBytes(inv *chat.ToolInvocation) int {
	args := inv.Args
	if len(args) == 0 {
		args = json.RawMessage("null")
	}
	encoded, err := json.Marshal(toolCallPayload{ToolName: inv.ToolName, Args: args})
	if err != nil {
		// args is not valid JSON; charge the raw bytes
		return len(inv.ToolName) + len(inv.Args)
	}
	return len(encoded)
}
