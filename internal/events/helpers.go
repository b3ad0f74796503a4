package events

import (
	"strings"

	"github.com/google/uuid"
)

// Event topic constants
const (
	// Usage events
	TopicTurnCompleted = "chat.usage.turns"
)

// EventVersion is bumped when a payload changes incompatibly
const EventVersion = "1.0"

// generateEventID generates a unique event ID
func generateEventID() string {
	return uuid.NewString()
}

// SanitizeUTF8 drops invalid UTF-8 sequences. Provider error strings are not always valid UTF-8
// and ClickHouse rejects them in String columns.
func SanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "")
}
