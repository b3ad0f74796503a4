package conversation

import (
	"github.com/emirks/tercihify-chat/internal/domain/chat"
)

// DefaultMaxTokens is the outgoing context budget when none is configured
const DefaultMaxTokens = 8000

// LimitationResult reports what the limiter kept
type LimitationResult struct {
	Messages       []chat.Message
	OriginalCount  int
	KeptCount      int
	RemovedCount   int
	OriginalTokens int
	KeptTokens     int
	TokensSaved    int
	MaxTokens      int
	// Limited is false when the input already fit and was returned unchanged
	Limited bool
	// WithinBudget is false when even the floor could not be brought under MaxTokens
	WithinBudget bool
	// SystemMessagesDropped counts system messages that were not kept
	SystemMessagesDropped int
}

// AdditionalData flattens the result for a usage step
func (r LimitationResult) AdditionalData() map[string]any {
	return map[string]any{
		"originalCount":         r.OriginalCount,
		"keptCount":             r.KeptCount,
		"removedCount":          r.RemovedCount,
		"originalTokens":        r.OriginalTokens,
		"keptTokens":            r.KeptTokens,
		"tokensSaved":           r.TokensSaved,
		"maxTokens":             r.MaxTokens,
		"limited":               r.Limited,
		"withinBudget":          r.WithinBudget,
		"systemMessagesDropped": r.SystemMessagesDropped,
	}
}

// ConversationLimiter keeps the outgoing message list under a token budget,
// dropping the oldest non-system messages first.
type ConversationLimiter struct {
	maxTokens      int
	preserveSystem bool
	estimator      TokenEstimator
}

// LimiterOption configures a ConversationLimiter
type LimiterOption func(*ConversationLimiter)

// WithMaxTokens sets the budget. Non-positive values keep the default.
func WithMaxTokens(n int) LimiterOption {
	return func(l *ConversationLimiter) {
		if n > 0 {
			l.maxTokens = n
		}
	}
}

// WithSystemMessagePreservation toggles seeding the kept set with system messages.
// With preservation off, system messages are dropped whenever limiting applies: the
// recency window only walks non-system messages, so they never compete for room.
func WithSystemMessagePreservation(preserve bool) LimiterOption {
	return func(l *ConversationLimiter) {
		l.preserveSystem = preserve
	}
}

// WithLimiterEstimator replaces the token estimator
func WithLimiterEstimator(e TokenEstimator) LimiterOption {
	return func(l *ConversationLimiter) {
		if e != nil {
			l.estimator = e
		}
	}
}

// NewConversationLimiter creates a limiter with an 8000 token budget that preserves system messages
func NewConversationLimiter(opts ...LimiterOption) *ConversationLimiter {
	l := &ConversationLimiter{
		maxTokens:      DefaultMaxTokens,
		preserveSystem: true,
		estimator:      DefaultEstimator,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MaxTokens returns the configured budget
func (l *ConversationLimiter) MaxTokens() int {
	return l.maxTokens
}

// ShouldLimit reports whether the estimate exceeds the budget
func (l *ConversationLimiter) ShouldLimit(messages []chat.Message) bool {
	return l.estimator.EstimateMessages(messages) > l.maxTokens
}

// LimitConversation applies the sliding window. It is safe to call unconditionally:
// input that already fits comes back unchanged.
func (l *ConversationLimiter) LimitConversation(messages []chat.Message) LimitationResult {
	originalTokens := l.estimator.EstimateMessages(messages)
	result := LimitationResult{
		OriginalCount:  len(messages),
		OriginalTokens: originalTokens,
		MaxTokens:      l.maxTokens,
	}

	if originalTokens <= l.maxTokens {
		result.Messages = chat.CloneMessages(messages)
		result.KeptCount = len(messages)
		result.KeptTokens = originalTokens
		result.WithinBudget = true
		return result
	}
	result.Limited = true

	var system, rest []chat.Message
	for _, m := range messages {
		if m.IsSystem() {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	seed, used := l.seedSystem(system)
	result.SystemMessagesDropped = len(system) - len(seed)

	// Walk newest to oldest; the first message that does not fit ends the window.
	start := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		cost := l.estimator.EstimateMessage(rest[i])
		if used+cost > l.maxTokens {
			break
		}
		used += cost
		start = i
	}

	kept := make([]chat.Message, 0, len(seed)+len(rest)-start)
	kept = append(kept, chat.CloneMessages(seed)...)
	kept = append(kept, chat.CloneMessages(rest[start:])...)

	result.Messages = kept
	result.KeptCount = len(kept)
	result.RemovedCount = len(messages) - len(kept)
	result.KeptTokens = l.estimator.EstimateMessages(kept)
	result.TokensSaved = originalTokens - result.KeptTokens
	result.WithinBudget = result.KeptTokens <= l.maxTokens
	return result
}

// seedSystem picks the system messages that start the kept set and their token cost.
// When all of them together exceed the budget, only the most recent one is kept if it fits alone.
func (l *ConversationLimiter) seedSystem(system []chat.Message) ([]chat.Message, int) {
	if !l.preserveSystem || len(system) == 0 {
		return nil, 0
	}

	total := 0
	for _, m := range system {
		total += l.estimator.EstimateMessage(m)
	}
	if total <= l.maxTokens {
		return system, total
	}

	last := system[len(system)-1]
	if cost := l.estimator.EstimateMessage(last); cost <= l.maxTokens {
		return []chat.Message{last}, cost
	}
	return nil, 0
}
