package conversation

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emirks/tercihify-chat/internal/domain/chat"
)

// msgOfTokens builds a message whose estimate is exactly tokens under the default estimator.
func msgOfTokens(role chat.Role, id string, tokens int) chat.Message {
	return chat.Message{ID: id, Role: role, Content: strings.Repeat("a", tokens*DefaultBytesPerToken)}
}

func alternatingHistory(n, tokensEach int) []chat.Message {
	messages := make([]chat.Message, 0, n)
	for i := 0; i < n; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		messages = append(messages, msgOfTokens(role, fmt.Sprintf("m%02d", i), tokensEach))
	}
	return messages
}

func ids(messages []chat.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func TestConversationLimiter_FifteenMessagesOverBudget(t *testing.T) {
	messages := alternatingHistory(15, 600)
	require.Equal(t, 9000, EstimateTokens(messages))

	limiter := NewConversationLimiter(WithMaxTokens(8000))
	require.True(t, limiter.ShouldLimit(messages))

	result := limiter.LimitConversation(messages)

	assert.True(t, result.Limited)
	assert.True(t, result.WithinBudget)
	assert.Equal(t, 13, result.KeptCount)
	assert.Equal(t, 2, result.RemovedCount)
	assert.Equal(t, 7800, result.KeptTokens)
	assert.Equal(t, 1200, result.TokensSaved)
	assert.Equal(t, ids(messages[2:]), ids(result.Messages))
	assert.False(t, limiter.ShouldLimit(result.Messages))
}

func TestConversationLimiter_NoopWhenWithinBudget(t *testing.T) {
	messages := alternatingHistory(4, 100)
	limiter := NewConversationLimiter()

	assert.False(t, limiter.ShouldLimit(messages))
	result := limiter.LimitConversation(messages)

	assert.False(t, result.Limited)
	assert.Equal(t, messages, result.Messages)
	assert.Equal(t, 0, result.TokensSaved)
	assert.Equal(t, DefaultMaxTokens, limiter.MaxTokens())
}

func TestConversationLimiter_PreservesSystemMessagesFirst(t *testing.T) {
	messages := []chat.Message{
		msgOfTokens(chat.RoleUser, "u1", 400),
		msgOfTokens(chat.RoleSystem, "sys", 100),
		msgOfTokens(chat.RoleAssistant, "a1", 400),
		msgOfTokens(chat.RoleUser, "u2", 400),
	}

	result := NewConversationLimiter(WithMaxTokens(1000)).LimitConversation(messages)

	assert.Equal(t, []string{"sys", "a1", "u2"}, ids(result.Messages))
	assert.Equal(t, 900, result.KeptTokens)
	assert.Equal(t, 0, result.SystemMessagesDropped)
}

func TestConversationLimiter_StopsAtFirstOverflow(t *testing.T) {
	messages := []chat.Message{
		msgOfTokens(chat.RoleUser, "small-old", 10),
		msgOfTokens(chat.RoleAssistant, "big", 900),
		msgOfTokens(chat.RoleUser, "recent", 200),
	}

	result := NewConversationLimiter(WithMaxTokens(500)).LimitConversation(messages)

	// small-old would fit but the window is contiguous
	assert.Equal(t, []string{"recent"}, ids(result.Messages))
}

func TestConversationLimiter_CollapsesOversizedSystemMessages(t *testing.T) {
	messages := []chat.Message{
		msgOfTokens(chat.RoleSystem, "sys-old", 600),
		msgOfTokens(chat.RoleSystem, "sys-new", 300),
		msgOfTokens(chat.RoleUser, "u1", 100),
		msgOfTokens(chat.RoleUser, "u2", 100),
	}

	result := NewConversationLimiter(WithMaxTokens(500)).LimitConversation(messages)

	assert.Equal(t, []string{"sys-new", "u1", "u2"}, ids(result.Messages))
	assert.Equal(t, 1, result.SystemMessagesDropped)
	assert.True(t, result.WithinBudget)
}

func TestConversationLimiter_NoSystemMessageFitsAlone(t *testing.T) {
	messages := []chat.Message{
		msgOfTokens(chat.RoleSystem, "sys", 900),
		msgOfTokens(chat.RoleUser, "u1", 100),
	}

	result := NewConversationLimiter(WithMaxTokens(500)).LimitConversation(messages)

	assert.Equal(t, []string{"u1"}, ids(result.Messages))
	assert.Equal(t, 1, result.SystemMessagesDropped)
	assert.True(t, result.WithinBudget)
}

func TestConversationLimiter_WithoutSystemPreservation(t *testing.T) {
	messages := []chat.Message{
		msgOfTokens(chat.RoleSystem, "sys", 100),
		msgOfTokens(chat.RoleUser, "u1", 400),
		msgOfTokens(chat.RoleUser, "u2", 400),
	}

	result := NewConversationLimiter(WithMaxTokens(500), WithSystemMessagePreservation(false)).LimitConversation(messages)

	assert.Equal(t, []string{"u2"}, ids(result.Messages))
	assert.Equal(t, 1, result.SystemMessagesDropped)
}

func TestConversationLimiter_WithoutSystemPreservationDropsRecentSystem(t *testing.T) {
	messages := []chat.Message{
		msgOfTokens(chat.RoleUser, "u1", 400),
		msgOfTokens(chat.RoleUser, "u2", 300),
		msgOfTokens(chat.RoleSystem, "sys", 50),
	}

	result := NewConversationLimiter(WithMaxTokens(500), WithSystemMessagePreservation(false)).LimitConversation(messages)

	assert.Equal(t, []string{"u2"}, ids(result.Messages))
	assert.Equal(t, 1, result.SystemMessagesDropped)
	assert.True(t, result.WithinBudget)
}

func TestConversationLimiter_WithoutSystemPreservationUnderBudget(t *testing.T) {
	messages := []chat.Message{
		msgOfTokens(chat.RoleSystem, "sys", 50),
		msgOfTokens(chat.RoleUser, "u1", 100),
	}

	result := NewConversationLimiter(WithMaxTokens(500), WithSystemMessagePreservation(false)).LimitConversation(messages)

	assert.Equal(t, []string{"sys", "u1"}, ids(result.Messages))
	assert.False(t, result.Limited)
}

func TestConversationLimiter_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(20)
		messages := make([]chat.Message, 0, n)
		for i := 0; i < n; i++ {
			role := chat.RoleUser
			if rng.Intn(6) == 0 {
				role = chat.RoleSystem
			}
			messages = append(messages, chat.Message{
				ID:      fmt.Sprintf("%d-%d", iter, i),
				Role:    role,
				Content: strings.Repeat("z", rng.Intn(2000)),
			})
		}
		maxTokens := 100 + rng.Intn(3000)
		limiter := NewConversationLimiter(WithMaxTokens(maxTokens))

		original := EstimateTokens(messages)
		assert.Equal(t, original > maxTokens, limiter.ShouldLimit(messages))

		result := limiter.LimitConversation(messages)
		assert.Equal(t, original-result.KeptTokens, result.TokensSaved)
		assert.GreaterOrEqual(t, result.TokensSaved, 0)

		if !limiter.ShouldLimit(messages) {
			assert.Equal(t, messages, result.Messages)
			continue
		}

		var nonSystem []chat.Message
		for _, m := range messages {
			if !m.IsSystem() {
				nonSystem = append(nonSystem, m)
			}
		}
		var keptSystem, keptRest []chat.Message
		for _, m := range result.Messages {
			if m.IsSystem() {
				require.Empty(t, keptRest, "system messages must come first")
				keptSystem = append(keptSystem, m)
			} else {
				keptRest = append(keptRest, m)
			}
		}
		assert.Equal(t, ids(nonSystem[len(nonSystem)-len(keptRest):]), ids(keptRest), "kept messages must be a suffix")
		assert.LessOrEqual(t, result.KeptTokens, maxTokens)
		assert.LessOrEqual(t, len(keptSystem), len(messages)-len(nonSystem))
	}
}
