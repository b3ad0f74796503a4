package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/emirks/tercihify-chat/internal/domain/usage"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

func sampleLog() *usage.Log {
	log := usage.NewLog("session-1", "msg-1", "user-1", "gpt-4o-mini", 2048, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	log.PromptTokens = 500
	log.CompletionTokens = 120
	log.TotalTokens = 620
	log.Steps = []usage.Step{
		{StepName: usage.StepContentCleaning, AdditionalData: map[string]any{"estimatedTokensSaved": 250}},
		{StepName: usage.StepConversationLimitation, AdditionalData: map[string]any{"tokensSaved": float64(1200)}},
		{StepName: usage.StepConversationSummarization, AdditionalData: map[string]any{"applied": true}},
		{StepName: usage.StepToolCall, ToolCalls: []usage.ToolCallResult{{ToolName: "search_programs"}, {ToolName: "get_quota"}}},
	}
	return log
}

func TestNewTurnCompletedEvent(t *testing.T) {
	event := NewTurnCompletedEvent(sampleLog())

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, EventVersion, event.Version)
	assert.Equal(t, "session-1", event.SessionID)
	assert.Equal(t, 620, event.TotalTokens)
	assert.Equal(t, 4, event.StepCount)
	assert.Equal(t, 2, event.ToolCallCount)
	assert.Equal(t, 250, event.CleaningTokensSaved)
	assert.Equal(t, 1200, event.LimitationTokensSaved)
	assert.True(t, event.Summarized)
	assert.Equal(t, "success", event.Status)
}

func TestTurnCompletedEventJSON(t *testing.T) {
	data, err := json.Marshal(NewTurnCompletedEvent(sampleLog()))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "msg-1", decoded["messageId"])
	assert.NotContains(t, decoded, "error")
}

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) Publish(ctx context.Context, topic string, key string, event interface{}) error {
	args := m.Called(ctx, topic, key, event)
	return args.Error(0)
}

func TestPublisherKeysBySession(t *testing.T) {
	producer := new(mockProducer)
	publisher := NewPublisher(producer, "", logger.Nop())
	event := NewTurnCompletedEvent(sampleLog())

	producer.On("Publish", mock.Anything, TopicTurnCompleted, "session-1", event).Return(nil).Once()

	require.NoError(t, publisher.PublishTurnCompleted(context.Background(), event))
	producer.AssertExpectations(t)
}

func TestPublisherWrapsErrors(t *testing.T) {
	producer := new(mockProducer)
	publisher := NewPublisher(producer, "custom.topic", logger.Nop())
	brokerDown := errors.New("broker down")

	producer.On("Publish", mock.Anything, "custom.topic", mock.Anything, mock.Anything).Return(brokerDown)

	err := publisher.PublishTurnCompleted(context.Background(), TurnCompletedEvent{SessionID: "s"})
	require.Error(t, err)
	assert.ErrorIs(t, err, brokerDown)
}
