package turn

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emirks/tercihify-chat/internal/conversation"
	"github.com/emirks/tercihify-chat/internal/domain/chat"
	"github.com/emirks/tercihify-chat/internal/domain/usage"
	usagesvc "github.com/emirks/tercihify-chat/internal/services/usage"
	pkgerrors "github.com/emirks/tercihify-chat/pkg/errors"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

type recordingSink struct {
	mu     sync.Mutex
	logs   []*usage.Log
	ctxErr []error
	turns  [][2]string
}

func (s *recordingSink) Save(ctx context.Context, log *usage.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	s.ctxErr = append(s.ctxErr, ctx.Err())
	sessionID, userID := pkgerrors.TurnFromContext(ctx)
	s.turns = append(s.turns, [2]string{sessionID, userID})
	return nil
}

type sinkFactory struct {
	sink *recordingSink
}

func (f sinkFactory) NewAccumulator(opts ...usagesvc.AccumulatorOption) *usagesvc.Accumulator {
	opts = append([]usagesvc.AccumulatorOption{usagesvc.WithAccumulatorLogger(logger.Nop())}, opts...)
	return usagesvc.NewAccumulator(f.sink, opts...)
}

type stubCompleter struct {
	recap string
}

func (s stubCompleter) Complete(context.Context, string, int) (string, error) {
	return s.recap, nil
}

func stepNames(log *usage.Log) []usage.StepName {
	names := make([]usage.StepName, len(log.Steps))
	for i, s := range log.Steps {
		names[i] = s.StepName
	}
	return names
}

func baseRequest() Request {
	return Request{
		SessionID:    "session-1",
		MessageID:    "message-1",
		UserID:       "user-1",
		Model:        "gpt-4o-mini",
		SystemPrompt: "You help students choose university programs.",
		Messages: []chat.Message{
			{Role: chat.RoleUser, Content: "Which programs accept my score?"},
			{Role: chat.RoleAssistant, Parts: []chat.Part{chat.ToolPart(chat.ToolInvocation{
				ToolCallID: "call-1",
				ToolName:   "search_programs",
				Args:       json.RawMessage(`{"score":480}`),
				State:      chat.ToolStateResult,
				Result:     json.RawMessage(`{"programs":["computer engineering","physics","mathematics"]}`),
			})}},
			{Role: chat.RoleUser, Content: "And in Istanbul only?"},
		},
		Tools: ToolSet{
			MCP:        []string{"search_programs"},
			AppDefault: []string{"get_profile", "compare"},
		},
	}
}

func newTestPipeline(sink *recordingSink, limiter *conversation.ConversationLimiter, summarizer *conversation.ConversationSummarizer) *Pipeline {
	return NewPipeline(sinkFactory{sink: sink}, nil, limiter, summarizer, logger.Nop())
}

func TestPipeline_Run_Success(t *testing.T) {
	sink := &recordingSink{}
	pipeline := newTestPipeline(sink, nil, nil)

	var seen ModelCall
	caller := ModelCallerFunc(func(ctx context.Context, call ModelCall) (*ModelResponse, error) {
		seen = call
		call.OnToolCall(usage.ToolCallResult{ToolName: "search_programs", ArgsSize: 40, ResultSize: 900, Success: true})
		return &ModelResponse{Content: "Three programs match.", PromptTokens: 1200, CompletionTokens: 80, TotalTokens: 1280}, nil
	})

	resp, err := pipeline.Run(context.Background(), baseRequest(), caller)
	require.NoError(t, err)
	assert.Equal(t, "Three programs match.", resp.Content)

	// Tool results are stripped before the model sees the history
	require.Len(t, seen.Messages, 3)
	assert.Empty(t, seen.Messages[1].Parts)
	assert.Equal(t, []string{"search_programs", "get_profile", "compare"}, seen.Tools)

	require.Len(t, sink.logs, 1)
	log := sink.logs[0]
	assert.Equal(t, []usage.StepName{
		usage.StepToolsLoaded,
		usage.StepSystemPromptBreakdown,
		usage.StepContentCleaning,
		usage.StepToolCall,
		usage.StepFinalLLMCall,
		usage.StepFinalResponse,
	}, stepNames(log))
	assert.Equal(t, usage.StatusSuccess, log.Status)
	assert.Equal(t, 1280, log.TotalTokens)
	assert.Equal(t, len("Three programs match."), log.ResponseSize)
	assert.Greater(t, log.RequestSize, 0)
	assert.NotNil(t, log.Context)
	assert.Equal(t, 3, log.Steps[0].AdditionalData["toolsCount"])
}

func TestPipeline_Run_ModelErrorIsReturnedAndSaved(t *testing.T) {
	sink := &recordingSink{}
	pipeline := newTestPipeline(sink, nil, nil)

	modelErr := errors.New("provider overloaded")
	caller := ModelCallerFunc(func(context.Context, ModelCall) (*ModelResponse, error) {
		return nil, modelErr
	})

	resp, err := pipeline.Run(context.Background(), baseRequest(), caller)
	assert.Nil(t, resp)
	assert.Same(t, modelErr, err)

	require.Len(t, sink.logs, 1)
	assert.Equal(t, usage.StatusError, sink.logs[0].Status)
	assert.Equal(t, "provider overloaded", sink.logs[0].ErrorText)
	assert.Equal(t, 0, sink.logs[0].ResponseSize)
}

func TestPipeline_Run_CancelledContextStillSaves(t *testing.T) {
	sink := &recordingSink{}
	pipeline := newTestPipeline(sink, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	caller := ModelCallerFunc(func(ctx context.Context, _ ModelCall) (*ModelResponse, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := pipeline.Run(ctx, baseRequest(), caller)
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, sink.logs, 1)
	assert.NoError(t, sink.ctxErr[0], "save must run on a detached context")
	assert.Equal(t, usage.StatusError, sink.logs[0].Status)
}

func TestPipeline_Run_PanicStillSaves(t *testing.T) {
	sink := &recordingSink{}
	pipeline := newTestPipeline(sink, nil, nil)

	caller := ModelCallerFunc(func(context.Context, ModelCall) (*ModelResponse, error) {
		panic("stream decoder crashed")
	})

	assert.PanicsWithValue(t, "stream decoder crashed", func() {
		_, _ = pipeline.Run(context.Background(), baseRequest(), caller)
	})

	require.Len(t, sink.logs, 1)
	assert.Equal(t, usage.StatusError, sink.logs[0].Status)
	assert.Contains(t, sink.logs[0].ErrorText, "stream decoder crashed")
}

func TestPipeline_Run_NilResponse(t *testing.T) {
	sink := &recordingSink{}
	pipeline := newTestPipeline(sink, nil, nil)

	_, err := pipeline.Run(context.Background(), baseRequest(), ModelCallerFunc(func(context.Context, ModelCall) (*ModelResponse, error) {
		return nil, nil
	}))
	assert.Error(t, err)
	require.Len(t, sink.logs, 1)
	assert.Equal(t, usage.StatusError, sink.logs[0].Status)
}

func TestPipeline_Run_LimitsLongConversations(t *testing.T) {
	sink := &recordingSink{}
	limiter := conversation.NewConversationLimiter(conversation.WithMaxTokens(60))
	pipeline := newTestPipeline(sink, limiter, nil)

	req := baseRequest()
	for i := 0; i < 10; i++ {
		req.Messages = append(req.Messages, chat.Message{Role: chat.RoleUser, Content: strings.Repeat("long question ", 10)})
	}

	var sent int
	caller := ModelCallerFunc(func(_ context.Context, call ModelCall) (*ModelResponse, error) {
		sent = len(call.Messages)
		return &ModelResponse{Content: "ok", PromptTokens: 50, CompletionTokens: 2}, nil
	})

	_, err := pipeline.Run(context.Background(), req, caller)
	require.NoError(t, err)
	assert.Less(t, sent, len(req.Messages))

	require.Len(t, sink.logs, 1)
	assert.Contains(t, stepNames(sink.logs[0]), usage.StepConversationLimitation)
	assert.Equal(t, 52, sink.logs[0].TotalTokens)
}

func TestPipeline_Run_SummarizesWhenPolicyFires(t *testing.T) {
	sink := &recordingSink{}
	summarizer := conversation.NewConversationSummarizer(
		conversation.SummarizerConfig{KeepRecentMessages: 2, SummaryModel: "gpt-4o-mini"},
		stubCompleter{recap: "student asked about programs"},
		conversation.WithSummaryPolicy(conversation.ThresholdPolicy{TriggerTokens: 10, KeepRecentMessages: 2}),
		conversation.WithSummarizerLogger(logger.Nop()),
	)
	pipeline := newTestPipeline(sink, nil, summarizer)

	req := baseRequest()
	for i := 0; i < 6; i++ {
		req.Messages = append(req.Messages, chat.Message{Role: chat.RoleUser, Content: strings.Repeat("details ", 20)})
	}

	var first chat.Message
	caller := ModelCallerFunc(func(_ context.Context, call ModelCall) (*ModelResponse, error) {
		first = call.Messages[0]
		return &ModelResponse{Content: "ok", PromptTokens: 10, CompletionTokens: 1, TotalTokens: 11}, nil
	})

	_, err := pipeline.Run(context.Background(), req, caller)
	require.NoError(t, err)
	assert.Equal(t, chat.RoleSystem, first.Role)
	assert.Equal(t, "Summary of earlier conversation: student asked about programs", first.Content)

	require.Len(t, sink.logs, 1)
	names := stepNames(sink.logs[0])
	assert.Contains(t, names, usage.StepConversationSummarization)
	assert.NotContains(t, names, usage.StepConversationLimitation)
}

type countingCompleter struct {
	mu    sync.Mutex
	calls int
}

func (c *countingCompleter) Complete(context.Context, string, int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return "earlier turns compared engineering programs", nil
}

func TestPipeline_Run_DefaultBudgetsLimitThenSummarize(t *testing.T) {
	sink := &recordingSink{}
	completer := &countingCompleter{}
	limiter := conversation.NewConversationLimiter(conversation.WithMaxTokens(conversation.DefaultMaxTokens))
	summarizer := conversation.NewConversationSummarizer(
		conversation.SummarizerConfig{
			MaxTokens:          conversation.DefaultMaxTokens,
			KeepRecentMessages: conversation.DefaultKeepRecentMessages,
			SummaryModel:       "gpt-4o-mini",
		},
		completer,
		conversation.WithSummaryPolicy(conversation.ThresholdPolicy{
			TriggerTokens:      conversation.DefaultSummaryTriggerTokens,
			KeepRecentMessages: conversation.DefaultKeepRecentMessages,
		}),
		conversation.WithSummarizerLogger(logger.Nop()),
	)
	pipeline := newTestPipeline(sink, limiter, summarizer)

	req := baseRequest()
	req.Messages = nil
	for i := 0; i < 15; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		req.Messages = append(req.Messages, chat.Message{Role: role, Content: strings.Repeat("program details ", 150)})
	}
	require.Greater(t, conversation.EstimateTokens(req.Messages), conversation.DefaultMaxTokens)

	caller := ModelCallerFunc(func(_ context.Context, call ModelCall) (*ModelResponse, error) {
		return &ModelResponse{Content: "ok", PromptTokens: 10, CompletionTokens: 1}, nil
	})

	_, err := pipeline.Run(context.Background(), req, caller)
	require.NoError(t, err)

	assert.Equal(t, 1, completer.calls)
	require.Len(t, sink.logs, 1)
	names := stepNames(sink.logs[0])
	assert.Contains(t, names, usage.StepConversationLimitation)
	assert.Contains(t, names, usage.StepConversationSummarization)
}

func TestPipeline_Run_TagsContextWithTurn(t *testing.T) {
	sink := &recordingSink{}
	pipeline := newTestPipeline(sink, nil, nil)

	var callerSession string
	caller := ModelCallerFunc(func(ctx context.Context, _ ModelCall) (*ModelResponse, error) {
		callerSession, _ = pkgerrors.TurnFromContext(ctx)
		return nil, errors.New("provider unavailable")
	})

	_, err := pipeline.Run(context.Background(), baseRequest(), caller)
	require.Error(t, err)

	assert.Equal(t, "session-1", callerSession)
	require.Len(t, sink.turns, 1)
	assert.Equal(t, [2]string{"session-1", "user-1"}, sink.turns[0])
}

func TestToolSet_Names(t *testing.T) {
	tools := ToolSet{MCP: []string{"a"}, Workflow: []string{"b"}, AppDefault: []string{"c"}}
	assert.Equal(t, []string{"a", "b", "c"}, tools.Names())
	assert.Empty(t, ToolSet{}.Names())
}
