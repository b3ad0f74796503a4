package turn

import (
	"context"

	"github.com/emirks/tercihify-chat/internal/conversation"
	"github.com/emirks/tercihify-chat/internal/domain/chat"
	"github.com/emirks/tercihify-chat/internal/domain/usage"
	usagesvc "github.com/emirks/tercihify-chat/internal/services/usage"
	"github.com/emirks/tercihify-chat/pkg/errors"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

// ToolSet lists the tools offered to the model, by origin
type ToolSet struct {
	MCP        []string
	Workflow   []string
	AppDefault []string
}

// Names returns every tool name, MCP first
func (t ToolSet) Names() []string {
	names := make([]string, 0, len(t.MCP)+len(t.Workflow)+len(t.AppDefault))
	names = append(names, t.MCP...)
	names = append(names, t.Workflow...)
	names = append(names, t.AppDefault...)
	return names
}

// Request is one incoming chat turn
type Request struct {
	SessionID    string
	MessageID    string
	UserID       string
	Model        string
	SystemPrompt string
	Messages     []chat.Message
	Tools        ToolSet
	// RequestSize is the raw request body size; computed from the messages when zero
	RequestSize int
}

// ModelCall is what the pipeline hands to the model driver after context shaping
type ModelCall struct {
	Model        string
	SystemPrompt string
	Messages     []chat.Message
	Tools        []string
	// OnToolCall may be invoked from stream callbacks on any goroutine
	OnToolCall func(usage.ToolCallResult)
}

// ModelResponse is the driver's final answer with provider token usage
type ModelResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	// TotalTokens may be zero when the provider does not report it
	TotalTokens int
}

// ModelCaller drives the model for one turn, including any tool loop
type ModelCaller interface {
	Call(ctx context.Context, call ModelCall) (*ModelResponse, error)
}

// ModelCallerFunc adapts a function to ModelCaller
type ModelCallerFunc func(ctx context.Context, call ModelCall) (*ModelResponse, error)

func (f ModelCallerFunc) Call(ctx context.Context, call ModelCall) (*ModelResponse, error) {
	return f(ctx, call)
}

// AccumulatorFactory hands out one accumulator per turn
type AccumulatorFactory interface {
	NewAccumulator(opts ...usagesvc.AccumulatorOption) *usagesvc.Accumulator
}

// Pipeline shapes the conversation, calls the model and accounts for the whole turn
type Pipeline struct {
	accumulators AccumulatorFactory
	cleaner      *conversation.ContentCleaner
	limiter      *conversation.ConversationLimiter
	summarizer   *conversation.ConversationSummarizer
	log          *logger.Logger
}

// NewPipeline creates a pipeline. limiter and summarizer may be nil to skip those stages.
func NewPipeline(
	accumulators AccumulatorFactory,
	cleaner *conversation.ContentCleaner,
	limiter *conversation.ConversationLimiter,
	summarizer *conversation.ConversationSummarizer,
	log *logger.Logger,
) *Pipeline {
	if cleaner == nil {
		cleaner = conversation.NewContentCleaner(conversation.DefaultEstimator)
	}
	return &Pipeline{
		accumulators: accumulators,
		cleaner:      cleaner,
		limiter:      limiter,
		summarizer:   summarizer,
		log:          log.With("component", "turn_pipeline"),
	}
}

// Run executes one turn. The usage log is saved on every exit path, including panics and
// cancellation; persistence errors never replace the model error.
func (p *Pipeline) Run(ctx context.Context, req Request, caller ModelCaller) (*ModelResponse, error) {
	ctx = errors.WithTurn(ctx, req.SessionID, req.UserID)
	acc := p.accumulators.NewAccumulator()

	requestSize := req.RequestSize
	if requestSize == 0 {
		requestSize = requestBytes(req)
	}
	acc.Initialize(usagesvc.TurnInfo{
		SessionID:   req.SessionID,
		MessageID:   req.MessageID,
		UserID:      req.UserID,
		Model:       req.Model,
		RequestSize: requestSize,
	})

	responseSize := 0
	defer func() {
		r := recover()
		if r != nil {
			acc.LogError(errors.Newf("turn panicked: %v", r))
		}
		if err := acc.FinalizeAndSave(context.WithoutCancel(ctx), responseSize); err != nil {
			p.log.Warnw("Usage log not saved",
				"session_id", req.SessionID,
				"message_id", req.MessageID,
				"error", err,
			)
		}
		if r != nil {
			panic(r)
		}
	}()

	tools := req.Tools.Names()
	acc.LogToolsLoaded(len(req.Tools.MCP), len(req.Tools.Workflow), len(req.Tools.AppDefault), tools)
	acc.LogSystemPromptBreakdown(req.SystemPrompt, req.Messages, len(tools))

	messages := p.shape(ctx, acc, req.Messages)
	acc.SetConversationContext(req.SystemPrompt, messages)

	resp, err := caller.Call(ctx, ModelCall{
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		Messages:     messages,
		Tools:        tools,
		OnToolCall: func(call usage.ToolCallResult) {
			acc.LogToolCall(call)
		},
	})
	if err != nil {
		acc.LogError(err)
		return nil, err
	}
	if resp == nil {
		err := errors.Wrap(errors.ErrInternal, "model caller returned no response")
		acc.LogError(err)
		return nil, err
	}

	acc.LogLLMUsage(resp.PromptTokens, resp.CompletionTokens, resp.TotalTokens)
	acc.LogFinalResponse(resp.Content)
	responseSize = len(resp.Content)

	return resp, nil
}

// shape runs cleaning, then limiting and summarization when their gates fire
func (p *Pipeline) shape(ctx context.Context, acc *usagesvc.Accumulator, messages []chat.Message) []chat.Message {
	cleaned := p.cleaner.Clean(messages)
	acc.LogContentCleaning(cleaned)
	messages = cleaned.Messages

	if p.limiter != nil && p.limiter.ShouldLimit(messages) {
		limited := p.limiter.LimitConversation(messages)
		acc.LogConversationLimitation(limited)
		messages = limited.Messages
	}

	if p.summarizer != nil && p.summarizer.ShouldSummarize(messages) {
		summary := p.summarizer.SummarizeConversation(ctx, messages)
		acc.LogConversationSummarization(summary.Metadata)
		messages = summary.Messages
	}

	return messages
}

func requestBytes(req Request) int {
	n := len(req.SystemPrompt)
	for _, m := range req.Messages {
		n += conversation.MessageBytes(m)
	}
	return n
}
