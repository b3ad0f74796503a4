package usage

import (
	"context"
	"sync"
	"time"

	"github.com/emirks/tercihify-chat/internal/conversation"
	"github.com/emirks/tercihify-chat/internal/domain/chat"
	"github.com/emirks/tercihify-chat/internal/domain/usage"
	"github.com/emirks/tercihify-chat/internal/metrics"
	"github.com/emirks/tercihify-chat/pkg/errors"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

// State is the accumulator lifecycle position
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateSealed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateSealed:
		return "sealed"
	default:
		return "unknown"
	}
}

// Sink receives the finalized log exactly once
type Sink interface {
	Save(ctx context.Context, log *usage.Log) error
}

// TurnInfo identifies the turn being accounted
type TurnInfo struct {
	SessionID   string
	MessageID   string
	UserID      string
	Model       string
	RequestSize int
}

// AccumulatorOption configures an Accumulator
type AccumulatorOption func(*Accumulator)

// WithCaptureContent toggles whether raw prompt and response text is kept
func WithCaptureContent(capture bool) AccumulatorOption {
	return func(a *Accumulator) {
		a.captureContent = capture
	}
}

// WithAccumulatorClock overrides time.Now
func WithAccumulatorClock(now func() time.Time) AccumulatorOption {
	return func(a *Accumulator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithAccumulatorEstimator sets the estimator used for prompt breakdowns
func WithAccumulatorEstimator(e conversation.TokenEstimator) AccumulatorOption {
	return func(a *Accumulator) {
		if e != nil {
			a.estimator = e
		}
	}
}

// WithAccumulatorLogger sets the logger
func WithAccumulatorLogger(l *logger.Logger) AccumulatorOption {
	return func(a *Accumulator) {
		if l != nil {
			a.log = l
		}
	}
}

// Accumulator collects the usage steps of one chat turn and flushes them to a Sink once.
// It is request scoped; create one per turn.
type Accumulator struct {
	mu sync.Mutex

	state   State
	current *usage.Log
	sink    Sink

	log            *logger.Logger
	captureContent bool
	estimator      conversation.TokenEstimator
	now            func() time.Time
	started        time.Time

	// conversation snapshot, turned into a FullConversationContext at finalize
	hasContext    bool
	systemPrompt  string
	messages      []chat.Message
	finalResponse string
	toolCount     int
}

// NewAccumulator creates an uninitialized accumulator that flushes to sink
func NewAccumulator(sink Sink, opts ...AccumulatorOption) *Accumulator {
	a := &Accumulator{
		sink:           sink,
		log:            logger.Get(),
		captureContent: true,
		estimator:      conversation.DefaultEstimator,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With("component", "usage_accumulator")
	return a
}

// State reports the lifecycle position
func (a *Accumulator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Initialize starts accounting for a turn
func (a *Accumulator) Initialize(info TurnInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateUninitialized {
		a.warn("already_initialized", "initialize")
		return
	}

	a.started = a.now()
	a.current = usage.NewLog(info.SessionID, info.MessageID, info.UserID, info.Model, info.RequestSize, a.started)
	a.state = StateActive

	a.log.Debugw("Usage accounting started",
		"session_id", info.SessionID,
		"message_id", info.MessageID,
		"model", info.Model,
	)
}

// AddStep appends a step and folds its tokens into the log totals
func (a *Accumulator) AddStep(step usage.Step) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addStepLocked(step, "add_step")
}

func (a *Accumulator) addStepLocked(step usage.Step, op string) bool {
	if !a.activeLocked(op) {
		return false
	}
	if step.Timestamp.IsZero() {
		step.Timestamp = a.now()
	}

	prompt, completion, total := step.TokenDelta()
	a.current.PromptTokens += prompt
	a.current.CompletionTokens += completion
	a.current.TotalTokens += total
	a.current.Steps = append(a.current.Steps, step)
	return true
}

// LogToolsLoaded records the tools made available to the model by origin
func (a *Accumulator) LogToolsLoaded(mcpTools, workflowTools, appDefaultTools int, toolNames []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	count := mcpTools + workflowTools + appDefaultTools
	if a.addStepLocked(usage.Step{
		StepName: usage.StepToolsLoaded,
		AdditionalData: map[string]any{
			"mcpTools":        mcpTools,
			"workflowTools":   workflowTools,
			"appDefaultTools": appDefaultTools,
			"toolsCount":      count,
			"toolNames":       append([]string(nil), toolNames...),
		},
	}, "log_tools_loaded") {
		a.toolCount = count
	}
}

// LogSystemPromptBreakdown records the estimated prompt composition before the model call
func (a *Accumulator) LogSystemPromptBreakdown(systemPrompt string, messages []chat.Message, toolsCount int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	systemTokens := a.estimator.EstimateText(systemPrompt)
	messageTokens := a.estimator.EstimateMessages(messages)
	messagesSize := 0
	for _, m := range messages {
		messagesSize += conversation.MessageBytes(m)
	}

	step := usage.Step{
		StepName: usage.StepSystemPromptBreakdown,
		PromptBreakdown: &usage.PromptBreakdown{
			SystemPromptSize:   len(systemPrompt),
			SystemPromptTokens: systemTokens,
			MessagesSize:       messagesSize,
			MessagesTokens:     messageTokens,
			ToolsCount:         toolsCount,
			TotalEstimated:     systemTokens + messageTokens,
		},
	}
	if a.captureContent {
		step.ActualContent = &usage.CapturedContent{SystemPrompt: systemPrompt}
	}

	if a.addStepLocked(step, "log_system_prompt_breakdown") && toolsCount > 0 {
		a.toolCount = toolsCount
	}
}

// LogToolCall records executed tool calls
func (a *Accumulator) LogToolCall(calls ...usage.ToolCallResult) {
	if len(calls) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.addStepLocked(usage.Step{
		StepName:  usage.StepToolCall,
		ToolCalls: append([]usage.ToolCallResult(nil), calls...),
	}, "log_tool_call")
}

// LogContentCleaning records a cleaning report
func (a *Accumulator) LogContentCleaning(result conversation.CleaningResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.addStepLocked(usage.Step{
		StepName:       usage.StepContentCleaning,
		AdditionalData: result.AdditionalData(),
	}, "log_content_cleaning") {
		metrics.RecordTokensSaved("cleaning", result.EstimatedTokensSaved)
	}
}

// LogConversationLimitation records a limiter report
func (a *Accumulator) LogConversationLimitation(result conversation.LimitationResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.addStepLocked(usage.Step{
		StepName:       usage.StepConversationLimitation,
		AdditionalData: result.AdditionalData(),
	}, "log_conversation_limitation") {
		metrics.RecordTokensSaved("limiting", result.TokensSaved)
	}
}

// LogConversationSummarization records a summarizer outcome, applied or not
func (a *Accumulator) LogConversationSummarization(meta conversation.SummaryMetadata) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.addStepLocked(usage.Step{
		StepName:       usage.StepConversationSummarization,
		AdditionalData: meta.AdditionalData(),
	}, "log_conversation_summarization") {
		return
	}

	if meta.Applied {
		metrics.Summarizations.WithLabelValues("applied").Inc()
		metrics.RecordTokensSaved("summarization", meta.TokensSaved)
	} else {
		metrics.Summarizations.WithLabelValues("fallback").Inc()
	}
}

// LogLLMUsage records provider token usage. A zero total means prompt+completion.
func (a *Accumulator) LogLLMUsage(promptTokens, completionTokens, totalTokens int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	step := usage.Step{
		StepName:         usage.StepFinalLLMCall,
		PromptTokens:     usage.IntPtr(promptTokens),
		CompletionTokens: usage.IntPtr(completionTokens),
	}
	if totalTokens > 0 {
		step.TotalTokens = usage.IntPtr(totalTokens)
	}
	a.addStepLocked(step, "log_llm_usage")
}

// LogFinalResponse records the assistant's response size, and its text when capture is on
func (a *Accumulator) LogFinalResponse(content string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	step := usage.Step{
		StepName:       usage.StepFinalResponse,
		AdditionalData: map[string]any{"responseSize": len(content)},
	}
	if a.captureContent {
		step.ActualContent = &usage.CapturedContent{Response: content}
	}
	if a.addStepLocked(step, "log_final_response") {
		a.finalResponse = content
	}
}

// LogError records a turn failure and marks the log as errored
func (a *Accumulator) LogError(err error) {
	if err == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.addStepLocked(usage.Step{
		StepName:       usage.StepError,
		AdditionalData: map[string]any{"error": err.Error()},
	}, "log_error") {
		a.current.Status = usage.StatusError
		a.current.ErrorText = err.Error()
	}
}

// SetConversationContext keeps the final prompt for the token breakdown built at finalize
func (a *Accumulator) SetConversationContext(systemPrompt string, messages []chat.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.activeLocked("set_conversation_context") {
		return
	}
	a.hasContext = true
	a.systemPrompt = systemPrompt
	a.messages = chat.CloneMessages(messages)
}

// FinalizeAndSave seals the accumulator and hands the log to the sink. The returned error is
// for inspection only; callers log it and carry on.
func (a *Accumulator) FinalizeAndSave(ctx context.Context, responseSize int) error {
	a.mu.Lock()
	switch a.state {
	case StateUninitialized:
		a.warn("not_initialized", "finalize")
		a.mu.Unlock()
		return errors.ErrAccumulatorNotInitialized
	case StateSealed:
		a.warn("sealed", "finalize")
		a.mu.Unlock()
		return errors.ErrAccumulatorSealed
	}

	a.state = StateSealed
	log := a.current
	a.current = nil
	log.ResponseSize = responseSize
	log.ExecutionTimeMs = a.now().Sub(a.started).Milliseconds()
	if a.hasContext {
		log.Context = a.buildContext(log)
	}
	a.messages = nil
	a.mu.Unlock()

	if a.sink == nil {
		return nil
	}
	if err := a.sink.Save(ctx, log); err != nil {
		a.log.ErrorwContext(ctx, "Failed to save usage log",
			"session_id", log.SessionID,
			"message_id", log.MessageID,
			"error", err,
		)
		return err
	}
	return nil
}

func (a *Accumulator) buildContext(log *usage.Log) *usage.FullConversationContext {
	breakdown := usage.NewTokenBreakdown(usage.BreakdownInput{
		PromptTokens:       log.PromptTokens,
		CompletionTokens:   log.CompletionTokens,
		TotalTokens:        log.TotalTokens,
		SystemPromptTokens: a.estimator.EstimateText(a.systemPrompt),
		MessageTokens:      a.estimator.EstimateMessages(a.messages),
		ToolCount:          a.toolCount,
	})

	fc := &usage.FullConversationContext{TokenBreakdown: breakdown}
	if a.captureContent {
		fc.SystemPrompt = a.systemPrompt
		fc.Messages = a.messages
		fc.FinalResponse = a.finalResponse
	}
	return fc
}

func (a *Accumulator) activeLocked(op string) bool {
	switch a.state {
	case StateActive:
		return true
	case StateUninitialized:
		a.warn("not_initialized", op)
	default:
		a.warn("sealed", op)
	}
	return false
}

func (a *Accumulator) warn(reason, op string) {
	metrics.InstrumentationWarnings.WithLabelValues(reason).Inc()
	a.log.Warnw("Usage recorder call ignored", "op", op, "reason", reason, "state", a.state.String())
}
