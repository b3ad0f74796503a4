package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emirks/tercihify-chat/internal/domain/chat"
	"github.com/emirks/tercihify-chat/pkg/errors"
	"github.com/emirks/tercihify-chat/pkg/logger"
	"github.com/emirks/tercihify-chat/pkg/templates"
)

const (
	// DefaultKeepRecentMessages is how many trailing messages are never summarized
	DefaultKeepRecentMessages = 6
	// DefaultMaxSummaryTokens bounds the recap length
	DefaultMaxSummaryTokens = 300
	// DefaultSummaryTriggerTokens sits below DefaultMaxTokens; the limiter runs first
	// and never leaves more than its budget, so a trigger at or above it cannot fire
	DefaultSummaryTriggerTokens = 6000

	summaryPrefix = "Summary of earlier conversation: "
)

// Completer is the auxiliary model used for recaps
type Completer interface {
	Complete(ctx context.Context, prompt string, maxOutputTokens int) (string, error)
}

// SummaryPolicy decides whether a conversation should be summarized
type SummaryPolicy interface {
	ShouldSummarize(messages []chat.Message, estimatedTokens int) bool
}

// DisabledPolicy never summarizes
type DisabledPolicy struct{}

func (DisabledPolicy) ShouldSummarize([]chat.Message, int) bool { return false }

// ThresholdPolicy summarizes long conversations that exceed a token threshold
type ThresholdPolicy struct {
	TriggerTokens      int
	KeepRecentMessages int
}

func (p ThresholdPolicy) ShouldSummarize(messages []chat.Message, estimatedTokens int) bool {
	return len(messages) > p.KeepRecentMessages && estimatedTokens > p.TriggerTokens
}

// SummarizerConfig configures the summarizer
type SummarizerConfig struct {
	MaxTokens          int
	KeepRecentMessages int
	SummaryModel       string
	MaxSummaryTokens   int
}

// SummaryMetadata describes one summarization attempt
type SummaryMetadata struct {
	Applied                bool      `json:"applied"`
	OriginalMessageCount   int       `json:"originalMessageCount"`
	SummarizedMessageCount int       `json:"summarizedMessageCount"`
	TokensSaved            int       `json:"tokensSaved"`
	Model                  string    `json:"model,omitempty"`
	SummarizedAt           time.Time `json:"summarizedAt"`
	FailureReason          string    `json:"failureReason,omitempty"`
}

// AdditionalData flattens the metadata for a usage step
func (m SummaryMetadata) AdditionalData() map[string]any {
	data := map[string]any{
		"applied":                m.Applied,
		"originalMessageCount":   m.OriginalMessageCount,
		"summarizedMessageCount": m.SummarizedMessageCount,
		"tokensSaved":            m.TokensSaved,
		"model":                  m.Model,
		"summarizedAt":           m.SummarizedAt,
	}
	if m.FailureReason != "" {
		data["failureReason"] = m.FailureReason
	}
	return data
}

// SummaryResult is the possibly summarized message list
type SummaryResult struct {
	Messages []chat.Message
	Metadata SummaryMetadata
}

// ConversationSummarizer replaces older messages with a single system recap
type ConversationSummarizer struct {
	cfg       SummarizerConfig
	completer Completer
	policy    SummaryPolicy
	estimator TokenEstimator
	log       *logger.Logger
	now       func() time.Time
}

// SummarizerOption configures a ConversationSummarizer
type SummarizerOption func(*ConversationSummarizer)

// WithSummaryPolicy replaces the gate. The default never summarizes.
func WithSummaryPolicy(p SummaryPolicy) SummarizerOption {
	return func(s *ConversationSummarizer) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithSummarizerEstimator replaces the token estimator
func WithSummarizerEstimator(e TokenEstimator) SummarizerOption {
	return func(s *ConversationSummarizer) {
		if e != nil {
			s.estimator = e
		}
	}
}

// WithSummarizerLogger sets the logger
func WithSummarizerLogger(l *logger.Logger) SummarizerOption {
	return func(s *ConversationSummarizer) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) SummarizerOption {
	return func(s *ConversationSummarizer) {
		s.now = now
	}
}

// NewConversationSummarizer creates a summarizer. Summarization stays off until a policy enables it.
func NewConversationSummarizer(cfg SummarizerConfig, completer Completer, opts ...SummarizerOption) *ConversationSummarizer {
	if cfg.KeepRecentMessages <= 0 {
		cfg.KeepRecentMessages = DefaultKeepRecentMessages
	}
	if cfg.MaxSummaryTokens <= 0 {
		cfg.MaxSummaryTokens = DefaultMaxSummaryTokens
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	s := &ConversationSummarizer{
		cfg:       cfg,
		completer: completer,
		policy:    DisabledPolicy{},
		estimator: DefaultEstimator,
		log:       logger.Get(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "conversation_summarizer")
	return s
}

// ShouldSummarize consults the policy gate
func (s *ConversationSummarizer) ShouldSummarize(messages []chat.Message) bool {
	return s.policy.ShouldSummarize(messages, s.estimator.EstimateMessages(messages))
}

// SummarizeConversation compacts everything but the most recent messages.
// Any failure returns the input unchanged with zero savings.
func (s *ConversationSummarizer) SummarizeConversation(ctx context.Context, messages []chat.Message) SummaryResult {
	meta := SummaryMetadata{
		OriginalMessageCount: len(messages),
		Model:                s.cfg.SummaryModel,
		SummarizedAt:         s.now(),
	}

	keep := s.cfg.KeepRecentMessages
	if len(messages) <= keep {
		meta.FailureReason = "nothing to summarize"
		return SummaryResult{Messages: chat.CloneMessages(messages), Metadata: meta}
	}

	split := len(messages) - keep
	older, recent := messages[:split], messages[split:]

	recap, err := s.recap(ctx, older)
	if err != nil {
		s.log.Warnw("Summarization failed, using original messages",
			"messages", len(messages),
			"model", s.cfg.SummaryModel,
			"error", err,
		)
		meta.FailureReason = err.Error()
		return SummaryResult{Messages: chat.CloneMessages(messages), Metadata: meta}
	}

	out := make([]chat.Message, 0, keep+1)
	out = append(out, chat.Message{
		Role:      chat.RoleSystem,
		Content:   summaryPrefix + recap,
		CreatedAt: meta.SummarizedAt,
	})
	out = append(out, chat.CloneMessages(recent)...)

	saved := s.estimator.EstimateMessages(messages) - s.estimator.EstimateMessages(out)
	if saved < 0 {
		saved = 0
	}

	meta.Applied = true
	meta.SummarizedMessageCount = len(older)
	meta.TokensSaved = saved

	s.log.Debugw("Conversation summarized",
		"summarized_messages", len(older),
		"kept_messages", len(recent),
		"tokens_saved", saved,
	)
	return SummaryResult{Messages: out, Metadata: meta}
}

func (s *ConversationSummarizer) recap(ctx context.Context, older []chat.Message) (string, error) {
	if s.completer == nil {
		return "", errors.Wrap(errors.ErrSummarizationFailed, "no completer configured")
	}

	words := s.cfg.MaxSummaryTokens * 3 / 4
	prompt, err := templates.Get().Render(templates.SummaryPrompt, templates.SummaryPromptData{
		MaxWords:   words,
		Transcript: RenderTranscript(older),
	})
	if err != nil {
		return "", errors.Newf("%w: %w", errors.ErrSummarizationFailed, err)
	}

	text, err := s.completer.Complete(ctx, prompt, s.cfg.MaxSummaryTokens)
	if err != nil {
		return "", errors.Newf("%w: %w", errors.ErrSummarizationFailed, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.Newf("%w: %w", errors.ErrSummarizationFailed, errors.ErrEmptyCompletion)
	}
	return text, nil
}

// RenderTranscript formats messages as "role: text" lines
func RenderTranscript(messages []chat.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		var parts []string
		if strings.TrimSpace(m.Content) != "" {
			parts = append(parts, m.Content)
		}
		for _, p := range m.Parts {
			switch {
			case p.IsText():
				if p.Text != m.Content && strings.TrimSpace(p.Text) != "" {
					parts = append(parts, p.Text)
				}
			case p.IsToolInvocation():
				parts = append(parts, fmt.Sprintf("[tool call: %s]", p.ToolInvocation.ToolName))
			}
		}
		if len(parts) == 0 {
			continue
		}
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(strings.Join(parts, " "))
		sb.WriteString("\n")
	}
	return sb.String()
}
