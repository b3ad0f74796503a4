package ai

import (
	"context"
	"strings"
	"time"

	"github.com/emirks/tercihify-chat/internal/conversation"
	"github.com/emirks/tercihify-chat/pkg/errors"
)

// ProviderName identifies a completion backend
type ProviderName string

const (
	ProviderOpenAI    ProviderName = "openai"
	ProviderGemini    ProviderName = "gemini"
	ProviderAnthropic ProviderName = "anthropic"
)

// CompleterConfig selects and configures the summary completer
type CompleterConfig struct {
	Provider          ProviderName
	Model             string
	OpenAIKey         string
	GeminiKey         string
	AnthropicKey      string
	RequestsPerMinute int
	Timeout           time.Duration
}

// NewCompleter builds the configured provider wrapped with rate limiting and a per-call timeout
func NewCompleter(ctx context.Context, cfg CompleterConfig) (conversation.Completer, error) {
	var (
		base conversation.Completer
		err  error
	)

	switch ProviderName(strings.ToLower(string(cfg.Provider))) {
	case ProviderOpenAI:
		base, err = NewOpenAICompleter(cfg.OpenAIKey, cfg.Model)
	case ProviderGemini:
		base, err = NewGeminiCompleter(ctx, cfg.GeminiKey, cfg.Model)
	case ProviderAnthropic:
		base, err = NewAnthropicCompleter(cfg.AnthropicKey, cfg.Model)
	default:
		return nil, errors.Wrapf(errors.ErrUnknownProvider, "provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewRateLimitedCompleter(base, cfg.RequestsPerMinute, cfg.Timeout), nil
}

// requireKey validates constructor input shared by every provider
func requireKey(provider ProviderName, apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return errors.Wrapf(errors.ErrInvalidInput, "%s API key is required", provider)
	}
	return nil
}
