package ai

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/emirks/tercihify-chat/pkg/errors"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 512
)

// AnthropicCompleter produces summaries with the Anthropic Messages API
type AnthropicCompleter struct {
	client anthropic.Client
	model  string
}

// NewAnthropicCompleter creates a completer for model, defaulting to a Haiku-class model
func NewAnthropicCompleter(apiKey, model string, opts ...option.RequestOption) (*AnthropicCompleter, error) {
	if err := requireKey(ProviderAnthropic, apiKey); err != nil {
		return nil, err
	}
	if model == "" {
		model = defaultAnthropicModel
	}

	options := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicCompleter{client: anthropic.NewClient(options...), model: model}, nil
}

// Complete sends prompt as a single user turn and joins the text blocks of the reply
func (c *AnthropicCompleter) Complete(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	// max_tokens is mandatory for this API
	if maxOutputTokens <= 0 {
		maxOutputTokens = defaultAnthropicMaxTokens
	}

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxOutputTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "anthropic messages")
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
