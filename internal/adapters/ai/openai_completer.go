package ai

import (
	"context"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/emirks/tercihify-chat/pkg/errors"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAICompleter produces summaries with the OpenAI chat completions API
type OpenAICompleter struct {
	client openai.Client // NewClient returns Client (not *Client)
	model  string
}

// NewOpenAICompleter creates a completer for model. Extra request options are applied after the API key.
func NewOpenAICompleter(apiKey, model string, opts ...option.RequestOption) (*OpenAICompleter, error) {
	if err := requireKey(ProviderOpenAI, apiKey); err != nil {
		return nil, err
	}
	if model == "" {
		model = defaultOpenAIModel
	}

	options := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAICompleter{client: openai.NewClient(options...), model: model}, nil
}

// Complete returns the first choice of a single-message chat completion
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModel(c.model),
	}
	if maxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxOutputTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", errors.Wrap(err, "openai completion")
	}
	if len(completion.Choices) == 0 {
		return "", errors.Wrap(errors.ErrEmptyCompletion, "openai returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}
