package ai

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"github.com/emirks/tercihify-chat/pkg/errors"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiCompleter produces summaries with the Gemini API
type GeminiCompleter struct {
	client *genai.Client
	model  string
}

// NewGeminiCompleter creates a Gemini API client for model
func NewGeminiCompleter(ctx context.Context, apiKey, model string) (*GeminiCompleter, error) {
	if err := requireKey(ProviderGemini, apiKey); err != nil {
		return nil, err
	}
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create gemini client")
	}
	return &GeminiCompleter{client: client, model: model}, nil
}

// Complete runs one GenerateContent call and returns its text
func (c *GeminiCompleter) Complete(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{genai.NewPartFromText(prompt)},
	}}

	config := &genai.GenerateContentConfig{}
	if maxOutputTokens > 0 {
		config.MaxOutputTokens = int32(maxOutputTokens)
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", errors.Wrap(err, "gemini generate content")
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", errors.Wrap(errors.ErrEmptyCompletion, "gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}
