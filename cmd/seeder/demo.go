package main

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/emirks/tercihify-chat/internal/conversation"
	"github.com/emirks/tercihify-chat/internal/domain/chat"
	"github.com/emirks/tercihify-chat/internal/domain/usage"
	"github.com/emirks/tercihify-chat/internal/services/turn"
	"github.com/emirks/tercihify-chat/pkg/errors"
)

var (
	demoModels = []string{"gpt-4o-mini", "gpt-4o", "claude-3-5-sonnet"}
	demoTools  = turn.ToolSet{
		Workflow:   []string{"compare_programs"},
		AppDefault: []string{"search_universities", "get_program_details"},
	}
	demoQuestions = []string{
		"Which engineering programs accept a ranking around 40000?",
		"How do the scholarship options compare between these two?",
		"Show me the quota history for the last three years.",
		"Are there English-taught alternatives in Ankara?",
		"What would a safe, balanced and ambitious list look like?",
	}
)

type demoConfig struct {
	Sessions int
	Turns    int
	Seed     int64
}

func (c demoConfig) Validate() error {
	if c.Sessions <= 0 || c.Turns <= 0 {
		return errors.Wrapf(errors.ErrInvalidInput, "sessions and turns must be positive (got %d, %d)", c.Sessions, c.Turns)
	}
	return nil
}

// seedDemoTurns drives scripted turns through the pipeline so every row is written
// the same way a live chat request would write it
func seedDemoTurns(ctx context.Context, pipeline *turn.Pipeline, cfg demoConfig) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	count := 0

	for s := 0; s < cfg.Sessions; s++ {
		sessionID := uuid.NewString()
		userID := fmt.Sprintf("demo_user_%d", s%3+1)
		model := demoModels[s%len(demoModels)]
		var history []chat.Message

		for t := 0; t < cfg.Turns; t++ {
			history = append(history, chat.Message{
				ID:      uuid.NewString(),
				Role:    chat.RoleUser,
				Content: demoQuestions[rng.Intn(len(demoQuestions))],
			})

			resp, err := pipeline.Run(ctx, turn.Request{
				SessionID:    sessionID,
				MessageID:    uuid.NewString(),
				UserID:       userID,
				Model:        model,
				SystemPrompt: "You help students choose university programs.",
				Messages:     history,
				Tools:        demoTools,
			}, scriptedCaller(rng))
			if err != nil {
				return count, errors.Wrapf(err, "session %s turn %d", sessionID, t+1)
			}
			count++

			history = append(history, chat.Message{
				ID:      uuid.NewString(),
				Role:    chat.RoleAssistant,
				Content: resp.Content,
			})
		}
	}

	return count, nil
}

// scriptedCaller answers with token counts derived from the shaped prompt and
// occasionally reports a tool call
func scriptedCaller(rng *rand.Rand) turn.ModelCaller {
	return turn.ModelCallerFunc(func(_ context.Context, call turn.ModelCall) (*turn.ModelResponse, error) {
		if len(call.Tools) > 0 && call.OnToolCall != nil && rng.Intn(3) == 0 {
			call.OnToolCall(usage.ToolCallResult{
				ToolName:   call.Tools[rng.Intn(len(call.Tools))],
				ToolCallID: uuid.NewString(),
				ArgsSize:   64 + rng.Intn(256),
				ResultSize: 512 + rng.Intn(4096),
				DurationMs: int64(80 + rng.Intn(900)),
				Success:    rng.Intn(10) > 0,
			})
		}

		prompt := conversation.EstimateTokens(call.Messages) + len(call.SystemPrompt)/conversation.DefaultBytesPerToken
		completion := 60 + rng.Intn(400)
		return &turn.ModelResponse{
			Content:          fmt.Sprintf("Here is a shortlist based on %d prior messages.", len(call.Messages)),
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		}, nil
	})
}
