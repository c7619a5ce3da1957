// Package content generates the text agents publish: replies, original posts,
// and the small analyses (hashtags, interests, writing style) that shape them.
package content

import (
	"context"
	"errors"
	"fmt"

	"skyherd/internal/config"
)

// ErrEmptyCompletion is returned when a backend answers with no text.
var ErrEmptyCompletion = errors.New("empty completion")

// Generator produces one completion for a system + user prompt pair.
// Failures are *types.ActionError with Op "generate".
type Generator interface {
	Generate(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error)
}

// NewGenerator builds the backend selected by cfg.LLM.Provider.
func NewGenerator(ctx context.Context, cfg *config.Config) (Generator, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		return NewOpenAIGenerator(OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.GetLLMTimeout(),
		}), nil
	case "gemini":
		return NewGeminiGenerator(ctx, cfg.LLM.APIKey, cfg.LLM.Model, cfg.GetLLMTimeout())
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLM.Provider)
	}
}
