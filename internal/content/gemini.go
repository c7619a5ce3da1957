package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"skyherd/internal/types"
)

// GeminiGenerator generates text through the Google Gen AI SDK.
type GeminiGenerator struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiGenerator creates the SDK client.
func NewGeminiGenerator(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key not configured")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model, timeout: timeout}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	if _, ok := ctx.Deadline(); !ok && g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature)),
		MaxOutputTokens: int32(maxTokens),
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}, cfg)
	if err != nil {
		return "", classifyGenAIError(g.model, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", types.NewTransient("generate", g.model, ErrEmptyCompletion)
	}
	return text, nil
}

// classifyGenAIError treats client errors other than rate limiting as permanent.
func classifyGenAIError(model string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
		return types.NewPermanent("generate", model, err)
	}
	return types.NewTransient("generate", model, err)
}
