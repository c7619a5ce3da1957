package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"skyherd/internal/types"
)

// OpenAIConfig configures an OpenAI-compatible chat completions backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// MaxRetries bounds retries on 429, 5xx and transport errors.
	MaxRetries int
	// Backoff is the first retry delay; it doubles on every retry.
	Backoff time.Duration
}

// OpenAIGenerator calls POST {base}/chat/completions.
type OpenAIGenerator struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	backoff    time.Duration
	httpClient *http.Client
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIGenerator applies defaults for unset fields.
func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &OpenAIGenerator{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	if g.apiKey == "" {
		return "", types.NewPermanent("generate", g.model, fmt.Errorf("API key not configured"))
	}

	jsonData, err := json.Marshal(openAIRequest{
		Model: g.model,
		Messages: []openAIMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for i := 0; i <= g.maxRetries; i++ {
		if i > 0 {
			delay := g.backoff << uint(i-1)
			select {
			case <-ctx.Done():
				return "", types.NewTransient("generate", g.model, ctx.Err())
			case <-time.After(delay):
			}
		}

		text, retry, err := g.do(ctx, jsonData)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

// do performs one attempt. retry reports whether another attempt may help.
func (g *OpenAIGenerator) do(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, types.NewPermanent("generate", g.model, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", true, types.NewTransient("generate", g.model, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, types.NewTransient("generate", g.model, fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", true, types.NewTransient("generate", g.model, fmt.Errorf("rate limit exceeded (429)"))
	case resp.StatusCode >= 500:
		return "", true, types.NewTransient("generate", g.model, fmt.Errorf("server error %d: %s", resp.StatusCode, truncateBody(data)))
	case resp.StatusCode != http.StatusOK:
		return "", false, types.NewPermanent("generate", g.model, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncateBody(data)))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", false, types.NewTransient("generate", g.model, fmt.Errorf("failed to parse response: %w", err))
	}
	if parsed.Error != nil {
		return "", false, types.NewTransient("generate", g.model, fmt.Errorf("API error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", false, types.NewTransient("generate", g.model, ErrEmptyCompletion)
	}
	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return "", false, types.NewTransient("generate", g.model, ErrEmptyCompletion)
	}
	return text, false, nil
}

func truncateBody(b []byte) string {
	const max = 300
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
