package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// OpenAIGenerator implements the Generator port against any
// OpenAI-compatible chat-completions endpoint.
type OpenAIGenerator struct {
	client  *openai.Client
	name    string
	model   string
	timeout time.Duration
}

// NewOpenAIGenerator creates a generator from provider config
func NewOpenAIGenerator(config types.ProviderConfig) (*OpenAIGenerator, error) {
	if config.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	model := config.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	name := config.Name
	if name == "" {
		name = "openai"
	}

	return &OpenAIGenerator{
		client:  openai.NewClientWithConfig(clientConfig),
		name:    name,
		model:   model,
		timeout: timeout,
	}, nil
}

// Generate sends a single-turn prompt with a bounded per-call deadline
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
			return "", ErrRateLimited
		}
		return "", fmt.Errorf("generation request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrProviderError)
	}

	return resp.Choices[0].Message.Content, nil
}

// Name returns the provider name
func (g *OpenAIGenerator) Name() string {
	return g.name
}

// Model returns the model being used
func (g *OpenAIGenerator) Model() string {
	return g.model
}
