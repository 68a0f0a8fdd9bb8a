// Package llm wraps the external chat-completion endpoint used for query
// expansion and relevance scoring. It never generates user-facing answers;
// that belongs to the chat layer, which is a separate service.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrTimeout indicates the completion call exceeded its deadline.
var ErrTimeout = errors.New("chat completion timed out")

// Config configures the chat-completion client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Completion is one model response with its token accounting.
type Completion struct {
	Text   string
	Tokens int // total tokens (prompt + completion) reported by the endpoint
}

// Client calls an OpenAI-compatible chat-completion endpoint.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	logger      *slog.Logger
}

// New creates a completion client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("chat model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		logger:      logger,
	}, nil
}

// Complete sends one user prompt and returns the model's reply text plus the
// reported token usage.
func (c *Client) Complete(ctx context.Context, prompt string) (Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Completion{}, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return Completion{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, errors.New("chat completion returned no choices")
	}

	return Completion{
		Text:   resp.Choices[0].Message.Content,
		Tokens: resp.Usage.TotalTokens,
	}, nil
}
