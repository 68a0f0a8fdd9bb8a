// Package embed wraps the external embedding model service behind a small
// client. The model itself runs elsewhere (any OpenAI-compatible endpoint);
// this package only turns text into fixed-dimension vectors, singly or in
// batch with progress reporting.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

var (
	// ErrEmptyText indicates an attempt to embed an empty string.
	ErrEmptyText = errors.New("cannot embed empty text")

	// ErrNoEmbedding indicates the service returned no vector.
	ErrNoEmbedding = errors.New("no embedding returned")

	// ErrTimeout indicates the embedding call exceeded its deadline.
	ErrTimeout = errors.New("embedding request timed out")
)

// Config configures the embedding client.
type Config struct {
	BaseURL    string        // OpenAI-compatible endpoint, e.g. a local server
	APIKey     string        // may be a placeholder for local endpoints
	Model      string        // embedding model name
	Dimensions int           // expected vector dimension (0 = model default)
	Timeout    time.Duration // per-call deadline
	RPS        float64       // client-side requests per second (0 = unlimited)
}

// Client embeds text through an external model service. It is constructed
// once at startup and shared process-wide; using a nil Client is a
// programming error and panics rather than returning a recoverable error.
type Client struct {
	api     *openai.Client
	model   string
	dims    int
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates an embedding client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
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
		timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}

	return &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		model:   cfg.Model,
		dims:    cfg.Dimensions,
		timeout: timeout,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Dimensions returns the configured vector dimension (0 = model default).
func (c *Client) Dimensions() int {
	return c.dims
}

// Embed turns one text into a vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limiter: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(c.model),
		Input:      []string{text},
		Dimensions: c.dims,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrNoEmbedding
	}

	return resp.Data[0].Embedding, nil
}

// ProgressFunc receives (completed, total) as a batch advances. An alias so
// callers can pass plain function literals across package boundaries.
type ProgressFunc = func(completed, total int)

// EmbedBatch embeds texts sequentially, preserving input order in the output.
// batchSize only controls how often onProgress fires; it does not introduce
// parallel submission. onProgress may be nil.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, batchSize int, onProgress ProgressFunc) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = 32
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding item %d of %d: %w", i+1, len(texts), err)
		}
		vectors[i] = vec

		done := i + 1
		if onProgress != nil && (done%batchSize == 0 || done == len(texts)) {
			onProgress(done, len(texts))
		}
	}

	return vectors, nil
}
