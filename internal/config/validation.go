package config

import (
	"fmt"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Server
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr cannot be empty", ErrInvalidListenAddr)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("%w: rate_limit_rps cannot be negative, got %v", ErrInvalidRateLimit, c.RateLimitRPS)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("%w: rate_limit_burst must be at least 1, got %d", ErrInvalidRateLimit, c.RateLimitBurst)
	}

	// The public endpoint needs a real key; local endpoints set a base URL
	// and usually ignore the key entirely.
	if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
		return fmt.Errorf("%w: set OPENAI_API_KEY or point openai_base_url at a local endpoint", ErrMissingAPIKey)
	}

	// Embedding
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}
	if c.EmbedderDimensions < 1 || c.EmbedderDimensions > 8192 {
		return fmt.Errorf("%w: must be between 1 and 8192, got %d", ErrInvalidDimensions, c.EmbedderDimensions)
	}
	if c.EmbedBatchSize < 1 || c.EmbedBatchSize > 1024 {
		return fmt.Errorf("%w: must be between 1 and 1024, got %d", ErrInvalidBatchSize, c.EmbedBatchSize)
	}

	// Chat
	if c.ChatModel == "" {
		return fmt.Errorf("%w: chat_model cannot be empty", ErrInvalidChatModel)
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("%w: must be at least 1, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	// Splitting: overlap strictly below size, or the splitter cannot advance
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d with chunk_size %d",
			ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}

	// Search defaults
	if c.SearchLimit < 1 || c.SearchLimit > 100 {
		return fmt.Errorf("%w: must be between 1 and 100, got %d", ErrInvalidSearchLimit, c.SearchLimit)
	}

	// Cosine distance lives in [0, 2]; a zero threshold filters everything.
	if c.SearchThreshold <= 0 || c.SearchThreshold > 2.0 {
		return fmt.Errorf("%w: must be in (0, 2], got %v", ErrInvalidThreshold, c.SearchThreshold)
	}

	validModes := []string{RerankOff, RerankCross, RerankLLM}
	if !slices.Contains(validModes, c.RerankMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v", ErrInvalidRerankMode, c.RerankMode, validModes)
	}

	return nil
}
