// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.lore/config.yaml or ./config.yaml)
//  3. Default values
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidListenAddr indicates the server listen address is invalid.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidDimensions indicates the embedding dimension is out of range.
	ErrInvalidDimensions = errors.New("invalid embedding dimensions")

	// ErrInvalidChatModel indicates the chat model name is invalid.
	ErrInvalidChatModel = errors.New("invalid chat model")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidChunking indicates the chunk size/overlap pair is invalid.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidSearchLimit indicates the default search limit is out of range.
	ErrInvalidSearchLimit = errors.New("invalid search limit")

	// ErrInvalidThreshold indicates the distance threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid search threshold")

	// ErrInvalidRerankMode indicates the rerank mode is not supported.
	ErrInvalidRerankMode = errors.New("invalid rerank mode")

	// ErrInvalidBatchSize indicates the embedding batch size is out of range.
	ErrInvalidBatchSize = errors.New("invalid batch size")

	// ErrInvalidRateLimit indicates the per-client rate limit is invalid.
	ErrInvalidRateLimit = errors.New("invalid rate limit")
)

// Rerank mode identifiers used in Config.RerankMode.
const (
	RerankOff   = "off"
	RerankCross = "cross"
	RerankLLM   = "llm"
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// HTTP server
	ListenAddr     string  `mapstructure:"listen_addr"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`

	// On-disk layout
	CorpusDir string `mapstructure:"corpus_dir"`
	IndexPath string `mapstructure:"index_path"`

	// OpenAI-compatible endpoint shared by the embedding and chat clients.
	// An empty base URL means the public endpoint; local servers set their
	// own and usually accept any key.
	OpenAIBaseURL string `mapstructure:"openai_base_url"`
	OpenAIAPIKey  string `mapstructure:"openai_api_key"` // SENSITIVE: masked in MarshalJSON

	// Embedding
	EmbedderModel      string  `mapstructure:"embedder_model"`
	EmbedderDimensions int     `mapstructure:"embedder_dimensions"`
	EmbedTimeoutSecs   int     `mapstructure:"embed_timeout_seconds"`
	EmbedRPS           float64 `mapstructure:"embed_rps"`
	EmbedBatchSize     int     `mapstructure:"embed_batch_size"`

	// Chat completion (query expansion and relevance scoring)
	ChatModel       string  `mapstructure:"chat_model"`
	Temperature     float32 `mapstructure:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	ChatTimeoutSecs int     `mapstructure:"chat_timeout_seconds"`

	// Splitting
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`

	// Search defaults, overridable per request
	SearchLimit     int     `mapstructure:"search_limit"`
	SearchThreshold float64 `mapstructure:"search_threshold"`
	RerankMode      string  `mapstructure:"rerank_mode"`

	// Cross-encoder sidecar; an empty URL disables cross mode
	CrossEncoderURL         string `mapstructure:"cross_encoder_url"`
	CrossEncoderTimeoutSecs int    `mapstructure:"cross_encoder_timeout_seconds"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".lore")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper, configDir string) {
	// Server defaults
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("rate_limit_rps", 10.0)
	v.SetDefault("rate_limit_burst", 20)

	// Layout defaults, under the config directory
	v.SetDefault("corpus_dir", filepath.Join(configDir, "documents"))
	v.SetDefault("index_path", filepath.Join(configDir, "index"))

	// Embedding defaults
	v.SetDefault("embedder_model", "text-embedding-3-small")
	v.SetDefault("embedder_dimensions", 384)
	v.SetDefault("embed_timeout_seconds", 30)
	v.SetDefault("embed_rps", 0.0)
	v.SetDefault("embed_batch_size", 32)

	// Chat defaults
	v.SetDefault("chat_model", "gpt-4o-mini")
	v.SetDefault("temperature", 0.3)
	v.SetDefault("max_tokens", 1024)
	v.SetDefault("chat_timeout_seconds", 60)

	// Splitting defaults
	v.SetDefault("chunk_size", 500)
	v.SetDefault("chunk_overlap", 50)

	// Search defaults
	v.SetDefault("search_limit", 5)
	v.SetDefault("search_threshold", 0.8)
	v.SetDefault("rerank_mode", RerankOff)

	// Cross-encoder defaults
	v.SetDefault("cross_encoder_url", "")
	v.SetDefault("cross_encoder_timeout_seconds", 10)

	// Logging defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// bindEnvVariables binds environment variable overrides explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("openai_base_url", "LORE_OPENAI_BASE_URL")
	mustBind("listen_addr", "LORE_LISTEN_ADDR")
	mustBind("corpus_dir", "LORE_CORPUS_DIR")
	mustBind("index_path", "LORE_INDEX_PATH")
	mustBind("embedder_model", "LORE_EMBEDDER_MODEL")
	mustBind("chat_model", "LORE_CHAT_MODEL")
	mustBind("rerank_mode", "LORE_RERANK_MODE")
	mustBind("cross_encoder_url", "LORE_CROSS_ENCODER_URL")
	mustBind("log_level", "LORE_LOG_LEVEL")
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid accidental substring matches against real secret content.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 characters
// or fewer are fully masked; longer ones keep the first and last two
// characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking. When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.OpenAIAPIKey = maskSecret(a.OpenAIAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
