// Package app assembles the application from its components. It encapsulates
// the common initialization logic used by the HTTP server and the CLI entry
// points.
package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mkrale/lore/internal/config"
	"github.com/mkrale/lore/internal/corpus"
	"github.com/mkrale/lore/internal/embed"
	"github.com/mkrale/lore/internal/index"
	"github.com/mkrale/lore/internal/indexer"
	"github.com/mkrale/lore/internal/llm"
	"github.com/mkrale/lore/internal/search"
	"github.com/mkrale/lore/internal/splitter"
)

// App holds every initialized component. Construct it once per process with
// New and share it across entry points.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    *corpus.Store
	Index    *index.Index
	Indexer  *indexer.Indexer
	Search   *search.Service
	Embedder *embed.Client
	Chat     *llm.Client
}

// New builds the full component graph from configuration. Everything is
// wired eagerly so a bad configuration fails at startup, not on first
// request.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	store, err := corpus.New(cfg.CorpusDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening document store: %w", err)
	}

	idx, err := index.Open(cfg.IndexPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening vector index: %w", err)
	}

	embedder, err := embed.New(embed.Config{
		BaseURL:    cfg.OpenAIBaseURL,
		APIKey:     cfg.OpenAIAPIKey,
		Model:      cfg.EmbedderModel,
		Dimensions: cfg.EmbedderDimensions,
		Timeout:    time.Duration(cfg.EmbedTimeoutSecs) * time.Second,
		RPS:        cfg.EmbedRPS,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}

	chat, err := llm.New(llm.Config{
		BaseURL:     cfg.OpenAIBaseURL,
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.ChatModel,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     time.Duration(cfg.ChatTimeoutSecs) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating chat client: %w", err)
	}

	split, err := splitter.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("creating splitter: %w", err)
	}

	ix := indexer.New(store, split, embedder, idx, cfg.EmbedBatchSize, logger)

	// Cross mode needs the sidecar; leave the scorer out entirely when no
	// URL is configured so the mode degrades at request time.
	var scorer search.PassageScorer
	if cfg.CrossEncoderURL != "" {
		scorer = search.NewCrossEncoder(cfg.CrossEncoderURL,
			time.Duration(cfg.CrossEncoderTimeoutSecs)*time.Second, logger)
	}

	svc := search.New(embedder, idx, chat, scorer, logger)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Index:    idx,
		Indexer:  ix,
		Search:   svc,
		Embedder: embedder,
		Chat:     chat,
	}, nil
}

// SearchDefaults returns the configured per-request search defaults.
func (a *App) SearchDefaults() (limit int, threshold float64, mode search.Mode) {
	m, err := search.ParseMode(a.Config.RerankMode)
	if err != nil {
		// Validate() already rejected unknown modes.
		m = search.ModeOff
	}
	return a.Config.SearchLimit, a.Config.SearchThreshold, m
}
