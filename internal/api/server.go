// Package api exposes the document corpus and retrieval pipeline over a JSON
// HTTP surface, consumed by the owning chat agent.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mkrale/lore/internal/corpus"
	"github.com/mkrale/lore/internal/index"
	"github.com/mkrale/lore/internal/indexer"
	"github.com/mkrale/lore/internal/search"
)

// DocumentStore is the corpus surface the handlers need.
type DocumentStore interface {
	List() ([]corpus.DocumentInfo, error)
	Add(filename string, content []byte, description string) (corpus.DocumentInfo, error)
	Delete(filename string) error
}

// Rebuilder triggers a full index rebuild.
type Rebuilder interface {
	ReindexAll(ctx context.Context) (indexer.Result, error)
}

// SearchService answers similarity queries.
type SearchService interface {
	Search(ctx context.Context, req search.Request) (search.Response, error)
}

// StatsSource reports index statistics for the health endpoint.
type StatsSource interface {
	Stats() index.Stats
}

// SearchDefaults are applied to search requests that omit a field.
type SearchDefaults struct {
	Limit     int
	Threshold float64
	Mode      search.Mode
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger    *slog.Logger
	Store     DocumentStore // Required
	Indexer   Rebuilder     // Required
	Search    SearchService // Required
	Stats     StatsSource   // Optional: nil omits record count from /health
	Defaults  SearchDefaults
	RateRPS   float64 // Rate limiter refill per IP (0 = disabled)
	RateBurst int     // Rate limiter burst size per IP (0 = default 20)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("document store is required")
	}
	if cfg.Indexer == nil {
		return nil, errors.New("indexer is required")
	}
	if cfg.Search == nil {
		return nil, errors.New("search service is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dh := &documentsHandler{
		store:   cfg.Store,
		indexer: cfg.Indexer,
		logger:  logger,
	}
	sh := &searchHandler{
		svc:      cfg.Search,
		defaults: cfg.Defaults,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /documents", dh.list)
	mux.HandleFunc("POST /documents", dh.add)
	mux.HandleFunc("DELETE /documents/{filename}", dh.delete)
	mux.HandleFunc("POST /reindex", dh.reindex)
	mux.HandleFunc("POST /search", sh.search)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes.
	var handler http.Handler = mux
	if cfg.RateRPS > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 20
		}
		handler = rateLimitMiddleware(newRateLimiter(cfg.RateRPS, burst), logger)(handler)
	}
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.Handle("GET /health", healthHandler(cfg.Stats))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
