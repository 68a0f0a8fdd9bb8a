package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// CrossEncoder scores (query, passage) pairs through the reranker sidecar, a
// small HTTP service hosting the cross-encoder model. Availability is probed
// once, lazily, on first use; an absent or unhealthy sidecar makes the
// encoder permanently unavailable for the process lifetime.
type CrossEncoder struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger

	probe     sync.Once
	available bool
}

// NewCrossEncoder creates a client for the reranker sidecar. An empty baseURL
// yields a client that reports itself unavailable.
func NewCrossEncoder(baseURL string, timeout time.Duration, logger *slog.Logger) *CrossEncoder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &CrossEncoder{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Available reports whether the sidecar answered its health probe. The probe
// runs at most once.
func (ce *CrossEncoder) Available(ctx context.Context) bool {
	ce.probe.Do(func() {
		if ce.baseURL == "" {
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ce.baseURL+"/health", nil)
		if err != nil {
			return
		}
		resp, err := ce.httpc.Do(req)
		if err != nil {
			ce.logger.Warn("cross-encoder sidecar unreachable", "url", ce.baseURL, "error", err)
			return
		}
		defer resp.Body.Close()

		ce.available = resp.StatusCode == http.StatusOK
		if !ce.available {
			ce.logger.Warn("cross-encoder sidecar unhealthy", "url", ce.baseURL, "status", resp.StatusCode)
		}
	})
	return ce.available
}

type scoreRequest struct {
	Query   string `json:"query"`
	Passage string `json:"passage"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

// Score returns the relevance of passage to query as judged by the
// cross-encoder. Higher is more relevant.
func (ce *CrossEncoder) Score(ctx context.Context, query, passage string) (float64, error) {
	if ce.baseURL == "" {
		return 0, errors.New("cross-encoder not configured")
	}

	body, err := json.Marshal(scoreRequest{Query: query, Passage: passage})
	if err != nil {
		return 0, fmt.Errorf("encoding score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ce.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ce.httpc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("cross-encoder request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("cross-encoder returned status %d", resp.StatusCode)
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return 0, fmt.Errorf("decoding score response: %w", err)
	}
	return sr.Score, nil
}
