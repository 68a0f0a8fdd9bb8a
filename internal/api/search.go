package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mkrale/lore/internal/index"
	"github.com/mkrale/lore/internal/search"
)

// maxSearchBody bounds POST /search bodies.
const maxSearchBody = 1 << 20

type searchHandler struct {
	svc      SearchService
	defaults SearchDefaults
	logger   *slog.Logger
}

type searchRequest struct {
	Query      string   `json:"query"`
	Limit      int      `json:"limit"`
	Threshold  *float64 `json:"threshold"`
	RerankMode string   `json:"rerankMode"`
}

type searchResult struct {
	Text          string   `json:"text"`
	Source        string   `json:"source"`
	Description   string   `json:"description,omitempty"`
	Score         float64  `json:"score"`
	StartLine     int      `json:"startLine"`
	EndLine       int      `json:"endLine"`
	OriginalScore float64  `json:"originalScore"`
	RerankScore   *float64 `json:"rerankScore,omitempty"`
	LLMRelevance  *int     `json:"llmRelevance,omitempty"`
}

type searchResponse struct {
	Results         []searchResult `json:"results"`
	IndexEmpty      bool           `json:"indexEmpty"`
	TokensUsed      int            `json:"tokensUsed,omitempty"`
	ExpandedQueries []string       `json:"expandedQueries,omitempty"`
}

func (h *searchHandler) search(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSearchBody)

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}

	mode := h.defaults.Mode
	if req.RerankMode != "" {
		var err error
		if mode, err = search.ParseMode(req.RerankMode); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_mode", err.Error(), h.logger)
			return
		}
	}

	limit := req.Limit
	if limit == 0 {
		limit = h.defaults.Limit
	}
	threshold := h.defaults.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	resp, err := h.svc.Search(r.Context(), search.Request{
		Query:     req.Query,
		Limit:     limit,
		Threshold: threshold,
		Mode:      mode,
	})
	if err != nil {
		switch {
		case errors.Is(err, search.ErrEmptyQuery):
			writeError(w, http.StatusBadRequest, "empty_query", "query must not be empty", h.logger)
		case errors.Is(err, index.ErrInvalidLimit):
			writeError(w, http.StatusBadRequest, "invalid_limit", err.Error(), h.logger)
		default:
			h.logger.Error("search failed", "error", err)
			writeError(w, http.StatusInternalServerError, "search_failed", "search failed", h.logger)
		}
		return
	}

	results := make([]searchResult, len(resp.Results))
	for i, res := range resp.Results {
		results[i] = searchResult{
			Text:          res.Text,
			Source:        res.Source,
			Description:   res.Description,
			Score:         res.Score,
			StartLine:     res.StartLine,
			EndLine:       res.EndLine,
			OriginalScore: res.OriginalScore,
			RerankScore:   res.RerankScore,
			LLMRelevance:  res.LLMRelevance,
		}
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Results:         results,
		IndexEmpty:      resp.IndexEmpty,
		TokensUsed:      resp.TokensUsed,
		ExpandedQueries: resp.ExpandedQueries,
	})
}
