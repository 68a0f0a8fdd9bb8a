package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/mkrale/lore/internal/index"
	"github.com/mkrale/lore/internal/llm"
)

const (
	// passageTruncateLen bounds the passage text sent to the cross-encoder
	// and to the scoring prompt.
	passageTruncateLen = 512

	// dedupeKeyLen is the near-duplicate key length for merged candidates.
	dedupeKeyLen = 200

	// sentinelScore replaces a cross-encoder score that could not be
	// obtained, ranking the passage behind every scored one.
	sentinelScore = -1000.0

	// minFanOutFetch is the smallest per-query candidate fetch in llm mode.
	minFanOutFetch = 6
)

// ErrEmptyQuery indicates a search request with no query text.
var ErrEmptyQuery = errors.New("query must not be empty")

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the read side of the vector index.
type Searcher interface {
	Ready() bool
	SearchWithThreshold(ctx context.Context, vector []float32, limit int, threshold float64) ([]index.Hit, error)
}

// Completer is the chat endpoint used for query expansion and relevance
// scoring. A nil Completer disables llm mode (it degrades to off).
type Completer interface {
	Complete(ctx context.Context, prompt string) (llm.Completion, error)
}

// PassageScorer is the cross-encoder. A nil or unavailable scorer degrades
// cross mode to off.
type PassageScorer interface {
	Available(ctx context.Context) bool
	Score(ctx context.Context, query, passage string) (float64, error)
}

// Service answers search requests.
type Service struct {
	embedder  Embedder
	idx       Searcher
	completer Completer
	scorer    PassageScorer
	logger    *slog.Logger
}

// New creates a search service. completer and scorer are optional; absent
// ones disable the corresponding rerank mode.
func New(embedder Embedder, idx Searcher, completer Completer, scorer PassageScorer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embedder:  embedder,
		idx:       idx,
		completer: completer,
		scorer:    scorer,
		logger:    logger,
	}
}

// Search runs one similarity query and reranks per req.Mode. Reranking never
// fails a request: every enhancement failure degrades toward plain retrieval
// order. Only embedding the query or reading the index can return an error.
func (s *Service) Search(ctx context.Context, req Request) (Response, error) {
	if req.Query == "" {
		return Response{}, ErrEmptyQuery
	}
	if req.Limit <= 0 {
		return Response{}, fmt.Errorf("%w: %d", index.ErrInvalidLimit, req.Limit)
	}

	if !s.idx.Ready() {
		return Response{IndexEmpty: true}, nil
	}

	switch req.Mode {
	case ModeCross:
		return s.searchCross(ctx, req)
	case ModeLLM:
		return s.searchLLM(ctx, req)
	default:
		return s.searchOff(ctx, req)
	}
}

// retrieve embeds the query and runs one threshold search. ErrNotReady is
// mapped to the index-empty signal by callers.
func (s *Service) retrieve(ctx context.Context, query string, limit int, threshold float64) ([]index.Hit, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return s.idx.SearchWithThreshold(ctx, vec, limit, threshold)
}

func (s *Service) searchOff(ctx context.Context, req Request) (Response, error) {
	hits, err := s.retrieve(ctx, req.Query, req.Limit, req.Threshold)
	if err != nil {
		if errors.Is(err, index.ErrNotReady) {
			return Response{IndexEmpty: true}, nil
		}
		return Response{}, err
	}
	return Response{Results: resultsFromHits(hits)}, nil
}

func (s *Service) searchCross(ctx context.Context, req Request) (Response, error) {
	if s.scorer == nil || !s.scorer.Available(ctx) {
		s.logger.Warn("cross-encoder unavailable, returning retrieval order")
		return s.searchOff(ctx, req)
	}

	hits, err := s.retrieve(ctx, req.Query, req.Limit, req.Threshold)
	if err != nil {
		if errors.Is(err, index.ErrNotReady) {
			return Response{IndexEmpty: true}, nil
		}
		return Response{}, err
	}

	results := resultsFromHits(hits)
	for i := range results {
		score, err := s.scorer.Score(ctx, req.Query, truncate(results[i].Text, passageTruncateLen))
		if err != nil {
			s.logger.Warn("cross-encoder scoring failed for passage",
				"source", results[i].Source, "error", err)
			score = sentinelScore
		}
		v := score
		results[i].RerankScore = &v
	}

	sort.SliceStable(results, func(i, j int) bool {
		return *results[i].RerankScore > *results[j].RerankScore
	})
	return Response{Results: capResults(results, req.Limit)}, nil
}

func (s *Service) searchLLM(ctx context.Context, req Request) (Response, error) {
	if s.completer == nil {
		s.logger.Warn("chat endpoint not configured, returning retrieval order")
		return s.searchOff(ctx, req)
	}

	queries, tokens := s.expandQuery(ctx, req.Query)

	candidates, indexEmpty, err := s.fanOut(ctx, queries, req.Limit, req.Threshold)
	if err != nil {
		return Response{}, err
	}
	if indexEmpty {
		return Response{IndexEmpty: true, TokensUsed: tokens}, nil
	}
	if len(candidates) == 0 {
		return Response{TokensUsed: tokens, ExpandedQueries: queries}, nil
	}

	ranked, scoreTokens := s.scoreCandidates(ctx, req.Query, candidates, req.Limit)
	return Response{
		Results:         ranked,
		TokensUsed:      tokens + scoreTokens,
		ExpandedQueries: queries,
	}, nil
}

// expandQuery asks the chat endpoint for alternative phrasings. Any failure
// falls back to the original query alone.
func (s *Service) expandQuery(ctx context.Context, query string) ([]string, int) {
	comp, err := s.completer.Complete(ctx, expansionPrompt(query))
	if err != nil {
		s.logger.Warn("query expansion failed, using original query", "error", err)
		return []string{query}, 0
	}

	phrasings, err := parseExpansion(comp.Text)
	if err != nil {
		s.logger.Warn("query expansion reply malformed, using original query", "error", err)
		return []string{query}, comp.Tokens
	}
	return phrasings, comp.Tokens
}

// fanOut retrieves candidates for every query concurrently and merges them,
// deduplicating near-identical passages. A failed per-query search is logged
// and contributes nothing; only a failure on every query is an error.
func (s *Service) fanOut(ctx context.Context, queries []string, limit int, threshold float64) ([]Result, bool, error) {
	fetch := 2 * limit
	if fetch < minFanOutFetch {
		fetch = minFanOutFetch
	}

	slots := make([][]index.Hit, len(queries))
	errs := make([]error, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			hits, err := s.retrieve(gctx, q, fetch, threshold)
			if err != nil {
				errs[i] = err
				return nil
			}
			slots[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	failed := 0
	for i, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, index.ErrNotReady) {
			return nil, true, nil
		}
		s.logger.Warn("fan-out search failed for query", "query", queries[i], "error", err)
		failed++
	}
	if failed == len(queries) {
		return nil, false, fmt.Errorf("all %d fan-out searches failed: %w", failed, errs[0])
	}

	var merged []Result
	seen := make(map[string]struct{})
	for _, hits := range slots {
		for _, h := range hits {
			key := truncate(h.Text, dedupeKeyLen)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, resultFromHit(h))
		}
	}
	return merged, false, nil
}

// scoreCandidates has the model rate every candidate 0-10 in one prompt and
// reorders by that rating. A scoring failure, or an implausible all-zero
// reply, returns the candidates in retrieval order instead.
func (s *Service) scoreCandidates(ctx context.Context, query string, candidates []Result, limit int) ([]Result, int) {
	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = truncate(c.Text, passageTruncateLen)
	}

	comp, err := s.completer.Complete(ctx, scoringPrompt(query, passages))
	if err != nil {
		s.logger.Warn("relevance scoring failed, returning retrieval order", "error", err)
		return capResults(candidates, limit), 0
	}

	scores, err := parseScores(comp.Text, len(candidates))
	if err != nil {
		s.logger.Warn("relevance scores malformed, returning retrieval order", "error", err)
		return capResults(candidates, limit), comp.Tokens
	}

	allZero := true
	for _, sc := range scores {
		if sc > 0 {
			allZero = false
			break
		}
	}
	if allZero {
		// A model that rejects every candidate is a scoring misfire,
		// not genuine irrelevance.
		s.logger.Warn("relevance scoring rated every candidate zero, returning retrieval order")
		return capResults(candidates, limit), comp.Tokens
	}

	var kept []Result
	for i := range candidates {
		if scores[i] == 0 {
			continue
		}
		v := scores[i]
		candidates[i].LLMRelevance = &v
		kept = append(kept, candidates[i])
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return *kept[i].LLMRelevance > *kept[j].LLMRelevance
	})
	return capResults(kept, limit), comp.Tokens
}

func resultFromHit(h index.Hit) Result {
	return Result{
		Text:          h.Text,
		Source:        h.Source,
		Description:   h.Description,
		Score:         h.Score,
		StartLine:     h.StartLine,
		EndLine:       h.EndLine,
		OriginalScore: h.Score,
	}
}

func resultsFromHits(hits []index.Hit) []Result {
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = resultFromHit(h)
	}
	return results
}

func capResults(results []Result, limit int) []Result {
	if len(results) > limit {
		return results[:limit]
	}
	return results
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
