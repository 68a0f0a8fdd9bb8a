package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mkrale/lore/internal/index"
	"github.com/mkrale/lore/internal/llm"
	"github.com/mkrale/lore/internal/log"
)

// mockEmbedder encodes the query's length as the vector so the searcher can
// tell queries apart.
type mockEmbedder struct {
	mu      sync.Mutex
	queries []string
	err     error
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.queries = append(m.queries, text)
	return []float32{float32(len(text))}, nil
}

func (m *mockEmbedder) embedded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

// mockSearcher returns canned hits keyed by query length (vec[0]).
type mockSearcher struct {
	mu      sync.Mutex
	ready   bool
	hits    map[int][]index.Hit
	err     error
	fetches []int // limit passed to each search
}

func (m *mockSearcher) Ready() bool { return m.ready }

func (m *mockSearcher) SearchWithThreshold(ctx context.Context, vec []float32, limit int, threshold float64) ([]index.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.fetches = append(m.fetches, limit)
	hits := m.hits[int(vec[0])]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

type reply struct {
	text   string
	tokens int
	err    error
}

// mockCompleter pops canned replies in order.
type mockCompleter struct {
	mu      sync.Mutex
	replies []reply
}

func (m *mockCompleter) Complete(ctx context.Context, prompt string) (llm.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return llm.Completion{}, errors.New("no replies left")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	if r.err != nil {
		return llm.Completion{}, r.err
	}
	return llm.Completion{Text: r.text, Tokens: r.tokens}, nil
}

// mockScorer scores passages from a map; unknown passages score 0.
type mockScorer struct {
	available bool
	scores    map[string]float64
	failOn    string
}

func (m *mockScorer) Available(ctx context.Context) bool { return m.available }

func (m *mockScorer) Score(ctx context.Context, query, passage string) (float64, error) {
	if m.failOn != "" && strings.HasPrefix(passage, m.failOn) {
		return 0, errors.New("encoder blew up")
	}
	return m.scores[passage], nil
}

func hit(text, source string, score float64) index.Hit {
	return index.Hit{ID: source + "-0", Text: text, Source: source, Score: score}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeOff, false},
		{"off", ModeOff, false},
		{"cross", ModeCross, false},
		{"llm", ModeLLM, false},
		{"hybrid", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	s := New(&mockEmbedder{}, &mockSearcher{ready: true}, nil, nil, log.NewNop())
	if _, err := s.Search(context.Background(), Request{Limit: 5}); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("error = %v, want ErrEmptyQuery", err)
	}
}

func TestSearch_InvalidLimit(t *testing.T) {
	s := New(&mockEmbedder{}, &mockSearcher{ready: true}, nil, nil, log.NewNop())
	if _, err := s.Search(context.Background(), Request{Query: "q"}); !errors.Is(err, index.ErrInvalidLimit) {
		t.Errorf("error = %v, want ErrInvalidLimit", err)
	}
}

func TestSearch_IndexEmpty(t *testing.T) {
	s := New(&mockEmbedder{}, &mockSearcher{ready: false}, nil, nil, log.NewNop())
	resp, err := s.Search(context.Background(), Request{Query: "anything", Limit: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !resp.IndexEmpty || len(resp.Results) != 0 {
		t.Errorf("resp = %+v, want empty response with IndexEmpty", resp)
	}
}

func TestSearch_Off(t *testing.T) {
	query := "find me"
	idx := &mockSearcher{ready: true, hits: map[int][]index.Hit{
		len(query): {hit("alpha", "a.txt", 0.1), hit("beta", "b.txt", 0.3)},
	}}
	s := New(&mockEmbedder{}, idx, nil, nil, log.NewNop())

	resp, err := s.Search(context.Background(), Request{Query: query, Limit: 5, Threshold: 1.0})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(resp.Results))
	}
	if resp.Results[0].Text != "alpha" || resp.Results[1].Text != "beta" {
		t.Errorf("retrieval order not preserved: %+v", resp.Results)
	}
	for _, r := range resp.Results {
		if r.OriginalScore != r.Score {
			t.Errorf("result %q: OriginalScore %v != Score %v", r.Source, r.OriginalScore, r.Score)
		}
		if r.RerankScore != nil || r.LLMRelevance != nil {
			t.Errorf("result %q carries rerank fields in off mode", r.Source)
		}
	}
	if resp.TokensUsed != 0 || resp.ExpandedQueries != nil {
		t.Errorf("off mode produced llm artifacts: %+v", resp)
	}
}

func TestSearch_Off_NotReadyDuringSearch(t *testing.T) {
	// Ready flips between the check and the search (rebuild cleared the
	// index); that is still the index-empty signal, not an error.
	idx := &mockSearcher{ready: true, err: index.ErrNotReady}
	s := New(&mockEmbedder{}, idx, nil, nil, log.NewNop())

	resp, err := s.Search(context.Background(), Request{Query: "q", Limit: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !resp.IndexEmpty {
		t.Error("IndexEmpty = false, want true")
	}
}

func TestSearch_Cross(t *testing.T) {
	query := "rank me"
	idx := &mockSearcher{ready: true, hits: map[int][]index.Hit{
		len(query): {hit("alpha", "a.txt", 0.1), hit("beta", "b.txt", 0.2), hit("gamma", "c.txt", 0.3)},
	}}
	scorer := &mockScorer{available: true, scores: map[string]float64{
		"alpha": 0.2, "beta": 0.9, "gamma": 0.5,
	}}
	s := New(&mockEmbedder{}, idx, nil, scorer, log.NewNop())

	resp, err := s.Search(context.Background(), Request{Query: query, Limit: 3, Threshold: 1.0, Mode: ModeCross})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	var order []string
	for _, r := range resp.Results {
		if r.RerankScore == nil {
			t.Fatalf("result %q has no rerank score", r.Text)
		}
		order = append(order, r.Text)
	}
	if want := []string{"beta", "gamma", "alpha"}; !equalStrings(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if *resp.Results[0].RerankScore != 0.9 {
		t.Errorf("top rerank score = %v, want 0.9", *resp.Results[0].RerankScore)
	}
	if resp.Results[0].OriginalScore != 0.2 {
		t.Errorf("top original score = %v, want 0.2", resp.Results[0].OriginalScore)
	}
}

func TestSearch_Cross_PerPassageFailure(t *testing.T) {
	query := "rank me"
	idx := &mockSearcher{ready: true, hits: map[int][]index.Hit{
		len(query): {hit("alpha", "a.txt", 0.1), hit("beta", "b.txt", 0.2), hit("gamma", "c.txt", 0.3)},
	}}
	// gamma fails to score; it sinks to the bottom instead of failing the
	// request.
	scorer := &mockScorer{available: true, failOn: "gamma", scores: map[string]float64{
		"alpha": 0.2, "beta": 0.9,
	}}
	s := New(&mockEmbedder{}, idx, nil, scorer, log.NewNop())

	resp, err := s.Search(context.Background(), Request{Query: query, Limit: 3, Threshold: 1.0, Mode: ModeCross})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if last := resp.Results[len(resp.Results)-1]; last.Text != "gamma" || *last.RerankScore != sentinelScore {
		t.Errorf("failed passage = %+v, want gamma with sentinel score", last)
	}
}

func TestSearch_Cross_UnavailableDegradesToOff(t *testing.T) {
	query := "rank me"
	idx := &mockSearcher{ready: true, hits: map[int][]index.Hit{
		len(query): {hit("alpha", "a.txt", 0.1), hit("beta", "b.txt", 0.2)},
	}}
	s := New(&mockEmbedder{}, idx, nil, &mockScorer{available: false}, log.NewNop())

	resp, err := s.Search(context.Background(), Request{Query: query, Limit: 5, Threshold: 1.0, Mode: ModeCross})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Results[0].Text != "alpha" || resp.Results[0].RerankScore != nil {
		t.Errorf("degraded response not in plain retrieval order: %+v", resp.Results)
	}
}

func TestSearch_LLM(t *testing.T) {
	// Three phrasings with distinct lengths so each maps to its own hit
	// set. "beta" appears twice and must be deduplicated before scoring.
	idx := &mockSearcher{ready: true, hits: map[int][]index.Hit{
		len("alpha"):    {hit("alpha", "a.txt", 0.1), hit("beta", "b.txt", 0.2)},
		len("beta-x"):   {hit("beta", "b.txt", 0.15), hit("gamma", "c.txt", 0.3)},
		len("gamma-xy"): {hit("delta", "d.txt", 0.4)},
	}}
	completer := &mockCompleter{replies: []reply{
		{text: `["alpha", "beta-x", "gamma-xy"]`, tokens: 7},
		{text: `[3, 0, 9, 5]`, tokens: 11},
	}}
	s := New(&mockEmbedder{}, idx, completer, nil, log.NewNop())

	resp, err := s.Search(context.Background(), Request{Query: "original", Limit: 2, Threshold: 1.0, Mode: ModeLLM})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	// Candidates in merge order: alpha(3), beta(0, dropped), gamma(9),
	// delta(5). Sorted by relevance and capped at 2: gamma, delta.
	var order []string
	for _, r := range resp.Results {
		order = append(order, r.Text)
	}
	if want := []string{"gamma", "delta"}; !equalStrings(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if *resp.Results[0].LLMRelevance != 9 {
		t.Errorf("top relevance = %d, want 9", *resp.Results[0].LLMRelevance)
	}
	if resp.TokensUsed != 18 {
		t.Errorf("TokensUsed = %d, want 18", resp.TokensUsed)
	}
	if len(resp.ExpandedQueries) != 3 {
		t.Errorf("ExpandedQueries = %v, want 3 phrasings", resp.ExpandedQueries)
	}

	// Every fan-out search fetched max(2*limit, 6) candidates.
	for _, fetch := range idx.fetches {
		if fetch != 6 {
			t.Errorf("fan-out fetch = %d, want 6", fetch)
		}
	}
}

func TestSearch_LLM_MalformedExpansionUsesOriginal(t *testing.T) {
	query := "just this"
	idx := &mockSearcher{ready: true, hits: map[int][]index.Hit{
		len(query): {hit("alpha", "a.txt", 0.1)},
	}}
	completer := &mockCompleter{replies: []reply{
		{text: "Sorry, I cannot produce JSON today.", tokens: 5},
		{text: `[8]`, tokens: 3},
	}}
	emb := &mockEmbedder{}
	s := New(emb, idx, completer, nil, log.NewNop())

	resp, err := s.Search(context.Background(), Request{Query: query, Limit: 2, Threshold: 1.0, Mode: ModeLLM})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := emb.embedded(); len(got) != 1 || got[0] != query {
		t.Errorf("embedded queries = %v, want only the original", got)
	}
	if len(resp.Results) != 1 || resp.Results[0].Text != "alpha" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestSearch_LLM_AllZeroScoresKeepsRetrievalOrder(t *testing.T) {
	idx := &mockSearcher{ready: true, hits: map[int][]index.Hit{
		len("alpha"):    {hit("one", "a.txt", 0.1), hit("two", "b.txt", 0.2)},
		len("beta-x"):   {hit("three", "c.txt", 0.3)},
		len("gamma-xy"): nil,
	}}
	completer := &mockCompleter{replies: []reply{
		{text: `["alpha", "beta-x", "gamma-xy"]`, tokens: 4},
		{text: `[0, 0, 0]`, tokens: 2},
	}}
	s := New(&mockEmbedder{}, idx, completer, nil, log.NewNop())

	resp, err := s.Search(context.Background(), Request{Query: "original", Limit: 2, Threshold: 1.0, Mode: ModeLLM})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	var order []string
	for _, r := range resp.Results {
		order = append(order, r.Text)
		if r.LLMRelevance != nil {
			t.Errorf("result %q carries a relevance score after fallback", r.Text)
		}
	}
	if want := []string{"one", "two"}; !equalStrings(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestSearch_LLM_ScoringFailureKeepsRetrievalOrder(t *testing.T) {
	idx := &mockSearcher{ready: true, hits: map[int][]index.Hit{
		len("alpha"):    {hit("one", "a.txt", 0.1)},
		len("beta-x"):   nil,
		len("gamma-xy"): nil,
	}}
	completer := &mockCompleter{replies: []reply{
		{text: `["alpha", "beta-x", "gamma-xy"]`, tokens: 4},
		{err: errors.New("endpoint down")},
	}}
	s := New(&mockEmbedder{}, idx, completer, nil, log.NewNop())

	resp, err := s.Search(context.Background(), Request{Query: "original", Limit: 5, Threshold: 1.0, Mode: ModeLLM})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Text != "one" {
		t.Errorf("results = %+v, want retrieval order", resp.Results)
	}
	if resp.TokensUsed != 4 {
		t.Errorf("TokensUsed = %d, want 4 (expansion only)", resp.TokensUsed)
	}
}

func TestSearch_LLM_NoCompleterDegradesToOff(t *testing.T) {
	query := "plain"
	idx := &mockSearcher{ready: true, hits: map[int][]index.Hit{
		len(query): {hit("alpha", "a.txt", 0.1)},
	}}
	s := New(&mockEmbedder{}, idx, nil, nil, log.NewNop())

	resp, err := s.Search(context.Background(), Request{Query: query, Limit: 3, Threshold: 1.0, Mode: ModeLLM})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 1 || resp.ExpandedQueries != nil {
		t.Errorf("resp = %+v, want plain retrieval", resp)
	}
}

func TestSearch_RerankBounds(t *testing.T) {
	// Result count never exceeds limit, whatever the mode.
	query := "bound"
	many := []index.Hit{
		hit("one", "a.txt", 0.1), hit("two", "b.txt", 0.2),
		hit("three", "c.txt", 0.3), hit("four", "d.txt", 0.4),
	}
	for _, mode := range []Mode{ModeOff, ModeCross, ModeLLM} {
		idx := &mockSearcher{ready: true, hits: map[int][]index.Hit{len(query): many}}
		completer := &mockCompleter{replies: []reply{
			{text: "not json"},
			{text: `[5, 5, 5, 5]`},
		}}
		scorer := &mockScorer{available: true}
		s := New(&mockEmbedder{}, idx, completer, scorer, log.NewNop())

		resp, err := s.Search(context.Background(), Request{Query: query, Limit: 2, Threshold: 1.0, Mode: mode})
		if err != nil {
			t.Fatalf("mode %s: %v", mode, err)
		}
		if len(resp.Results) > 2 {
			t.Errorf("mode %s returned %d results, limit 2", mode, len(resp.Results))
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
