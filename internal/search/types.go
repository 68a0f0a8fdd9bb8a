// Package search answers similarity queries against the vector index and
// reranks the candidates according to the requested strategy: none, an
// external cross-encoder, or LLM-driven query expansion plus relevance
// scoring. Enhancement paths degrade to the next-simpler strategy on failure;
// only mandatory paths (embedding the query, reading the index) surface
// errors.
package search

import (
	"fmt"
)

// Mode selects the reranking strategy for one request.
type Mode string

const (
	// ModeOff returns the raw retrieval order.
	ModeOff Mode = "off"

	// ModeCross scores each (query, passage) pair through the external
	// cross-encoder and reorders by that score.
	ModeCross Mode = "cross"

	// ModeLLM expands the query through the chat endpoint, retrieves for
	// every phrasing, and has the model score the merged candidates.
	ModeLLM Mode = "llm"
)

// ParseMode validates a caller-supplied mode string. Empty means ModeOff.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeOff, nil
	case ModeOff, ModeCross, ModeLLM:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown rerank mode %q", s)
	}
}

// Request is one similarity query.
type Request struct {
	Query     string
	Limit     int
	Threshold float64 // maximum cosine distance; results satisfy Score < Threshold
	Mode      Mode
}

// Result is one ranked passage. Score and OriginalScore are cosine distances
// from retrieval (lower = more similar). RerankScore is the cross-encoder
// score (higher = better) when ModeCross ran; LLMRelevance is the 0-10 model
// rating when ModeLLM ran.
type Result struct {
	Text          string
	Source        string
	Description   string
	Score         float64
	StartLine     int
	EndLine       int
	OriginalScore float64
	RerankScore   *float64
	LLMRelevance  *int
}

// Response is the outcome of one search request. IndexEmpty distinguishes
// "nothing indexed yet" from "nothing relevant found". TokensUsed aggregates
// the chat-endpoint usage across expansion and scoring; zero outside ModeLLM.
type Response struct {
	Results         []Result
	IndexEmpty      bool
	TokensUsed      int
	ExpandedQueries []string
}
