package search

import (
	"encoding/json"
	"fmt"
	"strings"
)

const expansionCount = 3

func expansionPrompt(query string) string {
	var b strings.Builder
	b.WriteString("Rewrite the following search query as ")
	fmt.Fprintf(&b, "%d alternative phrasings that preserve its meaning. ", expansionCount)
	b.WriteString("Vary the wording and emphasis so that each phrasing could surface different relevant passages.\n\n")
	fmt.Fprintf(&b, "Query: %s\n\n", query)
	fmt.Fprintf(&b, "Respond with only a JSON array of exactly %d strings, no other text.", expansionCount)
	return b.String()
}

func scoringPrompt(query string, passages []string) string {
	var b strings.Builder
	b.WriteString("Rate how relevant each passage is to the query on a scale of 0 to 10, ")
	b.WriteString("where 0 means completely irrelevant and 10 means directly answers the query.\n\n")
	fmt.Fprintf(&b, "Query: %s\n\n", query)
	for i, p := range passages {
		fmt.Fprintf(&b, "Passage %d:\n%s\n\n", i+1, p)
	}
	fmt.Fprintf(&b, "Respond with only a JSON array of exactly %d integers, one per passage in order, no other text.", len(passages))
	return b.String()
}

// extractJSONArray pulls the outermost JSON array out of a model reply,
// tolerating surrounding prose and markdown fences.
func extractJSONArray(text string) (string, bool) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// parseExpansion parses the expansion reply. It fails unless the reply is a
// JSON array of exactly expansionCount non-empty strings.
func parseExpansion(text string) ([]string, error) {
	raw, ok := extractJSONArray(text)
	if !ok {
		return nil, fmt.Errorf("no JSON array in expansion reply")
	}

	var phrasings []string
	if err := json.Unmarshal([]byte(raw), &phrasings); err != nil {
		return nil, fmt.Errorf("parsing expansion reply: %w", err)
	}
	if len(phrasings) != expansionCount {
		return nil, fmt.Errorf("expansion returned %d phrasings, want %d", len(phrasings), expansionCount)
	}
	for i, p := range phrasings {
		phrasings[i] = strings.TrimSpace(p)
		if phrasings[i] == "" {
			return nil, fmt.Errorf("expansion phrasing %d is empty", i+1)
		}
	}
	return phrasings, nil
}

// parseScores parses the relevance-scoring reply into per-passage integers,
// clamped to [0, 10]. Fractional scores are truncated.
func parseScores(text string, want int) ([]int, error) {
	raw, ok := extractJSONArray(text)
	if !ok {
		return nil, fmt.Errorf("no JSON array in scoring reply")
	}

	var nums []float64
	if err := json.Unmarshal([]byte(raw), &nums); err != nil {
		return nil, fmt.Errorf("parsing scoring reply: %w", err)
	}
	if len(nums) != want {
		return nil, fmt.Errorf("scoring returned %d values for %d passages", len(nums), want)
	}

	scores := make([]int, len(nums))
	for i, n := range nums {
		s := int(n)
		if s < 0 {
			s = 0
		}
		if s > 10 {
			s = 10
		}
		scores[i] = s
	}
	return scores, nil
}
