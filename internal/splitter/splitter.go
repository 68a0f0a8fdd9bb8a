// Package splitter segments document text into bounded, overlapping chunks
// for embedding and retrieval.
//
// The splitter is a pure function over text: no I/O, no state shared between
// calls. It prefers to break at coarse boundaries (paragraphs) and only falls
// back to finer ones (lines, sentences, words, characters) when a span does
// not fit the chunk size.
package splitter

import (
	"errors"
	"fmt"
	"strings"
)

// defaultSeparators is the boundary preference order: paragraph break, line
// break, sentence end, word boundary, and finally a per-character split.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

var (
	// ErrInvalidChunkSize indicates a non-positive chunk size.
	ErrInvalidChunkSize = errors.New("chunk size must be positive")

	// ErrInvalidOverlap indicates an overlap that is negative or not smaller
	// than the chunk size.
	ErrInvalidOverlap = errors.New("chunk overlap must be non-negative and smaller than chunk size")
)

// Chunk is one bounded span of a document. Index is 0-based and sequential
// within the document. StartLine and EndLine are 1-based line numbers in the
// original text, kept for citation.
type Chunk struct {
	Text      string
	Index     int
	StartLine int
	EndLine   int
}

// Splitter splits text into chunks of at most chunkSize characters with
// roughly chunkOverlap characters shared between consecutive chunks.
// A Splitter is immutable and safe for concurrent use.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// New creates a Splitter. chunkOverlap must be strictly smaller than
// chunkSize; that combination is a configuration error, not something to
// silently clamp at split time.
func New(chunkSize, chunkOverlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidOverlap, chunkSize, chunkOverlap)
	}

	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}, nil
}

// Split segments text into ordered chunks. An empty or whitespace-only
// document yields no chunks. Every chunk is at most chunkSize characters,
// except a single atomic piece that no remaining separator can subdivide,
// which is emitted verbatim.
func (s *Splitter) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pieces := s.splitRecursive(text, s.separators)

	chunks := make([]Chunk, 0, len(pieces))
	cursor := 0
	for i, piece := range pieces {
		start := cursor
		// Locate the chunk in the original text from a monotonically
		// advancing cursor. The cursor never moves backward past the previous
		// chunk's start, so repeated substrings resolve in document order.
		if idx := strings.Index(text[cursor:], piece); idx >= 0 {
			start = cursor + idx
		}
		startLine := 1 + strings.Count(text[:start], "\n")
		endLine := startLine + strings.Count(piece, "\n")

		chunks = append(chunks, Chunk{
			Text:      piece,
			Index:     i,
			StartLine: startLine,
			EndLine:   endLine,
		})
		cursor = start
	}

	return chunks
}

// splitRecursive splits text on the first applicable separator and merges the
// resulting pieces into bounded windows. Pieces that alone exceed the chunk
// size recurse into the remaining, finer separators.
func (s *Splitter) splitRecursive(text string, separators []string) []string {
	sep, rest := pickSeparator(text, separators)

	var parts []string
	if sep == "" {
		parts = strings.Split(text, "") // per-rune split, the last resort
	} else {
		parts = strings.Split(text, sep)
	}

	var out []string
	var window []string
	for _, part := range parts {
		if len(part) <= s.chunkSize {
			window = append(window, part)
			continue
		}

		// Flush accumulated good pieces before handling the oversized one.
		if len(window) > 0 {
			out = append(out, s.merge(window, sep)...)
			window = nil
		}
		if len(rest) == 0 {
			// No finer separator left: the atomic unit goes out verbatim.
			out = append(out, part)
			continue
		}
		out = append(out, s.splitRecursive(part, rest)...)
	}
	if len(window) > 0 {
		out = append(out, s.merge(window, sep)...)
	}

	return out
}

// pickSeparator returns the first separator that is empty or occurs in text,
// plus the finer separators that follow it.
func pickSeparator(text string, separators []string) (string, []string) {
	for i, sep := range separators {
		if sep == "" {
			return "", nil
		}
		if strings.Contains(text, sep) {
			return sep, separators[i+1:]
		}
	}
	return "", nil
}

// merge accumulates pieces into a sliding window. When adding the next piece
// would push the rejoined window past chunkSize, the window is flushed as one
// chunk and shrunk from the front to at most chunkOverlap characters (always
// keeping one piece) so the tail seeds the next chunk.
func (s *Splitter) merge(pieces []string, sep string) []string {
	sepLen := len(sep)

	var docs []string
	var window []string
	total := 0 // length of strings.Join(window, sep)

	flush := func() {
		doc := strings.TrimSpace(strings.Join(window, sep))
		if doc != "" {
			docs = append(docs, doc)
		}
	}

	for _, piece := range pieces {
		joined := len(piece)
		if len(window) > 0 {
			joined += sepLen
		}

		if len(window) > 0 && total+joined > s.chunkSize {
			flush()
			for len(window) > 1 && total > s.chunkOverlap {
				total -= len(window[0]) + sepLen
				window = window[1:]
			}
		}

		if len(window) > 0 {
			total += sepLen
		}
		window = append(window, piece)
		total += len(piece)
	}
	flush()

	return docs
}
