// Package index wraps the embedded vector database (chromem-go) behind the
// operations the retrieval core needs: wholesale rebuild, nearest-neighbor
// search with an optional distance threshold, and readiness/stats reporting.
//
// Scores are cosine distances (1 - cosine similarity): lower means more
// similar, range [0, 2]. The underlying engine reports similarity; this
// package converts at the boundary so every caller sees one convention.
//
// A rebuild replaces the whole index generation: the new record set is
// written into a freshly named collection, the current-generation pointer is
// swapped, and only then is the old collection dropped. Readers therefore see
// either the old or the new generation, never neither.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

// generationPrefix names index generations inside the engine. Exactly one
// collection with this prefix is current at any time; a second one exists
// only transiently during a rebuild.
const generationPrefix = "chunks-"

var (
	// ErrNotReady indicates no index generation exists yet (no successful
	// build, or the last rebuild produced zero records). Distinct from "no
	// relevant results".
	ErrNotReady = errors.New("vector index not ready")

	// ErrInvalidLimit indicates a non-positive search limit.
	ErrInvalidLimit = errors.New("search limit must be positive")
)

// Record is one indexed chunk vector. ID is "{source}-{chunkIndex}", unique
// within a generation. Records are created only during a rebuild and never
// mutated afterwards.
type Record struct {
	ID          string
	Text        string
	Source      string
	Description string
	ChunkIndex  int
	StartLine   int
	EndLine     int
	Vector      []float32
	CreatedAt   time.Time
}

// RecordID builds the composite record id for a source document chunk.
func RecordID(source string, chunkIndex int) string {
	return fmt.Sprintf("%s-%d", source, chunkIndex)
}

// Hit is one nearest-neighbor result. Score is a cosine distance.
type Hit struct {
	ID          string
	Text        string
	Source      string
	Description string
	StartLine   int
	EndLine     int
	Score       float64
}

// Stats summarizes the index state.
type Stats struct {
	Count       int
	Collections []string
}

// Index is the process-wide vector index handle. Safe for concurrent use;
// searches proceed under a read lock while the rebuild swap takes the write
// lock only for the pointer exchange.
type Index struct {
	db     *chromem.DB
	logger *slog.Logger

	mu      sync.RWMutex
	current *chromem.Collection
	genName string
}

// Open connects to the on-disk engine at path, creating it if absent. If a
// previous run left a generation behind, it is adopted; if a crash during a
// rebuild left several, the largest wins and the rest are dropped.
func Open(path string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("opening vector database at %q: %w", path, err)
	}

	idx := &Index{db: db, logger: logger}
	if err := idx.adoptGeneration(); err != nil {
		return nil, err
	}

	return idx, nil
}

// NewInMemory creates an index backed by a transient in-memory engine.
func NewInMemory(logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{db: chromem.NewDB(), logger: logger}
}

// adoptGeneration picks up a surviving generation after a restart.
func (idx *Index) adoptGeneration() error {
	type candidate struct {
		name  string
		count int
	}
	var candidates []candidate
	for name, col := range idx.db.ListCollections() {
		if strings.HasPrefix(name, generationPrefix) {
			candidates = append(candidates, candidate{name: name, count: col.Count()})
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count > candidates[j].count
		}
		return candidates[i].name < candidates[j].name
	})

	keep := candidates[0]
	for _, c := range candidates[1:] {
		// Leftover from an interrupted rebuild.
		if err := idx.db.DeleteCollection(c.name); err != nil {
			return fmt.Errorf("dropping stale generation %q: %w", c.name, err)
		}
		idx.logger.Warn("dropped stale index generation", "name", c.name, "records", c.count)
	}

	col := idx.db.GetCollection(keep.name, noEmbedding)
	if col == nil {
		return fmt.Errorf("generation %q disappeared during adoption", keep.name)
	}
	idx.current = col
	idx.genName = keep.name
	idx.logger.Info("adopted index generation", "name", keep.name, "records", keep.count)
	return nil
}

// noEmbedding is the engine-side embedding hook. All vectors are computed by
// the embedding client before they reach the index, so this firing means a
// record arrived without one.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("index stores precomputed vectors only")
}

// Ready reports whether a generation with at least one record is current.
func (idx *Index) Ready() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.current != nil && idx.current.Count() > 0
}

// Stats returns the current record count and the engine's collection names.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	s := Stats{}
	for name := range idx.db.ListCollections() {
		s.Collections = append(s.Collections, name)
	}
	sort.Strings(s.Collections)
	if idx.current != nil {
		s.Count = idx.current.Count()
	}
	return s
}

// Rebuild replaces the entire index generation with records. An empty record
// set drops the current generation and leaves the index not ready. The write
// happens into a fresh collection; the old generation stays queryable until
// the swap.
func (idx *Index) Rebuild(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return idx.clear()
	}

	genName := generationPrefix + uuid.NewString()
	col, err := idx.db.CreateCollection(genName, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("creating generation %q: %w", genName, err)
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Text,
			Embedding: r.Vector,
			Metadata: map[string]string{
				"source":      r.Source,
				"description": r.Description,
				"chunk_index": strconv.Itoa(r.ChunkIndex),
				"start_line":  strconv.Itoa(r.StartLine),
				"end_line":    strconv.Itoa(r.EndLine),
				"created_at":  r.CreatedAt.UTC().Format(time.RFC3339),
			},
		}
	}

	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		// The half-built generation must not survive; current stays intact.
		if delErr := idx.db.DeleteCollection(genName); delErr != nil {
			idx.logger.Error("failed to drop aborted generation", "name", genName, "error", delErr)
		}
		return fmt.Errorf("populating generation %q: %w", genName, err)
	}

	idx.mu.Lock()
	oldName := idx.genName
	idx.current = col
	idx.genName = genName
	idx.mu.Unlock()

	if oldName != "" {
		if err := idx.db.DeleteCollection(oldName); err != nil {
			idx.logger.Warn("failed to drop previous generation", "name", oldName, "error", err)
		}
	}

	idx.logger.Info("index rebuilt", "generation", genName, "records", len(records))
	return nil
}

// clear drops the current generation, leaving the index not ready.
func (idx *Index) clear() error {
	idx.mu.Lock()
	oldName := idx.genName
	idx.current = nil
	idx.genName = ""
	idx.mu.Unlock()

	if oldName != "" {
		if err := idx.db.DeleteCollection(oldName); err != nil {
			return fmt.Errorf("dropping generation %q: %w", oldName, err)
		}
	}
	idx.logger.Info("index cleared")
	return nil
}

// Search returns the limit nearest records by cosine distance, ascending.
// Returns ErrNotReady when no generation is current.
func (idx *Index) Search(ctx context.Context, queryVector []float32, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}

	idx.mu.RLock()
	col := idx.current
	idx.mu.RUnlock()

	if col == nil || col.Count() == 0 {
		return nil, ErrNotReady
	}

	// The engine rejects result counts beyond the collection size.
	n := limit
	if count := col.Count(); n > count {
		n = count
	}

	results, err := col.QueryEmbedding(ctx, queryVector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, res := range results {
		hits = append(hits, hitFromResult(res))
	}
	// The engine orders by similarity descending, which is distance
	// ascending; keep the guarantee explicit anyway.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score < hits[j].Score })

	return hits, nil
}

// SearchWithThreshold over-fetches 2x limit candidates, keeps those with
// distance strictly below threshold, and returns at most limit hits. The
// over-fetch compensates for candidates the threshold filter discards.
func (idx *Index) SearchWithThreshold(ctx context.Context, queryVector []float32, limit int, threshold float64) ([]Hit, error) {
	hits, err := idx.Search(ctx, queryVector, 2*limit)
	if err != nil {
		return nil, err
	}

	filtered := make([]Hit, 0, limit)
	for _, h := range hits {
		if h.Score >= threshold {
			continue
		}
		filtered = append(filtered, h)
		if len(filtered) == limit {
			break
		}
	}
	return filtered, nil
}

func hitFromResult(res chromem.Result) Hit {
	h := Hit{
		ID:          res.ID,
		Text:        res.Content,
		Source:      res.Metadata["source"],
		Description: res.Metadata["description"],
		Score:       1 - float64(res.Similarity),
	}
	if v, err := strconv.Atoi(res.Metadata["start_line"]); err == nil {
		h.StartLine = v
	}
	if v, err := strconv.Atoi(res.Metadata["end_line"]); err == nil {
		h.EndLine = v
	}
	return h
}
