// Package indexer coordinates a full index rebuild: list the corpus, extract
// and split each document, embed every chunk, and hand the complete record
// set to the vector index in one write.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mkrale/lore/internal/corpus"
	"github.com/mkrale/lore/internal/index"
	"github.com/mkrale/lore/internal/splitter"
)

// ErrRebuildInProgress indicates another rebuild is already running. Requests
// are rejected, never queued.
var ErrRebuildInProgress = errors.New("index rebuild already in progress")

// Corpus lists documents and yields their extracted text.
type Corpus interface {
	List() ([]corpus.DocumentInfo, error)
	Content(filename string) (string, error)
}

// Embedder turns chunk texts into vectors, preserving order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string, batchSize int, onProgress embedProgress) ([][]float32, error)
}

type embedProgress = func(completed, total int)

// IndexWriter receives the assembled record set.
type IndexWriter interface {
	Rebuild(ctx context.Context, records []index.Record) error
}

// Result summarizes a completed rebuild.
type Result struct {
	RecordCount int
	Documents   int
	Skipped     int
	Duration    time.Duration
}

// Indexer runs full rebuilds. At most one rebuild is in flight at a time,
// guarded by a compare-and-swap flag.
type Indexer struct {
	corpus    Corpus
	splitter  *splitter.Splitter
	embedder  Embedder
	writer    IndexWriter
	batchSize int
	logger    *slog.Logger

	rebuilding atomic.Bool
}

// New creates an Indexer. batchSize controls embedding progress granularity.
func New(c Corpus, s *splitter.Splitter, e Embedder, w IndexWriter, batchSize int, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 32
	}

	return &Indexer{
		corpus:    c,
		splitter:  s,
		embedder:  e,
		writer:    w,
		batchSize: batchSize,
		logger:    logger,
	}
}

// ReindexAll rebuilds the whole index from the current corpus. A document
// whose content cannot be extracted is logged and skipped; it does not abort
// the rebuild. Any failure past extraction (embedding, index write) fails the
// rebuild outright, before the index is touched.
func (ix *Indexer) ReindexAll(ctx context.Context) (Result, error) {
	if !ix.rebuilding.CompareAndSwap(false, true) {
		return Result{}, ErrRebuildInProgress
	}
	defer ix.rebuilding.Store(false)

	start := time.Now()

	docs, err := ix.corpus.List()
	if err != nil {
		return Result{}, fmt.Errorf("listing corpus: %w", err)
	}

	var records []index.Record
	var texts []string
	skipped := 0
	for _, doc := range docs {
		content, err := ix.corpus.Content(doc.Name)
		if err != nil {
			ix.logger.Warn("skipping document, extraction failed", "name", doc.Name, "error", err)
			skipped++
			continue
		}

		chunks := ix.splitter.Split(content)
		createdAt := time.Now()
		for _, chunk := range chunks {
			records = append(records, index.Record{
				ID:          index.RecordID(doc.Name, chunk.Index),
				Text:        chunk.Text,
				Source:      doc.Name,
				Description: doc.Description,
				ChunkIndex:  chunk.Index,
				StartLine:   chunk.StartLine,
				EndLine:     chunk.EndLine,
				CreatedAt:   createdAt,
			})
			texts = append(texts, chunk.Text)
		}
	}

	if len(records) == 0 {
		if err := ix.writer.Rebuild(ctx, nil); err != nil {
			return Result{}, fmt.Errorf("clearing index: %w", err)
		}
		ix.logger.Info("reindex complete, corpus empty",
			"documents", len(docs), "skipped", skipped)
		return Result{Documents: len(docs) - skipped, Skipped: skipped, Duration: time.Since(start)}, nil
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts, ix.batchSize, func(done, total int) {
		ix.logger.Debug("embedding chunks", "done", done, "total", total)
	})
	if err != nil {
		return Result{}, fmt.Errorf("embedding %d chunks: %w", len(texts), err)
	}
	if len(vectors) != len(records) {
		return Result{}, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(records))
	}
	for i := range records {
		records[i].Vector = vectors[i]
	}

	if err := ix.writer.Rebuild(ctx, records); err != nil {
		return Result{}, fmt.Errorf("writing index: %w", err)
	}

	res := Result{
		RecordCount: len(records),
		Documents:   len(docs) - skipped,
		Skipped:     skipped,
		Duration:    time.Since(start),
	}
	ix.logger.Info("reindex complete",
		"records", res.RecordCount,
		"documents", res.Documents,
		"skipped", res.Skipped,
		"duration", res.Duration)
	return res, nil
}
