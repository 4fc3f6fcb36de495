// Package ingest turns raw documents into embedded chunks in the document
// store. Chunk IDs are deterministic (UUIDv5 of source name and ordinal),
// so re-ingesting a document replaces its prior chunks instead of
// accumulating duplicates.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jfgonzales/fred/internal/docstore"
	"github.com/jfgonzales/fred/internal/log"
)

// chunkNamespace is the fixed UUIDv5 namespace for chunk IDs.
// Changing it would orphan every previously ingested chunk.
var chunkNamespace = uuid.MustParse("f4c1b2ae-7a70-4f5c-9e31-5d2c8aa1b0e7")

// ChunkID returns the deterministic ID for a chunk of the given source at
// the given ordinal. Independent of chunk content: position identity, not
// content identity. Ordinals are 1-based: a source's first chunk is 1.
func ChunkID(source string, ordinal int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d", source, ordinal))).String()
}

// Store is the document store surface the indexer needs.
// Interface defined here, by the consumer, so tests can substitute a fake.
type Store interface {
	Upsert(ctx context.Context, chunks []docstore.Chunk) error
	DeleteBySource(ctx context.Context, source string) (int64, error)
}

// IndexResult reports the outcome of one ingestion.
type IndexResult struct {
	SourceName    string `json:"source_name"`
	ChunksIndexed int    `json:"chunks_indexed"`

	// ReplacedPrior is the number of pre-existing chunks deleted before
	// indexing. Zero for a first-time ingest.
	ReplacedPrior int64 `json:"replaced_prior"`

	// PriorDeleteFailed is set when the best-effort pre-delete failed.
	// The upsert still ran; stale chunks beyond the new ordinal range may
	// remain until the next successful ingest of this source.
	PriorDeleteFailed bool `json:"prior_delete_failed,omitempty"`
}

// Indexer chunks documents and writes them to the store.
type Indexer struct {
	store        Store
	chunkSize    int
	chunkOverlap int
	logger       log.Logger
}

// NewIndexer creates an Indexer. chunkSize and chunkOverlap are in runes;
// overlap must be smaller than size (enforced by config validation).
func NewIndexer(store Store, chunkSize, chunkOverlap int, logger log.Logger) *Indexer {
	return &Indexer{
		store:        store,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		logger:       logger.With("component", "ingest"),
	}
}

// Ingest chunks raw content under sourceName, replaces any prior chunks for
// that source, and indexes the new chunks.
//
// Markdown sources (.md, .markdown) are flattened to plain text first.
// The pre-delete is best effort: if it fails the new chunks are still
// written (same IDs overwrite), and the result flags the failure.
func (idx *Indexer) Ingest(ctx context.Context, sourceName, raw string) (IndexResult, error) {
	result := IndexResult{SourceName: sourceName}

	if strings.TrimSpace(sourceName) == "" {
		return result, fmt.Errorf("%w: source name is empty", ErrIngestion)
	}
	if strings.TrimSpace(raw) == "" {
		return result, fmt.Errorf("%w: source %q has no content", ErrIngestion, sourceName)
	}

	content := raw
	switch strings.ToLower(filepath.Ext(sourceName)) {
	case ".md", ".markdown":
		content = FlattenMarkdown([]byte(raw))
	}

	pieces := SplitText(content, idx.chunkSize, idx.chunkOverlap)
	if len(pieces) == 0 {
		return result, fmt.Errorf("%w: source %q produced no chunks", ErrIngestion, sourceName)
	}

	deleted, err := idx.store.DeleteBySource(ctx, sourceName)
	if err != nil {
		// Best effort: same-position chunks are overwritten by ID anyway.
		idx.logger.Warn("failed to delete prior chunks, continuing",
			"source", sourceName, "error", err)
		result.PriorDeleteFailed = true
	}
	result.ReplacedPrior = deleted

	indexedAt := time.Now().UTC().Format(time.RFC3339)
	chunks := make([]docstore.Chunk, len(pieces))
	for i, piece := range pieces {
		ordinal := i + 1
		chunks[i] = docstore.Chunk{
			ID:      ChunkID(sourceName, ordinal),
			Source:  sourceName,
			Ordinal: ordinal,
			Content: piece,
			Metadata: map[string]string{
				"indexed_at": indexedAt,
			},
		}
	}

	if err := idx.store.Upsert(ctx, chunks); err != nil {
		return result, fmt.Errorf("indexing chunks for source %q: %w", sourceName, err)
	}

	result.ChunksIndexed = len(chunks)
	idx.logger.Info("ingested source",
		"source", sourceName,
		"chunks", result.ChunksIndexed,
		"replaced", result.ReplacedPrior)
	return result, nil
}
