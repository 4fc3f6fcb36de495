package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jfgonzales/fred/internal/docstore"
	"github.com/jfgonzales/fred/internal/log"
)

type fakeStore struct {
	upserted    []docstore.Chunk
	upsertCalls int
	upsertErr   error
	deleted     []string
	deleteCount int64
	deleteErr   error
}

func (s *fakeStore) Upsert(_ context.Context, chunks []docstore.Chunk) error {
	s.upsertCalls++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserted = append(s.upserted, chunks...)
	return nil
}

func (s *fakeStore) DeleteBySource(_ context.Context, source string) (int64, error) {
	s.deleted = append(s.deleted, source)
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	return s.deleteCount, nil
}

func newTestIndexer(store Store) *Indexer {
	return NewIndexer(store, 1000, 100, log.NewNop())
}

func TestChunkIDDeterministic(t *testing.T) {
	a := ChunkID("guide.md", 1)
	b := ChunkID("guide.md", 1)
	if a != b {
		t.Errorf("ChunkID not stable: %q vs %q", a, b)
	}

	if ChunkID("guide.md", 1) == ChunkID("guide.md", 2) {
		t.Error("different ordinals produced the same ID")
	}
	if ChunkID("guide.md", 1) == ChunkID("other.md", 1) {
		t.Error("different sources produced the same ID")
	}
}

func TestIngestProducesOrderedChunks(t *testing.T) {
	store := &fakeStore{deleteCount: 2}
	idx := newTestIndexer(store)

	content := strings.Repeat("Some sentence about the estate. ", 200)
	result, err := idx.Ingest(context.Background(), "estate.txt", content)
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}

	if result.ChunksIndexed != len(store.upserted) {
		t.Errorf("ChunksIndexed = %d, store received %d", result.ChunksIndexed, len(store.upserted))
	}
	if result.ChunksIndexed < 2 {
		t.Fatalf("expected multiple chunks, got %d", result.ChunksIndexed)
	}
	if result.ReplacedPrior != 2 {
		t.Errorf("ReplacedPrior = %d, want 2", result.ReplacedPrior)
	}
	if result.PriorDeleteFailed {
		t.Error("PriorDeleteFailed set on successful delete")
	}

	// Ordinals are 1-based: the first chunk of a source is ordinal 1.
	for i, chunk := range store.upserted {
		if chunk.Ordinal != i+1 {
			t.Errorf("chunk %d has ordinal %d, want %d", i, chunk.Ordinal, i+1)
		}
		if chunk.Source != "estate.txt" {
			t.Errorf("chunk %d has source %q", i, chunk.Source)
		}
		if chunk.ID != ChunkID("estate.txt", i+1) {
			t.Errorf("chunk %d ID = %q, want deterministic ID", i, chunk.ID)
		}
		if chunk.Metadata["indexed_at"] == "" {
			t.Errorf("chunk %d missing indexed_at metadata", i)
		}
	}

	if len(store.deleted) != 1 || store.deleted[0] != "estate.txt" {
		t.Errorf("DeleteBySource calls = %v, want [estate.txt]", store.deleted)
	}
}

func TestIngestTwiceYieldsSameIDs(t *testing.T) {
	store := &fakeStore{}
	idx := newTestIndexer(store)
	content := strings.Repeat("Stable content for identity checks. ", 150)

	if _, err := idx.Ingest(context.Background(), "doc.txt", content); err != nil {
		t.Fatalf("first Ingest() error: %v", err)
	}
	first := make([]string, len(store.upserted))
	for i, c := range store.upserted {
		first[i] = c.ID
	}

	store.upserted = nil
	if _, err := idx.Ingest(context.Background(), "doc.txt", content); err != nil {
		t.Fatalf("second Ingest() error: %v", err)
	}

	if len(store.upserted) != len(first) {
		t.Fatalf("chunk count changed between ingests: %d vs %d", len(first), len(store.upserted))
	}
	for i, c := range store.upserted {
		if c.ID != first[i] {
			t.Errorf("chunk %d ID changed: %q vs %q", i, first[i], c.ID)
		}
	}
}

func TestIngestFlattensMarkdown(t *testing.T) {
	store := &fakeStore{}
	idx := newTestIndexer(store)

	_, err := idx.Ingest(context.Background(), "guide.md", "# Heading\n\nPlain body text.")
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if len(store.upserted) == 0 {
		t.Fatal("no chunks indexed")
	}
	if strings.Contains(store.upserted[0].Content, "#") {
		t.Errorf("markdown syntax survived flattening: %q", store.upserted[0].Content)
	}
	if !strings.Contains(store.upserted[0].Content, "Heading") {
		t.Errorf("heading text lost: %q", store.upserted[0].Content)
	}
}

func TestIngestValidation(t *testing.T) {
	idx := newTestIndexer(&fakeStore{})

	tests := []struct {
		name    string
		source  string
		content string
	}{
		{"empty source", "", "content"},
		{"blank source", "   ", "content"},
		{"empty content", "doc.txt", ""},
		{"blank content", "doc.txt", "  \n "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := idx.Ingest(context.Background(), tt.source, tt.content)
			if !errors.Is(err, ErrIngestion) {
				t.Errorf("Ingest() = %v, want ErrIngestion", err)
			}
		})
	}
}

func TestIngestContinuesWhenDeleteFails(t *testing.T) {
	store := &fakeStore{deleteErr: errors.New("connection refused")}
	idx := newTestIndexer(store)

	result, err := idx.Ingest(context.Background(), "doc.txt", "Content that survives the delete failure.")
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if !result.PriorDeleteFailed {
		t.Error("PriorDeleteFailed not set")
	}
	if result.ChunksIndexed == 0 || store.upsertCalls != 1 {
		t.Errorf("chunks not indexed after delete failure: result=%+v calls=%d", result, store.upsertCalls)
	}
}

func TestIngestPropagatesStoreFailure(t *testing.T) {
	store := &fakeStore{upsertErr: docstore.ErrUnavailable}
	idx := newTestIndexer(store)

	_, err := idx.Ingest(context.Background(), "doc.txt", "Some content.")
	if !errors.Is(err, docstore.ErrUnavailable) {
		t.Errorf("Ingest() = %v, want wrapped docstore.ErrUnavailable", err)
	}
}
