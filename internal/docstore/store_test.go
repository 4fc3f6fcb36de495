package docstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/jfgonzales/fred/internal/log"
)

// fakeEmbedder returns fixed-dimension unit vectors without a real model.
type fakeEmbedder struct {
	dim int
	err error
}

func (f *fakeEmbedder) Name() string { return "fake/embedder" }

func (f *fakeEmbedder) Register(api.Registry) {}

func (f *fakeEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i := range req.Input {
		vec := make([]float32, f.dim)
		if f.dim > 0 {
			vec[0] = 1
		}
		embeddings[i] = &ai.Embedding{Embedding: vec}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

// blockingEmbedder never answers; it returns only when the context ends.
type blockingEmbedder struct{}

func (blockingEmbedder) Name() string { return "fake/blocking-embedder" }

func (blockingEmbedder) Register(api.Registry) {}

func (blockingEmbedder) Embed(ctx context.Context, _ *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// scanInto copies fake row values into scan destinations.
func scanInto(dest []any, src []any) error {
	if len(dest) != len(src) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(src))
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *string:
			*d = src[i].(string)
		case *int:
			*d = src[i].(int)
		case *[]byte:
			*d = src[i].([]byte)
		case *float64:
			*d = src[i].(float64)
		case *pgtype.Timestamptz:
			*d = src[i].(pgtype.Timestamptz)
		default:
			return fmt.Errorf("scan: unsupported destination type %T", dest[i])
		}
	}
	return nil
}

// fakeRows implements the pgx.Rows methods the store uses.
// Unused interface methods panic via the embedded nil interface.
type fakeRows struct {
	pgx.Rows
	rows [][]any
	idx  int
	err  error
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return r.err }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return scanInto(dest, r.rows[r.idx-1])
}

type fakeRow struct {
	vals []any
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(dest, r.vals)
}

type fakeBatchResults struct {
	pgx.BatchResults
	execErr error
}

func (b *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, b.execErr
}

func (b *fakeBatchResults) Close() error { return nil }

// fakeDB records calls and returns canned results.
type fakeDB struct {
	execTag   pgconn.CommandTag
	execErr   error
	execSQL   string
	execArgs  []any
	queryRows *fakeRows
	queryErr  error
	rowResult *fakeRow
	batch     *pgx.Batch
	batchErr  error
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execSQL = sql
	db.execArgs = args
	return db.execTag, db.execErr
}

func (db *fakeDB) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	if db.queryErr != nil {
		return nil, db.queryErr
	}
	return db.queryRows, nil
}

func (db *fakeDB) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return db.rowResult
}

func (db *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	db.batch = b
	return &fakeBatchResults{execErr: db.batchErr}
}

func newTestStore(db *fakeDB, embedder ai.Embedder) *Store {
	return New(db, embedder, time.Second, log.NewNop())
}

func TestUpsertQueuesAllChunks(t *testing.T) {
	db := &fakeDB{}
	store := newTestStore(db, &fakeEmbedder{dim: VectorDimension})

	chunks := []Chunk{
		{ID: "a", Source: "doc.md", Ordinal: 1, Content: "first"},
		{ID: "b", Source: "doc.md", Ordinal: 2, Content: "second"},
		{ID: "c", Source: "doc.md", Ordinal: 3, Content: "third"},
	}

	if err := store.Upsert(context.Background(), chunks); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if db.batch == nil {
		t.Fatal("Upsert() did not send a batch")
	}
	if got := db.batch.Len(); got != len(chunks) {
		t.Errorf("batch length = %d, want %d", got, len(chunks))
	}
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	db := &fakeDB{}
	store := newTestStore(db, &fakeEmbedder{dim: VectorDimension})

	if err := store.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("Upsert(nil) error: %v", err)
	}
	if db.batch != nil {
		t.Error("Upsert(nil) sent a batch")
	}
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	db := &fakeDB{}
	store := newTestStore(db, &fakeEmbedder{dim: 3})

	err := store.Upsert(context.Background(), []Chunk{{ID: "a", Content: "x"}})
	if err == nil {
		t.Fatal("Upsert() = nil, want dimension error")
	}
	if db.batch != nil {
		t.Error("Upsert() sent a batch despite bad embeddings")
	}
}

func TestUpsertEmbedderFailure(t *testing.T) {
	embedErr := errors.New("quota exceeded")
	store := newTestStore(&fakeDB{}, &fakeEmbedder{dim: VectorDimension, err: embedErr})

	err := store.Upsert(context.Background(), []Chunk{{ID: "a", Content: "x"}})
	if !errors.Is(err, embedErr) {
		t.Errorf("Upsert() = %v, want wrapped embedder error", err)
	}
}

func TestUpsertEmbedDeadline(t *testing.T) {
	db := &fakeDB{}
	store := New(db, blockingEmbedder{}, 20*time.Millisecond, log.NewNop())

	start := time.Now()
	err := store.Upsert(context.Background(), []Chunk{{ID: "a", Content: "x"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Upsert() = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Upsert() blocked for %v despite the embed timeout", elapsed)
	}
	if db.batch != nil {
		t.Error("Upsert() sent a batch despite the embed failure")
	}
}

func TestSearchEmbedDeadline(t *testing.T) {
	store := New(&fakeDB{}, blockingEmbedder{}, 20*time.Millisecond, log.NewNop())

	start := time.Now()
	_, err := store.Search(context.Background(), "query", 4)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Search() = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Search() blocked for %v despite the embed timeout", elapsed)
	}
}

func TestUpsertBatchFailureIsUnavailable(t *testing.T) {
	db := &fakeDB{batchErr: errors.New("connection refused")}
	store := newTestStore(db, &fakeEmbedder{dim: VectorDimension})

	err := store.Upsert(context.Background(), []Chunk{{ID: "a", Content: "x"}})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Upsert() = %v, want ErrUnavailable", err)
	}
}

func TestSearchReturnsRankedResults(t *testing.T) {
	now := pgtype.Timestamptz{Time: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), Valid: true}
	db := &fakeDB{
		queryRows: &fakeRows{rows: [][]any{
			{"id-1", "doc.md", 0, "closest chunk", []byte(`{"title":"Doc"}`), now, 0.93},
			{"id-2", "doc.md", 4, "second chunk", []byte(`{}`), now, 0.81},
		}},
	}
	store := newTestStore(db, &fakeEmbedder{dim: VectorDimension})

	results, err := store.Search(context.Background(), "what is fred", 4)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Search() returned %d results, want 2", len(results))
	}
	if results[0].ID != "id-1" || results[0].Similarity != 0.93 {
		t.Errorf("first result = %+v, want id-1 with similarity 0.93", results[0])
	}
	if results[0].Metadata["title"] != "Doc" {
		t.Errorf("metadata = %v, want title=Doc", results[0].Metadata)
	}
	if results[1].Ordinal != 4 {
		t.Errorf("second result ordinal = %d, want 4", results[1].Ordinal)
	}
}

func TestSearchInvalidTopK(t *testing.T) {
	store := newTestStore(&fakeDB{}, &fakeEmbedder{dim: VectorDimension})

	if _, err := store.Search(context.Background(), "query", 0); err == nil {
		t.Error("Search(topK=0) = nil, want error")
	}
}

func TestSearchQueryFailureIsUnavailable(t *testing.T) {
	db := &fakeDB{queryErr: errors.New("server closed the connection")}
	store := newTestStore(db, &fakeEmbedder{dim: VectorDimension})

	_, err := store.Search(context.Background(), "query", 4)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Search() = %v, want ErrUnavailable", err)
	}
}

func TestDeleteBySource(t *testing.T) {
	db := &fakeDB{execTag: pgconn.NewCommandTag("DELETE 7")}
	store := newTestStore(db, &fakeEmbedder{dim: VectorDimension})

	deleted, err := store.DeleteBySource(context.Background(), "doc.md")
	if err != nil {
		t.Fatalf("DeleteBySource() error: %v", err)
	}
	if deleted != 7 {
		t.Errorf("DeleteBySource() = %d, want 7", deleted)
	}
	if len(db.execArgs) != 1 || db.execArgs[0] != "doc.md" {
		t.Errorf("Exec args = %v, want [doc.md]", db.execArgs)
	}
}

func TestDeleteBySourceFailureIsUnavailable(t *testing.T) {
	db := &fakeDB{execErr: errors.New("connection refused")}
	store := newTestStore(db, &fakeEmbedder{dim: VectorDimension})

	_, err := store.DeleteBySource(context.Background(), "doc.md")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("DeleteBySource() = %v, want ErrUnavailable", err)
	}
}

func TestCount(t *testing.T) {
	db := &fakeDB{rowResult: &fakeRow{vals: []any{42}}}
	store := newTestStore(db, &fakeEmbedder{dim: VectorDimension})

	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 42 {
		t.Errorf("Count() = %d, want 42", count)
	}
}

func TestCountBySource(t *testing.T) {
	db := &fakeDB{rowResult: &fakeRow{vals: []any{5}}}
	store := newTestStore(db, &fakeEmbedder{dim: VectorDimension})

	count, err := store.CountBySource(context.Background(), "doc.md")
	if err != nil {
		t.Fatalf("CountBySource() error: %v", err)
	}
	if count != 5 {
		t.Errorf("CountBySource() = %d, want 5", count)
	}
}

func TestListSources(t *testing.T) {
	db := &fakeDB{
		queryRows: &fakeRows{rows: [][]any{
			{"guide.md", 12},
			{"notes.md", 3},
		}},
	}
	store := newTestStore(db, &fakeEmbedder{dim: VectorDimension})

	sources, err := store.ListSources(context.Background())
	if err != nil {
		t.Fatalf("ListSources() error: %v", err)
	}
	want := []SourceInfo{{Source: "guide.md", Chunks: 12}, {Source: "notes.md", Chunks: 3}}
	if len(sources) != len(want) {
		t.Fatalf("ListSources() returned %d sources, want %d", len(sources), len(want))
	}
	for i := range want {
		if sources[i] != want[i] {
			t.Errorf("source[%d] = %+v, want %+v", i, sources[i], want[i])
		}
	}
}
