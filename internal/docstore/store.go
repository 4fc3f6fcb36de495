// Package docstore manages document chunks with vector search over
// PostgreSQL + pgvector.
//
// The store embeds content through the injected ai.Embedder and persists
// chunks with their embeddings. Search embeds the query and runs cosine
// k-NN over the chunks table. All failures that originate in the database
// wrap ErrUnavailable.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/jfgonzales/fred/internal/log"
)

// DB is the subset of pgxpool.Pool used by the store.
// Consumer-defined so tests can substitute a fake without a live database.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// DefaultEmbedTimeout bounds embedder calls when no timeout is configured.
const DefaultEmbedTimeout = 10 * time.Second

// Store persists chunks and serves semantic search.
// Safe for concurrent use by multiple goroutines.
type Store struct {
	db           DB
	embedder     ai.Embedder
	embedTimeout time.Duration
	logger       log.Logger
}

// New creates a Store. The embedder generates vectors for both ingested
// content and search queries; both sides must use the same model or
// similarity scores are meaningless. Every embedder call runs under
// embedTimeout (DefaultEmbedTimeout when non-positive).
func New(db DB, embedder ai.Embedder, embedTimeout time.Duration, logger log.Logger) *Store {
	if embedTimeout <= 0 {
		embedTimeout = DefaultEmbedTimeout
	}
	return &Store{
		db:           db,
		embedder:     embedder,
		embedTimeout: embedTimeout,
		logger:       logger.With("component", "docstore"),
	}
}

// embed calls the embedder under the store's embed timeout.
func (s *Store) embed(ctx context.Context, input []*ai.Document) (*ai.EmbedResponse, error) {
	ectx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()
	return s.embedder.Embed(ectx, &ai.EmbedRequest{Input: input})
}

const upsertChunkSQL = `
INSERT INTO chunks (id, source, ordinal, content, embedding, metadata)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    source = EXCLUDED.source,
    ordinal = EXCLUDED.ordinal,
    content = EXCLUDED.content,
    embedding = EXCLUDED.embedding,
    metadata = EXCLUDED.metadata`

// Upsert embeds and persists the given chunks in a single batch.
// Existing rows with the same ID are overwritten, which makes re-ingesting
// a source idempotent.
func (s *Store) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	embeddings, err := s.embedAll(ctx, chunks)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, chunk := range chunks {
		metadataJSON, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for chunk %q: %w", chunk.ID, err)
		}
		batch.Queue(upsertChunkSQL,
			chunk.ID, chunk.Source, chunk.Ordinal, chunk.Content,
			embeddings[i], metadataJSON)
	}

	results := s.db.SendBatch(ctx, batch)
	defer func() {
		if err := results.Close(); err != nil {
			s.logger.Warn("failed to close batch results", "error", err)
		}
	}()

	for i := range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("%w: upserting chunk %q: %v", ErrUnavailable, chunks[i].ID, err)
		}
	}

	s.logger.Debug("upserted chunks", "count", len(chunks), "source", chunks[0].Source)
	return nil
}

// embedAll generates embeddings for all chunk contents in one request.
func (s *Store) embedAll(ctx context.Context, chunks []Chunk) ([]pgvector.Vector, error) {
	input := make([]*ai.Document, len(chunks))
	for i, chunk := range chunks {
		input[i] = &ai.Document{Content: []*ai.Part{ai.NewTextPart(chunk.Content)}}
	}

	resp, err := s.embed(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("generating embeddings: %w", err)
	}
	if len(resp.Embeddings) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d embeddings for %d chunks",
			len(resp.Embeddings), len(chunks))
	}

	vectors := make([]pgvector.Vector, len(chunks))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) != VectorDimension {
			return nil, fmt.Errorf("embedding for chunk %q has %d dimensions, want %d",
				chunks[i].ID, len(emb.Embedding), VectorDimension)
		}
		vectors[i] = pgvector.NewVector(emb.Embedding)
	}
	return vectors, nil
}

const searchSQL = `
SELECT id, source, ordinal, content, metadata, created_at,
       1 - (embedding <=> $1) AS similarity
FROM chunks
ORDER BY embedding <=> $1, created_at, id
LIMIT $2`

// Search returns the topK chunks most similar to the query, ranked by cosine
// similarity. Equidistant chunks are ordered deterministically by creation
// time, then ID.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK < 1 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	resp, err := s.embed(ctx, []*ai.Document{
		{Content: []*ai.Part{ai.NewTextPart(query)}},
	})
	if err != nil {
		return nil, fmt.Errorf("generating query embedding: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("empty embedding returned for query")
	}

	queryVector := pgvector.NewVector(resp.Embeddings[0].Embedding)

	rows, err := s.db.Query(ctx, searchSQL, queryVector, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r            Result
			metadataJSON []byte
			createdAt    pgtype.Timestamptz
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.Ordinal, &r.Content,
			&metadataJSON, &createdAt, &r.Similarity); err != nil {
			return nil, fmt.Errorf("%w: scanning search row: %v", ErrUnavailable, err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &r.Metadata); err != nil {
				s.logger.Warn("failed to parse chunk metadata", "chunk_id", r.ID, "error", err)
			}
		}
		if createdAt.Valid {
			r.CreatedAt = createdAt.Time
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading search rows: %v", ErrUnavailable, err)
	}

	s.logger.Debug("search completed", "results", len(results), "top_k", topK)
	return results, nil
}

// DeleteBySource removes all chunks for the given source document.
// Returns the number of rows deleted.
func (s *Store) DeleteBySource(ctx context.Context, source string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM chunks WHERE source = $1`, source)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting chunks for source %q: %v", ErrUnavailable, source, err)
	}

	deleted := tag.RowsAffected()
	if deleted > 0 {
		s.logger.Debug("deleted chunks", "source", source, "count", deleted)
	}
	return deleted, nil
}

// Count returns the total number of chunks in the store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: counting chunks: %v", ErrUnavailable, err)
	}
	return count, nil
}

// CountBySource returns the number of chunks for one source document.
func (s *Store) CountBySource(ctx context.Context, source string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM chunks WHERE source = $1`, source).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: counting chunks for source %q: %v", ErrUnavailable, source, err)
	}
	return count, nil
}

// ListSources returns every ingested source with its chunk count,
// ordered by source name.
func (s *Store) ListSources(ctx context.Context) ([]SourceInfo, error) {
	rows, err := s.db.Query(ctx,
		`SELECT source, COUNT(*) FROM chunks GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing sources: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var sources []SourceInfo
	for rows.Next() {
		var info SourceInfo
		if err := rows.Scan(&info.Source, &info.Chunks); err != nil {
			return nil, fmt.Errorf("%w: scanning source row: %v", ErrUnavailable, err)
		}
		sources = append(sources, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading source rows: %v", ErrUnavailable, err)
	}
	return sources, nil
}
