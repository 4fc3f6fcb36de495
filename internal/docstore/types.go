package docstore

import "time"

// VectorDimension is the embedding dimension of the chunks table.
// Must match the vector(N) column in db/migrations and the configured
// embedder model (text-embedding-004 outputs 768 dimensions).
const VectorDimension = 768

// Chunk is a contiguous span of a source document with stable identity.
// ID is a UUIDv5 derived from (Source, Ordinal), so re-ingesting the same
// document overwrites rather than duplicates.
type Chunk struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	Ordinal   int               `json:"ordinal"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitzero"`
}

// Result is a chunk returned from semantic search with its similarity score.
// Similarity is 1 - cosine distance, higher is more similar.
type Result struct {
	Chunk
	Similarity float64 `json:"similarity"`
}

// SourceInfo summarizes one ingested source document.
type SourceInfo struct {
	Source string `json:"source"`
	Chunks int    `json:"chunks"`
}
