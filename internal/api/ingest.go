package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jfgonzales/fred/internal/docstore"
	"github.com/jfgonzales/fred/internal/ingest"
	"github.com/jfgonzales/fred/internal/log"
)

// Ingestor chunks, embeds, and indexes a document.
// *ingest.Indexer satisfies it.
type Ingestor interface {
	Ingest(ctx context.Context, sourceName, content string) (ingest.IndexResult, error)
}

// SourceLister reports the ingested sources. *docstore.Store satisfies it.
type SourceLister interface {
	ListSources(ctx context.Context) ([]docstore.SourceInfo, error)
}

// IngestHandler handles document ingestion endpoints.
type IngestHandler struct {
	indexer Ingestor
	sources SourceLister
	logger  log.Logger
}

// NewIngestHandler creates an ingest handler.
func NewIngestHandler(indexer Ingestor, sources SourceLister, logger log.Logger) *IngestHandler {
	return &IngestHandler{
		indexer: indexer,
		sources: sources,
		logger:  logger.With("component", "ingest_handler"),
	}
}

// RegisterRoutes registers ingest routes on the given mux.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ingest", h.ingest)
	mux.HandleFunc("GET /api/sources", h.listSources)
}

// IngestRequest is the request body for POST /api/ingest.
type IngestRequest struct {
	SourceName string `json:"source_name"`
	Content    string `json:"content"`
}

// IngestResponse is the response body for POST /api/ingest.
type IngestResponse struct {
	SourceName        string `json:"source_name"`
	ChunksIndexed     int    `json:"chunks_indexed"`
	ReplacedPrior     int64  `json:"replaced_prior"`
	PriorDeleteFailed bool   `json:"prior_delete_failed,omitempty"`
}

// ingest handles POST /api/ingest: index one document under a source name.
// Re-ingesting a source replaces its prior chunks.
func (h *IngestHandler) ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}

	result, err := h.indexer.Ingest(r.Context(), req.SourceName, req.Content)
	if err != nil {
		h.logger.Error("ingestion failed", "source", req.SourceName, "error", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{
		SourceName:        result.SourceName,
		ChunksIndexed:     result.ChunksIndexed,
		ReplacedPrior:     result.ReplacedPrior,
		PriorDeleteFailed: result.PriorDeleteFailed,
	})
}

// SourceEntry is one ingested source in the listing response.
type SourceEntry struct {
	Source string `json:"source"`
	Chunks int    `json:"chunks"`
}

// SourcesResponse is the response body for GET /api/sources.
type SourcesResponse struct {
	Sources []SourceEntry `json:"sources"`
}

// listSources handles GET /api/sources.
func (h *IngestHandler) listSources(w http.ResponseWriter, r *http.Request) {
	infos, err := h.sources.ListSources(r.Context())
	if err != nil {
		h.logger.Error("source listing failed", "error", err)
		writeServiceError(w, err)
		return
	}

	resp := SourcesResponse{Sources: make([]SourceEntry, 0, len(infos))}
	for _, info := range infos {
		resp.Sources = append(resp.Sources, SourceEntry{Source: info.Source, Chunks: info.Chunks})
	}
	writeJSON(w, http.StatusOK, resp)
}
