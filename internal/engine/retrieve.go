package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/jfgonzales/fred/internal/docstore"
	"github.com/jfgonzales/fred/internal/log"
)

// RetrieveToolName is the tool the router model calls to request retrieval.
const RetrieveToolName = "retrieve"

const retrieveToolDescription = "Look up information related to a query in the indexed documents. " +
	"Call this when the user's question needs facts from the document collection."

// Retriever is the document search surface the engine needs.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]docstore.Result, error)
}

type retrieveInput struct {
	Query string `json:"query" jsonschema_description:"The search query"`
}

// Retrieval is the dual result of one retrieval: the structured chunks as a
// provenance record (IDs, sources, similarity scores) and the flattened text
// for prompt injection. Both describe the same ranked result set.
type Retrieval struct {
	Context string            `json:"context"`
	Chunks  []docstore.Result `json:"chunks,omitempty"`
}

// newRetrieval builds both renderings from one ranked result set.
func newRetrieval(results []docstore.Result) Retrieval {
	return Retrieval{Context: SerializeResults(results), Chunks: results}
}

// defineRetrieveTool registers the retrieval tool with Genkit.
// The engine classifies tool requests itself and runs the search under its
// own timeout, but the definition gives the model the tool's schema and
// keeps the tool directly invocable (e.g. from the Genkit dev UI).
func defineRetrieveTool(g *genkit.Genkit, retriever Retriever, topK int, logger log.Logger) ai.Tool {
	return genkit.DefineTool(g, RetrieveToolName, retrieveToolDescription,
		func(tctx *ai.ToolContext, in retrieveInput) (Retrieval, error) {
			results, err := retriever.Search(tctx, in.Query, topK)
			if err != nil {
				return Retrieval{}, fmt.Errorf("retrieve tool: %w", err)
			}
			logger.Debug("retrieve tool executed", "query", in.Query, "results", len(results))
			return newRetrieval(results), nil
		})
}

// SerializeResults renders retrieved chunks for prompt injection, ranked
// order preserved:
//
//	Source: {source}
//	Content: {content}
//
// joined by blank lines. Returns "" for no results.
func SerializeResults(results []docstore.Result) string {
	if len(results) == 0 {
		return ""
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("Source: %s\nContent: %s", r.Source, r.Content)
	}
	return strings.Join(parts, "\n\n")
}

// queryFromToolInput extracts the retrieval query from a tool request input,
// which arrives as a decoded JSON object.
func queryFromToolInput(input any) (string, bool) {
	switch v := input.(type) {
	case map[string]any:
		if q, ok := v["query"].(string); ok && strings.TrimSpace(q) != "" {
			return q, true
		}
	case string:
		if strings.TrimSpace(v) != "" {
			return v, true
		}
	default:
		// Unexpected shape; a JSON round trip handles typed structs.
		data, err := json.Marshal(input)
		if err != nil {
			return "", false
		}
		var in retrieveInput
		if err := json.Unmarshal(data, &in); err == nil && strings.TrimSpace(in.Query) != "" {
			return in.Query, true
		}
	}
	return "", false
}
