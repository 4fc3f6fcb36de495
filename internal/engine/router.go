package engine

import (
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
)

// route is the router's classification of a model response.
type route int

const (
	// routeDirect: the model answered in text without needing retrieval.
	routeDirect route = iota

	// routeRetrieve: the model requested the retrieve tool.
	routeRetrieve
)

// decision is the outcome of classifying a router response.
type decision struct {
	route  route
	answer string // direct answer text (routeDirect)
	query  string // retrieval query (routeRetrieve)
	ref    string // tool request ref, echoed in the tool response

	// extraToolCalls counts tool requests beyond the first. The first
	// request wins; the caller logs the rest.
	extraToolCalls int
}

// classify decides whether a router response is a direct answer or a
// retrieval request.
//
// Tool requests take precedence over any accompanying text: a model that
// both talks and calls the tool wants retrieval. A response with neither a
// usable tool request nor non-empty text is a routing failure.
func classify(resp *ai.ModelResponse) (decision, error) {
	toolReqs := resp.ToolRequests()

	if len(toolReqs) > 0 {
		first := toolReqs[0]
		if first.Name != RetrieveToolName {
			return decision{}, fmt.Errorf("%w: model requested unknown tool %q", ErrRouting, first.Name)
		}
		query, ok := queryFromToolInput(first.Input)
		if !ok {
			return decision{}, fmt.Errorf("%w: retrieve request has no query", ErrRouting)
		}
		return decision{
			route:          routeRetrieve,
			query:          query,
			ref:            first.Ref,
			extraToolCalls: len(toolReqs) - 1,
		}, nil
	}

	if text := strings.TrimSpace(resp.Text()); text != "" {
		return decision{route: routeDirect, answer: text}, nil
	}

	return decision{}, fmt.Errorf("%w: model returned neither text nor a tool request", ErrRouting)
}
