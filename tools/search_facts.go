package tools

import (
	"context"
	"fmt"

	"worldsd/worlds"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/sahilm/fuzzy"
)

const searchFactsLimit = 25

// NewSearchFactsTool builds the read-only fact search tool. The store does
// the heavy lifting; results are re-ranked here with fuzzy matching so the
// most relevant triples reach the model first.
func NewSearchFactsTool(store worlds.Store) *Tool {
	return &Tool{
		Name:        "searchFacts",
		Description: "Search the world's knowledge base for facts matching a text query. Read-only. Use this before generating IRIs or writing queries to discover what already exists.",
		InputSchema: mcptypes.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Text to search for (entity names, predicates, literal values)",
				},
				"worldId": map[string]any{
					"type":        "string",
					"description": "World to search. Defaults to the conversation's world.",
				},
				"limit": map[string]any{
					"type":        "number",
					"description": "Maximum number of facts to return (default 25)",
				},
			},
			Required: []string{"query"},
		},
		Execute: func(ctx context.Context, input map[string]any, tc Context) (any, error) {
			query := stringArg(input, "query")
			if query == "" {
				return nil, fmt.Errorf("query is required")
			}

			worldID, err := tc.ResolveWorld(stringArg(input, "worldId"))
			if err != nil {
				return nil, err
			}

			limit := intArg(input, "limit")
			if limit <= 0 || limit > searchFactsLimit {
				limit = searchFactsLimit
			}

			// Over-fetch so the local re-rank has something to work with.
			facts, err := store.SearchFacts(ctx, worldID, query, limit*4)
			if err != nil {
				return nil, err
			}

			ranked := rankFacts(query, facts)
			if len(ranked) > limit {
				ranked = ranked[:limit]
			}

			return map[string]any{
				"worldId": worldID,
				"count":   len(ranked),
				"facts":   ranked,
			}, nil
		},
	}
}

// rankFacts orders facts by fuzzy relevance to the query. Facts the matcher
// scores are ranked first; unmatched facts keep their store order behind
// them, so a weak query still returns everything the store found.
func rankFacts(query string, facts []worlds.Fact) []worlds.Fact {
	if len(facts) < 2 {
		return facts
	}

	targets := make([]string, len(facts))
	for i, f := range facts {
		targets[i] = f.Subject + " " + f.Predicate + " " + f.Object + " " + f.Label
	}

	matches := fuzzy.Find(query, targets)
	if len(matches) == 0 {
		return facts
	}

	ranked := make([]worlds.Fact, 0, len(facts))
	seen := make(map[int]bool, len(matches))
	for _, m := range matches {
		ranked = append(ranked, facts[m.Index])
		seen[m.Index] = true
	}
	for i, f := range facts {
		if !seen[i] {
			ranked = append(ranked, f)
		}
	}
	return ranked
}
