package tools

import (
	"context"
	"fmt"

	"worldsd/worlds"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// NewExecuteSparqlTool builds the SPARQL tool. It can mutate the knowledge
// store, so NeedsApproval is set unconditionally: every single invocation
// goes through the approval gate, reads included.
func NewExecuteSparqlTool(store worlds.Store) *Tool {
	return &Tool{
		Name:          "executeSparql",
		NeedsApproval: true,
		Description:   "Execute a SPARQL statement against the world's knowledge base. Supports SELECT, ASK, CONSTRUCT and DESCRIBE queries as well as INSERT, DELETE and UPDATE mutations. Requires explicit user approval for every call.",
		InputSchema: mcptypes.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"sparql": map[string]any{
					"type":        "string",
					"description": "The SPARQL statement to execute",
				},
				"worldId": map[string]any{
					"type":        "string",
					"description": "World to execute against. Defaults to the conversation's world.",
				},
			},
			Required: []string{"sparql"},
		},
		Execute: func(ctx context.Context, input map[string]any, tc Context) (any, error) {
			statement := stringArg(input, "sparql")
			if statement == "" {
				return nil, fmt.Errorf("sparql is required")
			}

			worldID, err := tc.ResolveWorld(stringArg(input, "worldId"))
			if err != nil {
				return nil, err
			}

			return store.Sparql(ctx, worldID, statement)
		},
	}
}
