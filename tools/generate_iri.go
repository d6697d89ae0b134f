package tools

import (
	"context"
	"fmt"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/google/uuid"
)

const maxIRIBatch = 10

// NewGenerateIriTool builds the IRI minting tool. It touches nothing, so no
// approval is required; the model calls it to obtain stable identifiers
// before inserting new entities.
func NewGenerateIriTool(iriBase string) *Tool {
	return &Tool{
		Name:        "generateIri",
		Description: "Generate globally unique IRIs for new entities in the world's knowledge base. Call this before INSERT statements that create entities.",
		InputSchema: mcptypes.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"worldId": map[string]any{
					"type":        "string",
					"description": "World the IRIs belong to. Defaults to the conversation's world.",
				},
				"count": map[string]any{
					"type":        "number",
					"description": "How many IRIs to mint (default 1, max 10)",
				},
			},
		},
		Execute: func(ctx context.Context, input map[string]any, tc Context) (any, error) {
			worldID, err := tc.ResolveWorld(stringArg(input, "worldId"))
			if err != nil {
				return nil, err
			}

			count := intArg(input, "count")
			if count <= 0 {
				count = 1
			}
			if count > maxIRIBatch {
				return nil, fmt.Errorf("count must be at most %d", maxIRIBatch)
			}

			iris := make([]string, count)
			for i := range iris {
				iris[i] = EntityIRI(iriBase, worldID)
			}

			return map[string]any{
				"worldId": worldID,
				"iris":    iris,
			}, nil
		},
	}
}

// EntityIRI mints an IRI for a new entity in a world.
func EntityIRI(base, worldID string) string {
	return fmt.Sprintf("%s/worlds/%s/entities/%s", strings.TrimRight(base, "/"), worldID, uuid.NewString())
}

// UserIRI is the fixed identifier for the account owning the conversation.
// The system prompt pins it so the model never invents its own.
func UserIRI(base, accountID string) string {
	return fmt.Sprintf("%s/accounts/%s", strings.TrimRight(base, "/"), accountID)
}

// AssistantIRI is the fixed identifier the assistant uses for itself when
// recording facts about the conversation.
func AssistantIRI(base string) string {
	return strings.TrimRight(base, "/") + "/agents/assistant"
}
