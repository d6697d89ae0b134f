package testutil

import (
	"time"

	"worldsd/model"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// TestMessages returns a sample conversation for testing
func TestMessages() []model.Message {
	return []model.Message{
		textMessage("user", "What lives in the mountains?"),
		textMessage("assistant", "The mountains are home to the stone giants."),
		textMessage("user", "Tell me more about them."),
	}
}

// SingleUserMessage returns a single user message for simple tests
func SingleUserMessage(content string) []model.Message {
	return []model.Message{textMessage("user", content)}
}

// TestTools returns sample tool declarations for testing
func TestTools() []mcptypes.Tool {
	return []mcptypes.Tool{
		{
			Name:        "searchFacts",
			Description: "Search the world's facts by keyword",
			InputSchema: mcptypes.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Keywords to search for",
					},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "executeSparql",
			Description: "Run a SPARQL statement against the world",
			InputSchema: mcptypes.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"sparql": map[string]any{
						"type":        "string",
						"description": "The SPARQL statement to execute",
					},
				},
				Required: []string{"sparql"},
			},
		},
	}
}

// EmptyMessages returns an empty message slice for edge case testing
func EmptyMessages() []model.Message {
	return []model.Message{}
}

// SystemMessage returns a system message for testing
func SystemMessage(content string) model.Message {
	return textMessage("system", content)
}

func textMessage(role, content string) model.Message {
	return model.Message{
		Role:      role,
		Parts:     []model.Part{{Type: model.PartText, Text: content}},
		CreatedAt: time.Now(),
	}
}
