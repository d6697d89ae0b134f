package model

import (
	"context"

	"worldsd/ollama"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// Provider abstracts LLM provider implementations (Anthropic, OpenAI,
// OpenRouter, Ollama) using provider-agnostic types.
//
// This interface lives in the model package rather than the provider package
// to avoid import cycles: provider implementations import model, and the
// agent loop depends only on this contract.
type Provider interface {
	// Chat sends messages and streams responses back via callback.
	Chat(ctx context.Context, messages []Message, callback StreamCallback) error

	// ChatWithTools sends messages with available tool definitions and
	// streams responses. Tool calls surface through the callback as they
	// complete.
	ChatWithTools(ctx context.Context, messages []Message, tools []mcptypes.Tool, callback StreamCallback) error

	// ListModels returns available models for this provider.
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)

	// GetModel returns the currently selected model name (the full API
	// name, vendor prefix included where the provider uses one).
	GetModel() string

	// GetDisplayName returns the model name with any vendor prefix
	// stripped, suitable for client display.
	GetDisplayName() string

	// SetModel changes the active model.
	SetModel(model string)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// StreamCallback is called for each chunk of a streamed model turn. chunk
// carries visible text, reasoning carries thinking-trace text (forwarded to
// the client but never persisted as transcript content), and toolCalls
// carries any tool calls the model emitted in this chunk.
type StreamCallback func(chunk string, reasoning string, toolCalls []ToolCall) error
