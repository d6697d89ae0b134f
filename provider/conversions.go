package provider

import (
	"encoding/json"
	"strings"

	"worldsd/model"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"
)

// wireText flattens a canonical message for providers that take plain text
// turns. Tool invocation parts are summarized as their JSON output: by the
// time a message re-enters the history its invocations are terminal, and
// the output is what the model needs to see.
func wireText(msg model.Message) string {
	var b strings.Builder
	for _, p := range msg.Parts {
		switch p.Type {
		case model.PartText:
			b.WriteString(p.Text)
		case model.PartToolInvocation:
			if p.Output != nil {
				if raw, err := json.Marshal(p.Output); err == nil {
					b.WriteString(string(raw))
				}
			}
		}
	}
	return b.String()
}

// NewToolCallID mints an ID for providers that do not assign their own.
func NewToolCallID() string {
	return "tc_" + uuid.NewString()
}

// ConvertToOllamaMessages converts canonical messages to Ollama api.Message.
// Parts flatten to text; Ollama's wire format has no part structure.
func ConvertToOllamaMessages(messages []model.Message) []api.Message {
	result := make([]api.Message, len(messages))
	for i, msg := range messages {
		result[i] = api.Message{
			Role:    msg.Role,
			Content: wireText(msg),
		}
	}
	return result
}

// ConvertFromOllamaMessages converts Ollama api.Message to canonical
// messages, used by tests and fixtures.
func ConvertFromOllamaMessages(messages []api.Message) []model.Message {
	result := make([]model.Message, len(messages))
	for i, msg := range messages {
		result[i] = model.TextMessage(msg.Role, msg.Content)
	}
	return result
}

// ParseToolArguments parses a JSON arguments string into a map.
// Used by the OpenAI and OpenRouter providers for tool call parsing.
func ParseToolArguments(argsJSON string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		// If parsing fails, return empty map
		return make(map[string]any)
	}
	return args
}

// ConvertToProviderToolCalls converts Ollama api.ToolCall to the
// provider-agnostic form. Ollama does not assign call IDs, so each call
// gets one minted here; the rest of the pipeline keys everything off it.
//
// Returns nil if the input is nil or empty, maintaining the same nil
// semantics as the Ollama API.
func ConvertToProviderToolCalls(ollamaCalls []api.ToolCall) []model.ToolCall {
	if len(ollamaCalls) == 0 {
		return nil
	}

	result := make([]model.ToolCall, len(ollamaCalls))
	for i, call := range ollamaCalls {
		result[i] = model.ToolCall{
			ID:        NewToolCallID(),
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		}
	}
	return result
}

// ParseLeakedJSONToolCalls scans streamed content for tool calls the model
// emitted as literal JSON instead of through the tool-call API. Some
// OpenAI-compatible models leak calls this way; without this check the
// leak reaches the client as garbage text and the call never runs.
//
// Recognized shape: {"name": "...", "arguments": {...}} on its own, or
// wrapped in a ```json fence.
func ParseLeakedJSONToolCalls(content string) []model.ToolCall {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}

	var leaked struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(trimmed), &leaked); err != nil || leaked.Name == "" {
		return nil
	}

	return []model.ToolCall{{
		ID:        NewToolCallID(),
		Name:      leaked.Name,
		Arguments: leaked.Arguments,
	}}
}
