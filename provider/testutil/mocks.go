package testutil

import (
	"context"

	"worldsd/model"
	"worldsd/ollama"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// MockProvider implements model.Provider for testing
type MockProvider struct {
	// Configurable responses
	ChatFunc          func(ctx context.Context, messages []model.Message, callback model.StreamCallback) error
	ChatWithToolsFunc func(ctx context.Context, messages []model.Message, tools []mcptypes.Tool, callback model.StreamCallback) error
	ListModelsFunc    func(ctx context.Context) ([]ollama.ModelInfo, error)
	PingFunc          func(ctx context.Context) error

	// State
	currentModel string
}

// NewMockProvider creates a mock provider with default implementations
func NewMockProvider(modelName string) *MockProvider {
	mock := &MockProvider{
		currentModel: modelName,
	}
	mock.ChatFunc = mock.defaultChat
	mock.ChatWithToolsFunc = mock.defaultChatWithTools
	mock.ListModelsFunc = mock.defaultListModels
	mock.PingFunc = mock.defaultPing
	return mock
}

func (m *MockProvider) defaultChat(ctx context.Context, messages []model.Message, callback model.StreamCallback) error {
	// Default: echo back a mock response
	if len(messages) > 0 {
		return callback("Mock response", "", nil)
	}
	return nil
}

func (m *MockProvider) defaultChatWithTools(ctx context.Context, messages []model.Message, tools []mcptypes.Tool, callback model.StreamCallback) error {
	// Default: mock response with tools available
	return callback("Mock response with tools", "", nil)
}

func (m *MockProvider) defaultListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	return []ollama.ModelInfo{
		{Name: "mock-model-1", Size: 1000},
		{Name: "mock-model-2", Size: 2000},
	}, nil
}

func (m *MockProvider) defaultPing(ctx context.Context) error {
	return nil
}

func (m *MockProvider) Chat(ctx context.Context, messages []model.Message, callback model.StreamCallback) error {
	return m.ChatFunc(ctx, messages, callback)
}

func (m *MockProvider) ChatWithTools(ctx context.Context, messages []model.Message, tools []mcptypes.Tool, callback model.StreamCallback) error {
	return m.ChatWithToolsFunc(ctx, messages, tools, callback)
}

func (m *MockProvider) ListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	return m.ListModelsFunc(ctx)
}

func (m *MockProvider) GetModel() string {
	return m.currentModel
}

func (m *MockProvider) GetDisplayName() string {
	// Mock provider returns same value as GetModel (no prefix stripping)
	return m.currentModel
}

func (m *MockProvider) SetModel(model string) {
	m.currentModel = model
}

func (m *MockProvider) Ping(ctx context.Context) error {
	return m.PingFunc(ctx)
}

// ScriptedProvider replays a fixed script of turns, one per ChatWithTools
// call. Each turn streams its text and then emits its tool calls, which is
// the order real providers deliver them in.
type ScriptedProvider struct {
	Turns []ScriptedTurn
	Calls int

	currentModel string
}

// ScriptedTurn is one model response in a scripted conversation.
type ScriptedTurn struct {
	Text      string
	Thinking  string
	ToolCalls []model.ToolCall
	Err       error
}

// NewScriptedProvider creates a provider that plays the given turns in order.
func NewScriptedProvider(turns ...ScriptedTurn) *ScriptedProvider {
	return &ScriptedProvider{
		Turns:        turns,
		currentModel: "scripted-model",
	}
}

func (s *ScriptedProvider) Chat(ctx context.Context, messages []model.Message, callback model.StreamCallback) error {
	return s.ChatWithTools(ctx, messages, nil, callback)
}

func (s *ScriptedProvider) ChatWithTools(ctx context.Context, messages []model.Message, tools []mcptypes.Tool, callback model.StreamCallback) error {
	if s.Calls >= len(s.Turns) {
		// Ran past the script: behave like a model that has nothing to add
		s.Calls++
		return callback("", "", nil)
	}

	turn := s.Turns[s.Calls]
	s.Calls++

	if turn.Thinking != "" {
		if err := callback("", turn.Thinking, nil); err != nil {
			return err
		}
	}
	if turn.Text != "" {
		if err := callback(turn.Text, "", nil); err != nil {
			return err
		}
	}
	if len(turn.ToolCalls) > 0 {
		if err := callback("", "", turn.ToolCalls); err != nil {
			return err
		}
	}

	// A turn's error surfaces after whatever it managed to stream, the way
	// a live connection drops mid-response.
	return turn.Err
}

func (s *ScriptedProvider) ListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	return []ollama.ModelInfo{{Name: s.currentModel}}, nil
}

func (s *ScriptedProvider) GetModel() string        { return s.currentModel }
func (s *ScriptedProvider) GetDisplayName() string  { return s.currentModel }
func (s *ScriptedProvider) SetModel(model string)   { s.currentModel = model }
func (s *ScriptedProvider) Ping(context.Context) error { return nil }
