// Package tools holds the agent's tool registry and the built-in tools that
// operate on a user's knowledge store. The orchestration loop consults only
// the registry: adding a tool here never touches the loop.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"worldsd/config"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

var (
	ErrToolNotFound  = errors.New("tool not found")
	ErrDuplicateTool = errors.New("tool already registered")
)

// ExecutionError wraps a failure inside a tool. The loop reports it on the
// invocation and keeps going; it never aborts the request.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Context carries the request-scoped identity and world bindings a tool
// execution needs. It is passed explicitly; tools never read ambient state.
type Context struct {
	AccountID    string
	WorldID      string // default world for this request
	UserIRI      string
	AssistantIRI string
	Sources      []Source
}

// Source is one world the client attached to the request.
type Source struct {
	WorldID string `json:"worldId"`
	Title   string `json:"title,omitempty"`
	Default bool   `json:"default,omitempty"`
}

// ResolveWorld picks the world a tool should operate on: an explicit
// override from the tool input wins, then the request default.
func (tc Context) ResolveWorld(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if tc.WorldID != "" {
		return tc.WorldID, nil
	}
	return "", fmt.Errorf("no world selected: pass worldId or attach a default source")
}

// Tool declares one callable tool. NeedsApproval is a static property of
// the declaration, not a per-call decision: a gated tool is gated for every
// invocation.
type Tool struct {
	Name          string
	Description   string
	InputSchema   mcptypes.ToolInputSchema
	NeedsApproval bool
	Execute       func(ctx context.Context, input map[string]any, tc Context) (any, error)
}

// Definition returns the mcp tool declaration handed to providers.
func (t *Tool) Definition() mcptypes.Tool {
	return mcptypes.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.InputSchema,
	}
}

// Registry is a thread-safe name-to-tool map.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("tool must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the declarations of every registered tool, sorted by
// name so providers see a stable order.
func (r *Registry) Definitions() []mcptypes.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]mcptypes.Tool, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// NeedsApproval reports whether a tool is approval-gated. Unknown tools
// report false; the loop surfaces the lookup failure at execution time.
func (r *Registry) NeedsApproval(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t, ok := r.tools[name]; ok {
		return t.NeedsApproval
	}
	return false
}

// Execute runs a tool by name. Failures inside the tool come back as
// *ExecutionError so callers can distinguish them from lookup failures.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any, tc Context) (any, error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("executing tool %s (world=%s)", name, tc.WorldID)
	}

	out, err := t.Execute(ctx, input, tc)
	if err != nil {
		return nil, &ExecutionError{Tool: name, Err: err}
	}
	return out, nil
}

// stringArg pulls an optional string argument out of a tool input map.
func stringArg(input map[string]any, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

// intArg pulls an optional numeric argument out of a tool input map.
// JSON numbers decode as float64.
func intArg(input map[string]any, key string) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
