// Package approval correlates asynchronous human decisions with in-flight
// tool calls. One Gate serves the whole process: tool call IDs are globally
// unique, so approvals arriving on any connection find their waiter.
package approval

import (
	"errors"
	"sync"

	"worldsd/config"
	"worldsd/model"
)

// ErrStaleApproval marks a decision for a tool call that is unknown or
// already resolved. Stale decisions are reported and otherwise ignored;
// they never change state.
var ErrStaleApproval = errors.New("stale approval")

// TimeoutReason is the reason recorded when the request deadline resolves
// a pending approval.
const TimeoutReason = "timeout"

type Gate struct {
	mu      sync.Mutex
	pending map[string]chan model.ToolApproval
}

func NewGate() *Gate {
	return &Gate{pending: make(map[string]chan model.ToolApproval)}
}

// Request registers a pending approval for a tool call and returns the
// channel the decision will arrive on. The channel is buffered: Submit
// never blocks on the waiter.
func (g *Gate) Request(toolCallID string) <-chan model.ToolApproval {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch := make(chan model.ToolApproval, 1)
	g.pending[toolCallID] = ch

	if config.DebugLog != nil {
		config.DebugLog.Printf("approval requested for %s", toolCallID)
	}
	return ch
}

// Submit delivers a decision. A duplicate submission, or one naming a tool
// call that was never requested, returns ErrStaleApproval and changes
// nothing.
func (g *Gate) Submit(toolCallID string, approved bool, reason string) error {
	g.mu.Lock()
	ch, ok := g.pending[toolCallID]
	if ok {
		delete(g.pending, toolCallID)
	}
	g.mu.Unlock()

	if !ok {
		if config.DebugLog != nil {
			config.DebugLog.Printf("stale approval for %s ignored", toolCallID)
		}
		return ErrStaleApproval
	}

	decision := model.DecisionRejected
	if approved {
		decision = model.DecisionApproved
	}
	ch <- model.ToolApproval{ID: toolCallID, Decision: decision, Reason: reason}
	return nil
}

// Expire resolves a still-pending approval as rejected with TimeoutReason.
// Expiring an already-resolved approval is a no-op.
func (g *Gate) Expire(toolCallID string) {
	err := g.Submit(toolCallID, false, TimeoutReason)
	if err == nil && config.DebugLog != nil {
		config.DebugLog.Printf("approval for %s expired", toolCallID)
	}
}

// PendingCount reports how many approvals are waiting for a decision.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
