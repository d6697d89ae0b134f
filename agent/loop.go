// Package agent runs the model-and-tools loop behind a chat request: it
// calls the provider, executes tool calls sequentially, holds gated calls
// at the approval gate, and publishes the resulting event sequence to a
// Mux shared by the client stream and the persistence reconciler.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"worldsd/approval"
	"worldsd/config"
	"worldsd/model"
	"worldsd/tools"
)

// DefaultStepCeiling bounds the number of model turns per chat request.
const DefaultStepCeiling = 5

// State is the observable phase of a running loop.
type State string

const (
	StateRunning          State = "running"
	StateAwaitingApproval State = "awaiting-approval"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

// Loop drives one chat request to completion.
type Loop struct {
	Provider model.Provider
	Registry *tools.Registry
	Gate     *approval.Gate
	Mux      *Mux
	Ceiling  int
	ToolCtx  tools.Context

	mu    sync.Mutex
	state State
	step  int
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// State reports the loop's current phase.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Step reports how many model turns have completed.
func (l *Loop) Step() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.step
}

// Run executes the loop to termination and closes the Mux. The event
// sequence always ends with exactly one terminal event: done on normal
// completion (including hitting the step ceiling), error on provider
// failure.
//
// Tool calls execute strictly in the order the model emitted them, one at
// a time. Sequential execution within a step means a later call observes
// the knowledge-store writes of an earlier one.
func (l *Loop) Run(ctx context.Context, history []model.Message) State {
	defer l.Mux.Close()

	ceiling := l.Ceiling
	if ceiling <= 0 {
		ceiling = DefaultStepCeiling
	}

	l.publishSources()

	for step := 0; step < ceiling; step++ {
		l.setState(StateRunning)

		text, calls, err := l.modelTurn(ctx, history)
		if err != nil {
			l.setState(StateFailed)
			l.Mux.Publish(model.StreamEvent{
				Type:      model.EventError,
				ErrorText: err.Error(),
			})
			return StateFailed
		}

		if text != "" {
			history = append(history, model.TextMessage(model.RoleAssistant, text))
		}

		l.mu.Lock()
		l.step = step + 1
		l.mu.Unlock()

		if len(calls) == 0 {
			break
		}

		for _, call := range calls {
			history = append(history, l.runTool(ctx, call))
		}
	}

	l.setState(StateCompleted)
	l.Mux.Publish(model.StreamEvent{Type: model.EventDone})
	return StateCompleted
}

// publishSources emits a source event for each world attached to the
// request, active world first.
func (l *Loop) publishSources() {
	for _, src := range l.ToolCtx.Sources {
		l.Mux.Publish(model.StreamEvent{
			Type:     model.EventSource,
			SourceID: src.WorldID,
			Title:    src.Title,
		})
	}
}

// modelTurn runs one provider call, streaming deltas to the Mux and
// collecting the turn's text and tool calls.
func (l *Loop) modelTurn(ctx context.Context, history []model.Message) (string, []model.ToolCall, error) {
	var text string
	var calls []model.ToolCall

	err := l.Provider.ChatWithTools(ctx, history, l.Registry.Definitions(), func(chunk string, reasoning string, toolCalls []model.ToolCall) error {
		if chunk != "" {
			text += chunk
			l.Mux.Publish(model.StreamEvent{Type: model.EventTextDelta, Delta: chunk})
		}
		if reasoning != "" {
			l.Mux.Publish(model.StreamEvent{Type: model.EventReasoningDelta, Delta: reasoning})
		}
		for _, call := range toolCalls {
			// input-streaming precedes input-available on the wire even
			// though arguments arrive whole here.
			l.Mux.Publish(model.StreamEvent{
				Type:       model.EventToolState,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				State:      model.ToolInputStreaming,
			})
			l.Mux.Publish(model.StreamEvent{
				Type:       model.EventToolState,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				State:      model.ToolInputAvailable,
				Input:      call.Arguments,
			})
			calls = append(calls, call)
		}
		return nil
	})

	if err != nil {
		return "", nil, fmt.Errorf("provider call failed: %w", err)
	}
	return text, calls, nil
}

// runTool takes one tool call through approval (when gated) and execution,
// publishing its state transitions, and returns the tool-role history
// message carrying the result.
func (l *Loop) runTool(ctx context.Context, call model.ToolCall) model.Message {
	if l.Registry.NeedsApproval(call.Name) {
		decision := l.awaitApproval(ctx, call)

		if decision.Decision != model.DecisionApproved {
			reason := decision.Reason
			if reason == "" {
				reason = "rejected"
			}
			l.Mux.Publish(model.StreamEvent{
				Type:       model.EventToolState,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				State:      model.ToolOutputDenied,
				Input:      call.Arguments,
				Approval:   &decision,
				ErrorText:  reason,
			})
			return toolResultMessage(call, fmt.Sprintf("denied by user: %s", reason))
		}
	}

	output, err := l.Registry.Execute(ctx, call.Name, call.Arguments, l.ToolCtx)
	if err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("tool %s failed: %v", call.Name, err)
		}
		l.Mux.Publish(model.StreamEvent{
			Type:       model.EventToolState,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			State:      model.ToolOutputError,
			Input:      call.Arguments,
			ErrorText:  err.Error(),
		})
		return toolResultMessage(call, fmt.Sprintf("error: %v", err))
	}

	l.Mux.Publish(model.StreamEvent{
		Type:       model.EventToolState,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		State:      model.ToolOutputAvailable,
		Input:      call.Arguments,
		Output:     output,
	})

	rendered, marshalErr := json.Marshal(output)
	if marshalErr != nil {
		rendered = []byte(fmt.Sprintf("%v", output))
	}
	return toolResultMessage(call, string(rendered))
}

// awaitApproval blocks the loop on the gate until a decision arrives or
// ctx expires. Expiry resolves the approval as rejected with the timeout
// reason; the decision always comes back through the gate channel so a
// racing human decision wins over the expiry.
func (l *Loop) awaitApproval(ctx context.Context, call model.ToolCall) model.ToolApproval {
	l.setState(StateAwaitingApproval)
	l.Mux.Publish(model.StreamEvent{
		Type:       model.EventToolState,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		State:      model.ToolApprovalRequested,
		Input:      call.Arguments,
	})

	ch := l.Gate.Request(call.ID)

	var decision model.ToolApproval
	select {
	case decision = <-ch:
	case <-ctx.Done():
		l.Gate.Expire(call.ID)
		decision = <-ch
	}

	l.setState(StateRunning)
	l.Mux.Publish(model.StreamEvent{
		Type:       model.EventToolState,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		State:      model.ToolApprovalResponded,
		Input:      call.Arguments,
		Approval:   &decision,
	})
	return decision
}

// toolResultMessage builds the tool-role history message for one resolved
// call, labeled with the tool name so text-only providers keep the calls
// apart.
func toolResultMessage(call model.ToolCall, result string) model.Message {
	return model.TextMessage(model.RoleTool, call.Name+": "+result)
}
