package agent

import (
	"context"
	"fmt"

	"worldsd/config"
	"worldsd/model"
)

// ConversationStore is the slice of the storage layer the reconciler
// needs: a single append of a finalized message.
type ConversationStore interface {
	Append(ctx context.Context, worldID string, msg model.Message) (string, error)
}

// Reconciler folds a chat request's event sequence into the assistant
// message it represents and appends it to the conversation log exactly
// once, when the sequence terminates.
//
// It subscribes to the same Mux as the client stream, so the message it
// persists is assembled from the identical ordered events the client saw.
// Run is driven on a context detached from the HTTP request; a client
// that disconnects mid-response never cancels persistence.
type Reconciler struct {
	Store          ConversationStore
	WorldID        string
	ConversationID string
}

// Run consumes events until the terminal event (or channel close) and
// performs the single append. It returns the persisted message ID, or an
// empty ID when the sequence produced no content to persist.
//
// On an error terminal: whatever the completed steps produced is still
// persisted; if the loop failed before producing anything, nothing is
// appended and the up-front user message remains for retry-from-history.
func (r *Reconciler) Run(ctx context.Context, events <-chan model.StreamEvent) (string, error) {
	// Persistence must survive request cancellation.
	ctx = context.WithoutCancel(ctx)

	msg := model.Message{
		ConversationID: r.ConversationID,
		Role:           model.RoleAssistant,
	}

	failed := false
	for ev := range events {
		fold(&msg, ev)
		if ev.Type == model.EventDone {
			break
		}
		if ev.Type == model.EventError {
			failed = true
			break
		}
	}

	if failed {
		trimFailedTurn(&msg)
	}

	if !hasContent(msg.Parts) {
		if config.DebugLog != nil {
			config.DebugLog.Printf("reconciler: no content for %s, nothing persisted", r.ConversationID)
		}
		return "", nil
	}

	id, err := r.Store.Append(ctx, r.WorldID, msg)
	if err != nil {
		return "", fmt.Errorf("failed to persist assistant message: %w", err)
	}
	return id, nil
}

// trimFailedTurn drops the parts produced by the turn that errored: the
// trailing text streamed before the failure and any tool invocation that
// never reached a terminal state. Completed turns always close with a
// terminal tool state, so everything before that boundary is kept.
func trimFailedTurn(msg *model.Message) {
	for n := len(msg.Parts); n > 0; n-- {
		p := msg.Parts[n-1]
		if p.Type == model.PartText {
			msg.Parts = msg.Parts[:n-1]
			continue
		}
		if p.Type == model.PartToolInvocation && !p.State.Terminal() {
			msg.Parts = msg.Parts[:n-1]
			continue
		}
		break
	}
}

// hasContent reports whether the assembled parts carry anything worth a
// transcript row. Source attributions alone do not: a sequence that died
// before producing text or a tool result persists nothing.
func hasContent(parts []model.Part) bool {
	for _, p := range parts {
		if p.Type == model.PartText || p.Type == model.PartToolInvocation {
			return true
		}
	}
	return false
}

// fold applies one event to the message under assembly.
func fold(msg *model.Message, ev model.StreamEvent) {
	switch ev.Type {
	case model.EventTextDelta:
		// Extend the trailing text part; text after a tool invocation
		// starts a new part so ordering survives persistence.
		if n := len(msg.Parts); n > 0 && msg.Parts[n-1].Type == model.PartText {
			msg.Parts[n-1].Text += ev.Delta
			return
		}
		msg.Parts = append(msg.Parts, model.Part{Type: model.PartText, Text: ev.Delta})

	case model.EventReasoningDelta:
		// Reasoning traces stream to the client but are not transcript
		// content.

	case model.EventSource:
		msg.Parts = append(msg.Parts, model.Part{
			Type:     model.PartSource,
			SourceID: ev.SourceID,
			Title:    ev.Title,
		})

	case model.EventToolState:
		part := findInvocation(msg, ev.ToolCallID)
		if part == nil {
			msg.Parts = append(msg.Parts, model.Part{
				Type:       model.PartToolInvocation,
				ToolCallID: ev.ToolCallID,
				ToolName:   ev.ToolName,
			})
			part = &msg.Parts[len(msg.Parts)-1]
		}

		part.State = ev.State
		if ev.Input != nil {
			part.Input = ev.Input
		}
		if ev.Output != nil {
			part.Output = ev.Output
		}
		if ev.Approval != nil {
			part.Approval = ev.Approval
		}
		if ev.ErrorText != "" {
			part.ErrorText = ev.ErrorText
		}
	}
}

func findInvocation(msg *model.Message, toolCallID string) *model.Part {
	for i := range msg.Parts {
		p := &msg.Parts[i]
		if p.Type == model.PartToolInvocation && p.ToolCallID == toolCallID {
			return p
		}
	}
	return nil
}
