package agent

import (
	"context"
	"testing"

	"worldsd/model"
)

func TestReconcilerEmptySequencePersistsNothing(t *testing.T) {
	store := &memStore{}
	rec := &Reconciler{Store: store, WorldID: "w1", ConversationID: "c1"}

	events := make(chan model.StreamEvent, 1)
	events <- model.StreamEvent{Type: model.EventError, ErrorText: "provider down"}
	close(events)

	id, err := rec.Run(context.Background(), events)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if id != "" {
		t.Errorf("expected empty id, got %q", id)
	}
	if len(store.messages()) != 0 {
		t.Error("empty sequence was persisted")
	}
}

func TestReconcilerDropsTextFromFailedTurn(t *testing.T) {
	store := &memStore{}
	rec := &Reconciler{Store: store, WorldID: "w1", ConversationID: "c1"}

	// One turn completes a tool call; the next streams partial text and
	// dies. The finished work persists, the half-streamed text does not.
	events := make(chan model.StreamEvent, 8)
	events <- model.StreamEvent{Type: model.EventTextDelta, Delta: "Checking."}
	events <- model.StreamEvent{Type: model.EventToolState, ToolCallID: "tc_1", ToolName: "searchFacts", State: model.ToolInputAvailable, Input: map[string]any{"query": "giants"}}
	events <- model.StreamEvent{Type: model.EventToolState, ToolCallID: "tc_1", ToolName: "searchFacts", State: model.ToolOutputAvailable, Output: map[string]any{"count": 1}}
	events <- model.StreamEvent{Type: model.EventTextDelta, Delta: "Hello, the wor"}
	events <- model.StreamEvent{Type: model.EventError, ErrorText: "connection reset"}
	close(events)

	id, err := rec.Run(context.Background(), events)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if id == "" {
		t.Fatal("completed tool turn was not persisted")
	}

	msgs := store.messages()
	if len(msgs) != 1 {
		t.Fatalf("persisted %d messages, want 1", len(msgs))
	}
	parts := msgs[0].Parts
	if len(parts) != 2 {
		t.Fatalf("parts: got %d, want 2", len(parts))
	}
	if parts[1].Type != model.PartToolInvocation {
		t.Errorf("last part: got %+v, want the finished tool invocation", parts[1])
	}
	if got := msgs[0].FlattenText(); got != "Checking." {
		t.Errorf("text: got %q, want only the completed turn's text", got)
	}
}

func TestReconcilerFailureBeforeContentPersistsNothing(t *testing.T) {
	store := &memStore{}
	rec := &Reconciler{Store: store, WorldID: "w1", ConversationID: "c1"}

	// Source attributions and half a sentence, then the provider dies.
	// A lone source part is not transcript content.
	events := make(chan model.StreamEvent, 4)
	events <- model.StreamEvent{Type: model.EventSource, SourceID: "world-1", Title: "World 1"}
	events <- model.StreamEvent{Type: model.EventTextDelta, Delta: "Hello, the wor"}
	events <- model.StreamEvent{Type: model.EventError, ErrorText: "provider down"}
	close(events)

	id, err := rec.Run(context.Background(), events)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if id != "" {
		t.Errorf("expected empty id, got %q", id)
	}
	if got := len(store.messages()); got != 0 {
		t.Errorf("persisted %d messages after failure before content, want 0", got)
	}
}

func TestReconcilerPreservesPartOrder(t *testing.T) {
	store := &memStore{}
	rec := &Reconciler{Store: store, WorldID: "w1", ConversationID: "c1"}

	events := make(chan model.StreamEvent, 16)
	events <- model.StreamEvent{Type: model.EventTextDelta, Delta: "Let me "}
	events <- model.StreamEvent{Type: model.EventTextDelta, Delta: "check."}
	events <- model.StreamEvent{Type: model.EventToolState, ToolCallID: "tc_1", ToolName: "searchFacts", State: model.ToolInputAvailable, Input: map[string]any{"query": "giants"}}
	events <- model.StreamEvent{Type: model.EventToolState, ToolCallID: "tc_1", ToolName: "searchFacts", State: model.ToolOutputAvailable, Output: map[string]any{"count": 1}}
	events <- model.StreamEvent{Type: model.EventTextDelta, Delta: "Found them."}
	events <- model.StreamEvent{Type: model.EventDone}
	close(events)

	id, err := rec.Run(context.Background(), events)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if id == "" {
		t.Fatal("nothing persisted")
	}

	msgs := store.messages()
	if len(msgs) != 1 {
		t.Fatalf("persisted %d messages, want 1", len(msgs))
	}

	parts := msgs[0].Parts
	if len(parts) != 3 {
		t.Fatalf("parts: got %d, want 3", len(parts))
	}
	if parts[0].Type != model.PartText || parts[0].Text != "Let me check." {
		t.Errorf("part 0: got %+v", parts[0])
	}
	if parts[1].Type != model.PartToolInvocation || parts[1].State != model.ToolOutputAvailable {
		t.Errorf("part 1: got %+v", parts[1])
	}
	if parts[1].Input == nil {
		t.Error("tool input lost across state transitions")
	}
	if parts[2].Type != model.PartText || parts[2].Text != "Found them." {
		t.Errorf("part 2: got %+v", parts[2])
	}
}

func TestReconcilerReasoningIsNotPersisted(t *testing.T) {
	store := &memStore{}
	rec := &Reconciler{Store: store, WorldID: "w1", ConversationID: "c1"}

	events := make(chan model.StreamEvent, 4)
	events <- model.StreamEvent{Type: model.EventReasoningDelta, Delta: "hmm"}
	events <- model.StreamEvent{Type: model.EventTextDelta, Delta: "Answer."}
	events <- model.StreamEvent{Type: model.EventDone}
	close(events)

	if _, err := rec.Run(context.Background(), events); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := store.messages()
	if len(msgs) != 1 {
		t.Fatalf("persisted %d messages, want 1", len(msgs))
	}
	for _, p := range msgs[0].Parts {
		if p.Type == model.PartReasoning {
			t.Error("reasoning part persisted")
		}
	}
	if got := msgs[0].FlattenText(); got != "Answer." {
		t.Errorf("text: got %q", got)
	}
}
