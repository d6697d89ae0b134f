package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"worldsd/approval"
	"worldsd/model"
	"worldsd/provider/testutil"
	"worldsd/tools"
	"worldsd/worlds"
)

// fakeStore implements worlds.Store recording every SPARQL execution.
type fakeStore struct {
	mu          sync.Mutex
	sparqlCalls []string
	result      any
}

func (f *fakeStore) Sparql(ctx context.Context, worldID, statement string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sparqlCalls = append(f.sparqlCalls, statement)
	if f.result != nil {
		return f.result, nil
	}
	return map[string]any{"ok": true}, nil
}

func (f *fakeStore) SearchFacts(ctx context.Context, worldID, query string, limit int) ([]worlds.Fact, error) {
	return []worlds.Fact{{Subject: "w:giant", Predicate: "w:livesIn", Object: "w:mountains"}}, nil
}

func (f *fakeStore) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sparqlCalls...)
}

// memStore implements ConversationStore in memory.
type memStore struct {
	mu       sync.Mutex
	appended []model.Message
}

func (s *memStore) Append(ctx context.Context, worldID string, msg model.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, msg)
	return "msg_1", nil
}

func (s *memStore) messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.appended...)
}

func newTestLoop(t *testing.T, prov model.Provider, store worlds.Store) (*Loop, *approval.Gate) {
	t.Helper()

	registry, err := tools.NewDefaultRegistry(store, "https://worlds.example")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	gate := approval.NewGate()
	return &Loop{
		Provider: prov,
		Registry: registry,
		Gate:     gate,
		Mux:      NewMux(),
		ToolCtx:  tools.Context{WorldID: "w1", Sources: []tools.Source{{WorldID: "w1", Default: true}}},
	}, gate
}

// approveAll resolves every approval request the gate sees until stop closes.
func approveAll(gate *approval.Gate, approved bool, reason string, ids <-chan string) {
	for id := range ids {
		gate.Submit(id, approved, reason)
	}
}

// watchApprovals forwards toolCallIDs of approval-requested events.
func watchApprovals(events <-chan model.StreamEvent, ids chan<- string, rest chan<- model.StreamEvent) {
	defer close(ids)
	defer close(rest)
	for ev := range events {
		if ev.Type == model.EventToolState && ev.State == model.ToolApprovalRequested {
			ids <- ev.ToolCallID
		}
		rest <- ev
	}
}

func TestLoopStepCeiling(t *testing.T) {
	// A model that calls searchFacts on every turn never terminates on its
	// own; the ceiling has to stop it, and that is completion, not failure.
	turns := make([]testutil.ScriptedTurn, 10)
	for i := range turns {
		turns[i] = testutil.ScriptedTurn{
			ToolCalls: []model.ToolCall{
				{ID: "tc_" + string(rune('a'+i)), Name: "searchFacts", Arguments: map[string]any{"query": "mountains"}},
			},
		}
	}
	prov := testutil.NewScriptedProvider(turns...)

	loop, _ := newTestLoop(t, prov, &fakeStore{})
	events := loop.Mux.Subscribe()

	state := loop.Run(context.Background(), []model.Message{model.TextMessage("user", "keep searching")})

	if state != StateCompleted {
		t.Errorf("state: got %s, want %s", state, StateCompleted)
	}
	if loop.Step() != DefaultStepCeiling {
		t.Errorf("steps: got %d, want %d", loop.Step(), DefaultStepCeiling)
	}
	if prov.Calls != DefaultStepCeiling {
		t.Errorf("provider calls: got %d, want %d", prov.Calls, DefaultStepCeiling)
	}

	var last model.StreamEvent
	for ev := range events {
		last = ev
	}
	if last.Type != model.EventDone {
		t.Errorf("terminal event: got %s, want %s", last.Type, model.EventDone)
	}
}

func TestLoopApprovedSparqlEndToEnd(t *testing.T) {
	store := &fakeStore{result: map[string]any{"c": float64(42)}}
	prov := testutil.NewScriptedProvider(
		testutil.ScriptedTurn{
			ToolCalls: []model.ToolCall{
				{ID: "tc_count", Name: "executeSparql", Arguments: map[string]any{
					"sparql": "SELECT (COUNT(*) AS ?c) WHERE { ?s ?p ?o }",
				}},
			},
		},
		testutil.ScriptedTurn{Text: "The world holds 42 triples."},
	)

	loop, gate := newTestLoop(t, prov, store)

	clientEvents := loop.Mux.Subscribe()
	reconcilerEvents := loop.Mux.SubscribeReliable()

	ids := make(chan string)
	rest := make(chan model.StreamEvent, 1024)
	go watchApprovals(clientEvents, ids, rest)
	go approveAll(gate, true, "", ids)

	persisted := &memStore{}
	rec := &Reconciler{Store: persisted, WorldID: "w1", ConversationID: "c1"}

	var wg sync.WaitGroup
	wg.Add(1)
	var recID string
	var recErr error
	go func() {
		defer wg.Done()
		recID, recErr = rec.Run(context.Background(), reconcilerEvents)
	}()

	state := loop.Run(context.Background(), []model.Message{model.TextMessage("user", "count the triples")})
	wg.Wait()

	if state != StateCompleted {
		t.Fatalf("state: got %s, want %s", state, StateCompleted)
	}
	if recErr != nil {
		t.Fatalf("reconciler: %v", recErr)
	}
	if recID == "" {
		t.Fatal("reconciler persisted nothing")
	}

	if got := store.calls(); len(got) != 1 {
		t.Fatalf("sparql executions: got %d, want 1", len(got))
	}

	msgs := persisted.messages()
	if len(msgs) != 1 {
		t.Fatalf("persisted messages: got %d, want 1", len(msgs))
	}

	msg := msgs[0]
	invocations := msg.ToolInvocations()
	if len(invocations) != 1 {
		t.Fatalf("invocations: got %d, want 1", len(invocations))
	}
	inv := invocations[0]
	if inv.State != model.ToolOutputAvailable {
		t.Errorf("invocation state: got %s, want %s", inv.State, model.ToolOutputAvailable)
	}
	if inv.Approval == nil || inv.Approval.Decision != model.DecisionApproved {
		t.Errorf("invocation approval: got %+v, want approved", inv.Approval)
	}

	text := msg.FlattenText()
	if text != "The world holds 42 triples." {
		t.Errorf("final text: got %q", text)
	}

	// Drain the client view; its terminal event must be done.
	var last model.StreamEvent
	for ev := range rest {
		last = ev
	}
	if last.Type != model.EventDone {
		t.Errorf("client terminal event: got %s, want %s", last.Type, model.EventDone)
	}
}

func TestLoopRejectedSparqlNeverExecutes(t *testing.T) {
	store := &fakeStore{}
	prov := testutil.NewScriptedProvider(
		testutil.ScriptedTurn{
			ToolCalls: []model.ToolCall{
				{ID: "tc_ins", Name: "executeSparql", Arguments: map[string]any{
					"sparql": "INSERT DATA { w:dragon w:livesIn w:mountains }",
				}},
			},
		},
		testutil.ScriptedTurn{Text: "Understood, I won't change the world."},
	)

	loop, gate := newTestLoop(t, prov, store)

	clientEvents := loop.Mux.Subscribe()
	reconcilerEvents := loop.Mux.SubscribeReliable()

	ids := make(chan string)
	rest := make(chan model.StreamEvent, 1024)
	go watchApprovals(clientEvents, ids, rest)
	go approveAll(gate, false, "not yet", ids)

	persisted := &memStore{}
	rec := &Reconciler{Store: persisted, WorldID: "w1", ConversationID: "c1"}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rec.Run(context.Background(), reconcilerEvents)
	}()

	state := loop.Run(context.Background(), []model.Message{model.TextMessage("user", "add a dragon")})
	wg.Wait()

	if state != StateCompleted {
		t.Fatalf("state: got %s, want %s", state, StateCompleted)
	}
	if got := store.calls(); len(got) != 0 {
		t.Fatalf("rejected call still executed: %v", got)
	}

	msgs := persisted.messages()
	if len(msgs) != 1 {
		t.Fatalf("persisted messages: got %d, want 1", len(msgs))
	}
	invocations := msgs[0].ToolInvocations()
	if len(invocations) != 1 {
		t.Fatalf("invocations: got %d, want 1", len(invocations))
	}
	inv := invocations[0]
	if inv.State != model.ToolOutputDenied {
		t.Errorf("invocation state: got %s, want %s", inv.State, model.ToolOutputDenied)
	}
	if inv.ErrorText != "not yet" {
		t.Errorf("denial reason: got %q, want %q", inv.ErrorText, "not yet")
	}

	for range rest {
	}
}

func TestLoopProviderFailure(t *testing.T) {
	// The provider streams half a sentence before the connection dies. The
	// client sees the partial text and the error; nothing persists.
	prov := testutil.NewScriptedProvider(
		testutil.ScriptedTurn{Text: "Hello, the wor", Err: errors.New("upstream 500")},
	)

	loop, _ := newTestLoop(t, prov, &fakeStore{})
	events := loop.Mux.Subscribe()

	persisted := &memStore{}
	rec := &Reconciler{Store: persisted, WorldID: "w1", ConversationID: "c1"}

	reconcilerEvents := loop.Mux.SubscribeReliable()
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.Run(context.Background(), reconcilerEvents)
	}()

	state := loop.Run(context.Background(), []model.Message{model.TextMessage("user", "hello")})
	<-done

	if state != StateFailed {
		t.Errorf("state: got %s, want %s", state, StateFailed)
	}

	var sawText, sawError bool
	for ev := range events {
		if ev.Type == model.EventTextDelta && ev.Delta != "" {
			sawText = true
		}
		if ev.Type == model.EventError {
			sawError = true
		}
	}
	if !sawText {
		t.Error("partial text was not streamed to the client")
	}
	if !sawError {
		t.Error("no terminal error event")
	}

	// No turn completed, so nothing persists. The partial text belongs to
	// the turn that failed.
	if got := persisted.messages(); len(got) != 0 {
		t.Errorf("persisted %d messages after failure before content, want 0", len(got))
	}
}

func TestLoopApprovalTimeout(t *testing.T) {
	store := &fakeStore{}
	prov := testutil.NewScriptedProvider(
		testutil.ScriptedTurn{
			ToolCalls: []model.ToolCall{
				{ID: "tc_slow", Name: "executeSparql", Arguments: map[string]any{
					"sparql": "INSERT DATA { w:a w:b w:c }",
				}},
			},
		},
		testutil.ScriptedTurn{Text: "No changes were made."},
	)

	loop, _ := newTestLoop(t, prov, store)
	events := loop.Mux.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	state := loop.Run(ctx, []model.Message{model.TextMessage("user", "add something")})
	if state != StateFailed && state != StateCompleted {
		t.Fatalf("unexpected state %s", state)
	}

	var denied *model.StreamEvent
	for ev := range events {
		if ev.Type == model.EventToolState && ev.State == model.ToolOutputDenied {
			e := ev
			denied = &e
		}
	}
	if denied == nil {
		t.Fatal("no output-denied event after timeout")
	}
	if denied.ErrorText != approval.TimeoutReason {
		t.Errorf("denial reason: got %q, want %q", denied.ErrorText, approval.TimeoutReason)
	}
	if got := store.calls(); len(got) != 0 {
		t.Errorf("timed-out call still executed: %v", got)
	}
}

func TestLoopDetachedCompletion(t *testing.T) {
	// The client subscriber never drains; the reconciler must still see the
	// whole sequence and persist the finalized message.
	prov := testutil.NewScriptedProvider(
		testutil.ScriptedTurn{
			ToolCalls: []model.ToolCall{
				{ID: "tc_s", Name: "searchFacts", Arguments: map[string]any{"query": "giants"}},
			},
		},
		testutil.ScriptedTurn{Text: "The stone giants live in the mountains."},
	)

	loop, _ := newTestLoop(t, prov, &fakeStore{})

	loop.Mux.Subscribe() // dead client: never read

	reconcilerEvents := loop.Mux.SubscribeReliable()
	persisted := &memStore{}
	rec := &Reconciler{Store: persisted, WorldID: "w1", ConversationID: "c1"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.Run(context.Background(), reconcilerEvents)
	}()

	state := loop.Run(context.Background(), []model.Message{model.TextMessage("user", "who lives in the mountains?")})
	<-done

	if state != StateCompleted {
		t.Fatalf("state: got %s, want %s", state, StateCompleted)
	}

	msgs := persisted.messages()
	if len(msgs) != 1 {
		t.Fatalf("persisted messages: got %d, want 1", len(msgs))
	}
	if got := msgs[0].FlattenText(); got != "The stone giants live in the mountains." {
		t.Errorf("persisted text: got %q", got)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	tc := tools.Context{
		WorldID:      "w1",
		UserIRI:      "https://worlds.example/accounts/a1",
		AssistantIRI: "https://worlds.example/agents/assistant",
	}

	prompt := BuildSystemPrompt(tc, "Speak formally.")

	for _, want := range []string{
		"searchFacts",
		"executeSparql",
		"generateIri",
		"<https://worlds.example/accounts/a1>",
		"<https://worlds.example/agents/assistant>",
		`"w1"`,
		"Speak formally.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
