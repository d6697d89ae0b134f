package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"worldsd/approval"
	"worldsd/config"
	"worldsd/model"
	"worldsd/provider/testutil"
	"worldsd/storage"
	"worldsd/tools"
	"worldsd/worlds"
)

type stubStore struct{}

func (stubStore) Sparql(ctx context.Context, worldID, statement string) (any, error) {
	return map[string]any{"ok": true}, nil
}

func (stubStore) SearchFacts(ctx context.Context, worldID, query string, limit int) ([]worlds.Fact, error) {
	return nil, nil
}

func newTestServer(t *testing.T, prov model.Provider) *Server {
	t.Helper()

	log, err := storage.NewConversationLog(t.TempDir())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	registry, err := tools.NewDefaultRegistry(stubStore{}, "https://worlds.example")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	cfg := &config.Config{
		Listen:          ":0",
		RequestTimeout:  5 * time.Second,
		StepCeiling:     5,
		DefaultProvider: "scripted",
		DefaultModel:    "scripted-model",
		WorldsBaseURL:   "https://worlds.example",
	}

	providers := map[string]model.Provider{}
	if prov != nil {
		providers["scripted"] = prov
	}

	return New(cfg, log, providers, registry, approval.NewGate())
}

func TestApprovalEndpointIdempotency(t *testing.T) {
	s := newTestServer(t, nil)
	handler := s.Handler()

	decisions := s.gate.Request("tc_1")

	body := strings.NewReader(`{"approved": true}`)
	req := httptest.NewRequest(http.MethodPost, "/approvals/tc_1", body)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("first decision: got %d, want %d (%s)", rr.Code, http.StatusOK, rr.Body)
	}

	select {
	case d := <-decisions:
		if d.Decision != model.DecisionApproved {
			t.Errorf("decision: got %s, want %s", d.Decision, model.DecisionApproved)
		}
	case <-time.After(time.Second):
		t.Fatal("decision never delivered")
	}

	// The duplicate is stale: reported, ignored, first decision stands.
	req = httptest.NewRequest(http.MethodPost, "/approvals/tc_1", strings.NewReader(`{"approved": false}`))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("duplicate decision: got %d, want %d", rr.Code, http.StatusNotFound)
	}

	// So is a decision for an id nothing ever requested.
	req = httptest.NewRequest(http.MethodPost, "/approvals/tc_never", strings.NewReader(`{"approved": true}`))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown id: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestChatStreamsSSEInOrder(t *testing.T) {
	prov := testutil.NewScriptedProvider(
		testutil.ScriptedTurn{Text: "The mountains are old."},
	)
	s := newTestServer(t, prov)

	body := strings.NewReader(`{"messages": [{"role": "user", "content": "tell me about the mountains"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/worlds/w1/conversations/c1/chat", body)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rr.Code, rr.Body)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type: got %q", ct)
	}

	// Event order: source (default world), text delta, done.
	var kinds []string
	for _, line := range strings.Split(rr.Body.String(), "\n") {
		if strings.HasPrefix(line, "event: ") {
			kinds = append(kinds, strings.TrimPrefix(line, "event: "))
		}
	}

	want := []string{"source", "text-delta", "done"}
	if len(kinds) != len(want) {
		t.Fatalf("event kinds: got %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, kinds[i], want[i])
		}
	}

	// The user message persisted up front; the assistant message lands
	// via the reconciler shortly after the stream closes.
	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs, err := s.log.List(context.Background(), "c1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(msgs) == 2 {
			if msgs[0].Role != model.RoleUser {
				t.Errorf("first message role: got %s", msgs[0].Role)
			}
			if msgs[1].Role != model.RoleAssistant {
				t.Errorf("second message role: got %s", msgs[1].Role)
			}
			if got := msgs[1].FlattenText(); got != "The mountains are old." {
				t.Errorf("assistant text: got %q", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("assistant message never persisted; have %d messages", len(msgs))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestChatFailsWhenUserMessagePersistFails(t *testing.T) {
	prov := testutil.NewScriptedProvider(testutil.ScriptedTurn{Text: "never streamed"})
	s := newTestServer(t, prov)

	// Kill the log so the up-front user append is a real write failure,
	// not a replayed ID. The request must stop instead of streaming a
	// response that was never recorded.
	s.log.Close()

	req := httptest.NewRequest(http.MethodPost, "/worlds/w1/conversations/c1/chat",
		strings.NewReader(`{"messages": [{"role": "user", "content": "hi"}]}`))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want %d (%s)", rr.Code, http.StatusInternalServerError, rr.Body)
	}
	if prov.Calls != 0 {
		t.Errorf("provider was called %d times after a failed persist, want 0", prov.Calls)
	}
}

func TestChatReplayedUserMessageStillStreams(t *testing.T) {
	prov := testutil.NewScriptedProvider(testutil.ScriptedTurn{Text: "Still here."})
	s := newTestServer(t, prov)

	// The user message is already on disk; a retry carrying the same ID
	// continues from history instead of failing.
	if _, err := s.log.Append(context.Background(), "w1", model.Message{
		ID:             "u1",
		ConversationID: "c1",
		Role:           model.RoleUser,
		Parts:          []model.Part{{Type: model.PartText, Text: "hi"}},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/worlds/w1/conversations/c1/chat",
		strings.NewReader(`{"messages": [{"id": "u1", "role": "user", "content": "hi"}]}`))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rr.Code, rr.Body)
	}
	if !strings.Contains(rr.Body.String(), "event: done") {
		t.Errorf("stream did not complete: %s", rr.Body)
	}
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	s := newTestServer(t, testutil.NewScriptedProvider())

	req := httptest.NewRequest(http.MethodPost, "/worlds/w1/conversations/c1/chat", strings.NewReader(`{"messages": []}`))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestChatUnknownProvider(t *testing.T) {
	s := newTestServer(t, nil) // no providers at all

	req := httptest.NewRequest(http.MethodPost, "/worlds/w1/conversations/c1/chat",
		strings.NewReader(`{"messages": [{"role": "user", "content": "hi"}]}`))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestMessagesReplayNormalizesLegacyShapes(t *testing.T) {
	s := newTestServer(t, nil)

	// A canonical append plus a legacy plain-string body.
	if _, err := s.log.Append(context.Background(), "w1", model.Message{
		ConversationID: "c9",
		Role:           model.RoleUser,
		Parts:          []model.Part{{Type: model.PartText, Text: "first"}},
		CreatedAt:      time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.log.Append(context.Background(), "w1", model.Message{
		ConversationID: "c9",
		Role:           model.RoleAssistant,
		Parts:          []model.Part{{Type: model.PartText, Text: "second"}},
		CreatedAt:      time.Now(),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/worlds/w1/conversations/c9/messages", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rr.Code, rr.Body)
	}

	var resp struct {
		Messages []model.Message `json:"messages"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("messages: got %d, want 2", len(resp.Messages))
	}
	if resp.Messages[0].FlattenText() != "first" || resp.Messages[1].FlattenText() != "second" {
		t.Errorf("replay out of order: %q, %q",
			resp.Messages[0].FlattenText(), resp.Messages[1].FlattenText())
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status field: got %v", resp["status"])
	}
}
