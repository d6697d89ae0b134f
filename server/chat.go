package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"worldsd/agent"
	"worldsd/config"
	"worldsd/model"
	"worldsd/provider"
	"worldsd/storage"
	"worldsd/tools"
)

// chatRequest is the chat endpoint's body. Messages accept any shape the
// stored transcript ever used; each entry is normalized before use.
type chatRequest struct {
	Messages     []inboundMessage `json:"messages"`
	Model        string           `json:"model,omitempty"`
	Sources      []tools.Source   `json:"sources,omitempty"`
	AccountID    string           `json:"accountId,omitempty"`
	UserIRI      string           `json:"userIri,omitempty"`
	AssistantIRI string           `json:"assistantIri,omitempty"`
}

type inboundMessage struct {
	ID        string          `json:"id,omitempty"`
	Role      string          `json:"role"`
	Parts     json.RawMessage `json:"parts,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	CreatedAt time.Time       `json:"createdAt,omitempty"`
}

// normalize converts one inbound message to canonical form.
func (m inboundMessage) normalize(conversationID string) model.Message {
	var raw json.RawMessage
	switch {
	case len(m.Parts) > 0:
		raw = json.RawMessage(`{"parts":` + string(m.Parts) + `}`)
	default:
		raw = m.Content
	}

	parts, _ := model.PartsFromJSON(raw)
	return model.Message{
		ID:             m.ID,
		ConversationID: conversationID,
		Role:           m.Role,
		Parts:          parts,
		CreatedAt:      m.CreatedAt,
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("worldId")
	conversationID := r.PathValue("conversationId")

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required")
		return
	}

	history := make([]model.Message, 0, len(req.Messages)+1)
	for _, im := range req.Messages {
		history = append(history, im.normalize(conversationID))
	}

	// The new user message persists before anything streams: a crash
	// mid-response must never lose the user's words.
	last := history[len(history)-1]
	if last.Role == model.RoleUser {
		if _, err := s.log.Append(r.Context(), worldID, last); err != nil {
			// A replayed ID means the message is already on disk; the
			// retry continues from history instead of failing. Anything
			// else is a real write failure and the request stops here
			// rather than streaming a response that was never recorded.
			if !errors.Is(err, storage.ErrDuplicateMessage) {
				writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to persist message: %v", err))
				return
			}
			if config.DebugLog != nil {
				config.DebugLog.Printf("user message already persisted: %v", err)
			}
		}
	}

	prov, err := s.resolveProvider(req.Model)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tc := s.toolContext(worldID, req)
	prompt := agent.BuildSystemPrompt(tc, s.cfg.SystemPrompt)
	history = append([]model.Message{model.TextMessage(model.RoleSystem, prompt)}, history...)

	loop := &agent.Loop{
		Provider: prov,
		Registry: s.registry,
		Gate:     s.gate,
		Mux:      agent.NewMux(),
		Ceiling:  s.cfg.StepCeiling,
		ToolCtx:  tc,
	}

	clientEvents := loop.Mux.Subscribe()
	// The reconciler must see every event through the terminal one; unlike
	// a client socket it is never detached for being slow.
	reconcilerEvents := loop.Mux.SubscribeReliable()

	rec := &agent.Reconciler{
		Store:          s.log,
		WorldID:        worldID,
		ConversationID: conversationID,
	}

	// The loop and the reconciler outlive the request: a dropped client
	// socket must not abort the response or its persistence. Only the
	// hard request timeout cancels them.
	loopCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.RequestTimeout)

	go func() {
		defer cancel()
		loop.Run(loopCtx, history)
	}()
	go func() {
		if _, err := rec.Run(loopCtx, reconcilerEvents); err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("reconcile failed for %s: %v", conversationID, err)
		}
	}()

	streamSSE(w, r, clientEvents)
}

// streamSSE frames the event sequence as server-sent events until the
// sequence ends or the client goes away. Stopping the drain is enough:
// the mux detaches this subscriber and the loop carries on.
func streamSSE(w http.ResponseWriter, r *http.Request, events <-chan model.StreamEvent) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	flusher.Flush()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// resolveProvider picks the provider and model for a request. An empty or
// unknown model id falls back to the configured default; vendor prefixes
// like "anthropic/" or "google/" are stripped before use.
func (s *Server) resolveProvider(modelID string) (model.Provider, error) {
	providerID := s.cfg.DefaultProvider

	if idx := strings.Index(modelID, "/"); idx != -1 {
		if _, ok := s.providers[modelID[:idx]]; ok {
			providerID = modelID[:idx]
		}
		modelID = provider.StripVendorPrefix(modelID)
	}
	if modelID == "" {
		modelID = s.cfg.DefaultModel
	}

	p, ok := s.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("provider %q is not available", providerID)
	}
	p.SetModel(modelID)
	return p, nil
}

// toolContext assembles the request-scoped tool bindings. Missing IRIs are
// minted from the configured base; the path world becomes the default
// source when the client attached none.
func (s *Server) toolContext(worldID string, req chatRequest) tools.Context {
	sources := req.Sources
	if len(sources) == 0 {
		sources = []tools.Source{{WorldID: worldID, Default: true}}
	}

	userIRI := req.UserIRI
	if userIRI == "" && req.AccountID != "" {
		userIRI = tools.UserIRI(s.cfg.IRIBaseURL(), req.AccountID)
	}
	assistantIRI := req.AssistantIRI
	if assistantIRI == "" {
		assistantIRI = tools.AssistantIRI(s.cfg.IRIBaseURL())
	}

	return tools.Context{
		AccountID:    req.AccountID,
		WorldID:      worldID,
		UserIRI:      userIRI,
		AssistantIRI: assistantIRI,
		Sources:      sources,
	}
}
