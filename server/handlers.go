package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"worldsd/approval"
	"worldsd/ollama"
)

type approvalRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// handleApproval is the out-of-band approval transport: decisions arrive
// here, on a separate request from the stream that asked for them.
func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	toolCallID := r.PathValue("toolCallId")

	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.gate.Submit(toolCallID, req.Approved, req.Reason); err != nil {
		if errors.Is(err, approval.ErrStaleApproval) {
			// Unknown or already-resolved id. The first decision stood;
			// this one changes nothing.
			writeError(w, http.StatusNotFound, "stale approval: tool call unknown or already resolved")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "toolCallId": toolCallID})
}

// handleMessages replays a conversation's log in order, normalized to the
// canonical part shape regardless of what was stored.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")

	msgs, err := s.log.List(r.Context(), conversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// handleSearch scans a world's transcript for messages matching ?q=.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("worldId")
	query := r.URL.Query().Get("q")

	matches, err := s.log.SearchMessages(r.Context(), worldID, query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

// handleModels lists the models of every initialized provider. Providers
// that fail to answer are skipped rather than failing the whole listing.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	result := make(map[string][]ollama.ModelInfo)
	for id, p := range s.providers {
		models, err := p.ListModels(ctx)
		if err != nil {
			continue
		}
		result[id] = models
	}

	writeJSON(w, http.StatusOK, map[string]any{"providers": result})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"pendingApprovals": s.gate.PendingCount(),
	})
}
