// Package server exposes the daemon's HTTP surface: the SSE chat endpoint,
// the out-of-band approval endpoint, transcript replay and search, and
// health/model listing.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"worldsd/approval"
	"worldsd/config"
	"worldsd/model"
	"worldsd/storage"
	"worldsd/tools"
)

// Server wires the HTTP handlers to the daemon's shared components. One
// Server serves all requests; per-request state (loop, mux, reconciler)
// is created in the chat handler.
type Server struct {
	cfg       *config.Config
	log       *storage.ConversationLog
	providers map[string]model.Provider
	registry  *tools.Registry
	gate      *approval.Gate
}

func New(cfg *config.Config, log *storage.ConversationLog, providers map[string]model.Provider, registry *tools.Registry, gate *approval.Gate) *Server {
	return &Server{
		cfg:       cfg,
		log:       log,
		providers: providers,
		registry:  registry,
		gate:      gate,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /worlds/{worldId}/conversations/{conversationId}/chat", s.handleChat)
	mux.HandleFunc("POST /approvals/{toolCallId}", s.handleApproval)
	mux.HandleFunc("GET /worlds/{worldId}/conversations/{conversationId}/messages", s.handleMessages)
	mux.HandleFunc("GET /worlds/{worldId}/search", s.handleSearch)
	mux.HandleFunc("GET /models", s.handleModels)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return mux
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && config.DebugLog != nil {
		config.DebugLog.Printf("response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
