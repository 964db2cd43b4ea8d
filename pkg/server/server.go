// Package server exposes the question flow over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ragdesk/ragdesk/pkg/ask"
	"github.com/ragdesk/ragdesk/pkg/cache"
	"github.com/ragdesk/ragdesk/pkg/config"
	"github.com/ragdesk/ragdesk/pkg/index"
	"github.com/ragdesk/ragdesk/pkg/ingest"
	"github.com/ragdesk/ragdesk/pkg/router"
	"github.com/ragdesk/ragdesk/pkg/stats"
)

// Deps are the components the HTTP surface calls into. Indexer and Store may
// be nil.
type Deps struct {
	Orchestrator *ask.Orchestrator
	Router       *router.Router
	Cache        *cache.Cache
	Stats        stats.Log
	Store        *index.Store
	Indexer      *ingest.Indexer
}

// Server is the ragdesk HTTP server.
type Server struct {
	cfg     *config.Config
	deps    Deps
	mux     *http.ServeMux
	handler http.Handler

	reindexMu sync.Mutex
}

// New creates a Server wired with all dependencies.
func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mux:  http.NewServeMux(),
	}
	s.mux.HandleFunc("/ask", s.handleAsk)
	s.mux.HandleFunc("/ask/cached", s.handleCached)
	s.mux.HandleFunc("/analyze-image", s.handleAnalyzeImage)
	s.mux.HandleFunc("/stats", s.handleStats)
	s.mux.HandleFunc("/reindex", s.handleReindex)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.handler = withRequestID(s.mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ragdesk listening", "addr", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	records, err := s.deps.Stats.List(r.Context(), limit)
	if err != nil {
		requestLogger(r).Error("list stats", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "could not read stats")
		return
	}
	summary, err := s.deps.Stats.Summary(r.Context())
	if err != nil {
		requestLogger(r).Error("summarize stats", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "could not read stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"summary": summary,
	})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Indexer == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "indexing is not configured")
		return
	}
	if !s.reindexMu.TryLock() {
		writeJSONError(w, http.StatusConflict, "reindex already running")
		return
	}
	defer s.reindexMu.Unlock()

	dirs := make([]string, len(s.cfg.Ingest.Dirs))
	for i, d := range s.cfg.Ingest.Dirs {
		dirs[i] = s.cfg.Resolve(d)
	}
	rep, err := s.deps.Indexer.Reindex(r.Context(), dirs)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rep)
	case errors.Is(err, ingest.ErrNoDocuments):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		requestLogger(r).Error("reindex failed", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "reindex failed: "+err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	chunks := 0
	if s.deps.Store != nil {
		chunks = s.deps.Store.Snapshot().Len()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"chunks": chunks,
		"cache":  s.deps.Cache.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "err", err)
	}
}

// writeJSONError writes an error response.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	type body struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	}
	writeJSON(w, code, map[string]body{"error": {Message: message, Type: "ragdesk_error", Code: code}})
}
