package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/metrics"
	"github.com/praxislabs/scout/internal/stream"
	"github.com/praxislabs/scout/internal/workflow"
)

// Config tunes the HTTP server.
type Config struct {
	Addr string
	// Heartbeat is the SSE keepalive comment interval.
	Heartbeat time.Duration
}

// Server exposes the workflow engine over HTTP: thread creation, query
// submission with an SSE response, state resync and stream re-attachment.
type Server struct {
	cfg     Config
	engine  *workflow.Engine
	streams *stream.Manager
	store   workflow.StateStore
	logger  *zap.Logger
	httpSrv *http.Server
}

// New builds the server and its routes.
func New(cfg Config, engine *workflow.Engine, streams *stream.Manager, store workflow.StateStore, logger *zap.Logger) *Server {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		engine:  engine,
		streams: streams,
		store:   store,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/threads", s.handleCreateThread)
	mux.HandleFunc("POST /api/v1/query", s.handleQuery)
	mux.HandleFunc("GET /api/v1/state/{thread_id}", s.handleState)
	mux.HandleFunc("GET /api/v1/stream/{thread_id}", s.handleStream)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.cfg.Addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains connections gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleCreateThread mints a thread id and its empty state.
func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	threadID := uuid.New().String()
	st := workflow.NewState(threadID)
	if err := s.store.Save(r.Context(), st); err != nil {
		s.logger.Error("failed to create thread", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create thread")
		return
	}
	metrics.ThreadsCreated.Inc()
	s.logger.Info("thread created", zap.String("thread_id", threadID))
	writeJSON(w, http.StatusCreated, map[string]string{"thread_id": threadID})
}

// handleState returns the thread's reduced state for resynchronization
// after a hard disconnect. It is not the primary delivery path.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread_id")
	st, err := s.engine.State(r.Context(), threadID)
	if errors.Is(err, workflow.ErrUnknownThread) {
		writeError(w, http.StatusNotFound, "unknown thread")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"thread_id":       st.ThreadID,
		"stage":           st.Stage,
		"messages":        st.Messages,
		"search_results":  st.SearchResults,
		"planned_queries": st.PlannedQueries,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
