package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/metrics"
	"github.com/praxislabs/scout/internal/stream"
	"github.com/praxislabs/scout/internal/tracing"
)

// QueryRequest is the body of POST /api/v1/query.
type QueryRequest struct {
	ThreadID              string `json:"thread_id"`
	Message               string `json:"message"`
	IsResponseToInterrupt bool   `json:"is_response_to_interrupt"`
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// handleQuery submits a query (or review response) and streams the run's
// frames back on the same connection. The engine runs detached from the
// request context: closing the connection cancels delivery only, never an
// in-flight tool call, so a reconnect can observe the outcome via
// fetch-state.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ThreadID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "thread_id and message are required")
		return
	}
	if _, ok, err := s.store.Load(r.Context(), req.ThreadID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load thread")
		return
	} else if !ok {
		writeError(w, http.StatusNotFound, "unknown thread")
		return
	}

	// Callers propagating a W3C trace context get their trace id carried
	// into the submission log for correlation.
	fields := []zap.Field{zap.String("thread_id", req.ThreadID)}
	if traceID, _, _, ok := tracing.ParseTraceparent(r.Header.Get("traceparent")); ok {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	s.logger.Info("query accepted", fields...)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	setSSEHeaders(w)

	metrics.StreamConnections.Inc()
	defer metrics.StreamConnections.Dec()

	// Subscribe before starting the run so no frame slips past.
	ch := s.streams.Subscribe(req.ThreadID, 256)
	defer s.streams.Unsubscribe(req.ThreadID, ch)

	_ = stream.WriteSSEComment(w, "connected to thread "+req.ThreadID)
	flusher.Flush()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.engine.Submit(context.Background(), req.ThreadID, req.Message, req.IsResponseToInterrupt); err != nil {
			s.logger.Error("query submission failed",
				zap.String("thread_id", req.ThreadID), zap.Error(err))
		}
	}()

	s.relay(w, r, flusher, ch, done, req.ThreadID)
}

// relay forwards frames to the client until the run finishes, parks at an
// interrupt, or the client goes away.
func (s *Server) relay(w http.ResponseWriter, r *http.Request, flusher http.Flusher, ch chan stream.Frame, done <-chan struct{}, threadID string) {
	hb := time.NewTicker(s.cfg.Heartbeat)
	defer hb.Stop()

	finished := false
	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE client disconnected", zap.String("thread_id", threadID))
			return
		case f := <-ch:
			if err := stream.WriteSSE(w, f); err != nil {
				return
			}
			flusher.Flush()
			// The interrupt frame is the last frame before the stream
			// idles pending resume; end the response cleanly.
			if f.Type == stream.FrameInterrupt {
				return
			}
		case <-done:
			finished = true
		case <-hb.C:
			_ = stream.WriteSSEComment(w, "ping")
			flusher.Flush()
		}
		if finished {
			// Drain anything published before the run ended.
			for {
				select {
				case f := <-ch:
					if err := stream.WriteSSE(w, f); err != nil {
						return
					}
					flusher.Flush()
					if f.Type == stream.FrameInterrupt {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// handleStream re-attaches a watcher to a thread's frame stream. A
// Last-Event-ID header (or last_event_id query param) replays buffered
// frames after that sequence id, best-effort within the ring capacity.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread_id")
	if _, ok, err := s.store.Load(r.Context(), threadID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load thread")
		return
	} else if !ok {
		writeError(w, http.StatusNotFound, "unknown thread")
		return
	}

	var lastID uint64
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			lastID = n
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	setSSEHeaders(w)

	metrics.StreamConnections.Inc()
	defer metrics.StreamConnections.Dec()

	ch := s.streams.Subscribe(threadID, 256)
	defer s.streams.Unsubscribe(threadID, ch)

	_ = stream.WriteSSEComment(w, "connected to thread "+threadID)
	flusher.Flush()

	// A frame published between Subscribe and the replay below arrives on
	// both paths; track the highest replayed seq and drop live duplicates
	// so the watcher never sees a regressed id.
	lastSeq := lastID
	if lastID > 0 {
		for _, f := range s.streams.ReplaySince(threadID, lastID) {
			if err := stream.WriteSSE(w, f); err != nil {
				return
			}
			if f.Seq > lastSeq {
				lastSeq = f.Seq
			}
		}
		flusher.Flush()
	}

	hb := time.NewTicker(s.cfg.Heartbeat)
	defer hb.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case f := <-ch:
			if f.Seq > 0 && f.Seq <= lastSeq {
				continue
			}
			if err := stream.WriteSSE(w, f); err != nil {
				return
			}
			flusher.Flush()
		case <-hb.C:
			_ = stream.WriteSSEComment(w, "ping")
			flusher.Flush()
		}
	}
}
