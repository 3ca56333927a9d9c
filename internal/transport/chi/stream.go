package chi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/logger"
	"github.com/kailas-cloud/ragdex/internal/usecase/pipeline"
)

// sseWriter writes Server-Sent Events and flushes after each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

func (s *sseWriter) event(name string, payload any) error {
	s.start()
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("write %s event: %w", name, err)
	}
	s.flusher.Flush()
	return nil
}

type tokenPayload struct {
	Token string `json:"token"`
}

type chunksPayload struct {
	Chunks []ChunkResponse `json:"chunks"`
}

// ChatStream handles POST /api/chat/stream: one chunks event, token events, then done.
func (s *Server) ChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "streaming unsupported")
		return
	}
	question, ok := readQuestion(w, r)
	if !ok {
		return
	}

	sse := &sseWriter{w: w, flusher: flusher}
	err := s.pipeline.QueryStream(r.Context(), question, func(ev pipeline.StreamEvent) error {
		switch ev.Type {
		case pipeline.EventChunks:
			return sse.event(ev.Type, chunksPayload{Chunks: chunksToResponse(ev.Chunks)})
		case pipeline.EventToken:
			return sse.event(ev.Type, tokenPayload{Token: ev.Token})
		default:
			return sse.event(ev.Type, struct{}{})
		}
	})
	if err == nil {
		return
	}

	log := logger.FromContextOr(r.Context(), s.logger)
	if r.Context().Err() != nil {
		log.Info("Chat stream closed by client", zap.Error(err))
		return
	}
	if !sse.started {
		s.handleDomainError(w, r, err)
		return
	}
	// headers are already sent; the client sees the stream end without done
	log.Error("Chat stream failed", zap.Error(err))
}
