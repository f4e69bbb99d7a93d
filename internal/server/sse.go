package server

import (
	"fmt"
	"iter"
	"net/http"

	"go.uber.org/zap"

	"github.com/rcliao/persona-proxy/internal/model"
	"github.com/rcliao/persona-proxy/internal/pipeline"
)

// writeStream sends events as server-sent events, flushing after each one.
// It stops when the client goes away; breaking out of the range stops the
// provider from being pulled any further.
func (s *Server) writeStream(w http.ResponseWriter, r *http.Request, events iter.Seq[model.StreamEvent]) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", pipeline.ErrTypeInternal)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for ev := range events {
		if ctx.Err() != nil {
			s.log.Debug("client disconnected", zap.Error(ctx.Err()))
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", ev.Data()); err != nil {
			s.log.Debug("stream write failed", zap.Error(err))
			return
		}
		flusher.Flush()
		if ev.Chunk != nil {
			s.metrics.StreamChunk()
		}
	}
}
