package realtime

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// sseConn is a receive-only hub connection streamed as Server-Sent Events.
type sseConn struct {
	outbox
	id string
}

func newSSEConn() *sseConn {
	return &sseConn{
		outbox: newOutbox(sendQueueSize),
		id:     uuid.NewString(),
	}
}

func (c *sseConn) ID() string { return c.id }

// ServeSSE streams the same envelopes WebSocket clients receive: an initial
// snapshot, then every periodic update.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c := newSSEConn()
	h.logger.Info("sse client connected", "conn", c.id, "remote", r.RemoteAddr)
	h.Open(c)
	defer h.Drop(c)

	ctx := r.Context()
	for {
		select {
		case frame := <-c.send:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
				h.logger.Warn("sse write error", "conn", c.id, "error", err)
				return
			}
			flusher.Flush()
		case <-c.done:
			return
		case <-ctx.Done():
			h.logger.Info("sse client disconnected", "conn", c.id)
			return
		}
	}
}
