package broadcast

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const sseHeartbeat = 15 * time.Second

// HandleSSE streams bid events for one item over a server-sent-events
// channel. Same hub, same at-most-once contract as the WebSocket path;
// only the transport differs.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]
	if itemID == "" {
		http.Error(w, "Item ID is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := NewSubscriber(uuid.New().String(), itemID)
	h.hub.Subscribe(sub)
	defer h.hub.Unsubscribe(sub)

	fmt.Fprintf(w, "event: connected\ndata: {\"subscriber_id\":%q}\n\n", sub.ID)
	flusher.Flush()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case message, ok := <-sub.Send:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: bid\ndata: %s\n\n", message); err != nil {
				h.logger.Debug("sse write error", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-ticker.C:
			// Keep intermediaries from timing the stream out
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
