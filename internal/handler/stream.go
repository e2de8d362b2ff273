package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/matchpulse/chatsync/internal/store"
	"github.com/matchpulse/chatsync/pkg/logger"
	"github.com/matchpulse/chatsync/pkg/metrics"
)

// StreamHandler exposes store change notifications over SSE so UI layers
// can subscribe instead of polling.
type StreamHandler struct {
	store  *store.Store
	logger *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(st *store.Store, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		store:  st,
		logger: log,
	}
}

// HeartbeatEvent keeps idle SSE connections alive.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// Stream handles GET /api/v1/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	// Change feed is lossy under pressure: a dropped notification only
	// means the client refetches on the next one.
	changes := make(chan store.Change, 64)
	unsubscribe := h.store.Subscribe(func(c store.Change) {
		select {
		case changes <- c:
		default:
		}
	})
	defer unsubscribe()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"status": "subscribed",
	})

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected")
			return

		case c := <-changes:
			sendSSEEvent(w, flusher, "change", c)

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
