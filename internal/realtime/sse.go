package realtime

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/skillsync/skillsync-bff/internal/config"
	"github.com/skillsync/skillsync-bff/internal/identity"
)

// StreamHandler serves hub events as Server-Sent Events.
type StreamHandler struct {
	hub       *Hub
	keepalive time.Duration
	retry     time.Duration
	logger    *slog.Logger
}

// NewStreamHandler creates the SSE handler.
func NewStreamHandler(hub *Hub, cfg config.SSEConfig, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	keepalive := cfg.KeepaliveInterval
	if keepalive <= 0 {
		keepalive = 10 * time.Second
	}
	retry := cfg.RetryDelay
	if retry <= 0 {
		retry = 5 * time.Second
	}
	return &StreamHandler{hub: hub, keepalive: keepalive, retry: retry, logger: logger}
}

// ServeHTTP handles GET /api/events. Views reconnecting with Last-Event-ID
// first receive the retained events they missed.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	viewID := identity.ViewIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	last := lastEventID(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", h.retry.Milliseconds()); err != nil {
		h.logger.Warn("Failed to write SSE retry header", "error", err, "view_id", viewID)
		return
	}
	flusher.Flush()

	sub, missed := h.hub.Subscribe(last)
	defer sub.Close()

	if len(missed) > 0 {
		h.logger.Info("Sending missed events", "view_id", viewID, "session_id", sessionID, "count", len(missed))
	}
	for _, ev := range missed {
		if err := writeEvent(w, ev); err != nil {
			return
		}
	}

	connected := fmt.Sprintf(`{"status":"connected","last_event_id":%d}`, h.hub.LastEventID())
	if err := writeSSE(w, "connected", connected); err != nil {
		h.logger.Warn("Failed to write SSE connected event", "error", err, "view_id", viewID)
		return
	}
	flusher.Flush()

	h.logger.Info("SSE connection established",
		"view_id", viewID,
		"session_id", sessionID,
		"reconnect", last > 0,
	)

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE connection closed", "view_id", viewID, "session_id", sessionID)
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				h.logger.Debug("Failed to write SSE event", "error", err, "view_id", viewID)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Debug("Failed to write SSE keepalive", "error", err, "view_id", viewID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, ev Event) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
	return err
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
