package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/skillsync/skillsync-bff/internal/identity"
)

const writeTimeout = 5 * time.Second

// FollowRefs is the part of the follow store views reference-count. Retain
// returns the epoch of the reference; a logout starts a new epoch and voids
// older references.
type FollowRefs interface {
	Retain(userID int64) uint64
	ReleaseAt(epoch uint64, userID int64)
}

// viewRefs counts the user ids one view retains within a follow-map epoch.
type viewRefs struct {
	epoch  uint64
	counts map[int64]int
}

// WebSocketHandler streams hub events to a view and accepts its
// retain/release messages.
type WebSocketHandler struct {
	hub            *Hub
	registry       *Registry
	follows        FollowRefs
	allowedOrigins []string
	isDev          bool
	logger         *slog.Logger
}

// NewWebSocketHandler creates the view WebSocket handler.
func NewWebSocketHandler(hub *Hub, registry *Registry, follows FollowRefs, allowedOrigins []string, isDev bool, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		hub:            hub,
		registry:       registry,
		follows:        follows,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
		logger:         logger,
	}
}

// wsMessage is a message sent by a view.
type wsMessage struct {
	Type    string  `json:"type"`
	UserIDs []int64 `json:"user_ids,omitempty"`
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	viewID := identity.ViewIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "view_id", viewID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "view disconnected"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "view_id", viewID)
		}
	}()

	h.registry.Register(viewID, sessionID, ws)
	defer h.registry.Unregister(viewID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, missed := h.hub.Subscribe(lastEventID(r))
	defer sub.Close()

	refs := &viewRefs{counts: make(map[int64]int)}
	defer func() {
		for id, n := range refs.counts {
			for range n {
				h.follows.ReleaseAt(refs.epoch, id)
			}
		}
	}()

	for _, ev := range missed {
		if err := writeJSON(ctx, ws, ev); err != nil {
			return
		}
	}

	incoming := make(chan wsMessage)
	go func() {
		defer cancel()
		h.readLoop(ctx, ws, incoming, viewID)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				_ = ws.Close(websocket.StatusTryAgainLater, "event stream lagging")
				return
			}
			if err := writeJSON(ctx, ws, ev); err != nil {
				h.logger.Debug("WebSocket write error", "error", err, "view_id", viewID)
				return
			}
		case msg := <-incoming:
			if err := h.handleMessage(ctx, ws, msg, refs); err != nil {
				h.logger.Debug("WebSocket reply failed", "error", err, "view_id", viewID)
				return
			}
		}
	}
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, out chan<- wsMessage, viewID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				h.logger.Debug("WebSocket closed by view", "view_id", viewID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "view_id", viewID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("Ignoring malformed view message", "view_id", viewID)
			continue
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// handleMessage runs on the writer goroutine so refs needs no lock.
func (h *WebSocketHandler) handleMessage(ctx context.Context, ws *websocket.Conn, msg wsMessage, refs *viewRefs) error {
	switch msg.Type {
	case "ping":
		return writeJSON(ctx, ws, map[string]string{"type": "pong"})
	case "retain":
		for _, id := range msg.UserIDs {
			if id <= 0 {
				continue
			}
			epoch := h.follows.Retain(id)
			if epoch != refs.epoch {
				// The map was cleared since our last retain.
				refs.epoch = epoch
				clear(refs.counts)
			}
			refs.counts[id]++
		}
	case "release":
		for _, id := range msg.UserIDs {
			if refs.counts[id] == 0 {
				continue
			}
			refs.counts[id]--
			if refs.counts[id] == 0 {
				delete(refs.counts, id)
			}
			h.follows.ReleaseAt(refs.epoch, id)
		}
	default:
		return writeJSON(ctx, ws, map[string]string{"type": "error", "error": "unknown message type"})
	}
	return nil
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}

// lastEventID reads the replay position from the Last-Event-ID header or the
// lastEventId query parameter.
func lastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
