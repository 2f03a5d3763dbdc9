package realtime

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks the live WebSocket connection of every view tab.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Active returns the connection for a view and tab session.
func (m *Registry) Active(viewID, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[viewID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register adds conn for a view/session, closing the connection it replaces.
func (m *Registry) Register(viewID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[viewID]; !exists {
		m.active[viewID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[viewID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[viewID][sessionID] = conn
	slog.Info("View connection registered", "view_id", viewID, "session_id", sessionID)
}

// Unregister removes conn if it is still the registered one.
func (m *Registry) Unregister(viewID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[viewID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, viewID)
			}
			slog.Info("View connection unregistered", "view_id", viewID, "session_id", sessionID)
		}
	}
}

// Len returns the number of registered connections.
func (m *Registry) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// CloseAll closes every connection, used on shutdown.
func (m *Registry) CloseAll(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for viewID, sessions := range m.active {
		for sid, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, reason)
			slog.Info("View connection closed", "view_id", viewID, "session_id", sid)
		}
	}
	m.active = make(map[string]map[string]*websocket.Conn)
}
