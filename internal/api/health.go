package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger checks a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionStatus reports whether the BFF session is signed in.
type SessionStatus interface {
	IsAuthenticated() bool
}

// HealthHandler reports readiness of the local store.
type HealthHandler struct {
	db      Pinger
	session SessionStatus
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(db Pinger, session SessionStatus) *HealthHandler {
	return &HealthHandler{db: db, session: session}
}

// RegisterHealth registers GET /api/health.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}

// Health answers 200 when the database responds, 503 otherwise.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	db := "ok"
	if err := h.db.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		db = "unavailable"
	}
	JSON(w, status, map[string]any{
		"database":      db,
		"authenticated": h.session.IsAuthenticated(),
	})
}
