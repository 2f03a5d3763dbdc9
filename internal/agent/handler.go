package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/skillsync/skillsync-bff/internal/config"
	"github.com/skillsync/skillsync-bff/internal/identity"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Handler serves the assistant panel.
type Handler struct {
	agent       *Service
	maxBodySize int64
	logger      *slog.Logger
}

// NewHandler creates the assistant HTTP handler.
func NewHandler(service *Service, cfg config.ChatConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxRequestBody
	if maxBody <= 0 {
		maxBody = defaultMaxRequestBodySize
	}
	return &Handler{agent: service, maxBodySize: maxBody, logger: logger}
}

// RegisterRoutes registers assistant routes (requires authentication).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/", h.HandleChat)
		r.Post("/stream", h.HandleStream)
		r.Get("/history", h.HandleHistory)
		r.Delete("/history", h.HandleReset)
	})
}

// HandleChat handles POST /api/chat and answers with the complete reply.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.caller(w, r)
	if !ok {
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	resp, err := h.agent.Chat(r.Context(), userID, sessionID, req.Message)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleStream handles POST /api/chat/stream and relays the reply as SSE.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.caller(w, r)
	if !ok {
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	stream, err := h.agent.ChatStream(r.Context(), userID, sessionID, req.Message)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	h.logger.Info("Assistant stream started",
		"user_id", userID,
		"session_id", sessionID,
		"message_length", len(req.Message),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	var seq int64
	for chunk, err := range stream {
		if err != nil {
			h.logger.Error("Assistant stream failed", "user_id", userID, "error", err)
			if writeErr := writeSSE(w, "error", jsonString(map[string]string{"error": err.Error()})); writeErr != nil {
				h.logger.Warn("failed to write SSE error event", "error", writeErr)
			}
			flusher.Flush()
			return
		}
		seq++
		if err := writeSSEWithID(w, seq, "message", jsonString(chunk)); err != nil {
			h.logger.Warn("failed to write SSE message event", "error", err)
			return
		}
		flusher.Flush()
	}

	if r.Context().Err() != nil {
		h.logger.Info("Assistant stream cancelled by client", "user_id", userID, "chunks", seq)
		return
	}
	if err := writeSSE(w, "done", `{"status":"done"}`); err != nil {
		h.logger.Warn("failed to write SSE done event", "error", err)
		return
	}
	flusher.Flush()
}

// HandleHistory handles GET /api/chat/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.caller(w, r)
	if !ok {
		return
	}
	msgs, err := h.agent.History(r.Context(), userID, sessionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "messages": msgs})
}

// HandleReset handles DELETE /api/chat/history.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.caller(w, r)
	if !ok {
		return
	}
	n, err := h.agent.Reset(r.Context(), userID, sessionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

// Close releases handler resources.
func (h *Handler) Close() {
	if h.agent != nil {
		h.agent.Close()
	}
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == 0 {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return 0, "", false
	}
	return userID, identity.SessionIDFromContext(r.Context()), true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, `{"error": "request body too large"}`, http.StatusRequestEntityTooLarge)
			return ChatRequest{}, false
		}
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return ChatRequest{}, false
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, `{"error": "message is required"}`, http.StatusBadRequest)
		return ChatRequest{}, false
	}
	return req, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		http.Error(w, `{"error": "message is required"}`, http.StatusBadRequest)
	case errors.Is(err, ErrRateLimited):
		http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
	default:
		h.logger.Error("Assistant request failed", "path", r.URL.Path, "error", err)
		http.Error(w, `{"error": "assistant unavailable"}`, http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", "error", err)
	}
}

func jsonString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{}`
	}
	return string(b)
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
