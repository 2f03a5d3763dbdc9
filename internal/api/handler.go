// Package api provides the local HTTP handlers views talk to.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/skillsync/skillsync-bff/internal/apiclient"
	"github.com/skillsync/skillsync-bff/internal/session"
)

// maxJSONBody caps request bodies of the JSON endpoints.
const maxJSONBody = 1 << 20

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// upstreamError translates a remote API failure into a local response.
// Client-side errors of the remote API keep their status and detail; anything
// else becomes 502.
func upstreamError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var apiErr *apiclient.APIError
	switch {
	case errors.Is(err, context.Canceled):
		return
	case errors.Is(err, session.ErrNotAuthenticated), errors.Is(err, session.ErrRefreshFailed):
		Error(w, http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, apiclient.ErrForeignCursor), errors.Is(err, apiclient.ErrInvalidLink):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500:
		msg := apiErr.Detail
		if msg == "" {
			msg = http.StatusText(apiErr.Status)
		}
		Error(w, apiErr.Status, msg)
	default:
		logger.Error("Remote API call failed", "path", r.URL.Path, "error", err)
		Error(w, http.StatusBadGateway, "upstream request failed")
	}
}

// decodeJSON reads a bounded JSON body into v, writing 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// idParam parses a positive integer URL parameter, writing 400 on failure.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		Error(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}
