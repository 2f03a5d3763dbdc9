package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
)

var (
	// ErrUnauthorized matches a 401 response.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden matches a 403 response.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound matches a 404 response.
	ErrNotFound = errors.New("not found")
	// ErrConflict matches a 409 response.
	ErrConflict = errors.New("conflict")
	// ErrBadRequest matches a 400 response.
	ErrBadRequest = errors.New("bad request")
	// ErrForeignCursor is returned for a pagination cursor pointing at another host.
	ErrForeignCursor = errors.New("pagination cursor points at a foreign host")
	// ErrInvalidLink is returned for a post link that is not http or https.
	ErrInvalidLink = errors.New("external link must be an http or https URL")
)

const maxErrorBody = 4 << 10

// APIError is a non-2xx response from the remote API.
type APIError struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
}

// Is matches the status sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	case ErrBadRequest:
		return e.Status == http.StatusBadRequest
	}
	return false
}

// StatusCode returns the HTTP status of err if it is an APIError, else 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// detailFrom extracts a human readable message from an error body. The API
// answers with {"detail": ...}, {"error": ...}, {"message": ...} or a map of
// field errors.
func detailFrom(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return strings.TrimSpace(string(body))
	}
	for _, key := range []string{"detail", "error", "message"} {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	var parts []string
	for field, v := range obj {
		switch msg := v.(type) {
		case string:
			parts = append(parts, field+": "+msg)
		case []any:
			for _, m := range msg {
				if s, ok := m.(string); ok {
					parts = append(parts, field+": "+s)
				}
			}
		}
	}
	slices.Sort(parts)
	return strings.Join(parts, "; ")
}
