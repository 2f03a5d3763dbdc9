package middleware

import (
	"net/http"
	"time"
)

// SessionState is the part of the session the guards need.
type SessionState interface {
	Ready() <-chan struct{}
	IsAuthenticated() bool
}

// WaitForBootstrap holds requests until the first session bootstrap has
// resolved so no view sees a logged-out state that is about to change.
func WaitForBootstrap(s SessionState, timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-s.Ready():
				next.ServeHTTP(w, r)
				return
			default:
			}

			timer := time.NewTimer(timeout)
			defer timer.Stop()
			select {
			case <-s.Ready():
				next.ServeHTTP(w, r)
			case <-timer.C:
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":"session is still loading"}`))
			case <-r.Context().Done():
			}
		})
	}
}

// RequireSession rejects requests while the BFF session is not authenticated.
func RequireSession(s SessionState) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.IsAuthenticated() {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"not authenticated"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
