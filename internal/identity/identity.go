// Package identity resolves who a local request is for: the signed-in user of
// the BFF session, the browser (view id) and the tab (session id).
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/skillsync/skillsync-bff/internal/domain"
)

const (
	ViewCookieName        = "skillsync_view_id"
	SessionHeaderName     = "X-SkillSync-Session-ID"
	DefaultSessionIDValue = "default"
	viewCookieMaxAge      = 30 * 24 * time.Hour
)

type contextKey int

const (
	userIDKey contextKey = iota
	usernameKey
	viewIDKey
	sessionIDKey
)

var (
	viewIDPattern    = regexp.MustCompile(`^view_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// UserSource exposes the signed-in user, or nil.
type UserSource interface {
	CurrentUser() *domain.User
}

// UserIDFromContext returns the signed-in user's id, or 0.
func UserIDFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(userIDKey).(int64); ok {
		return v
	}
	return 0
}

// UsernameFromContext returns the signed-in user's username.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

// ViewIDFromContext returns the browser id.
func ViewIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(viewIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// WithUser returns ctx carrying user.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	if user == nil {
		return ctx
	}
	ctx = context.WithValue(ctx, userIDKey, user.ID)
	return context.WithValue(ctx, usernameKey, user.Username)
}

// WithSessionID returns ctx carrying a sanitized tab session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sanitizeSessionID(id))
}

func generateViewID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate view id: %w", err)
	}
	return "view_" + hex.EncodeToString(buf), nil
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func getOrCreateViewID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	id := ""
	if c, err := r.Cookie(ViewCookieName); err == nil && viewIDPattern.MatchString(c.Value) {
		id = c.Value
	} else {
		var genErr error
		if id, genErr = generateViewID(); genErr != nil {
			return "", genErr
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ViewCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(viewCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(viewCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sid
}

// Middleware injects the view id, tab session id and, when signed in, the user.
func Middleware(users UserSource, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			viewID, err := getOrCreateViewID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish view identity"}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), viewIDKey, viewID)
			ctx = WithSessionID(ctx, sessionIDFromRequest(r))
			ctx = WithUser(ctx, users.CurrentUser())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
