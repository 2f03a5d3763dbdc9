// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/skillsync/skillsync-bff/internal/domain"
)

// Cookie is a persisted cookie together with the origin it was received from.
type Cookie struct {
	Origin   string
	Name     string
	Value    string
	Path     string
	Domain   string
	Expires  time.Time
	Secure   bool
	HTTPOnly bool
	SameSite int
}

// Repository defines the persistence the BFF needs across restarts.
type Repository interface {
	// LoadCookies returns every stored cookie that has not expired.
	LoadCookies(ctx context.Context) ([]Cookie, error)

	// SaveCookie creates or replaces a cookie keyed by origin, name and path.
	SaveCookie(ctx context.Context, c Cookie) error

	// DeleteCookie removes a single cookie.
	DeleteCookie(ctx context.Context, origin, name, path string) error

	// DeleteCookies removes every stored cookie.
	DeleteCookies(ctx context.Context) error

	// AppendChatMessage stores one assistant conversation entry.
	AppendChatMessage(ctx context.Context, msg *domain.ChatMessage) error

	// ListChatMessages returns the latest limit messages of a conversation,
	// oldest first.
	ListChatMessages(ctx context.Context, userID int64, sessionID string, limit int) ([]domain.ChatMessage, error)

	// DeleteChatHistory removes a conversation.
	DeleteChatHistory(ctx context.Context, userID int64, sessionID string) (int64, error)

	// CleanupChatHistory removes messages older than ttl.
	CleanupChatHistory(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
