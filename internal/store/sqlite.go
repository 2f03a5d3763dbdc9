package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/skillsync/skillsync-bff/internal/domain"
	"github.com/skillsync/skillsync-bff/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS cookies (
		origin TEXT NOT NULL,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		domain TEXT NOT NULL DEFAULT '',
		value TEXT NOT NULL,
		expires_at INTEGER,
		secure INTEGER NOT NULL DEFAULT 0,
		http_only INTEGER NOT NULL DEFAULT 0,
		same_site INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (origin, name, path)
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_conversation ON chat_messages(user_id, session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_created ON chat_messages(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// LoadCookies returns every stored cookie that has not expired.
func (s *SQLiteStore) LoadCookies(ctx context.Context) ([]Cookie, error) {
	query := `
		SELECT origin, name, value, path, domain, expires_at, secure, http_only, same_site
		FROM cookies WHERE expires_at IS NULL OR expires_at > ?`

	rows, err := s.db.QueryContext(ctx, query, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("query cookies: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close cookie rows", "error", closeErr)
		}
	}()

	var cookies []Cookie
	for rows.Next() {
		var c Cookie
		var expires sql.NullInt64
		if err := rows.Scan(
			&c.Origin, &c.Name, &c.Value, &c.Path, &c.Domain,
			&expires, &c.Secure, &c.HTTPOnly, &c.SameSite,
		); err != nil {
			return nil, fmt.Errorf("scan cookie row: %w", err)
		}
		if expires.Valid {
			c.Expires = time.Unix(expires.Int64, 0)
		}
		cookies = append(cookies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cookies: %w", err)
	}

	return cookies, nil
}

// SaveCookie creates or replaces a cookie.
func (s *SQLiteStore) SaveCookie(ctx context.Context, c Cookie) error {
	query := `
	INSERT INTO cookies (origin, name, path, domain, value, expires_at, secure, http_only, same_site, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(origin, name, path) DO UPDATE SET
		domain = excluded.domain,
		value = excluded.value,
		expires_at = excluded.expires_at,
		secure = excluded.secure,
		http_only = excluded.http_only,
		same_site = excluded.same_site,
		updated_at = excluded.updated_at`

	var expires any
	if !c.Expires.IsZero() {
		expires = c.Expires.Unix()
	}

	return shared.RetryOnConflict(ctx, s.retry, "save cookie", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			c.Origin, c.Name, c.Path, c.Domain, c.Value, expires,
			c.Secure, c.HTTPOnly, c.SameSite, time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("save cookie %s: %w", c.Name, err)
		}
		return nil
	})
}

// DeleteCookie removes a single cookie.
func (s *SQLiteStore) DeleteCookie(ctx context.Context, origin, name, path string) error {
	return shared.RetryOnConflict(ctx, s.retry, "delete cookie", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM cookies WHERE origin = ? AND name = ? AND path = ?`, origin, name, path)
		if err != nil {
			return fmt.Errorf("delete cookie %s: %w", name, err)
		}
		return nil
	})
}

// DeleteCookies removes every stored cookie.
func (s *SQLiteStore) DeleteCookies(ctx context.Context) error {
	return shared.RetryOnConflict(ctx, s.retry, "delete cookies", func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM cookies`); err != nil {
			return fmt.Errorf("delete cookies: %w", err)
		}
		return nil
	})
}

// AppendChatMessage stores one conversation entry. ID and CreatedAt are
// filled in when empty.
func (s *SQLiteStore) AppendChatMessage(ctx context.Context, msg *domain.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO chat_messages (id, user_id, session_id, role, content, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	return shared.RetryOnConflict(ctx, s.retry, "append chat message", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			msg.ID, msg.UserID, msg.SessionID, msg.Role, msg.Content, msg.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert chat message: %w", err)
		}
		return nil
	})
}

// ListChatMessages returns the latest limit messages, oldest first.
func (s *SQLiteStore) ListChatMessages(ctx context.Context, userID int64, sessionID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT id, user_id, session_id, role, content, created_at
		FROM chat_messages
		WHERE user_id = ? AND session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close chat message rows", "error", closeErr)
		}
	}()

	var msgs []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.UserID, &m.SessionID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chat message row: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}

	slices.Reverse(msgs)
	return msgs, nil
}

// DeleteChatHistory removes a conversation.
func (s *SQLiteStore) DeleteChatHistory(ctx context.Context, userID int64, sessionID string) (int64, error) {
	var deleted int64
	err := shared.RetryOnConflict(ctx, s.retry, "delete chat history", func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx,
			`DELETE FROM chat_messages WHERE user_id = ? AND session_id = ?`, userID, sessionID)
		if err != nil {
			return fmt.Errorf("delete chat history: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// CleanupChatHistory removes messages older than ttl.
func (s *SQLiteStore) CleanupChatHistory(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	result, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE created_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup chat history: %w", err)
	}
	return result.RowsAffected()
}
