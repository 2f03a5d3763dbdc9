package domain

import (
	"time"
)

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one entry of the history sent to the assistant.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatMessage is a persisted assistant conversation entry.
type ChatMessage struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn converts the message to a history entry.
func (m ChatMessage) Turn() ChatTurn {
	return ChatTurn{Role: m.Role, Content: m.Content}
}
