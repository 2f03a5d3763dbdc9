package agent

import (
	"context"
	"iter"

	"github.com/skillsync/skillsync-bff/internal/apiclient"
	"github.com/skillsync/skillsync-bff/internal/domain"
)

// Assistant is the remote model endpoint.
type Assistant interface {
	// Chat waits for the full reply.
	Chat(ctx context.Context, message string, history []domain.ChatTurn) (apiclient.ChatReply, error)

	// ChatStream yields reply payloads as they arrive.
	ChatStream(ctx context.Context, message string, history []domain.ChatTurn) iter.Seq2[string, error]
}

// HistoryStore persists conversations per user and tab.
type HistoryStore interface {
	AppendChatMessage(ctx context.Context, msg *domain.ChatMessage) error
	ListChatMessages(ctx context.Context, userID int64, sessionID string, limit int) ([]domain.ChatMessage, error)
	DeleteChatHistory(ctx context.Context, userID int64, sessionID string) (int64, error)
}

// Ensure the API client implements Assistant.
var _ Assistant = (*apiclient.Client)(nil)
