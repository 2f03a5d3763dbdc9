package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/skillsync/skillsync-bff/internal/config"
	"github.com/skillsync/skillsync-bff/internal/domain"
)

const persistTimeout = 5 * time.Second

// Service provides assistant chat with per-tab history.
type Service struct {
	assistant    Assistant
	history      HistoryStore
	limiter      *RateLimiter
	historyLimit int
	logger       *slog.Logger
}

// NewService creates the chat service.
func NewService(assistant Assistant, history HistoryStore, cfg config.ChatConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = 20
	}
	return &Service{
		assistant:    assistant,
		history:      history,
		limiter:      NewRateLimiter(cfg.RequestsPerWindow, cfg.WindowDuration),
		historyLimit: limit,
		logger:       logger,
	}
}

// Chat sends message with the tab's history and stores both sides.
func (s *Service) Chat(ctx context.Context, userID int64, sessionID, message string) (ChatResponse, error) {
	message, turns, err := s.prepare(ctx, userID, sessionID, message)
	if err != nil {
		return ChatResponse{}, err
	}

	reply, err := s.assistant.Chat(ctx, message, turns)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("assistant chat: %w", err)
	}

	resp := ChatResponse{Reply: reply.Reply, Raw: reply.Raw}
	if resp.Reply == "" && len(reply.Raw) > 0 {
		resp.Reply = string(reply.Raw)
	}
	s.persist(ctx, userID, sessionID, domain.RoleAssistant, resp.Reply)
	return resp, nil
}

// ChatStream validates and throttles synchronously, then returns the stream.
// The assembled reply is stored when the stream ends, even if it was cut short.
func (s *Service) ChatStream(ctx context.Context, userID int64, sessionID, message string) (iter.Seq2[Chunk, error], error) {
	message, turns, err := s.prepare(ctx, userID, sessionID, message)
	if err != nil {
		return nil, err
	}

	return func(yield func(Chunk, error) bool) {
		var full strings.Builder
		defer func() {
			s.persist(ctx, userID, sessionID, domain.RoleAssistant, full.String())
		}()

		for payload, err := range s.assistant.ChatStream(ctx, message, turns) {
			if err != nil {
				yield(Chunk{}, err)
				return
			}
			text := chunkText(payload)
			full.WriteString(text)
			if !yield(Chunk{Content: text}, nil) {
				return
			}
		}
	}, nil
}

// History returns the stored conversation of a tab, oldest first.
func (s *Service) History(ctx context.Context, userID int64, sessionID string) ([]domain.ChatMessage, error) {
	msgs, err := s.history.ListChatMessages(ctx, userID, sessionID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	return msgs, nil
}

// Reset deletes the stored conversation of a tab.
func (s *Service) Reset(ctx context.Context, userID int64, sessionID string) (int64, error) {
	n, err := s.history.DeleteChatHistory(ctx, userID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("reset chat history: %w", err)
	}
	return n, nil
}

// Close releases resources.
func (s *Service) Close() {
	s.limiter.Stop()
}

// prepare checks the message and rate, loads prior turns and stores the
// user's message.
func (s *Service) prepare(ctx context.Context, userID int64, sessionID, message string) (string, []domain.ChatTurn, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", nil, ErrEmptyMessage
	}
	if !s.limiter.Allow(userID) {
		return "", nil, ErrRateLimited
	}

	prior, err := s.History(ctx, userID, sessionID)
	if err != nil {
		s.logger.Warn("Chat history unavailable, sending without it", "user_id", userID, "error", err)
	}
	turns := make([]domain.ChatTurn, 0, len(prior))
	for _, m := range prior {
		turns = append(turns, m.Turn())
	}

	s.persist(ctx, userID, sessionID, domain.RoleUser, message)
	return message, turns, nil
}

func (s *Service) persist(ctx context.Context, userID int64, sessionID, role, content string) {
	if content == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	err := s.history.AppendChatMessage(ctx, &domain.ChatMessage{
		UserID:    userID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	})
	if err != nil {
		s.logger.Warn("Failed to store chat message", "user_id", userID, "session_id", sessionID, "role", role, "error", err)
	}
}

// chunkText pulls the text out of a stream payload. JSON objects carrying
// content, delta or reply are unwrapped; anything else is used verbatim.
func chunkText(payload string) string {
	if !strings.HasPrefix(payload, "{") {
		return payload
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return payload
	}
	for _, key := range []string{"content", "delta", "reply", "text"} {
		if v, ok := obj[key].(string); ok {
			return v
		}
	}
	return payload
}
