// Package agent implements the "Freezy" AI assistant panel: rate limiting,
// per-tab conversation history and streamed replies.
package agent

import (
	"encoding/json"
	"errors"
)

var (
	// ErrEmptyMessage is returned for a blank chat message.
	ErrEmptyMessage = errors.New("message is required")
	// ErrRateLimited is returned when a user exceeds the chat rate.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ChatRequest is the local chat request body.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is a complete assistant answer.
type ChatResponse struct {
	Reply string          `json:"reply"`
	Raw   json.RawMessage `json:"raw,omitempty"`
}

// Chunk is one streamed piece of an assistant answer.
type Chunk struct {
	Content string `json:"content"`
}
