package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"

	"github.com/skillsync/skillsync-bff/internal/domain"
)

// ChatRequest is the assistant request body.
type ChatRequest struct {
	Message string            `json:"message"`
	History []domain.ChatTurn `json:"history"`
}

// ChatReply is the non-streaming assistant answer.
type ChatReply struct {
	Reply string          `json:"reply"`
	Raw   json.RawMessage `json:"raw,omitempty"`
}

// Chat asks the assistant and waits for the full reply.
func (c *Client) Chat(ctx context.Context, message string, history []domain.ChatTurn) (ChatReply, error) {
	var reply ChatReply
	if history == nil {
		history = []domain.ChatTurn{}
	}
	if err := c.do(ctx, http.MethodPost, pathChat, ChatRequest{Message: message, History: history}, &reply); err != nil {
		return ChatReply{}, err
	}
	return reply, nil
}

// ChatStream asks the assistant and yields payloads as they arrive.
// Cancelling ctx ends the sequence without an error.
func (c *Client) ChatStream(ctx context.Context, message string, history []domain.ChatTurn) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if history == nil {
			history = []domain.ChatTurn{}
		}
		req, err := c.newRequest(ctx, http.MethodPost, c.streamPath, ChatRequest{Message: message, History: history})
		if err != nil {
			yield("", err)
			return
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.sendWith(c.stream, req)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			yield("", fmt.Errorf("open chat stream: %w", err))
			return
		}
		defer func() { _ = resp.Body.Close() }()

		for payload, err := range ParseStream(resp.Body) {
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				yield("", fmt.Errorf("read chat stream: %w", err))
				return
			}
			if !yield(payload, nil) {
				return
			}
		}
	}
}
