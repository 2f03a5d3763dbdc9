package follow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/skillsync/skillsync-bff/internal/domain"
)

var (
	// ErrInFlight is returned when a toggle for the same user has not resolved yet.
	ErrInFlight = errors.New("follow toggle already in flight")
	// ErrToggleFailed wraps the remote error of a rolled-back toggle.
	ErrToggleFailed = errors.New("follow toggle failed")
)

// Client performs the remote follow calls.
type Client interface {
	Follow(ctx context.Context, userID int64) error
	Unfollow(ctx context.Context, userID int64) error
}

// Synchronizer applies follow toggles optimistically against a Store.
type Synchronizer struct {
	store  *Store
	client Client
	logger *slog.Logger
}

// NewSynchronizer creates a synchronizer. A nil logger uses slog.Default().
func NewSynchronizer(store *Store, client Client, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{store: store, client: client, logger: logger}
}

// Store returns the underlying map.
func (s *Synchronizer) Store() *Store {
	return s.store
}

// Toggle flips the follow state of userID before the remote call confirms it.
// A second toggle while the first is loading returns ErrInFlight. On remote
// failure the previous value is restored and an error wrapping
// ErrToggleFailed is returned.
func (s *Synchronizer) Toggle(ctx context.Context, userID int64) (domain.FollowEntry, error) {
	optimistic, prev, stamp, err := s.store.beginToggle(userID)
	if err != nil {
		return optimistic, err
	}

	var callErr error
	if optimistic.IsFollowing {
		callErr = s.client.Follow(ctx, userID)
	} else {
		callErr = s.client.Unfollow(ctx, userID)
	}

	final, owned := s.store.settleToggle(userID, stamp, callErr == nil, prev)
	if !owned {
		s.logger.Debug("Dropping stale follow toggle result", "user_id", userID)
	}
	if callErr != nil {
		s.logger.Warn("Follow toggle failed, rolled back",
			"user_id", userID,
			"wanted", optimistic.IsFollowing,
			"error", callErr,
		)
		return final, fmt.Errorf("%w: %w", ErrToggleFailed, callErr)
	}
	return final, nil
}
