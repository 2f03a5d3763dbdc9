// Package worker runs the BFF's periodic background jobs.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// TokenRefresher refreshes the access token ahead of its expiry.
type TokenRefresher interface {
	RefreshIfExpiring(ctx context.Context, within time.Duration) (bool, error)
}

// StartRefreshWorker runs a background goroutine that checks the access token
// every interval and refreshes it when it expires within skew. A failed
// refresh clears the session.
func StartRefreshWorker(ctx context.Context, sessions TokenRefresher, interval, skew time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Refresh worker started", "interval", interval, "skew", skew)

		for {
			select {
			case <-ticker.C:
				refreshIfExpiring(ctx, sessions, skew)
			case <-ctx.Done():
				slog.Info("Refresh worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func refreshIfExpiring(ctx context.Context, sessions TokenRefresher, skew time.Duration) bool {
	refreshed, err := sessions.RefreshIfExpiring(ctx, skew)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		slog.Warn("Refresh worker failed to refresh access token", "error", err)
		return false
	}
	if refreshed {
		slog.Debug("Refresh worker renewed access token")
	}
	return refreshed
}
