package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/skillsync/skillsync-bff/internal/shared"
)

// HistoryCleaner deletes chat messages older than a retention period.
type HistoryCleaner interface {
	CleanupChatHistory(ctx context.Context, ttl time.Duration) (int64, error)
}

// StartRetentionWorker runs a background goroutine that periodically deletes
// chat history older than ttl.
func StartRetentionWorker(ctx context.Context, repo HistoryCleaner, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				cleanupChatHistory(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func cleanupChatHistory(ctx context.Context, repo HistoryCleaner, ttl time.Duration) int64 {
	var deleted int64
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "cleanup chat history", func(ctx context.Context) error {
		n, err := repo.CleanupChatHistory(ctx, ttl)
		deleted = n
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Retention worker: context canceled during cleanup", "error", err)
			return 0
		}
		slog.Error("Retention worker failed to cleanup chat history", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("Retention worker cleaned up chat history", "count", deleted)
	}
	return deleted
}
