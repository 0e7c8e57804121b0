package voicemail

import (
	"context"
	"log/slog"
	"time"
)

// ClaimPruner deletes notification claims older than a cutoff.
type ClaimPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StartCleanupTicker runs a background goroutine that removes notification
// claims older than retention every interval. Both completion signals for a
// recording arrive within minutes, so old claims only take up space. The
// returned channel is closed once ctx is cancelled and the loop has exited.
func StartCleanupTicker(ctx context.Context, claims ClaimPruner, retention, interval time.Duration, logger *slog.Logger) <-chan struct{} {
	logger = logger.With("component", "voicemail")
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				removed, err := claims.DeleteBefore(ctx, now.Add(-retention))
				if err != nil {
					logger.Error("voicemail claim cleanup failed", "error", err)
					continue
				}
				if removed > 0 {
					logger.Info("voicemail claim cleanup", "deleted", removed)
				}
			}
		}
	}()

	return done
}
