package sms

import (
	"context"
	"errors"
	"time"
)

// StartPollTicker runs Reconcile every interval in a background goroutine
// until ctx is cancelled. The returned channel is closed when the loop exits.
func (b *Bridge) StartPollTicker(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := b.Reconcile(ctx); err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					b.logger.Error("inbox poll failed", "error", err)
				}
			}
		}
	}()

	return done
}
