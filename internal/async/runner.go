// Package async runs detached background work whose failures are logged
// rather than returned to the caller that started it.
package async

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Runner starts detached tasks and tracks them so shutdown can wait for
// in-flight work.
type Runner struct {
	logger *slog.Logger
	wg     sync.WaitGroup
	active atomic.Int64

	mu      sync.Mutex
	closed  bool
	timeout time.Duration

	// OnFailure, when set, is called with the task name after a task
	// returns an error or panics.
	OnFailure func(name string)
}

// NewRunner creates a Runner. Each task gets its own context with the given
// timeout; zero means no timeout.
func NewRunner(timeout time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		logger:  logger.With("component", "async"),
		timeout: timeout,
	}
}

// Go runs fn in a new goroutine. The task context is detached from any
// request context so work continues after the webhook has been answered.
// Go returns false if the runner is draining.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("task rejected during shutdown", "task", name)
		return false
	}
	r.wg.Add(1)
	r.active.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer r.active.Add(-1)
		if err := r.run(name, fn); err != nil {
			r.logger.Error("task failed", "task", name, "error", err)
			if r.OnFailure != nil {
				r.OnFailure(name)
			}
		}
	}()
	return true
}

func (r *Runner) run(name string, fn func(ctx context.Context) error) (err error) {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("task panicked", "task", name, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	start := time.Now()
	err = fn(ctx)
	r.logger.Debug("task finished", "task", name, "duration", time.Since(start))
	return err
}

// Pending returns the number of tasks that have started but not finished.
func (r *Runner) Pending() int {
	return int(r.active.Load())
}

// Drain stops accepting new tasks and waits for running ones, up to ctx.
func (r *Runner) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining tasks: %w", ctx.Err())
	}
}
