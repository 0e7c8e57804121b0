package async

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunnerRunsAndDrains(t *testing.T) {
	r := NewRunner(0, testLogger())
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		r.Go("inc", func(ctx context.Context) error {
			n.Add(1)
			return nil
		})
	}
	if err := r.Drain(context.Background()); err != nil {
		t.Fatalf("Drain() error: %v", err)
	}
	if got := n.Load(); got != 5 {
		t.Errorf("ran %d tasks, want 5", got)
	}
	if p := r.Pending(); p != 0 {
		t.Errorf("Pending() after Drain = %d, want 0", p)
	}
	if r.Go("late", func(ctx context.Context) error { return nil }) {
		t.Error("Go() after Drain = true, want false")
	}
}

func TestRunnerReportsFailures(t *testing.T) {
	r := NewRunner(0, testLogger())
	var failed atomic.Int32
	r.OnFailure = func(name string) { failed.Add(1) }

	r.Go("err", func(ctx context.Context) error { return errors.New("boom") })
	r.Go("panic", func(ctx context.Context) error { panic("kaboom") })
	r.Go("ok", func(ctx context.Context) error { return nil })

	if err := r.Drain(context.Background()); err != nil {
		t.Fatalf("Drain() error: %v", err)
	}
	if got := failed.Load(); got != 2 {
		t.Errorf("failures = %d, want 2", got)
	}
}

func TestRunnerTaskTimeout(t *testing.T) {
	r := NewRunner(10*time.Millisecond, testLogger())
	got := make(chan error, 1)
	r.Go("slow", func(ctx context.Context) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	})
	select {
	case err := <-got:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("ctx.Err() = %v, want DeadlineExceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task context never expired")
	}
	r.Drain(context.Background())
}

func TestDrainHonoursContext(t *testing.T) {
	r := NewRunner(0, testLogger())
	release := make(chan struct{})
	r.Go("block", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.Drain(ctx); err == nil {
		t.Error("Drain() = nil, want deadline error")
	}
	close(release)
	if err := r.Drain(context.Background()); err != nil {
		t.Errorf("second Drain() error: %v", err)
	}
}

func TestRunnerPending(t *testing.T) {
	r := NewRunner(0, testLogger())
	release := make(chan struct{})
	r.Go("block", func(ctx context.Context) error {
		<-release
		return nil
	})
	if p := r.Pending(); p != 1 {
		t.Errorf("Pending() = %d, want 1", p)
	}
	close(release)
	if err := r.Drain(context.Background()); err != nil {
		t.Fatalf("Drain() error: %v", err)
	}
	if p := r.Pending(); p != 0 {
		t.Errorf("Pending() = %d, want 0", p)
	}
}
