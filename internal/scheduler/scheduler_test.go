package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoopRunsImmediatelyThenOnInterval(t *testing.T) {
	loop := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())

	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- loop.Run(ctx, func(ctx context.Context, now time.Time) error {
			if ticks.Add(1) >= 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("loop returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}

	if got := ticks.Load(); got < 3 {
		t.Fatalf("ticks = %d, want at least 3", got)
	}
}

func TestLoopSurvivesTickFailures(t *testing.T) {
	loop := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())

	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- loop.Run(ctx, func(ctx context.Context, now time.Time) error {
			if ticks.Add(1) >= 2 {
				cancel()
			}
			return errors.New("cycle failed")
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("loop returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop stopped on a failing tick")
	}

	if got := ticks.Load(); got < 2 {
		t.Fatalf("ticks = %d, want at least 2 despite failures", got)
	}
}

func TestLoopHonorsStartupDelayCancellation(t *testing.T) {
	loop := New(Options{Interval: time.Minute, StartupDelay: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := loop.Run(ctx, func(ctx context.Context, now time.Time) error {
		t.Fatal("tick must not run before the startup delay elapses")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("loop returned %v, want context.Canceled", err)
	}
}
