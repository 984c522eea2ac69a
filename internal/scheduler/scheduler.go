package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per loop tick with the current UTC time.
type TickFunc func(ctx context.Context, now time.Time) error

// Options tune loop behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
}

// Loop drives the cooperative polling cycle: it fires at a fixed cadence
// and hands control to the tick function, which decides which entities are
// due. Per-entity pacing lives in the interval planner, not here.
type Loop struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Loop instance.
func New(opts Options, logger zerolog.Logger) *Loop {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Loop{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function at each interval until ctx is
// cancelled. A failing tick is logged and the loop keeps running; one bad
// cycle must never stop polling for the remaining entities.
func (l *Loop) Run(ctx context.Context, tick TickFunc) error {
	if l.opts.StartupDelay > 0 {
		timer := time.NewTimer(l.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if err := l.runTick(ctx, tick); err != nil {
		return err
	}

	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.runTick(ctx, tick); err != nil {
				return err
			}
		}
	}
}

func (l *Loop) runTick(ctx context.Context, tick TickFunc) error {
	now := time.Now().UTC()
	l.logger.Debug().Time("tick", now).Msg("executing scheduled tick")

	if err := tick(ctx, now); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Error().Err(err).Time("tick", now).Msg("tick execution failed")
	}
	return nil
}
