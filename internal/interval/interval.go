package interval

import (
	"fmt"
	"time"
)

// Mode selects the polling-frequency tier. Fine mode is used when a tracked
// sales window opens within the current coarse interval; the caller decides,
// so scheduling stays reproducible in tests.
type Mode string

const (
	ModeCoarse Mode = "coarse"
	ModeFine   Mode = "fine"
)

const day = 24 * time.Hour

// Options tune planner behaviour. Both step sizes must divide 24 hours so
// every entity's schedule contains a tick at its local midnight regardless
// of step; that keeps entities with different steps aligned at local-day
// boundaries.
type Options struct {
	CoarseStep   time.Duration
	FineStep     time.Duration
	RetryBackoff time.Duration
	MaxFailures  int
}

// Planner computes per-entity poll instants aligned to the entity's local
// wall clock.
type Planner struct {
	opts Options
}

// New validates the step configuration and constructs a Planner.
func New(opts Options) (*Planner, error) {
	if err := validateStep(opts.CoarseStep, time.Hour, 24*time.Hour, time.Hour); err != nil {
		return nil, fmt.Errorf("coarse step: %w", err)
	}
	if err := validateStep(opts.FineStep, 15*time.Minute, time.Hour, time.Minute); err != nil {
		return nil, fmt.Errorf("fine step: %w", err)
	}
	if opts.RetryBackoff <= 0 {
		return nil, fmt.Errorf("retry backoff must be positive")
	}
	if opts.MaxFailures <= 0 {
		return nil, fmt.Errorf("max failures must be positive")
	}
	return &Planner{opts: opts}, nil
}

func validateStep(step, min, max, granule time.Duration) error {
	if step < min || step > max {
		return fmt.Errorf("%s outside allowed range [%s, %s]", step, min, max)
	}
	if step%granule != 0 {
		return fmt.Errorf("%s is not a whole number of %s units", step, granule)
	}
	if day%step != 0 {
		return fmt.Errorf("%s does not divide 24h", step)
	}
	return nil
}

// Step returns the interval length for a mode.
func (p *Planner) Step(mode Mode) time.Duration {
	if mode == ModeFine {
		return p.opts.FineStep
	}
	return p.opts.CoarseStep
}

// NextPollAfter returns the next UTC instant, strictly after lastPoll, that
// falls on a multiple of the mode's step measured from midnight in loc.
// All arithmetic happens in local wall-clock terms and is converted to UTC
// at the end, so the alignment survives daylight-saving transitions and
// zones with non-hour UTC offsets. If normalization around a DST gap lands
// at or before lastPoll, the planner advances another step instead of
// failing.
func (p *Planner) NextPollAfter(loc *time.Location, lastPoll time.Time, mode Mode) time.Time {
	step := p.Step(mode)
	next := nextWallTick(lastPoll.In(loc), step)
	for !next.After(lastPoll) {
		next = nextWallTick(next.In(loc), step)
	}
	return next.UTC()
}

// TickFor returns the schedule tick containing t: the greatest multiple of
// the mode's step, measured from local midnight, that is not after t. An
// instant exactly on a tick resolves to that tick.
func (p *Planner) TickFor(loc *time.Location, t time.Time, mode Mode) time.Time {
	step := p.Step(mode)
	local := t.In(loc)
	sec := secondsIntoDay(local)
	stepSec := int(step / time.Second)
	year, month, dayOfMonth := local.Date()
	tick := time.Date(year, month, dayOfMonth, 0, 0, (sec/stepSec)*stepSec, 0, loc)
	if tick.After(t) {
		// A DST overlap can place the rebuilt wall time after t; fall back
		// one step.
		tick = time.Date(year, month, dayOfMonth, 0, 0, (sec/stepSec-1)*stepSec, 0, loc)
	}
	return tick.UTC()
}

// NextRetry computes the next attempt after a transient poll failure. The
// last-poll timestamp is not advanced by the caller; retries run at a short
// fixed backoff until MaxFailures consecutive failures, after which the
// entity is considered degraded and falls back to coarse-step cadence.
func (p *Planner) NextRetry(attempt time.Time, consecutiveFailures int) (next time.Time, degraded bool) {
	if consecutiveFailures >= p.opts.MaxFailures {
		return attempt.Add(p.opts.CoarseStep).UTC(), true
	}
	return attempt.Add(p.opts.RetryBackoff).UTC(), false
}

// ModeFor returns ModeFine when any of the given sales-window start times
// falls inside the coarse interval beginning at now, ModeCoarse otherwise.
func (p *Planner) ModeFor(now time.Time, windowStarts []time.Time) Mode {
	horizon := now.Add(p.opts.CoarseStep)
	for _, start := range windowStarts {
		if start.After(now) && !start.After(horizon) {
			return ModeFine
		}
	}
	return ModeCoarse
}

// nextWallTick rebuilds the next multiple-of-step wall time after local.
// time.Date normalizes out-of-range fields, which is what carries the
// computation across spring-forward gaps and fall-back overlaps.
func nextWallTick(local time.Time, step time.Duration) time.Time {
	sec := secondsIntoDay(local)
	stepSec := int(step / time.Second)
	next := (sec/stepSec + 1) * stepSec
	year, month, dayOfMonth := local.Date()
	return time.Date(year, month, dayOfMonth, 0, 0, next, 0, local.Location())
}

func secondsIntoDay(local time.Time) int {
	return local.Hour()*3600 + local.Minute()*60 + local.Second()
}
