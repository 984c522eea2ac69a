package interval

import (
	"testing"
	"time"
)

func newTestPlanner(t *testing.T, coarse, fine time.Duration) *Planner {
	t.Helper()
	planner, err := New(Options{
		CoarseStep:   coarse,
		FineStep:     fine,
		RetryBackoff: 5 * time.Minute,
		MaxFailures:  5,
	})
	if err != nil {
		t.Fatalf("planner construction failed: %v", err)
	}
	return planner
}

func loadLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

func TestNewRejectsInvalidSteps(t *testing.T) {
	cases := []struct {
		name   string
		coarse time.Duration
		fine   time.Duration
	}{
		{"coarse does not divide 24h", 5 * time.Hour, 30 * time.Minute},
		{"coarse below range", 30 * time.Minute, 30 * time.Minute},
		{"coarse above range", 48 * time.Hour, 30 * time.Minute},
		{"fine does not divide 24h", 6 * time.Hour, 25 * time.Minute},
		{"fine below range", 6 * time.Hour, 5 * time.Minute},
		{"fine above range", 6 * time.Hour, 90 * time.Minute},
		{"fine not whole minutes", 6 * time.Hour, 16*time.Minute + 30*time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(Options{
				CoarseStep:   tc.coarse,
				FineStep:     tc.fine,
				RetryBackoff: time.Minute,
				MaxFailures:  3,
			})
			if err == nil {
				t.Fatalf("expected error for coarse=%s fine=%s", tc.coarse, tc.fine)
			}
		})
	}
}

func TestNewRejectsBadRetryOptions(t *testing.T) {
	if _, err := New(Options{CoarseStep: 6 * time.Hour, FineStep: 30 * time.Minute, RetryBackoff: 0, MaxFailures: 3}); err == nil {
		t.Fatal("expected error for zero retry backoff")
	}
	if _, err := New(Options{CoarseStep: 6 * time.Hour, FineStep: 30 * time.Minute, RetryBackoff: time.Minute, MaxFailures: 0}); err == nil {
		t.Fatal("expected error for zero max failures")
	}
}

func TestNextPollAfterParisCoarse(t *testing.T) {
	planner := newTestPlanner(t, 6*time.Hour, 30*time.Minute)
	paris := loadLocation(t, "Europe/Paris")

	// Paris is UTC+2 in September, so the local 6h grid 00/06/12/18
	// resolves to 22/04/10/16 UTC.
	lastPoll := time.Date(2023, 9, 7, 0, 30, 0, 0, time.UTC)
	next := planner.NextPollAfter(paris, lastPoll, ModeCoarse)

	want := time.Date(2023, 9, 7, 4, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next poll = %s, want %s", next, want)
	}
}

func TestNextPollAfterIsStrictlyAfter(t *testing.T) {
	planner := newTestPlanner(t, 6*time.Hour, 30*time.Minute)
	paris := loadLocation(t, "Europe/Paris")

	// Exactly on a tick: the next poll is one full step later, not the
	// tick itself.
	onTick := time.Date(2023, 9, 7, 4, 0, 0, 0, time.UTC)
	next := planner.NextPollAfter(paris, onTick, ModeCoarse)

	want := time.Date(2023, 9, 7, 10, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next poll = %s, want %s", next, want)
	}
}

func TestNextPollAfterSpringForwardGap(t *testing.T) {
	planner := newTestPlanner(t, 2*time.Hour, 30*time.Minute)
	paris := loadLocation(t, "Europe/Paris")

	// Paris skips 02:00-03:00 local on 2024-03-31. A tick scheduled at
	// the nonexistent 02:00 normalizes forward instead of stalling.
	lastPoll := time.Date(2024, 3, 31, 0, 30, 0, 0, time.UTC) // 01:30 CET
	next := planner.NextPollAfter(paris, lastPoll, ModeCoarse)

	want := time.Date(2024, 3, 31, 1, 0, 0, 0, time.UTC) // 03:00 CEST
	if !next.Equal(want) {
		t.Fatalf("next poll = %s, want %s", next, want)
	}
}

func TestNextPollAfterFallBackStaysMonotonic(t *testing.T) {
	planner := newTestPlanner(t, time.Hour, 30*time.Minute)
	paris := loadLocation(t, "Europe/Paris")

	// Paris repeats 02:00-03:00 local on 2024-10-27. Walk the schedule
	// across the transition and require strict progress on every step.
	current := time.Date(2024, 10, 26, 22, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		next := planner.NextPollAfter(paris, current, ModeCoarse)
		if !next.After(current) {
			t.Fatalf("step %d: %s is not after %s", i, next, current)
		}
		local := next.In(paris)
		if local.Minute() != 0 || local.Second() != 0 {
			t.Fatalf("step %d: %s is not on the local hour grid", i, local)
		}
		current = next
	}
}

func TestNextPollAfterNonHourOffset(t *testing.T) {
	planner := newTestPlanner(t, 6*time.Hour, 30*time.Minute)
	kathmandu := loadLocation(t, "Asia/Kathmandu")

	// UTC+5:45: local midnight is 18:15 UTC the previous day.
	lastPoll := time.Date(2023, 6, 1, 17, 0, 0, 0, time.UTC) // 22:45 local
	next := planner.NextPollAfter(kathmandu, lastPoll, ModeCoarse)

	want := time.Date(2023, 6, 1, 18, 15, 0, 0, time.UTC) // local midnight
	if !next.Equal(want) {
		t.Fatalf("next poll = %s, want %s", next, want)
	}
}

func TestScheduleDensityOverOneDay(t *testing.T) {
	planner := newTestPlanner(t, 3*time.Hour, 20*time.Minute)
	utc := time.UTC

	start := time.Date(2023, 5, 10, 0, 0, 0, 0, utc)
	end := start.Add(24 * time.Hour)

	current := start
	ticks := 0
	for {
		next := planner.NextPollAfter(utc, current, ModeCoarse)
		if next.After(end) {
			break
		}
		ticks++
		current = next
	}
	if ticks != 8 {
		t.Fatalf("expected 8 coarse ticks in a day, got %d", ticks)
	}

	current = start
	ticks = 0
	for {
		next := planner.NextPollAfter(utc, current, ModeFine)
		if next.After(end) {
			break
		}
		ticks++
		current = next
	}
	if ticks != 72 {
		t.Fatalf("expected 72 fine ticks in a day, got %d", ticks)
	}
}

func TestTickForResolvesToContainingTick(t *testing.T) {
	planner := newTestPlanner(t, 6*time.Hour, 30*time.Minute)
	paris := loadLocation(t, "Europe/Paris")

	onTick := time.Date(2023, 9, 7, 4, 0, 0, 0, time.UTC)
	if got := planner.TickFor(paris, onTick, ModeCoarse); !got.Equal(onTick) {
		t.Fatalf("exact tick resolved to %s, want %s", got, onTick)
	}

	midInterval := time.Date(2023, 9, 7, 7, 42, 0, 0, time.UTC)
	if got := planner.TickFor(paris, midInterval, ModeCoarse); !got.Equal(onTick) {
		t.Fatalf("mid-interval resolved to %s, want %s", got, onTick)
	}
}

func TestNextRetryBackoffAndDegradation(t *testing.T) {
	planner := newTestPlanner(t, 6*time.Hour, 30*time.Minute)
	attempt := time.Date(2023, 9, 7, 4, 0, 0, 0, time.UTC)

	next, degraded := planner.NextRetry(attempt, 1)
	if degraded {
		t.Fatal("one failure must not degrade the entity")
	}
	if want := attempt.Add(5 * time.Minute); !next.Equal(want) {
		t.Fatalf("retry = %s, want %s", next, want)
	}

	next, degraded = planner.NextRetry(attempt, 5)
	if !degraded {
		t.Fatal("reaching max failures must degrade the entity")
	}
	if want := attempt.Add(6 * time.Hour); !next.Equal(want) {
		t.Fatalf("degraded retry = %s, want %s", next, want)
	}
}

func TestModeForSwitchesAheadOfWindowStart(t *testing.T) {
	planner := newTestPlanner(t, 6*time.Hour, 30*time.Minute)
	now := time.Date(2023, 9, 7, 4, 0, 0, 0, time.UTC)

	inside := now.Add(2 * time.Hour)
	if mode := planner.ModeFor(now, []time.Time{inside}); mode != ModeFine {
		t.Fatalf("window start inside horizon: mode = %s, want fine", mode)
	}

	beyond := now.Add(7 * time.Hour)
	if mode := planner.ModeFor(now, []time.Time{beyond}); mode != ModeCoarse {
		t.Fatalf("window start beyond horizon: mode = %s, want coarse", mode)
	}

	past := now.Add(-time.Hour)
	if mode := planner.ModeFor(now, []time.Time{past}); mode != ModeCoarse {
		t.Fatalf("already-open window: mode = %s, want coarse", mode)
	}

	if mode := planner.ModeFor(now, nil); mode != ModeCoarse {
		t.Fatalf("no windows: mode = %s, want coarse", mode)
	}
}
