package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"surplus-watcher/internal/alerting"
	"surplus-watcher/internal/config"
	"surplus-watcher/internal/fetcher"
	"surplus-watcher/internal/interval"
	"surplus-watcher/internal/inventory"
	"surplus-watcher/internal/scheduler"
	"surplus-watcher/internal/storage"
)

// Stores groups the persistence collaborators the service needs.
type Stores struct {
	Entities  storage.EntityStore
	Schedules storage.ScheduleStore
	Snapshots storage.SnapshotStore
	Events    storage.EventStore
}

// Service orchestrates the poll-diff-notify cycle for all monitored
// entities.
type Service struct {
	loop     *scheduler.Loop
	planner  *interval.Planner
	items    fetcher.ItemFetcher
	stores   Stores
	notifier alerting.Notifier
	logger   zerolog.Logger

	concurrency int
	pollTimeout time.Duration
	alertsOn    bool
	locker      storage.AdvisoryLocker
	lockKey     int64
}

// New constructs the monitoring service.
func New(cfg *config.Config, loop *scheduler.Loop, planner *interval.Planner, items fetcher.ItemFetcher, stores Stores, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := stores.Entities.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		loop:        loop,
		planner:     planner,
		items:       items,
		stores:      stores,
		notifier:    notifier,
		logger:      logger.With().Str("component", "service").Logger(),
		concurrency: cfg.Scheduler.Concurrency,
		pollTimeout: cfg.Scheduler.PollTimeout,
		alertsOn:    cfg.Alerting.Enabled,
		locker:      locker,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the cooperative polling loop. An advisory lock guarantees a
// single runner per database; a second instance exits cleanly.
func (s *Service) Run(ctx context.Context) error {
	if s.loop == nil {
		return fmt.Errorf("scheduler loop not configured")
	}

	if s.lockKey != 0 && s.locker != nil {
		unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
		if err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !acquired {
			s.logger.Warn().Msg("advisory lock held elsewhere; another instance is polling")
			return nil
		}
		defer unlock()
	}

	return s.loop.Run(ctx, s.ProcessDue)
}

// ProcessDue polls every entity whose next-poll instant has elapsed,
// fanning out across a bounded worker pool. Each entity's cycle is
// independent; a failure in one never stops the others.
func (s *Service) ProcessDue(ctx context.Context, now time.Time) error {
	due, err := s.stores.Entities.ListDueEntities(ctx, now)
	if err != nil {
		return fmt.Errorf("list due entities: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	s.logger.Info().Int("due", len(due)).Time("tick", now).Msg("processing due entities")

	workers := s.concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(due) {
		workers = len(due)
	}

	work := make(chan storage.Entity, len(due))
	for _, entity := range due {
		work <- entity
	}
	close(work)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entity := range work {
				if ctx.Err() != nil {
					return
				}
				s.ProcessEntity(ctx, entity, now)
			}
		}()
	}
	wg.Wait()

	return ctx.Err()
}

// ProcessEntity runs one entity's poll-diff-persist-notify sequence. The
// steps are strictly sequential so two polls can never race on the same
// snapshot set.
func (s *Service) ProcessEntity(ctx context.Context, entity storage.Entity, now time.Time) {
	logger := s.logger.With().Str("entity", entity.ID).Str("name", entity.Name).Logger()

	loc, err := time.LoadLocation(entity.Timezone)
	if err != nil {
		logger.Error().Err(err).Str("timezone", entity.Timezone).Msg("invalid entity timezone; disabling")
		s.disableEntity(ctx, entity.ID, logger)
		return
	}

	previous, err := s.stores.Snapshots.LoadSnapshots(ctx, entity.ID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load snapshots; skipping cycle")
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	items, err := s.items.FetchItems(fetchCtx, fetcher.Query{
		Latitude:     entity.Latitude,
		Longitude:    entity.Longitude,
		RadiusMeters: entity.RadiusMeters,
	})
	cancel()
	if err != nil {
		// A timed-out or failed fetch leaves the snapshot set untouched.
		s.handleFetchFailure(ctx, entity, now, err, logger)
		return
	}

	result := inventory.DiffSnapshots(entity.ID, previous, items, now)

	// Mode selection sees the post-diff snapshots: a sales window is most
	// often learned on the poll that first sights the item, and the
	// tightened cadence has to start on that same cycle.
	mode := s.planner.ModeFor(now, upcomingWindows(result.Snapshots))

	for _, skipped := range result.Skipped {
		logger.Warn().Int("index", skipped.Index).
			Str("item", skipped.ItemID).
			Str("reason", skipped.Reason).
			Msg("skipped malformed item record")
	}

	for i := range result.Events {
		result.Events[i].ID = uuid.NewString()
		if err := s.stores.Events.InsertEvent(ctx, result.Events[i]); err != nil {
			logger.Error().Err(err).Str("item", result.Events[i].ItemID).Msg("failed to persist event")
		}
	}

	for _, snapshot := range result.Snapshots {
		if err := s.stores.Snapshots.UpsertSnapshot(ctx, entity.ID, snapshot); err != nil {
			logger.Error().Err(err).Str("item", snapshot.ItemID).Msg("failed to persist snapshot")
		}
	}

	logger.Info().Int("items", len(items)).
		Int("events", len(result.Events)).
		Str("mode", string(mode)).
		Msg("poll cycle complete")

	if s.alertsOn && s.notifier != nil && len(result.Events) > 0 {
		digest := alerting.Digest{
			EntityName: entity.Name,
			Recipient:  entity.Recipient,
			PolledAt:   now,
			Events:     result.Events,
		}
		// Fire and forget: delivery failures never block scheduling.
		if err := s.notifier.Notify(ctx, digest); err != nil {
			logger.Error().Err(err).Msg("failed to dispatch digest")
		}
	}

	if entity.Degraded {
		if err := s.stores.Entities.SetEntityDegraded(ctx, entity.ID, false); err != nil {
			logger.Error().Err(err).Msg("failed to clear degraded flag")
		}
	}

	next := s.planner.NextPollAfter(loc, now, mode)
	if err := s.stores.Schedules.UpsertSchedule(ctx, storage.Schedule{
		EntityID: entity.ID,
		LastPoll: now,
		NextPoll: next,
		Failures: 0,
		Mode:     string(mode),
	}); err != nil {
		logger.Error().Err(err).Msg("failed to persist schedule")
	}
}

func (s *Service) handleFetchFailure(ctx context.Context, entity storage.Entity, now time.Time, fetchErr error, logger zerolog.Logger) {
	if fetcher.IsPermanent(fetchErr) {
		logger.Error().Err(fetchErr).Msg("permanent fetch failure; disabling entity")
		s.disableEntity(ctx, entity.ID, logger)
		return
	}

	schedule, err := s.stores.Schedules.GetSchedule(ctx, entity.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Error().Err(err).Msg("failed to load schedule for backoff")
		return
	}

	schedule.EntityID = entity.ID
	schedule.Failures++
	if schedule.LastPoll.IsZero() {
		schedule.LastPoll = now
	}

	next, degraded := s.planner.NextRetry(now, schedule.Failures)
	schedule.NextPoll = next
	schedule.Mode = string(interval.ModeCoarse)

	logger.Warn().Err(fetchErr).
		Int("failures", schedule.Failures).
		Time("retry_at", next).
		Bool("degraded", degraded).
		Msg("transient fetch failure; backing off")

	if degraded && !entity.Degraded {
		if err := s.stores.Entities.SetEntityDegraded(ctx, entity.ID, true); err != nil {
			logger.Error().Err(err).Msg("failed to mark entity degraded")
		}
	}

	if err := s.stores.Schedules.UpsertSchedule(ctx, schedule); err != nil {
		logger.Error().Err(err).Msg("failed to persist retry schedule")
	}
}

func (s *Service) disableEntity(ctx context.Context, id string, logger zerolog.Logger) {
	if err := s.stores.Entities.SetEntityEnabled(ctx, id, false); err != nil {
		logger.Error().Err(err).Msg("failed to disable entity")
	}
}

// upcomingWindows collects the sales-window start times of snapshots that
// are still listed, for fine-mode selection.
func upcomingWindows(snapshots map[string]inventory.Snapshot) []time.Time {
	var starts []time.Time
	for _, snapshot := range snapshots {
		if snapshot.State == inventory.StateDelisted || snapshot.WindowStart == nil {
			continue
		}
		starts = append(starts, *snapshot.WindowStart)
	}
	return starts
}
