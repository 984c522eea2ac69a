package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"surplus-watcher/internal/inventory"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const (
	insertEntitySQL = `INSERT INTO entities (
        id, name, recipient, timezone, latitude, longitude, radius_meters, enabled, degraded
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    RETURNING id, name, recipient, timezone, latitude, longitude, radius_meters, enabled, degraded, created_at;`

	getEntitySQL = `SELECT id, name, recipient, timezone, latitude, longitude, radius_meters, enabled, degraded, created_at
    FROM entities WHERE id = $1;`

	listEntitiesSQL = `SELECT id, name, recipient, timezone, latitude, longitude, radius_meters, enabled, degraded, created_at
    FROM entities ORDER BY created_at;`

	listDueEntitiesSQL = `SELECT e.id, e.name, e.recipient, e.timezone, e.latitude, e.longitude, e.radius_meters, e.enabled, e.degraded, e.created_at
    FROM entities e
    LEFT JOIN schedules s ON s.entity_id = e.id
    WHERE e.enabled
      AND (s.entity_id IS NULL OR s.next_poll_utc <= $1)
    ORDER BY s.next_poll_utc NULLS FIRST;`

	setEntityEnabledSQL  = `UPDATE entities SET enabled = $2 WHERE id = $1;`
	setEntityDegradedSQL = `UPDATE entities SET degraded = $2 WHERE id = $1;`

	upsertScheduleSQL = `INSERT INTO schedules (entity_id, last_poll_utc, next_poll_utc, failures, mode)
    VALUES ($1,$2,$3,$4,$5)
    ON CONFLICT (entity_id) DO UPDATE
    SET last_poll_utc = EXCLUDED.last_poll_utc,
        next_poll_utc = EXCLUDED.next_poll_utc,
        failures      = EXCLUDED.failures,
        mode          = EXCLUDED.mode;`

	getScheduleSQL = `SELECT entity_id, last_poll_utc, next_poll_utc, failures, mode
    FROM schedules WHERE entity_id = $1;`

	upsertSnapshotSQL = `INSERT INTO item_snapshots (
        entity_id, item_id, name, store_id, store_name, quantity,
        price_code, price_minor_units, price_decimals,
        value_code, value_minor_units, value_decimals,
        window_start, window_end, sold_out_at,
        in_sales_window, new_item, matches_filters, state, first_seen, last_seen
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
    )
    ON CONFLICT (entity_id, item_id) DO UPDATE
    SET name              = EXCLUDED.name,
        store_id          = EXCLUDED.store_id,
        store_name        = EXCLUDED.store_name,
        quantity          = EXCLUDED.quantity,
        price_code        = EXCLUDED.price_code,
        price_minor_units = EXCLUDED.price_minor_units,
        price_decimals    = EXCLUDED.price_decimals,
        value_code        = EXCLUDED.value_code,
        value_minor_units = EXCLUDED.value_minor_units,
        value_decimals    = EXCLUDED.value_decimals,
        window_start      = EXCLUDED.window_start,
        window_end        = EXCLUDED.window_end,
        sold_out_at       = EXCLUDED.sold_out_at,
        in_sales_window   = EXCLUDED.in_sales_window,
        new_item          = EXCLUDED.new_item,
        matches_filters   = EXCLUDED.matches_filters,
        state             = EXCLUDED.state,
        first_seen        = EXCLUDED.first_seen,
        last_seen         = EXCLUDED.last_seen;`

	loadSnapshotsSQL = `SELECT item_id, name, store_id, store_name, quantity,
        price_code, price_minor_units, price_decimals,
        value_code, value_minor_units, value_decimals,
        window_start, window_end, sold_out_at,
        in_sales_window, new_item, matches_filters, state, first_seen, last_seen
    FROM item_snapshots WHERE entity_id = $1;`

	insertEventSQL = `INSERT INTO transition_events (
        id, entity_id, item_id, kind, previous, current, changed, detected_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    ON CONFLICT (id) DO NOTHING;`

	listRecentEventsSQL = `SELECT id, entity_id, item_id, kind, previous, current, changed, detected_at
    FROM transition_events ORDER BY detected_at DESC LIMIT $1;`

	listEventsBetweenSQL = `SELECT id, entity_id, item_id, kind, previous, current, changed, detected_at
    FROM transition_events
    WHERE entity_id = $1 AND detected_at >= $2 AND detected_at < $3
    ORDER BY detected_at;`

	countEventsSQL = `SELECT COUNT(*) FROM transition_events;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// EntityStore defines operations on monitored entities.
type EntityStore interface {
	InsertEntity(ctx context.Context, entity Entity) (Entity, error)
	GetEntity(ctx context.Context, id string) (Entity, error)
	ListEntities(ctx context.Context) ([]Entity, error)
	ListDueEntities(ctx context.Context, now time.Time) ([]Entity, error)
	SetEntityEnabled(ctx context.Context, id string, enabled bool) error
	SetEntityDegraded(ctx context.Context, id string, degraded bool) error
}

// ScheduleStore defines operations on per-entity poll schedules.
type ScheduleStore interface {
	UpsertSchedule(ctx context.Context, schedule Schedule) error
	GetSchedule(ctx context.Context, entityID string) (Schedule, error)
}

// SnapshotStore persists the diff baseline so the engine survives restarts.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, entityID string, snapshot inventory.Snapshot) error
	LoadSnapshots(ctx context.Context, entityID string) (map[string]inventory.Snapshot, error)
}

// EventStore defines operations for transition-event auditing.
type EventStore interface {
	InsertEvent(ctx context.Context, event inventory.Event) error
	ListRecentEvents(ctx context.Context, limit int) ([]inventory.Event, error)
	ListEventsBetween(ctx context.Context, entityID string, from, to time.Time) ([]inventory.Event, error)
	CountEvents(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to entities, schedules, snapshots, and events.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertEntity persists a new monitored entity.
func (s *Store) InsertEntity(ctx context.Context, entity Entity) (Entity, error) {
	pool, err := s.getPool()
	if err != nil {
		return Entity{}, err
	}

	row := pool.QueryRow(ctx, insertEntitySQL,
		entity.ID,
		entity.Name,
		entity.Recipient,
		entity.Timezone,
		entity.Latitude,
		entity.Longitude,
		entity.RadiusMeters,
		entity.Enabled,
		entity.Degraded,
	)
	inserted, err := scanEntity(row)
	if err != nil {
		return Entity{}, fmt.Errorf("insert entity: %w", err)
	}
	return inserted, nil
}

// GetEntity loads one entity by id.
func (s *Store) GetEntity(ctx context.Context, id string) (Entity, error) {
	pool, err := s.getPool()
	if err != nil {
		return Entity{}, err
	}
	entity, err := scanEntity(pool.QueryRow(ctx, getEntitySQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, fmt.Errorf("get entity: %w", err)
	}
	return entity, nil
}

// ListEntities lists all entities in creation order.
func (s *Store) ListEntities(ctx context.Context) ([]Entity, error) {
	return s.queryEntities(ctx, listEntitiesSQL)
}

// ListDueEntities lists enabled entities whose next poll has elapsed.
// Entities without a schedule row yet are always due.
func (s *Store) ListDueEntities(ctx context.Context, now time.Time) ([]Entity, error) {
	return s.queryEntities(ctx, listDueEntitiesSQL, now)
}

func (s *Store) queryEntities(ctx context.Context, sql string, args ...any) ([]Entity, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, sql, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("query entities: %w", queryErr)
	}
	defer rows.Close()

	entities := make([]Entity, 0)
	for rows.Next() {
		entity, scanErr := scanEntity(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entities = append(entities, entity)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entities, nil
}

// SetEntityEnabled flips the enabled flag.
func (s *Store) SetEntityEnabled(ctx context.Context, id string, enabled bool) error {
	return s.execEntityFlag(ctx, setEntityEnabledSQL, id, enabled)
}

// SetEntityDegraded flips the degraded flag.
func (s *Store) SetEntityDegraded(ctx context.Context, id string, degraded bool) error {
	return s.execEntityFlag(ctx, setEntityDegradedSQL, id, degraded)
}

func (s *Store) execEntityFlag(ctx context.Context, sql, id string, value bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, sql, id, value)
	if execErr != nil {
		return fmt.Errorf("update entity flag: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertSchedule persists per-entity poll bookkeeping.
func (s *Store) UpsertSchedule(ctx context.Context, schedule Schedule) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertScheduleSQL,
		schedule.EntityID,
		schedule.LastPoll,
		schedule.NextPoll,
		schedule.Failures,
		schedule.Mode,
	)
	if execErr != nil {
		return fmt.Errorf("upsert schedule: %w", execErr)
	}
	return nil
}

// GetSchedule loads the schedule row for an entity.
func (s *Store) GetSchedule(ctx context.Context, entityID string) (Schedule, error) {
	pool, err := s.getPool()
	if err != nil {
		return Schedule{}, err
	}

	var schedule Schedule
	scanErr := pool.QueryRow(ctx, getScheduleSQL, entityID).Scan(
		&schedule.EntityID,
		&schedule.LastPoll,
		&schedule.NextPoll,
		&schedule.Failures,
		&schedule.Mode,
	)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return Schedule{}, ErrNotFound
	}
	if scanErr != nil {
		return Schedule{}, fmt.Errorf("get schedule: %w", scanErr)
	}
	return schedule, nil
}

// UpsertSnapshot persists or updates the last-known state of one item.
func (s *Store) UpsertSnapshot(ctx context.Context, entityID string, snapshot inventory.Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertSnapshotSQL,
		entityID,
		snapshot.ItemID,
		snapshot.Name,
		snapshot.StoreID,
		snapshot.StoreName,
		snapshot.Quantity,
		snapshot.Price.Code,
		snapshot.Price.MinorUnits,
		snapshot.Price.Decimals,
		snapshot.Value.Code,
		snapshot.Value.MinorUnits,
		snapshot.Value.Decimals,
		snapshot.WindowStart,
		snapshot.WindowEnd,
		snapshot.SoldOutAt,
		snapshot.InSalesWindow,
		snapshot.NewItem,
		snapshot.MatchesFilters,
		string(snapshot.State),
		snapshot.FirstSeen,
		snapshot.LastSeen,
	)
	if execErr != nil {
		return fmt.Errorf("upsert snapshot: %w", execErr)
	}
	return nil
}

// LoadSnapshots loads the diff baseline for one entity keyed by item id.
func (s *Store) LoadSnapshots(ctx context.Context, entityID string) (map[string]inventory.Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, loadSnapshotsSQL, entityID)
	if queryErr != nil {
		return nil, fmt.Errorf("load snapshots: %w", queryErr)
	}
	defer rows.Close()

	snapshots := make(map[string]inventory.Snapshot)
	for rows.Next() {
		var (
			snap  inventory.Snapshot
			state string
		)
		if scanErr := rows.Scan(
			&snap.ItemID,
			&snap.Name,
			&snap.StoreID,
			&snap.StoreName,
			&snap.Quantity,
			&snap.Price.Code,
			&snap.Price.MinorUnits,
			&snap.Price.Decimals,
			&snap.Value.Code,
			&snap.Value.MinorUnits,
			&snap.Value.Decimals,
			&snap.WindowStart,
			&snap.WindowEnd,
			&snap.SoldOutAt,
			&snap.InSalesWindow,
			&snap.NewItem,
			&snap.MatchesFilters,
			&state,
			&snap.FirstSeen,
			&snap.LastSeen,
		); scanErr != nil {
			return nil, fmt.Errorf("scan snapshot: %w", scanErr)
		}
		snap.State = inventory.ItemState(state)
		snapshots[snap.ItemID] = snap
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

// InsertEvent persists one transition event. Inserts are idempotent on the
// event id so a retried poll cycle cannot duplicate notifications history.
func (s *Store) InsertEvent(ctx context.Context, event inventory.Event) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	previous, err := marshalSnapshot(event.Previous)
	if err != nil {
		return err
	}
	current, err := marshalSnapshot(event.Current)
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertEventSQL,
		event.ID,
		event.EntityID,
		event.ItemID,
		string(event.Kind),
		previous,
		current,
		event.Changed,
		event.DetectedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert event: %w", execErr)
	}
	return nil
}

// ListRecentEvents lists the most recent events across all entities.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]inventory.Event, error) {
	return s.queryEvents(ctx, listRecentEventsSQL, limit)
}

// ListEventsBetween lists one entity's events within a time window.
func (s *Store) ListEventsBetween(ctx context.Context, entityID string, from, to time.Time) ([]inventory.Event, error) {
	return s.queryEvents(ctx, listEventsBetweenSQL, entityID, from, to)
}

func (s *Store) queryEvents(ctx context.Context, sql string, args ...any) ([]inventory.Event, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, sql, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("query events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]inventory.Event, 0)
	for rows.Next() {
		event, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// CountEvents counts stored transition events.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countEventsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count events: %w", scanErr)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (Entity, error) {
	var entity Entity
	err := row.Scan(
		&entity.ID,
		&entity.Name,
		&entity.Recipient,
		&entity.Timezone,
		&entity.Latitude,
		&entity.Longitude,
		&entity.RadiusMeters,
		&entity.Enabled,
		&entity.Degraded,
		&entity.CreatedAt,
	)
	return entity, err
}

func scanEvent(rows pgx.Rows) (inventory.Event, error) {
	var (
		event    inventory.Event
		kind     string
		previous []byte
		current  []byte
	)
	if err := rows.Scan(
		&event.ID,
		&event.EntityID,
		&event.ItemID,
		&kind,
		&previous,
		&current,
		&event.Changed,
		&event.DetectedAt,
	); err != nil {
		return inventory.Event{}, fmt.Errorf("scan event: %w", err)
	}
	event.Kind = inventory.Kind(kind)

	var err error
	event.Previous, err = unmarshalSnapshot(previous)
	if err != nil {
		return inventory.Event{}, err
	}
	event.Current, err = unmarshalSnapshot(current)
	if err != nil {
		return inventory.Event{}, err
	}
	return event, nil
}

func marshalSnapshot(snapshot *inventory.Snapshot) ([]byte, error) {
	if snapshot == nil {
		return nil, nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

func unmarshalSnapshot(data []byte) (*inventory.Snapshot, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var snapshot inventory.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

var (
	_ EntityStore    = (*Store)(nil)
	_ ScheduleStore  = (*Store)(nil)
	_ SnapshotStore  = (*Store)(nil)
	_ EventStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
