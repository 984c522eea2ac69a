package storage

import (
	"context"
	"fmt"
)

// Schema statements are idempotent so every startup can run them.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS entities (
        id            TEXT PRIMARY KEY,
        name          TEXT NOT NULL,
        recipient     TEXT NOT NULL DEFAULT '',
        timezone      TEXT NOT NULL DEFAULT 'UTC',
        latitude      DOUBLE PRECISION NOT NULL DEFAULT 0,
        longitude     DOUBLE PRECISION NOT NULL DEFAULT 0,
        radius_meters INTEGER NOT NULL DEFAULT 5000,
        enabled       BOOLEAN NOT NULL DEFAULT TRUE,
        degraded      BOOLEAN NOT NULL DEFAULT FALSE,
        created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`,
	`CREATE TABLE IF NOT EXISTS schedules (
        entity_id     TEXT PRIMARY KEY REFERENCES entities(id) ON DELETE CASCADE,
        last_poll_utc TIMESTAMPTZ,
        next_poll_utc TIMESTAMPTZ NOT NULL,
        failures      INTEGER NOT NULL DEFAULT 0,
        mode          TEXT NOT NULL DEFAULT 'coarse'
    );`,
	`CREATE TABLE IF NOT EXISTS item_snapshots (
        entity_id         TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
        item_id           TEXT NOT NULL,
        name              TEXT NOT NULL DEFAULT '',
        store_id          TEXT NOT NULL DEFAULT '',
        store_name        TEXT NOT NULL DEFAULT '',
        quantity          INTEGER NOT NULL DEFAULT 0,
        price_code        TEXT NOT NULL DEFAULT '',
        price_minor_units BIGINT NOT NULL DEFAULT 0,
        price_decimals    INTEGER NOT NULL DEFAULT 0,
        value_code        TEXT NOT NULL DEFAULT '',
        value_minor_units BIGINT NOT NULL DEFAULT 0,
        value_decimals    INTEGER NOT NULL DEFAULT 0,
        window_start      TIMESTAMPTZ,
        window_end        TIMESTAMPTZ,
        sold_out_at       TIMESTAMPTZ,
        in_sales_window   BOOLEAN NOT NULL DEFAULT FALSE,
        new_item          BOOLEAN NOT NULL DEFAULT FALSE,
        matches_filters   BOOLEAN NOT NULL DEFAULT FALSE,
        state             TEXT NOT NULL,
        first_seen        TIMESTAMPTZ NOT NULL,
        last_seen         TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (entity_id, item_id)
    );`,
	`CREATE TABLE IF NOT EXISTS transition_events (
        id          TEXT PRIMARY KEY,
        entity_id   TEXT NOT NULL,
        item_id     TEXT NOT NULL,
        kind        TEXT NOT NULL,
        previous    JSONB,
        current     JSONB,
        changed     TEXT[],
        detected_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS idx_events_entity_detected
        ON transition_events (entity_id, detected_at);`,
	`CREATE INDEX IF NOT EXISTS idx_events_detected
        ON transition_events (detected_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_schedules_next_poll
        ON schedules (next_poll_utc);`,
}

// EnsureSchema creates the tables and indexes the store expects.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	for _, stmt := range schemaStatements {
		if _, execErr := pool.Exec(ctx, stmt); execErr != nil {
			return fmt.Errorf("apply schema: %w", execErr)
		}
	}
	return nil
}
