package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"surplus-watcher/internal/storage"
)

// AddEntity registers a new monitored store/account pairing.
func (a *App) AddEntity(ctx context.Context, opts AddEntityOptions) error {
	if opts.Name == "" {
		return errors.New("entity name is required")
	}
	if _, err := time.LoadLocation(opts.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", opts.Timezone, err)
	}
	if opts.RadiusMeters <= 0 {
		return errors.New("radius must be greater than zero")
	}

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	entity, err := store.InsertEntity(ctx, storage.Entity{
		ID:           uuid.NewString(),
		Name:         opts.Name,
		Recipient:    opts.Recipient,
		Timezone:     opts.Timezone,
		Latitude:     opts.Latitude,
		Longitude:    opts.Longitude,
		RadiusMeters: opts.RadiusMeters,
		Enabled:      true,
	})
	if err != nil {
		return err
	}

	a.Logger.Info().Str("entity", entity.ID).Str("name", entity.Name).Msg("entity registered")
	fmt.Fprintf(os.Stdout, "registered entity %s (%s)\n", entity.ID, entity.Name)
	return nil
}

// ListEntities prints all monitored entities.
func (a *App) ListEntities(ctx context.Context) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	entities, err := store.ListEntities(ctx)
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		fmt.Fprintln(os.Stdout, "no entities registered")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tName\tTimezone\tRecipient\tEnabled\tDegraded")
	for _, entity := range entities {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%t\t%t\n",
			entity.ID, entity.Name, entity.Timezone, entity.Recipient, entity.Enabled, entity.Degraded)
	}
	return writer.Flush()
}

// SetEntityEnabled flips one entity's enabled flag.
func (a *App) SetEntityEnabled(ctx context.Context, id string, enabled bool) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.SetEntityEnabled(ctx, id, enabled); err != nil {
		return err
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Fprintf(os.Stdout, "entity %s %s\n", id, state)
	return nil
}
