package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"surplus-watcher/internal/alerting"
	"surplus-watcher/internal/inventory"
)

// SimulateDiff diffs two JSON inventory files and prints the transitions,
// optionally pushing them through the configured notification channels.
// The "before" file seeds the baseline as a cold start; the "after" file is
// treated as the next poll.
func (a *App) SimulateDiff(ctx context.Context, opts SimulateOptions) error {
	before, err := readInventoryFile(opts.BeforePath)
	if err != nil {
		return fmt.Errorf("read before inventory: %w", err)
	}
	after, err := readInventoryFile(opts.AfterPath)
	if err != nil {
		return fmt.Errorf("read after inventory: %w", err)
	}

	now := time.Now().UTC()
	seeded := inventory.DiffSnapshots("simulated", nil, before, now.Add(-time.Hour))
	result := inventory.DiffSnapshots("simulated", seeded.Snapshots, after, now)

	for _, skipped := range result.Skipped {
		a.Logger.Warn().Str("item", skipped.ItemID).Str("reason", skipped.Reason).Msg("skipped malformed item record")
	}

	if len(result.Events) == 0 {
		fmt.Fprintln(os.Stdout, "no transitions detected")
		return nil
	}

	digest := alerting.Digest{
		EntityName: "simulated",
		PolledAt:   now,
		Events:     result.Events,
	}
	fmt.Fprint(os.Stdout, alerting.RenderDigest(digest))

	if opts.Notify {
		notifier := a.newNotifier()
		if notifier == nil {
			return errors.New("no notification channels configured")
		}
		return notifier.Notify(ctx, digest)
	}
	return nil
}

func readInventoryFile(path string) ([]inventory.Item, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var items []inventory.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode inventory json: %w", err)
	}
	return items, nil
}
