package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"surplus-watcher/internal/inventory"
)

// Show prints recent transition events.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	events, err := store.ListRecentEvents(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no events found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Detected (UTC)\tEntity\tItem\tKind\tQty\tPrice\tChanged")

	for _, event := range events {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			event.DetectedAt.UTC().Format(time.RFC3339),
			event.EntityID,
			eventItemName(event),
			event.Kind,
			eventQuantity(event),
			eventPrice(event),
			strings.Join(event.Changed, ","),
		)
	}

	return writer.Flush()
}

func eventItemName(event inventory.Event) string {
	if event.Current != nil && event.Current.Name != "" {
		return event.Current.Name
	}
	if event.Previous != nil && event.Previous.Name != "" {
		return event.Previous.Name
	}
	return event.ItemID
}

func eventQuantity(event inventory.Event) string {
	if event.Current == nil {
		return "-"
	}
	return fmt.Sprintf("%d", event.Current.Quantity)
}

func eventPrice(event inventory.Event) string {
	if event.Current == nil || event.Current.Price.IsZero() {
		return "-"
	}
	return event.Current.Price.String()
}
