package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"surplus-watcher/internal/inventory"
)

// Export renders one entity's event history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.EntityID == "" {
		return errors.New("--entity must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-7 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	events, err := store.ListEventsBetween(ctx, opts.EntityID, from, to)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		a.Logger.Info().Msg("no events found for export window")
		return nil
	}

	downsampled := downsampleEvents(events, opts.MaxPoints)
	a.Logger.Info().Int("total", len(events)).Int("exported", len(downsampled)).Msg("exporting events")

	if opts.CSVPath != "" {
		if err := writeEventsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeEventsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleEvents(events []inventory.Event, max int) []inventory.Event {
	if max <= 0 || len(events) <= max {
		return events
	}

	result := make([]inventory.Event, 0, max)
	step := float64(len(events)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(events) {
			idx = len(events) - 1
		}
		result = append(result, events[idx])
	}
	return result
}

func writeEventsCSV(path string, events []inventory.Event) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"detected_at", "item_id", "item_name", "kind", "quantity", "price", "value", "in_sales_window", "changed"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, event := range events {
		record := []string{
			event.DetectedAt.UTC().Format(time.RFC3339),
			event.ItemID,
			eventItemName(event),
			string(event.Kind),
			eventQuantity(event),
			eventPrice(event),
			eventValue(event),
			eventInWindow(event),
			strings.Join(event.Changed, ";"),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeEventsPNG(path string, events []inventory.Event) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var (
		x          []time.Time
		quantities []float64
		prices     []float64
	)
	for _, event := range events {
		if event.Current == nil {
			continue
		}
		x = append(x, event.DetectedAt)
		quantities = append(quantities, float64(event.Current.Quantity))
		prices = append(prices, event.Current.Price.Decimal().InexactFloat64())
	}
	if len(x) < 2 {
		return errors.New("not enough data points to render a chart")
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Items available",
		},
		YAxisSecondary: chart.YAxis{
			Name: "Price",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Available",
				XValues: x,
				YValues: quantities,
			},
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: prices,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func eventValue(event inventory.Event) string {
	if event.Current == nil || event.Current.Value.IsZero() {
		return "-"
	}
	return event.Current.Value.String()
}

func eventInWindow(event inventory.Event) string {
	if event.Current == nil {
		return "-"
	}
	if event.Current.InSalesWindow {
		return "true"
	}
	return "false"
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
