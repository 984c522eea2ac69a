package fetcher

import (
	"context"

	"surplus-watcher/internal/inventory"
)

// Query restricts a poll to one store region.
type Query struct {
	Latitude     float64
	Longitude    float64
	RadiusMeters int
}

// ItemFetcher retrieves the current per-store item availability for a
// region. Implementations classify failures via this package's Error type.
type ItemFetcher interface {
	FetchItems(ctx context.Context, query Query) ([]inventory.Item, error)
}
