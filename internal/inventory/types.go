package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Price is the marketplace money representation: an integer count of minor
// units plus the number of decimal places and an ISO currency code.
type Price struct {
	Code       string `json:"code"`
	MinorUnits int64  `json:"minor_units"`
	Decimals   int32  `json:"decimals"`
}

// Decimal converts the minor-unit representation into a decimal amount.
func (p Price) Decimal() decimal.Decimal {
	return decimal.New(p.MinorUnits, -p.Decimals)
}

// Equal reports whether two prices are the same amount in the same currency.
func (p Price) Equal(other Price) bool {
	return p.Code == other.Code && p.MinorUnits == other.MinorUnits && p.Decimals == other.Decimals
}

// IsZero reports whether the price carries no value at all.
func (p Price) IsZero() bool {
	return p.Code == "" && p.MinorUnits == 0
}

func (p Price) String() string {
	if p.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s %s", p.Decimal().StringFixed(2), p.Code)
}

// Item is one raw marketplace record as returned by a poll.
type Item struct {
	ItemID         string     `json:"item_id"`
	Name           string     `json:"name"`
	StoreID        string     `json:"store_id"`
	StoreName      string     `json:"store_name"`
	Quantity       int        `json:"quantity"`
	Price          Price      `json:"price"`
	Value          Price      `json:"value"`
	WindowStart    *time.Time `json:"window_start,omitempty"`
	WindowEnd      *time.Time `json:"window_end,omitempty"`
	SoldOutAt      *time.Time `json:"sold_out_at,omitempty"`
	InSalesWindow  bool       `json:"in_sales_window"`
	NewItem        bool       `json:"new_item"`
	MatchesFilters bool       `json:"matches_filters"`
}

// ItemState is the lifecycle state of a tracked item.
type ItemState string

const (
	// StateInStock means the last observed quantity was positive. Every
	// sighting carries a quantity, so a first sighting resolves directly
	// to in or out of stock.
	StateInStock ItemState = "in_stock"
	// StateOutOfStock means the last observed quantity was zero.
	StateOutOfStock ItemState = "out_of_stock"
	// StateDelisted is terminal: the item id vanished from a poll. A later
	// reappearance creates a fresh snapshot rather than reviving this one.
	StateDelisted ItemState = "delisted"
)

// Snapshot is the last-known observed state of one item within one entity.
// It is the baseline the diff engine compares the next poll against.
type Snapshot struct {
	ItemID         string     `json:"item_id"`
	Name           string     `json:"name"`
	StoreID        string     `json:"store_id"`
	StoreName      string     `json:"store_name"`
	Quantity       int        `json:"quantity"`
	Price          Price      `json:"price"`
	Value          Price      `json:"value"`
	WindowStart    *time.Time `json:"window_start,omitempty"`
	WindowEnd      *time.Time `json:"window_end,omitempty"`
	SoldOutAt      *time.Time `json:"sold_out_at,omitempty"`
	InSalesWindow  bool       `json:"in_sales_window"`
	NewItem        bool       `json:"new_item"`
	MatchesFilters bool       `json:"matches_filters"`
	State          ItemState  `json:"state"`
	FirstSeen      time.Time  `json:"first_seen"`
	LastSeen       time.Time  `json:"last_seen"`
}

// Kind classifies one detected transition.
type Kind string

const (
	KindNewItem           Kind = "new_item"
	KindDisappeared       Kind = "disappeared"
	KindSoldOut           Kind = "sold_out"
	KindBackInStock       Kind = "back_in_stock"
	KindWindowOpened      Kind = "window_opened"
	KindWindowClosed      Kind = "window_closed"
	KindAttributesChanged Kind = "attributes_changed"
)

// Event is an immutable record of one detected change between two
// consecutive snapshots of the same item. ID is assigned at persistence
// time so that repeated diff passes over the same inputs are comparable.
type Event struct {
	ID         string    `json:"id,omitempty"`
	EntityID   string    `json:"entity_id"`
	ItemID     string    `json:"item_id"`
	Kind       Kind      `json:"kind"`
	Previous   *Snapshot `json:"previous,omitempty"`
	Current    *Snapshot `json:"current,omitempty"`
	Changed    []string  `json:"changed,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

// SkippedItem reports one malformed raw record that was excluded from a
// diff pass without aborting it.
type SkippedItem struct {
	Index  int
	ItemID string
	Reason string
}
