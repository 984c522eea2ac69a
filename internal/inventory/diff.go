package inventory

import (
	"sort"
	"time"
)

// DiffResult carries the outcome of one diff pass: the ordered transition
// events, the updated snapshot set to persist as the next baseline, and the
// malformed records that were skipped.
type DiffResult struct {
	Events    []Event
	Snapshots map[string]Snapshot
	Skipped   []SkippedItem
}

// DiffSnapshots compares the previous snapshot set for an entity against a
// freshly polled item list and classifies every transition. The pass is
// deterministic: item ids are processed in sorted order and at most one
// event of each kind is emitted per item. An empty previous set (cold
// start) yields only new_item events. The inputs are never mutated, so
// running the same diff twice produces identical results.
func DiffSnapshots(entityID string, prev map[string]Snapshot, polled []Item, now time.Time) DiffResult {
	result := DiffResult{
		Snapshots: make(map[string]Snapshot, len(prev)+len(polled)),
	}
	for id, snap := range prev {
		result.Snapshots[id] = snap
	}

	current := make(map[string]Item, len(polled))
	for i, item := range polled {
		if reason := validateItem(item); reason != "" {
			result.Skipped = append(result.Skipped, SkippedItem{Index: i, ItemID: item.ItemID, Reason: reason})
			continue
		}
		// Later pages win on duplicate ids within one poll.
		current[item.ItemID] = item
	}

	// Removals first: ids tracked before but absent from this poll.
	for _, id := range sortedKeys(prev) {
		before := prev[id]
		if before.State == StateDelisted {
			continue
		}
		if _, ok := current[id]; ok {
			continue
		}
		delisted := before
		delisted.State = StateDelisted
		result.Snapshots[id] = delisted

		prevCopy := before
		result.Events = append(result.Events, Event{
			EntityID:   entityID,
			ItemID:     id,
			Kind:       KindDisappeared,
			Previous:   &prevCopy,
			DetectedAt: now,
		})
	}

	ids := sortedItemKeys(current)

	// Additions next: first sightings and reappearances after delisting.
	// Either way the snapshot starts fresh so stale price and window data
	// from a delisted lifetime cannot leak into the new one.
	for _, id := range ids {
		before, tracked := prev[id]
		if tracked && before.State != StateDelisted {
			continue
		}
		snap := snapshotFromItem(current[id], now, now)
		result.Snapshots[id] = snap

		snapCopy := snap
		result.Events = append(result.Events, Event{
			EntityID:   entityID,
			ItemID:     id,
			Kind:       KindNewItem,
			Current:    &snapCopy,
			DetectedAt: now,
		})
	}

	// Mutations last: items present in both polls.
	for _, id := range ids {
		before, tracked := prev[id]
		if !tracked || before.State == StateDelisted {
			continue
		}

		item := current[id]
		after := snapshotFromItem(item, before.FirstSeen, now)
		if item.SoldOutAt == nil && after.Quantity == 0 && before.Quantity == 0 {
			// Still sold out: keep the timestamp from the original flip.
			after.SoldOutAt = before.SoldOutAt
		}
		result.Snapshots[id] = after
		result.Events = append(result.Events, compareSnapshots(entityID, before, after, now)...)
	}

	return result
}

// compareSnapshots classifies the field-level transitions between two
// snapshots of the same item. Stock flips, window flips, and attribute
// changes are independent; attribute changes are bundled into a single
// event so downstream notification stays idempotent per poll cycle.
func compareSnapshots(entityID string, before, after Snapshot, now time.Time) []Event {
	var events []Event

	prevCopy := before
	currCopy := after
	base := Event{
		EntityID:   entityID,
		ItemID:     after.ItemID,
		Previous:   &prevCopy,
		Current:    &currCopy,
		DetectedAt: now,
	}

	switch {
	case before.Quantity > 0 && after.Quantity == 0:
		ev := base
		ev.Kind = KindSoldOut
		events = append(events, ev)
	case before.Quantity == 0 && after.Quantity > 0:
		ev := base
		ev.Kind = KindBackInStock
		events = append(events, ev)
	}

	switch {
	case !before.InSalesWindow && after.InSalesWindow:
		ev := base
		ev.Kind = KindWindowOpened
		events = append(events, ev)
	case before.InSalesWindow && !after.InSalesWindow:
		ev := base
		ev.Kind = KindWindowClosed
		events = append(events, ev)
	}

	if changed := changedAttributes(before, after); len(changed) > 0 {
		ev := base
		ev.Kind = KindAttributesChanged
		ev.Changed = changed
		events = append(events, ev)
	}

	return events
}

func changedAttributes(before, after Snapshot) []string {
	var changed []string
	if !before.Price.Equal(after.Price) {
		changed = append(changed, "price")
	}
	if !before.Value.Equal(after.Value) {
		changed = append(changed, "value")
	}
	if !timePtrEqual(before.WindowStart, after.WindowStart) {
		changed = append(changed, "window_start")
	}
	if !timePtrEqual(before.WindowEnd, after.WindowEnd) {
		changed = append(changed, "window_end")
	}
	return changed
}

func snapshotFromItem(item Item, firstSeen, now time.Time) Snapshot {
	state := StateOutOfStock
	if item.Quantity > 0 {
		state = StateInStock
	}

	soldOutAt := item.SoldOutAt
	if item.Quantity == 0 && soldOutAt == nil {
		at := now
		soldOutAt = &at
	}

	return Snapshot{
		ItemID:         item.ItemID,
		Name:           item.Name,
		StoreID:        item.StoreID,
		StoreName:      item.StoreName,
		Quantity:       item.Quantity,
		Price:          item.Price,
		Value:          item.Value,
		WindowStart:    item.WindowStart,
		WindowEnd:      item.WindowEnd,
		SoldOutAt:      soldOutAt,
		InSalesWindow:  item.InSalesWindow,
		NewItem:        item.NewItem,
		MatchesFilters: item.MatchesFilters,
		State:          state,
		FirstSeen:      firstSeen,
		LastSeen:       now,
	}
}

func validateItem(item Item) string {
	if item.ItemID == "" {
		return "missing item id"
	}
	if item.Quantity < 0 {
		return "negative quantity"
	}
	return ""
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func sortedKeys(m map[string]Snapshot) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedItemKeys(m map[string]Item) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
