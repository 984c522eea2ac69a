package inventory

import (
	"reflect"
	"testing"
	"time"
)

var (
	pollTime = time.Date(2023, 9, 7, 4, 0, 0, 0, time.UTC)
	prevTime = pollTime.Add(-6 * time.Hour)
)

func baseItem(id string, quantity int) Item {
	return Item{
		ItemID:    id,
		Name:      "Surprise Bag",
		StoreID:   "store-1",
		StoreName: "Corner Bakery",
		Quantity:  quantity,
		Price:     Price{Code: "EUR", MinorUnits: 399, Decimals: 2},
		Value:     Price{Code: "EUR", MinorUnits: 1200, Decimals: 2},
	}
}

func baseline(items ...Item) map[string]Snapshot {
	result := DiffSnapshots("entity-1", nil, items, prevTime)
	return result.Snapshots
}

func eventKinds(events []Event) []Kind {
	kinds := make([]Kind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func TestDiffColdStartEmitsOnlyNewItems(t *testing.T) {
	result := DiffSnapshots("entity-1", nil, []Item{baseItem("a", 3), baseItem("b", 0)}, pollTime)

	if got := eventKinds(result.Events); !reflect.DeepEqual(got, []Kind{KindNewItem, KindNewItem}) {
		t.Fatalf("cold start kinds = %v", got)
	}
	if len(result.Snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(result.Snapshots))
	}
	if state := result.Snapshots["a"].State; state != StateInStock {
		t.Fatalf("item a state = %s, want in_stock", state)
	}
	if state := result.Snapshots["b"].State; state != StateOutOfStock {
		t.Fatalf("item b state = %s, want out_of_stock", state)
	}
	if result.Snapshots["b"].SoldOutAt == nil {
		t.Fatal("zero-quantity first sighting should infer a sold-out timestamp")
	}
}

func TestDiffBackInStock(t *testing.T) {
	prev := baseline(baseItem("738992", 0))

	replenished := baseItem("738992", 2)
	result := DiffSnapshots("entity-1", prev, []Item{replenished}, pollTime)

	if got := eventKinds(result.Events); !reflect.DeepEqual(got, []Kind{KindBackInStock}) {
		t.Fatalf("kinds = %v, want [back_in_stock]", got)
	}
	ev := result.Events[0]
	if ev.ItemID != "738992" {
		t.Fatalf("event item = %s", ev.ItemID)
	}
	if ev.Previous == nil || ev.Previous.Quantity != 0 {
		t.Fatalf("previous snapshot not carried: %+v", ev.Previous)
	}
	if ev.Current == nil || ev.Current.Quantity != 2 {
		t.Fatalf("current snapshot not carried: %+v", ev.Current)
	}
	if state := result.Snapshots["738992"].State; state != StateInStock {
		t.Fatalf("state = %s, want in_stock", state)
	}
}

func TestDiffSoldOutInfersTimestampOnce(t *testing.T) {
	prev := baseline(baseItem("a", 3))

	result := DiffSnapshots("entity-1", prev, []Item{baseItem("a", 0)}, pollTime)
	if got := eventKinds(result.Events); !reflect.DeepEqual(got, []Kind{KindSoldOut}) {
		t.Fatalf("kinds = %v, want [sold_out]", got)
	}
	soldOutAt := result.Snapshots["a"].SoldOutAt
	if soldOutAt == nil || !soldOutAt.Equal(pollTime) {
		t.Fatalf("sold-out timestamp = %v, want %s", soldOutAt, pollTime)
	}

	// A later poll with the item still at zero keeps the original
	// timestamp and emits nothing.
	later := pollTime.Add(6 * time.Hour)
	next := DiffSnapshots("entity-1", result.Snapshots, []Item{baseItem("a", 0)}, later)
	if len(next.Events) != 0 {
		t.Fatalf("still-sold-out poll emitted %v", eventKinds(next.Events))
	}
	kept := next.Snapshots["a"].SoldOutAt
	if kept == nil || !kept.Equal(pollTime) {
		t.Fatalf("sold-out timestamp churned: %v", kept)
	}
}

func TestDiffDisappearedIsTerminal(t *testing.T) {
	prev := baseline(baseItem("gone", 3), baseItem("stays", 1))

	result := DiffSnapshots("entity-1", prev, []Item{baseItem("stays", 1)}, pollTime)
	if got := eventKinds(result.Events); !reflect.DeepEqual(got, []Kind{KindDisappeared}) {
		t.Fatalf("kinds = %v, want [disappeared]", got)
	}
	if state := result.Snapshots["gone"].State; state != StateDelisted {
		t.Fatalf("state = %s, want delisted", state)
	}

	// Absent again: delisted is terminal, no second disappearance.
	again := DiffSnapshots("entity-1", result.Snapshots, []Item{baseItem("stays", 1)}, pollTime.Add(6*time.Hour))
	if len(again.Events) != 0 {
		t.Fatalf("delisted item emitted %v", eventKinds(again.Events))
	}
}

func TestDiffReappearanceStartsFresh(t *testing.T) {
	prev := baseline(baseItem("a", 3))
	delisted := DiffSnapshots("entity-1", prev, nil, pollTime)

	reappeared := baseItem("a", 1)
	reappeared.Price = Price{Code: "EUR", MinorUnits: 499, Decimals: 2}
	comeback := pollTime.Add(12 * time.Hour)

	result := DiffSnapshots("entity-1", delisted.Snapshots, []Item{reappeared}, comeback)
	if got := eventKinds(result.Events); !reflect.DeepEqual(got, []Kind{KindNewItem}) {
		t.Fatalf("kinds = %v, want [new_item]", got)
	}
	snap := result.Snapshots["a"]
	if !snap.FirstSeen.Equal(comeback) {
		t.Fatalf("reappearance kept stale first-seen %s", snap.FirstSeen)
	}
	if snap.Price.MinorUnits != 499 {
		t.Fatalf("reappearance kept stale price: %+v", snap.Price)
	}
}

func TestDiffWindowFlips(t *testing.T) {
	closed := baseItem("a", 3)
	prev := baseline(closed)

	open := baseItem("a", 3)
	open.InSalesWindow = true
	result := DiffSnapshots("entity-1", prev, []Item{open}, pollTime)
	if got := eventKinds(result.Events); !reflect.DeepEqual(got, []Kind{KindWindowOpened}) {
		t.Fatalf("kinds = %v, want [window_opened]", got)
	}

	closedAgain := DiffSnapshots("entity-1", result.Snapshots, []Item{closed}, pollTime.Add(time.Hour))
	if got := eventKinds(closedAgain.Events); !reflect.DeepEqual(got, []Kind{KindWindowClosed}) {
		t.Fatalf("kinds = %v, want [window_closed]", got)
	}
}

func TestDiffBundlesAttributeChanges(t *testing.T) {
	start := pollTime.Add(10 * time.Hour)
	end := pollTime.Add(12 * time.Hour)

	before := baseItem("a", 3)
	before.WindowStart = &start
	before.WindowEnd = &end
	prev := baseline(before)

	newStart := start.Add(time.Hour)
	after := baseItem("a", 3)
	after.Price = Price{Code: "EUR", MinorUnits: 299, Decimals: 2}
	after.WindowStart = &newStart
	after.WindowEnd = &end

	result := DiffSnapshots("entity-1", prev, []Item{after}, pollTime)
	if got := eventKinds(result.Events); !reflect.DeepEqual(got, []Kind{KindAttributesChanged}) {
		t.Fatalf("kinds = %v, want one bundled attributes_changed", got)
	}
	if got := result.Events[0].Changed; !reflect.DeepEqual(got, []string{"price", "window_start"}) {
		t.Fatalf("changed fields = %v", got)
	}
}

func TestDiffStockAndWindowFlipTogether(t *testing.T) {
	prev := baseline(baseItem("a", 0))

	after := baseItem("a", 4)
	after.InSalesWindow = true
	result := DiffSnapshots("entity-1", prev, []Item{after}, pollTime)

	if got := eventKinds(result.Events); !reflect.DeepEqual(got, []Kind{KindBackInStock, KindWindowOpened}) {
		t.Fatalf("kinds = %v, want [back_in_stock window_opened]", got)
	}
}

func TestDiffSkipsMalformedRecords(t *testing.T) {
	negative := baseItem("bad", 1)
	negative.Quantity = -1

	result := DiffSnapshots("entity-1", nil, []Item{
		{Name: "no id", Quantity: 1},
		negative,
		baseItem("good", 1),
	}, pollTime)

	if len(result.Skipped) != 2 {
		t.Fatalf("expected 2 skipped records, got %d: %+v", len(result.Skipped), result.Skipped)
	}
	if result.Skipped[0].Reason != "missing item id" || result.Skipped[1].Reason != "negative quantity" {
		t.Fatalf("unexpected skip reasons: %+v", result.Skipped)
	}
	if got := eventKinds(result.Events); !reflect.DeepEqual(got, []Kind{KindNewItem}) {
		t.Fatalf("kinds = %v, want [new_item] for the valid record", got)
	}
}

func TestDiffLaterPageWinsOnDuplicateID(t *testing.T) {
	first := baseItem("a", 1)
	second := baseItem("a", 7)

	result := DiffSnapshots("entity-1", nil, []Item{first, second}, pollTime)
	if len(result.Events) != 1 {
		t.Fatalf("duplicate id produced %d events", len(result.Events))
	}
	if qty := result.Snapshots["a"].Quantity; qty != 7 {
		t.Fatalf("quantity = %d, want the later page's 7", qty)
	}
}

func TestDiffIsDeterministic(t *testing.T) {
	prev := baseline(baseItem("b", 2), baseItem("d", 0), baseItem("f", 1))
	polled := []Item{baseItem("f", 0), baseItem("a", 1), baseItem("b", 2)}

	first := DiffSnapshots("entity-1", prev, polled, pollTime)
	second := DiffSnapshots("entity-1", prev, polled, pollTime)

	if !reflect.DeepEqual(first.Events, second.Events) {
		t.Fatal("repeated diff over the same inputs produced different events")
	}

	// Removals come first, then per-item transitions in id order.
	if got := eventKinds(first.Events); !reflect.DeepEqual(got, []Kind{KindDisappeared, KindNewItem, KindSoldOut}) {
		t.Fatalf("kinds = %v", got)
	}
	if first.Events[0].ItemID != "d" || first.Events[1].ItemID != "a" || first.Events[2].ItemID != "f" {
		t.Fatalf("unexpected event order: %+v", eventItems(first.Events))
	}
}

func TestDiffAdditionsPrecedeMutations(t *testing.T) {
	prev := baseline(baseItem("a", 1))

	// "z" sorts after "a", but additions still come out ahead of the
	// mutation on the already-tracked item.
	result := DiffSnapshots("entity-1", prev, []Item{baseItem("a", 0), baseItem("z", 1)}, pollTime)

	if got := eventKinds(result.Events); !reflect.DeepEqual(got, []Kind{KindNewItem, KindSoldOut}) {
		t.Fatalf("kinds = %v, want [new_item sold_out]", got)
	}
	if got := eventItems(result.Events); !reflect.DeepEqual(got, []string{"z", "a"}) {
		t.Fatalf("event order = %v, want [z a]", got)
	}
}

func TestDiffDoesNotMutateInputs(t *testing.T) {
	prev := baseline(baseItem("a", 3))
	prevCopy := make(map[string]Snapshot, len(prev))
	for k, v := range prev {
		prevCopy[k] = v
	}

	DiffSnapshots("entity-1", prev, []Item{baseItem("a", 0)}, pollTime)

	if !reflect.DeepEqual(prev, prevCopy) {
		t.Fatal("diff mutated the previous snapshot map")
	}
}

func eventItems(events []Event) []string {
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ItemID)
	}
	return ids
}
