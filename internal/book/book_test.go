package book

import (
	"testing"
	"time"

	"github.com/rickgao/marketsync/internal/model"
)

func testSnapshot() model.BookSnapshot {
	return model.BookSnapshot{
		ProductID: "BTC-USD",
		Sequence:  100,
		Bids: []model.PriceLevel{
			{Price: 100, Size: 5},
			{Price: 99, Size: 3},
		},
		Asks: []model.PriceLevel{
			{Price: 101, Size: 2},
			{Price: 102, Size: 4},
		},
	}
}

func delta(side model.Side, price, size float64, seq int64) model.BookDelta {
	return model.BookDelta{
		ProductID: "BTC-USD",
		Side:      side,
		Price:     price,
		Size:      size,
		Sequence:  seq,
		Time:      time.Unix(0, 0),
	}
}

func TestPreSeedDeltasAreQueuedAndReplayed(t *testing.T) {
	b := NewBook("BTC-USD", 10, nil)

	// Live deltas arrive while the snapshot fetch is still in flight.
	b.ApplyDelta(delta(model.Bid, 100.5, 1, 101)) // Newer than snapshot: must survive
	b.ApplyDelta(delta(model.Ask, 101, 0, 99))    // Already in snapshot: must be skipped

	if b.Seeded() {
		t.Fatal("Seeded() = true before SeedSnapshot")
	}

	b.SeedSnapshot(testSnapshot())

	bid, _ := b.BestBid()
	if bid != 100.5 {
		t.Errorf("BestBid() = %v, want 100.5 (queued delta replayed)", bid)
	}
	ask, _ := b.BestAsk()
	if ask != 101 {
		t.Errorf("BestAsk() = %v, want 101 (stale removal skipped)", ask)
	}
}

func TestApplyDeltaAfterSeed(t *testing.T) {
	b := NewBook("BTC-USD", 10, nil)
	b.SeedSnapshot(testSnapshot())

	if !b.ApplyDelta(delta(model.Ask, 101, 0, 101)) {
		t.Fatal("ApplyDelta() = false, want true for fresh removal")
	}
	ask, _ := b.BestAsk()
	if ask != 102 {
		t.Errorf("BestAsk() = %v after removal, want 102", ask)
	}

	// Replayed sequence must be a no-op.
	if b.ApplyDelta(delta(model.Ask, 103, 7, 101)) {
		t.Error("ApplyDelta() = true for duplicate sequence, want false")
	}
}

func TestMalformedDeltaDoesNotCorrupt(t *testing.T) {
	b := NewBook("BTC-USD", 10, nil)
	b.SeedSnapshot(testSnapshot())

	bad := delta(model.Bid, -10, 5, 101)
	if b.ApplyDelta(bad) {
		t.Error("ApplyDelta() = true for malformed delta, want false")
	}

	view := b.Depth(10)
	if len(view.Bids) != 2 || len(view.Asks) != 2 {
		t.Errorf("book shape changed by malformed delta: %d bids, %d asks",
			len(view.Bids), len(view.Asks))
	}
	if view.Sequence != 100 {
		t.Errorf("Sequence = %d after malformed delta, want 100", view.Sequence)
	}
}

func TestDepthViewCumulative(t *testing.T) {
	b := NewBook("BTC-USD", 2, nil)
	b.SeedSnapshot(testSnapshot())

	view := b.Depth(2)
	if len(view.Bids) != 2 {
		t.Fatalf("Depth(2) returned %d bids, want 2", len(view.Bids))
	}
	if view.Bids[0].Cumulative != 5 || view.Bids[1].Cumulative != 8 {
		t.Errorf("bid cumulatives = [%v %v], want [5 8]",
			view.Bids[0].Cumulative, view.Bids[1].Cumulative)
	}
	if view.Asks[0].Cumulative != 2 || view.Asks[1].Cumulative != 6 {
		t.Errorf("ask cumulatives = [%v %v], want [2 6]",
			view.Asks[0].Cumulative, view.Asks[1].Cumulative)
	}
}

func TestUpdatesPublishedToConsumers(t *testing.T) {
	b := NewBook("BTC-USD", 5, nil)

	var views []DepthView
	tok := b.SubscribeUpdates(func(v DepthView) { views = append(views, v) })

	b.SeedSnapshot(testSnapshot())
	b.ApplyDelta(delta(model.Bid, 100, 9, 101))

	if len(views) != 2 {
		t.Fatalf("received %d views, want 2 (seed + delta)", len(views))
	}
	if views[1].Bids[0].Size != 9 {
		t.Errorf("published best bid size = %v, want 9", views[1].Bids[0].Size)
	}

	b.UnsubscribeUpdates(tok)
	b.ApplyDelta(delta(model.Bid, 100, 4, 102))
	if len(views) != 2 {
		t.Errorf("received %d views after unsubscribe, want 2", len(views))
	}
}

func TestReseedResetsBook(t *testing.T) {
	b := NewBook("BTC-USD", 10, nil)
	b.SeedSnapshot(testSnapshot())
	b.ApplyDelta(delta(model.Bid, 100.5, 1, 101))

	// Reconnect path: a fresh snapshot replaces accumulated state.
	b.SeedSnapshot(model.BookSnapshot{
		ProductID: "BTC-USD",
		Sequence:  200,
		Bids:      []model.PriceLevel{{Price: 98, Size: 1}},
		Asks:      []model.PriceLevel{{Price: 99, Size: 1}},
	})

	bid, _ := b.BestBid()
	ask, _ := b.BestAsk()
	if bid != 98 || ask != 99 {
		t.Errorf("after reseed best bid/ask = %v/%v, want 98/99", bid, ask)
	}
}
