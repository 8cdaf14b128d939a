package book

import (
	"log/slog"
	"sync"

	"github.com/gammazero/deque"

	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/pubsub"
)

// DepthView is a read-only top-N view pushed to consumers on every applied
// delta. Slices are fresh copies and safe to retain.
type DepthView struct {
	ProductID string
	Sequence  int64
	Bids      []DepthLevel
	Asks      []DepthLevel
}

// Book maintains both sides of one product's order book.
//
// Deltas arriving before the snapshot seed are queued and replayed once
// SeedSnapshot runs; deltas at or behind the snapshot's sequence are
// discarded during replay. After seeding, each applied delta publishes a
// fresh DepthView.
type Book struct {
	productID string
	depth     int
	logger    *slog.Logger

	mu      sync.Mutex
	bids    *SortedLevels
	asks    *SortedLevels
	seq     int64
	seeded  bool
	pending deque.Deque[model.BookDelta]

	pub *pubsub.Publisher[DepthView]
}

// NewBook creates an unseeded book for productID publishing depth levels
// per update.
func NewBook(productID string, depth int, logger *slog.Logger) *Book {
	if logger == nil {
		logger = slog.Default()
	}
	return &Book{
		productID: productID,
		depth:     depth,
		logger:    logger,
		bids:      NewSortedLevels(model.Bid),
		asks:      NewSortedLevels(model.Ask),
		pub:       pubsub.NewPublisher[DepthView](),
	}
}

// SubscribeUpdates registers a consumer for depth views.
func (b *Book) SubscribeUpdates(fn func(DepthView)) pubsub.Token {
	return b.pub.Subscribe(fn)
}

// UnsubscribeUpdates removes a consumer. Idempotent.
func (b *Book) UnsubscribeUpdates(tok pubsub.Token) {
	b.pub.Unsubscribe(tok)
}

// SeedSnapshot replaces both sides from a REST snapshot and replays any
// deltas queued while the snapshot was in flight. Re-seeding (after a
// reconnect) is allowed and resets the book to the snapshot state.
func (b *Book) SeedSnapshot(snap model.BookSnapshot) {
	b.mu.Lock()

	b.bids = NewSortedLevels(model.Bid)
	b.asks = NewSortedLevels(model.Ask)
	for _, lvl := range snap.Bids {
		if err := b.bids.Upsert(lvl.Price, lvl.Size); err != nil {
			b.logger.Warn("dropping malformed snapshot level", "product", b.productID, "error", err)
		}
	}
	for _, lvl := range snap.Asks {
		if err := b.asks.Upsert(lvl.Price, lvl.Size); err != nil {
			b.logger.Warn("dropping malformed snapshot level", "product", b.productID, "error", err)
		}
	}
	b.seq = snap.Sequence
	b.seeded = true

	replayed, skipped := 0, 0
	for b.pending.Len() > 0 {
		d := b.pending.PopFront()
		if d.Sequence != 0 && d.Sequence <= b.seq {
			skipped++
			continue
		}
		if b.applyLocked(d) {
			replayed++
		}
	}
	view := b.depthLocked(b.depth)
	b.mu.Unlock()

	b.logger.Info("book seeded",
		"product", b.productID,
		"sequence", snap.Sequence,
		"bids", len(snap.Bids),
		"asks", len(snap.Asks),
		"replayed", replayed,
		"skipped", skipped,
	)
	b.pub.Publish(view)
}

// ApplyDelta folds one live delta into the book. Before seeding the delta
// is queued, never dropped. Returns true if the book changed.
func (b *Book) ApplyDelta(d model.BookDelta) bool {
	b.mu.Lock()
	if !b.seeded {
		b.pending.PushBack(d)
		b.mu.Unlock()
		return false
	}

	changed := b.applyLocked(d)
	var view DepthView
	if changed {
		view = b.depthLocked(b.depth)
	}
	b.mu.Unlock()

	if changed {
		b.pub.Publish(view)
	}
	return changed
}

// applyLocked validates and applies one delta. Caller holds b.mu.
func (b *Book) applyLocked(d model.BookDelta) bool {
	if err := d.Validate(); err != nil {
		b.logger.Warn("dropping malformed book delta", "product", b.productID, "error", err)
		return false
	}
	if d.Sequence != 0 && d.Sequence <= b.seq {
		// Already reflected in the snapshot or a prior delta.
		return false
	}

	side := b.asks
	if d.Side == model.Bid {
		side = b.bids
	}
	if err := side.Upsert(d.Price, d.Size); err != nil {
		b.logger.Warn("dropping malformed book delta", "product", b.productID, "error", err)
		return false
	}
	if d.Sequence != 0 {
		b.seq = d.Sequence
	}
	return true
}

// Depth returns a top-n view of both sides.
func (b *Book) Depth(n int) DepthView {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.depthLocked(n)
}

// BestBid returns the highest bid price.
func (b *Book) BestBid() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bids.BestPrice()
}

// BestAsk returns the lowest ask price.
func (b *Book) BestAsk() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.asks.BestPrice()
}

// Seeded reports whether the snapshot seed has completed.
func (b *Book) Seeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seeded
}

func (b *Book) depthLocked(n int) DepthView {
	return DepthView{
		ProductID: b.productID,
		Sequence:  b.seq,
		Bids:      b.bids.Snapshot(n),
		Asks:      b.asks.Snapshot(n),
	}
}
