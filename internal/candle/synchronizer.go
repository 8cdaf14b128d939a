package candle

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/deque"

	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/pubsub"
)

// UpdateType distinguishes the two consumer notifications.
type UpdateType int

const (
	// BucketUpdated replaces the consumer's copy of a still-open bucket.
	BucketUpdated UpdateType = iota
	// BucketClosed appends a newly sealed, now-immutable bucket.
	BucketClosed
)

// Update is one candle notification pushed to consumers.
type Update struct {
	ProductID string
	Type      UpdateType
	Candle    model.Candle
}

// GapRange is a run of missing bucket keys, inclusive on both ends.
type GapRange struct {
	From int64
	To   int64
}

// Report is the outcome of a reconcile pass. Gaps signal that a targeted
// re-fetch is required; the synchronizer never fabricates missing candles.
type Report struct {
	Buckets  int
	Frontier int64 // Key of the open bucket, 0 if none
	Gaps     []GapRange
}

// NeedsRefetch reports whether the timeline has holes.
func (r Report) NeedsRefetch() bool {
	return len(r.Gaps) > 0
}

// Stats counts synchronizer outcomes since construction.
type Stats struct {
	Applied      int64
	Queued       int64
	QueueDropped int64
	Replayed     int64
	Duplicates   int64
	StaleDropped int64
	Malformed    int64
	Sealed       int64
}

// Config holds per-product synchronizer settings.
type Config struct {
	ProductID   string
	Granularity time.Duration
	// ReorderWindow is how many buckets behind the frontier a late trade
	// may target and still be folded in. Older trades are discarded as
	// stale and logged. Sealed buckets are never reopened regardless.
	ReorderWindow int
	// QueueLimit caps the pre-seed trade queue. When a trade arrives with
	// the queue full, the oldest queued trade is dropped to make room.
	// Zero means the default limit.
	QueueLimit int
}

const defaultQueueLimit = 65536

// Synchronizer owns the canonical candle timeline for one product.
type Synchronizer struct {
	productID  string
	gran       int64 // Bucket width in seconds
	reorder    int64
	queueLimit int
	logger     *slog.Logger

	mu         sync.Mutex
	seeded     bool
	sealed     []model.Candle // Closed buckets, ascending by OpenTime
	sealedKeys map[int64]struct{}
	open       map[int64]*model.Candle // Frontier plus unsealed gap buckets
	frontier   int64                   // Highest bucket key seen; 0 before first data
	seen       map[int64]map[int64]struct{} // bucket -> trade IDs, pruned on seal
	pending    deque.Deque[model.Trade]     // Trades received before Seed finished
	stats      Stats

	ready     chan struct{}
	readyOnce sync.Once

	pub *pubsub.Publisher[Update]
}

// NewSynchronizer creates an unseeded synchronizer.
func NewSynchronizer(cfg Config, logger *slog.Logger) (*Synchronizer, error) {
	if cfg.ProductID == "" {
		return nil, fmt.Errorf("synchronizer: product id is required")
	}
	if cfg.Granularity < time.Second {
		return nil, fmt.Errorf("synchronizer: granularity must be >= 1s, got %v", cfg.Granularity)
	}
	if cfg.ReorderWindow < 0 {
		return nil, fmt.Errorf("synchronizer: reorder window must be >= 0, got %d", cfg.ReorderWindow)
	}
	if cfg.QueueLimit < 0 {
		return nil, fmt.Errorf("synchronizer: queue limit must be >= 0, got %d", cfg.QueueLimit)
	}
	if cfg.QueueLimit == 0 {
		cfg.QueueLimit = defaultQueueLimit
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Synchronizer{
		productID:  cfg.ProductID,
		gran:       int64(cfg.Granularity / time.Second),
		reorder:    int64(cfg.ReorderWindow),
		queueLimit: cfg.QueueLimit,
		logger:     logger,
		sealedKeys: make(map[int64]struct{}),
		open:       make(map[int64]*model.Candle),
		seen:       make(map[int64]map[int64]struct{}),
		ready:      make(chan struct{}),
		pub:        pubsub.NewPublisher[Update](),
	}, nil
}

// Ready returns a channel closed exactly once, when the first Seed
// completes and all queued pre-seed trades have been replayed.
func (s *Synchronizer) Ready() <-chan struct{} {
	return s.ready
}

// SubscribeUpdates registers a consumer for candle notifications.
func (s *Synchronizer) SubscribeUpdates(fn func(Update)) pubsub.Token {
	return s.pub.Subscribe(fn)
}

// UnsubscribeUpdates removes a consumer. Idempotent.
func (s *Synchronizer) UnsubscribeUpdates(tok pubsub.Token) {
	s.pub.Unsubscribe(tok)
}

// Seed initializes or extends the timeline from an ordered historical
// batch. It is idempotent: re-seeding with an overlapping batch merges by
// bucket key. Data for an already-sealed bucket is rejected, keeping
// closed buckets immutable; data for the open bucket is ignored in favor
// of the richer live state. New keys behind the frontier fill gaps; new
// keys ahead of it advance the frontier, sealing what they pass.
//
// Buckets sealed or backfilled by a seed are announced to subscribers
// the same way live seals are.
//
// The first successful Seed drains the pre-seed trade queue and then
// fires the readiness signal.
func (s *Synchronizer) Seed(batch []model.Candle) error {
	if len(batch) == 0 {
		return fmt.Errorf("synchronizer %s: empty seed batch", s.productID)
	}

	merged := make([]model.Candle, 0, len(batch))
	for _, c := range batch {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("synchronizer %s: seed: %w", s.productID, err)
		}
		if c.OpenTime != s.alignKey(c.OpenTime) {
			return fmt.Errorf("synchronizer %s: seed: bucket %d not aligned to granularity", s.productID, c.OpenTime)
		}
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].OpenTime < merged[j].OpenTime })

	var updates []Update

	s.mu.Lock()
	for _, c := range merged {
		if _, dup := s.sealedKeys[c.OpenTime]; dup {
			// Sealed buckets stay immutable; late, different data loses.
			continue
		}
		if _, live := s.open[c.OpenTime]; live {
			continue
		}

		switch {
		case !s.startedLocked():
			// Very first bucket of the timeline.
			s.setFrontierLocked(c)
			updates = append(updates, Update{ProductID: s.productID, Type: BucketUpdated, Candle: c})
		case c.OpenTime > s.frontier:
			updates = append(updates, s.advanceFrontierLocked(c)...)
			updates = append(updates, Update{ProductID: s.productID, Type: BucketUpdated, Candle: c})
		default:
			// A backfilled bucket is born sealed; consumers still need
			// to hear that it closed.
			s.insertSealedLocked(c)
			s.stats.Sealed++
			updates = append(updates, Update{ProductID: s.productID, Type: BucketClosed, Candle: c})
		}
	}

	first := !s.seeded
	var replayed int
	if first {
		s.seeded = true
		var replayUpdates []Update
		replayUpdates, replayed = s.drainPendingLocked()
		updates = append(updates, replayUpdates...)
	}
	s.mu.Unlock()

	if first {
		s.readyOnce.Do(func() { close(s.ready) })
		s.logger.Info("candle timeline seeded",
			"product", s.productID,
			"batch", len(merged),
			"replayed", replayed,
		)
	}
	for _, u := range updates {
		s.pub.Publish(u)
	}
	return nil
}

// ApplyTrade folds one live trade into the timeline. Before seeding the
// trade is queued for replay; when the queue is full the oldest entry
// gives way. Malformed trades and duplicates are absorbed here; neither
// corrupts the timeline.
func (s *Synchronizer) ApplyTrade(trade model.Trade) {
	s.mu.Lock()
	if !s.seeded {
		if s.pending.Len() >= s.queueLimit {
			// Keep the newest trades; the oldest are the ones a later
			// seed plus reconcile can recover from history.
			s.pending.PopFront()
			s.stats.QueueDropped++
		}
		s.pending.PushBack(trade)
		s.stats.Queued++
		s.mu.Unlock()
		return
	}
	updates := s.applyLocked(trade)
	s.mu.Unlock()

	for _, u := range updates {
		s.pub.Publish(u)
	}
}

// Reconcile scans the timeline for gaps and returns a report. Any gap
// means a targeted re-fetch is required for that range; missing candles
// are never fabricated here.
func (s *Synchronizer) Reconcile() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.keysLocked()
	rep := Report{Buckets: len(keys), Frontier: s.frontier}
	for i := 1; i < len(keys); i++ {
		if keys[i]-keys[i-1] > s.gran {
			rep.Gaps = append(rep.Gaps, GapRange{
				From: keys[i-1] + s.gran,
				To:   keys[i] - s.gran,
			})
		}
	}
	if rep.NeedsRefetch() {
		s.logger.Warn("candle timeline has gaps",
			"product", s.productID,
			"gaps", len(rep.Gaps),
			"first_from", rep.Gaps[0].From,
		)
	}
	return rep
}

// Timeline returns a copy of the most recent limit candles in ascending
// order, the open bucket last. limit <= 0 returns everything.
func (s *Synchronizer) Timeline(limit int) []model.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Candle, 0, len(s.sealed)+len(s.open))
	out = append(out, s.sealed...)
	for _, key := range s.openKeysLocked() {
		out = append(out, *s.open[key])
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Current returns the open frontier bucket, if any.
func (s *Synchronizer) Current() (model.Candle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.open[s.frontier]; ok {
		return *c, true
	}
	return model.Candle{}, false
}

// Stats returns a copy of the outcome counters.
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// -----------------------------------------------------------------------------
// Internals (all called with s.mu held)
// -----------------------------------------------------------------------------

func (s *Synchronizer) alignKey(sec int64) int64 {
	return model.BucketStart(time.Unix(sec, 0), time.Duration(s.gran)*time.Second)
}

// applyLocked folds a trade and returns the notifications to publish
// after the lock is released.
func (s *Synchronizer) applyLocked(trade model.Trade) []Update {
	if err := trade.Validate(); err != nil {
		s.stats.Malformed++
		s.logger.Warn("dropping malformed trade", "product", s.productID, "error", err)
		return nil
	}

	bucket := model.BucketStart(trade.Time, time.Duration(s.gran)*time.Second)

	if s.isDuplicateLocked(bucket, trade.TradeID) {
		s.stats.Duplicates++
		return nil
	}

	var updates []Update

	switch {
	case !s.startedLocked():
		// First data ever: open the initial bucket.
		s.open[bucket] = bucketFromTrade(bucket, trade)
		s.frontier = bucket

	case bucket > s.frontier:
		// Frontier advance: seal everything older, then open the new bucket.
		for _, key := range s.openKeysLocked() {
			if key < bucket {
				updates = append(updates, s.sealLocked(key))
			}
		}
		s.open[bucket] = bucketFromTrade(bucket, trade)
		s.frontier = bucket

	case s.open[bucket] != nil:
		// Open bucket (frontier or an unsealed gap bucket): fold in place.
		foldTrade(s.open[bucket], trade)

	case bucket <= s.lastSealedLocked() || bucket < s.frontier-s.reorder*s.gran:
		// Sealed, or beyond the reorder window: stale.
		s.stats.StaleDropped++
		s.logger.Warn("dropping stale trade",
			"product", s.productID,
			"trade_id", trade.TradeID,
			"bucket", bucket,
			"frontier", s.frontier,
		)
		return nil

	default:
		// Unsealed gap bucket inside the reorder window: re-sort into place.
		s.open[bucket] = bucketFromTrade(bucket, trade)
	}

	s.markSeenLocked(bucket, trade.TradeID)
	s.stats.Applied++

	if c, ok := s.open[bucket]; ok {
		updates = append(updates, Update{ProductID: s.productID, Type: BucketUpdated, Candle: *c})
	}
	return updates
}

// sealLocked closes one open bucket: it becomes immutable, joins the
// sealed timeline, and its dedup memory is released.
func (s *Synchronizer) sealLocked(key int64) Update {
	c := *s.open[key]
	delete(s.open, key)
	delete(s.seen, key)
	s.insertSealedLocked(c)
	s.stats.Sealed++
	return Update{ProductID: s.productID, Type: BucketClosed, Candle: c}
}

// insertSealedLocked places c into the sealed slice, keeping ascending
// order. Appending is the common case; gap backfills insert mid-slice.
func (s *Synchronizer) insertSealedLocked(c model.Candle) {
	s.sealedKeys[c.OpenTime] = struct{}{}
	n := len(s.sealed)
	if n == 0 || s.sealed[n-1].OpenTime < c.OpenTime {
		s.sealed = append(s.sealed, c)
		return
	}
	idx := sort.Search(n, func(i int) bool { return s.sealed[i].OpenTime >= c.OpenTime })
	s.sealed = append(s.sealed, model.Candle{})
	copy(s.sealed[idx+1:], s.sealed[idx:])
	s.sealed[idx] = c
}

// setFrontierLocked opens the timeline's first bucket from seed data.
func (s *Synchronizer) setFrontierLocked(c model.Candle) {
	cc := c
	s.open[c.OpenTime] = &cc
	s.frontier = c.OpenTime
}

// advanceFrontierLocked moves the frontier to a seed candle ahead of it,
// sealing every open bucket it passes. The seal notifications are
// returned for publishing once the lock is released.
func (s *Synchronizer) advanceFrontierLocked(c model.Candle) []Update {
	var updates []Update
	for _, key := range s.openKeysLocked() {
		if key < c.OpenTime {
			updates = append(updates, s.sealLocked(key))
		}
	}
	cc := c
	s.open[c.OpenTime] = &cc
	s.frontier = c.OpenTime
	return updates
}

func (s *Synchronizer) drainPendingLocked() ([]Update, int) {
	var updates []Update
	replayed := 0
	for s.pending.Len() > 0 {
		trade := s.pending.PopFront()
		updates = append(updates, s.applyLocked(trade)...)
		replayed++
		s.stats.Replayed++
	}
	return updates, replayed
}

// startedLocked reports whether the timeline has any bucket at all.
// Needed because bucket key 0 (the epoch) is a legal frontier value.
func (s *Synchronizer) startedLocked() bool {
	return len(s.sealed) > 0 || len(s.open) > 0
}

func (s *Synchronizer) lastSealedLocked() int64 {
	if len(s.sealed) == 0 {
		return math.MinInt64
	}
	return s.sealed[len(s.sealed)-1].OpenTime
}

func (s *Synchronizer) isDuplicateLocked(bucket, tradeID int64) bool {
	ids, ok := s.seen[bucket]
	if !ok {
		return false
	}
	_, dup := ids[tradeID]
	return dup
}

func (s *Synchronizer) markSeenLocked(bucket, tradeID int64) {
	ids, ok := s.seen[bucket]
	if !ok {
		ids = make(map[int64]struct{})
		s.seen[bucket] = ids
	}
	ids[tradeID] = struct{}{}
}

func (s *Synchronizer) openKeysLocked() []int64 {
	keys := make([]int64, 0, len(s.open))
	for k := range s.open {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (s *Synchronizer) keysLocked() []int64 {
	keys := make([]int64, 0, len(s.sealed)+len(s.open))
	for _, c := range s.sealed {
		keys = append(keys, c.OpenTime)
	}
	keys = append(keys, s.openKeysLocked()...)
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// bucketFromTrade opens a fresh bucket from its first trade.
func bucketFromTrade(bucket int64, trade model.Trade) *model.Candle {
	return &model.Candle{
		OpenTime: bucket,
		Open:     trade.Price,
		High:     trade.Price,
		Low:      trade.Price,
		Close:    trade.Price,
		Volume:   trade.Size,
	}
}

// foldTrade extends an open bucket with one more trade.
func foldTrade(c *model.Candle, trade model.Trade) {
	if trade.Price > c.High {
		c.High = trade.Price
	}
	if trade.Price < c.Low {
		c.Low = trade.Price
	}
	c.Close = trade.Price
	c.Volume += trade.Size
}
