package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/marketsync/internal/candle"
	"github.com/rickgao/marketsync/internal/model"
)

// Timeline is the candle-side surface the poller drives: seeding fresh
// history and scanning for gaps. Each product's synchronizer satisfies
// this.
type Timeline interface {
	Seed(batch []model.Candle) error
	Reconcile() candle.Report
}

// HistorySource fetches candle ranges, served through the cache layer.
type HistorySource interface {
	Range(ctx context.Context, productID string, granularity time.Duration, start, end time.Time) ([]model.Candle, error)
}

// BookSource fetches full book snapshots over REST.
type BookSource interface {
	GetBookSnapshot(ctx context.Context, productID string) (model.BookSnapshot, error)
}

// BookSink receives fetched snapshots. Each product's book satisfies
// this.
type BookSink interface {
	SeedSnapshot(snap model.BookSnapshot)
}

// Target bundles the per-product surfaces the poller serves.
type Target struct {
	ProductID   string
	Granularity time.Duration
	Timeline    Timeline
	Book        BookSink
}

// Config holds poller configuration.
type Config struct {
	Interval          time.Duration // Degraded-mode refresh cadence
	ReconcileInterval time.Duration // Gap-scan cadence
	Timeout           time.Duration // Per-request timeout
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:          30 * time.Second,
		ReconcileInterval: 5 * time.Minute,
		Timeout:           10 * time.Second,
	}
}

// Poller is the REST fallback path. While the stream is degraded it
// refreshes candles and book snapshots at a fixed cadence so consumers
// keep getting data. Independently of stream health, it runs a
// reconcile pass that scans every timeline for gaps and backfills them
// from the REST API.
type Poller struct {
	cfg     Config
	history HistorySource
	books   BookSource
	targets []Target
	logger  *slog.Logger

	degraded atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

// Stats counts poller outcomes since construction.
type Stats struct {
	PollCycles     int64
	CandlesFetched int64
	BooksFetched   int64
	GapsRepaired   int64
	Errors         int64
}

// New creates a stopped poller.
func New(cfg Config, history HistorySource, books BookSource, targets []Target, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = def.ReconcileInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:     cfg,
		history: history,
		books:   books,
		targets: targets,
		logger:  logger,
	}
}

// Start begins the poll and reconcile loops.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.pollLoop()

	p.wg.Add(1)
	go p.reconcileLoop()

	p.logger.Info("poller started",
		"interval", p.cfg.Interval,
		"reconcile_interval", p.cfg.ReconcileInterval,
		"targets", len(p.targets),
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetDegraded switches the fallback polling on or off. The connection
// supervisor's degraded and recovered events drive this.
func (p *Poller) SetDegraded(degraded bool) {
	was := p.degraded.Swap(degraded)
	if was != degraded {
		p.logger.Info("poller fallback mode changed", "degraded", degraded)
	}
}

// Degraded reports whether fallback polling is active.
func (p *Poller) Degraded() bool {
	return p.degraded.Load()
}

// Stats returns a copy of the counters.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// pollLoop refreshes all targets each interval while degraded.
func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if p.degraded.Load() {
				p.pollAll()
			}
		}
	}
}

// reconcileLoop scans timelines for gaps regardless of stream health.
func (p *Poller) reconcileLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.reconcileAll()
		}
	}
}

// pollAll refreshes candles and book snapshots for every target.
func (p *Poller) pollAll() {
	start := time.Now()
	var fetched, errs int64

	for _, target := range p.targets {
		if err := p.pollTarget(target); err != nil {
			p.logger.Warn("failed to poll target",
				"product", target.ProductID,
				"err", err,
			)
			errs++
			continue
		}
		fetched++
	}

	p.mu.Lock()
	p.stats.PollCycles++
	p.stats.Errors += errs
	p.mu.Unlock()

	p.logger.Info("poll cycle complete",
		"targets", len(p.targets),
		"fetched", fetched,
		"errors", errs,
		"duration", time.Since(start),
	)
}

// pollTarget refreshes one product: recent candles into its timeline,
// and a book snapshot if a book sink is attached.
func (p *Poller) pollTarget(target Target) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	if err := p.seedRecent(ctx, target); err != nil {
		return err
	}

	if target.Book != nil && p.books != nil {
		snap, err := p.books.GetBookSnapshot(ctx, target.ProductID)
		if err != nil {
			return err
		}
		target.Book.SeedSnapshot(snap)
		p.mu.Lock()
		p.stats.BooksFetched++
		p.mu.Unlock()
	}

	return nil
}

// seedRecent fetches the recent candle window and seeds it into the
// timeline so it keeps advancing while the stream is down.
func (p *Poller) seedRecent(ctx context.Context, target Target) error {
	end := time.Now()
	start := end.Add(-10 * target.Granularity)
	candles, err := p.history.Range(ctx, target.ProductID, target.Granularity, start, end)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return nil
	}
	if err := target.Timeline.Seed(candles); err != nil {
		return err
	}
	p.mu.Lock()
	p.stats.CandlesFetched += int64(len(candles))
	p.mu.Unlock()
	return nil
}

// reconcileAll scans each timeline and backfills any reported gaps. An
// empty timeline means the initial seed never landed; reconcile retries
// it here so one failed startup fetch cannot leave a product unseeded
// for the life of the process.
func (p *Poller) reconcileAll() {
	for _, target := range p.targets {
		report := target.Timeline.Reconcile()
		if report.Buckets == 0 {
			ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
			err := p.seedRecent(ctx, target)
			cancel()
			if err != nil {
				p.logger.Warn("timeline still unseeded",
					"product", target.ProductID,
					"err", err,
				)
				p.mu.Lock()
				p.stats.Errors++
				p.mu.Unlock()
			}
			continue
		}
		if !report.NeedsRefetch() {
			continue
		}

		p.logger.Warn("timeline gaps detected",
			"product", target.ProductID,
			"gaps", len(report.Gaps),
		)

		for _, gap := range report.Gaps {
			if err := p.backfill(target, gap); err != nil {
				p.logger.Warn("backfill failed",
					"product", target.ProductID,
					"from", gap.From,
					"to", gap.To,
					"err", err,
				)
				p.mu.Lock()
				p.stats.Errors++
				p.mu.Unlock()
			}
		}
	}
}

// backfill fetches one gap range and seeds it into the timeline.
func (p *Poller) backfill(target Target, gap candle.GapRange) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Unix(gap.From, 0)
	// End is exclusive upstream; extend one bucket past the last
	// missing key.
	end := time.Unix(gap.To, 0).Add(target.Granularity)

	candles, err := p.history.Range(ctx, target.ProductID, target.Granularity, start, end)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return nil
	}
	if err := target.Timeline.Seed(candles); err != nil {
		return err
	}

	p.mu.Lock()
	p.stats.GapsRepaired++
	p.mu.Unlock()

	p.logger.Info("backfilled gap",
		"product", target.ProductID,
		"from", gap.From,
		"to", gap.To,
		"candles", len(candles),
	)
	return nil
}
