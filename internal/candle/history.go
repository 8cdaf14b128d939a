package candle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/marketsync/internal/cache"
	"github.com/rickgao/marketsync/internal/model"
)

// Fetcher retrieves historical candles from the upstream REST API.
type Fetcher interface {
	GetCandles(ctx context.Context, productID string, granularity time.Duration, start, end time.Time) ([]model.Candle, error)
}

// HistoryConfig holds settings for the cached history layer.
type HistoryConfig struct {
	Capacity    int
	DefaultTTL  time.Duration
	LoadTimeout time.Duration
}

// History serves historical candle ranges through an LRU+TTL cache so
// repeated seed and backfill requests for the same range do not hammer
// the REST API. Concurrent requests for the same range share one fetch.
type History struct {
	fetcher Fetcher
	store   *cache.Store[[]model.Candle]
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// NewHistory creates the cached history layer.
func NewHistory(fetcher Fetcher, cfg HistoryConfig, logger *slog.Logger) (*History, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("history: fetcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	store, err := cache.New[[]model.Candle](cfg.Capacity, logger)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	return &History{
		fetcher: fetcher,
		store:   store,
		ttl:     cfg.DefaultTTL,
		timeout: cfg.LoadTimeout,
		logger:  logger,
	}, nil
}

// Range fetches candles for [start, end), serving from cache when fresh.
// On upstream failure a stale cached copy is served if one exists.
func (h *History) Range(ctx context.Context, productID string, granularity time.Duration, start, end time.Time) ([]model.Candle, error) {
	key := rangeKey(productID, granularity, start, end)
	return h.store.GetOrLoad(ctx, key, func(ctx context.Context) ([]model.Candle, error) {
		candles, err := h.fetcher.GetCandles(ctx, productID, granularity, start, end)
		if err != nil {
			return nil, err
		}
		h.logger.Debug("fetched candle history",
			"product", productID,
			"start", start.Unix(),
			"end", end.Unix(),
			"count", len(candles),
		)
		return candles, nil
	}, h.ttl, h.timeout)
}

// Invalidate drops the cached copy of one range, forcing the next Range
// call to hit the upstream. Used after a reconcile-driven backfill.
func (h *History) Invalidate(productID string, granularity time.Duration, start, end time.Time) {
	h.store.Remove(rangeKey(productID, granularity, start, end))
}

// Stats exposes the underlying cache counters.
func (h *History) Stats() cache.Stats {
	return h.store.Stats()
}

func rangeKey(productID string, granularity time.Duration, start, end time.Time) string {
	return fmt.Sprintf("%s|%d|%d|%d", productID, int64(granularity/time.Second), start.Unix(), end.Unix())
}
