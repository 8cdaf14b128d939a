package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/router"
)

// ArchiveEntry is one sealed candle queued for archival.
type ArchiveEntry struct {
	ProductID   string
	Granularity int64 // Bucket width in seconds
	Candle      model.Candle
}

// WriterConfig configures batching.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: 2 * time.Second,
	}
}

// WriterMetrics counts archiver outcomes.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}

// DB is the slice of the connection pool the writer uses. *pgxpool.Pool
// satisfies it.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// CandleWriter consumes ArchiveEntry values from its input buffer and
// writes them to the candles hypertable.
type CandleWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	input *router.GrowableBuffer[ArchiveEntry]
	db    DB

	batch       []candleRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// candleRow is the table shape of one archived candle.
type candleRow struct {
	ProductID   string
	Granularity int64
	OpenTime    int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
}

// NewCandleWriter creates a new archiver.
func NewCandleWriter(
	cfg WriterConfig,
	input *router.GrowableBuffer[ArchiveEntry],
	db DB,
	logger *slog.Logger,
) *CandleWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CandleWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]candleRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming entries and writing to the database.
func (w *CandleWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("candle writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer, flushing what remains.
func (w *CandleWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping candle writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("candle writer stopped")
	case <-ctx.Done():
		w.logger.Warn("candle writer stop timed out")
	}

	// The run context is cancelled by now; the final flush runs on the
	// caller's shutdown context so the closing batch still lands.
	w.drainInput()
	w.flush(ctx)

	return nil
}

// drainInput moves whatever is still queued in the input buffer into the
// batch. Only called after the consume loop has exited.
func (w *CandleWriter) drainInput() {
	for _, entry := range w.input.DrainTo(0) {
		row := w.transform(entry)
		w.batchMu.Lock()
		w.batch = append(w.batch, row)
		w.batchMu.Unlock()
	}
}

// Stats returns current metrics.
func (w *CandleWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input buffer and accumulates batches.
func (w *CandleWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			entries := w.input.DrainTo(w.cfg.BatchSize)
			if len(entries) == 0 {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			for _, entry := range entries {
				w.handleEntry(w.ctx, entry)
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *CandleWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleEntry transforms and adds an entry to the batch.
func (w *CandleWriter) handleEntry(ctx context.Context, entry ArchiveEntry) {
	row := w.transform(entry)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(ctx)
	}
}

// transform converts an ArchiveEntry to a candleRow.
func (w *CandleWriter) transform(entry ArchiveEntry) candleRow {
	return candleRow{
		ProductID:   entry.ProductID,
		Granularity: entry.Granularity,
		OpenTime:    entry.Candle.OpenTime,
		Open:        entry.Candle.Open,
		High:        entry.Candle.High,
		Low:         entry.Candle.Low,
		Close:       entry.Candle.Close,
		Volume:      entry.Candle.Volume,
	}
}

// flush writes the current batch to the database.
func (w *CandleWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	batch := w.batch
	w.batch = make([]candleRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed candles",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
// A sealed candle never changes, so conflicts are always exact replays.
func (w *CandleWriter) batchInsert(ctx context.Context, rows []candleRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO candles (product_id, granularity, open_time, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (product_id, granularity, open_time) DO NOTHING
		`, r.ProductID, r.Granularity, r.OpenTime, r.Open, r.High, r.Low, r.Close, r.Volume)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
