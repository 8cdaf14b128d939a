package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/marketsync/internal/breaker"
	"github.com/rickgao/marketsync/internal/cache"
	"github.com/rickgao/marketsync/internal/candle"
	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/poller"
	"github.com/rickgao/marketsync/internal/router"
	"github.com/rickgao/marketsync/internal/subscription"
	"github.com/rickgao/marketsync/internal/writer"
)

// Metrics owns the Prometheus registry and the /metrics endpoint.
// Component stats are sampled lazily through GaugeFuncs at scrape time;
// nothing on the hot path touches a metric directly.
type Metrics struct {
	cfg      config.MetricsConfig
	registry *prometheus.Registry
	server   *http.Server
	logger   *slog.Logger
}

// New creates a metrics endpoint with an empty registry.
func New(cfg config.MetricsConfig, logger *slog.Logger) *Metrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Metrics{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Start serves the metrics endpoint in the background.
func (m *Metrics) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(m.cfg.Path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", m.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		m.logger.Info("metrics endpoint listening", "port", m.cfg.Port, "path", m.cfg.Path)
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("metrics server failed", "error", err)
		}
	}()

	return nil
}

// Stop shuts the endpoint down.
func (m *Metrics) Stop(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// gaugeFunc registers one sampled gauge.
func (m *Metrics) gaugeFunc(name, help string, labels prometheus.Labels, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "marketsync",
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	}, fn))
}

// RegisterSynchronizer samples one product's candle timeline counters.
func (m *Metrics) RegisterSynchronizer(productID string, s *candle.Synchronizer) {
	labels := prometheus.Labels{"product": productID}
	m.gaugeFunc("candles_applied_total", "Trades folded into the timeline.", labels,
		func() float64 { return float64(s.Stats().Applied) })
	m.gaugeFunc("candles_sealed_total", "Buckets sealed.", labels,
		func() float64 { return float64(s.Stats().Sealed) })
	m.gaugeFunc("candles_stale_dropped_total", "Trades dropped as stale.", labels,
		func() float64 { return float64(s.Stats().StaleDropped) })
	m.gaugeFunc("candles_duplicates_total", "Duplicate trades ignored.", labels,
		func() float64 { return float64(s.Stats().Duplicates) })
	m.gaugeFunc("candles_queued_total", "Trades queued before seeding.", labels,
		func() float64 { return float64(s.Stats().Queued) })
}

// RegisterCache samples the history cache counters.
func (m *Metrics) RegisterCache(name string, stats func() cache.Stats) {
	labels := prometheus.Labels{"cache": name}
	m.gaugeFunc("cache_hits_total", "Fresh cache hits.", labels,
		func() float64 { return float64(stats().Hits) })
	m.gaugeFunc("cache_misses_total", "Cache misses.", labels,
		func() float64 { return float64(stats().Misses) })
	m.gaugeFunc("cache_stale_fallbacks_total", "Stale entries served on load failure.", labels,
		func() float64 { return float64(stats().StaleFallbacks) })
	m.gaugeFunc("cache_evictions_total", "LRU evictions.", labels,
		func() float64 { return float64(stats().Evictions) })
}

// RegisterBreaker samples the breaker state and failure count.
func (m *Metrics) RegisterBreaker(b *breaker.Breaker) {
	m.gaugeFunc("breaker_state", "0=CLOSED 1=OPEN 2=HALF_OPEN.", nil,
		func() float64 { return float64(b.State()) })
	m.gaugeFunc("breaker_failures", "Failures inside the rolling window.", nil,
		func() float64 { return float64(b.FailureCount()) })
}

// RegisterSupervisor samples connection lifecycle counters.
func (m *Metrics) RegisterSupervisor(s *connection.Supervisor) {
	m.gaugeFunc("stream_connects_total", "Successful dials.", nil,
		func() float64 { return float64(s.Stats().Connects) })
	m.gaugeFunc("stream_disconnects_total", "Connection drops.", nil,
		func() float64 { return float64(s.Stats().Disconnects) })
	m.gaugeFunc("stream_dial_failures_total", "Failed dials.", nil,
		func() float64 { return float64(s.Stats().DialFails) })
}

// RegisterRouter samples frame routing counters.
func (m *Metrics) RegisterRouter(r router.Router) {
	m.gaugeFunc("router_frames_received_total", "Raw frames received.", nil,
		func() float64 { return float64(r.Stats().FramesReceived) })
	m.gaugeFunc("router_frames_routed_total", "Frames routed to typed buffers.", nil,
		func() float64 { return float64(r.Stats().FramesRouted) })
	m.gaugeFunc("router_parse_errors_total", "Frames dropped as malformed.", nil,
		func() float64 { return float64(r.Stats().ParseErrors) })
	m.gaugeFunc("router_book_buffer_depth", "Frames waiting in the book buffer.", nil,
		func() float64 { return float64(r.Stats().BookBuffer.Count) })
	m.gaugeFunc("router_trade_buffer_depth", "Frames waiting in the trade buffer.", nil,
		func() float64 { return float64(r.Stats().TradeBuffer.Count) })
}

// RegisterSubscriptions samples subscription manager counters.
func (m *Metrics) RegisterSubscriptions(mgr *subscription.Manager) {
	m.gaugeFunc("subscriptions_active", "Live subscription handles.", nil,
		func() float64 { return float64(mgr.Stats().Active) })
	m.gaugeFunc("subscriptions_routed_total", "Messages routed to handles.", nil,
		func() float64 { return float64(mgr.Stats().Routed) })
	m.gaugeFunc("subscriptions_unrouted_total", "Messages with no registered handle.", nil,
		func() float64 { return float64(mgr.Stats().Unrouted) })
	m.gaugeFunc("subscriptions_leaked", "Handles with no recent activity.", nil,
		func() float64 { return float64(len(mgr.ListLeaked(0))) })
}

// RegisterWriter samples candle archiver counters.
func (m *Metrics) RegisterWriter(w *writer.CandleWriter) {
	m.gaugeFunc("writer_inserts_total", "Candles archived.", nil,
		func() float64 { return float64(w.Stats().Inserts) })
	m.gaugeFunc("writer_conflicts_total", "Replayed candles skipped on conflict.", nil,
		func() float64 { return float64(w.Stats().Conflicts) })
	m.gaugeFunc("writer_errors_total", "Failed batch inserts.", nil,
		func() float64 { return float64(w.Stats().Errors) })
}

// RegisterPoller samples REST fallback counters.
func (m *Metrics) RegisterPoller(p *poller.Poller) {
	m.gaugeFunc("poller_degraded", "1 while fallback polling is active.", nil,
		func() float64 {
			if p.Degraded() {
				return 1
			}
			return 0
		})
	m.gaugeFunc("poller_gaps_repaired_total", "Timeline gaps backfilled.", nil,
		func() float64 { return float64(p.Stats().GapsRepaired) })
	m.gaugeFunc("poller_errors_total", "Failed polls and backfills.", nil,
		func() float64 { return float64(p.Stats().Errors) })
}
