package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/marketsync/internal/api"
	"github.com/rickgao/marketsync/internal/auth"
	"github.com/rickgao/marketsync/internal/book"
	"github.com/rickgao/marketsync/internal/breaker"
	"github.com/rickgao/marketsync/internal/candle"
	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/database"
	"github.com/rickgao/marketsync/internal/metrics"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/poller"
	"github.com/rickgao/marketsync/internal/router"
	"github.com/rickgao/marketsync/internal/subscription"
	"github.com/rickgao/marketsync/internal/version"
	"github.com/rickgao/marketsync/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/syncd.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting syncd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"rest_url", cfg.API.RestURL,
		"ws_url", cfg.Stream.WSURL,
		"products", cfg.Candles.Products,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Timescale.Host,
		"port", cfg.Database.Timescale.Port,
		"database", cfg.Database.Timescale.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database.Timescale)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("database connected")

	// Create REST client. Credentials are optional; public market data
	// endpoints work unauthenticated.
	var creds *auth.Credentials
	if cfg.API.Key != "" {
		creds, err = auth.NewCredentials(cfg.API.Key, cfg.API.Secret, cfg.API.Passphrase)
		if err != nil {
			logger.Error("invalid api credentials", "error", err)
			os.Exit(1)
		}
	}
	apiClient := api.NewClient(
		cfg.API.RestURL,
		creds,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	// Cached history layer over the REST client
	history, err := candle.NewHistory(apiClient, candle.HistoryConfig{
		Capacity:    cfg.Cache.Capacity,
		DefaultTTL:  cfg.Cache.DefaultTTL,
		LoadTimeout: cfg.Cache.LoadTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to create history cache", "error", err)
		os.Exit(1)
	}

	// Per-product timelines and books
	syncs := make(map[string]*candle.Synchronizer, len(cfg.Candles.Products))
	books := make(map[string]*book.Book, len(cfg.Candles.Products))
	targets := make([]poller.Target, 0, len(cfg.Candles.Products))
	for _, pid := range cfg.Candles.Products {
		s, err := candle.NewSynchronizer(candle.Config{
			ProductID:     pid,
			Granularity:   cfg.Candles.Granularity,
			ReorderWindow: cfg.Candles.ReorderWindow,
		}, logger)
		if err != nil {
			logger.Error("failed to create synchronizer", "product", pid, "error", err)
			os.Exit(1)
		}
		b := book.NewBook(pid, cfg.Book.Depth, logger)
		syncs[pid] = s
		books[pid] = b
		targets = append(targets, poller.Target{
			ProductID:   pid,
			Granularity: cfg.Candles.Granularity,
			Timeline:    s,
			Book:        b,
		})
	}

	// Circuit breaker and reconnection scheduler for the feed
	brk, err := breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RollingWindow:    cfg.Breaker.RollingWindow,
		Cooldown:         cfg.Breaker.Cooldown,
	}, logger)
	if err != nil {
		logger.Error("failed to create breaker", "error", err)
		os.Exit(1)
	}
	sched, err := breaker.NewScheduler(breaker.SchedulerConfig{
		BaseDelay:   cfg.Reconnect.BaseDelay,
		MaxDelay:    cfg.Reconnect.MaxDelay,
		Jitter:      cfg.Reconnect.Jitter,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	})
	if err != nil {
		logger.Error("failed to create reconnection scheduler", "error", err)
		os.Exit(1)
	}

	// Connection supervisor. The manager is wired below; by the time
	// onConnect can fire it is non-nil.
	var manager *subscription.Manager
	clientCfg := connection.DefaultClientConfig()
	clientCfg.URL = cfg.Stream.WSURL
	if cfg.Stream.PingInterval > 0 {
		clientCfg.PingInterval = cfg.Stream.PingInterval
	}
	if cfg.Stream.ReadTimeout > 0 {
		clientCfg.PingTimeout = cfg.Stream.ReadTimeout
	}
	if cfg.Stream.WriteTimeout > 0 {
		clientCfg.WriteTimeout = cfg.Stream.WriteTimeout
	}
	if cfg.Stream.BufferSize > 0 {
		clientCfg.BufferSize = cfg.Stream.BufferSize
	}
	factory := func() connection.Client {
		return connection.NewClient(clientCfg, logger)
	}
	onConnect := func(ctx context.Context, _ connection.Client) error {
		return manager.Resubscribe(ctx)
	}
	sup, err := connection.NewSupervisor(factory, brk, sched, onConnect,
		connection.SupervisorConfig{MessageBuffer: clientCfg.BufferSize}, logger)
	if err != nil {
		logger.Error("failed to create connection supervisor", "error", err)
		os.Exit(1)
	}

	// Subscription manager sends frames through the supervisor
	manager, err = subscription.NewManager(subscription.Config{
		MaxPerSecond: cfg.Subscriptions.MaxPerSecond,
		BatchWindow:  cfg.Subscriptions.BatchWindow,
		LeakAge:      cfg.Subscriptions.LeakAge,
	}, sup, logger)
	if err != nil {
		logger.Error("failed to create subscription manager", "error", err)
		os.Exit(1)
	}

	// Router splits the raw frame stream into typed buffers
	rtr := router.NewRouter(router.DefaultRouterConfig(), sup.Messages(), manager, logger)

	// Candle archiver: sealed buckets flow to TimescaleDB
	archiveBuf := router.NewGrowableBuffer[writer.ArchiveEntry](cfg.Writers.BufferSize)
	candleWriter := writer.NewCandleWriter(writer.WriterConfig{
		BatchSize:     cfg.Writers.BatchSize,
		FlushInterval: cfg.Writers.FlushInterval,
	}, archiveBuf, pool, logger)

	granSec := int64(cfg.Candles.Granularity / time.Second)
	for pid, s := range syncs {
		pid := pid
		s.SubscribeUpdates(func(u candle.Update) {
			if u.Type != candle.BucketClosed {
				return
			}
			archiveBuf.Send(writer.ArchiveEntry{
				ProductID:   pid,
				Granularity: granSec,
				Candle:      u.Candle,
			})
		})
	}

	// REST fallback poller, toggled by supervisor events
	pol := poller.New(poller.Config{
		Interval:          cfg.Poller.Interval,
		ReconcileInterval: cfg.Poller.ReconcileInterval,
	}, history, apiClient, targets, logger)

	sup.SubscribeEvents(func(ev connection.Event) {
		switch ev.Type {
		case connection.StreamDegraded:
			pol.SetDegraded(true)
		case connection.StreamConnected, connection.StreamRecovered:
			pol.SetDegraded(false)
		}
	})

	// Metrics endpoint
	mtr := metrics.New(cfg.Metrics, logger)
	for pid, s := range syncs {
		mtr.RegisterSynchronizer(pid, s)
	}
	mtr.RegisterCache("candle_history", history.Stats)
	mtr.RegisterBreaker(brk)
	mtr.RegisterSupervisor(sup)
	mtr.RegisterRouter(rtr)
	mtr.RegisterSubscriptions(manager)
	mtr.RegisterWriter(candleWriter)
	mtr.RegisterPoller(pol)
	if err := mtr.Start(ctx); err != nil {
		logger.Error("failed to start metrics endpoint", "error", err)
		os.Exit(1)
	}

	// Start the pipeline back to front so nothing drops frames
	if err := candleWriter.Start(ctx); err != nil {
		logger.Error("failed to start candle writer", "error", err)
		os.Exit(1)
	}
	if err := rtr.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}
	startConsumers(ctx, rtr, syncs, books, logger)
	if err := manager.Start(ctx); err != nil {
		logger.Error("failed to start subscription manager", "error", err)
		os.Exit(1)
	}
	if err := pol.Start(ctx); err != nil {
		logger.Error("failed to start poller", "error", err)
		os.Exit(1)
	}
	if err := sup.Start(ctx); err != nil {
		logger.Error("failed to start connection supervisor", "error", err)
		os.Exit(1)
	}

	// Declare the live subscriptions. Frames batch and flush once the
	// feed connects.
	for _, pid := range cfg.Candles.Products {
		for _, channel := range []string{"level2", "matches"} {
			if _, err := manager.Subscribe(channel, pid, func(subscription.Inbound) {}); err != nil {
				logger.Error("failed to subscribe", "channel", channel, "product", pid, "error", err)
				os.Exit(1)
			}
		}
	}

	// Seed every product from REST while live trades queue
	seedProducts(ctx, cfg, history, apiClient, syncs, books, logger)

	logger.Info("syncd running",
		"instance_id", cfg.Instance.ID,
		"products", len(cfg.Candles.Products),
		"metrics_port", cfg.Metrics.Port,
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	sup.Stop()
	manager.Stop()
	pol.Stop(shutdownCtx)
	rtr.Stop(shutdownCtx)
	candleWriter.Stop(shutdownCtx)
	mtr.Stop(shutdownCtx)

	logger.Info("syncd stopped")
}

// startConsumers drains the router's typed buffers into the per-product
// timelines and books.
func startConsumers(
	ctx context.Context,
	rtr router.Router,
	syncs map[string]*candle.Synchronizer,
	books map[string]*book.Book,
	logger *slog.Logger,
) {
	bufs := rtr.Buffers()

	go func() {
		for {
			msg, ok := bufs.Trade.Receive()
			if !ok {
				return
			}
			s, known := syncs[msg.ProductID]
			if !known {
				logger.Warn("trade for unknown product", "product", msg.ProductID)
				continue
			}
			s.ApplyTrade(msg)
		}
	}()

	go func() {
		for {
			msg, ok := bufs.Book.Receive()
			if !ok {
				return
			}
			b, known := books[msg.ProductID]
			if !known {
				logger.Warn("book message for unknown product", "product", msg.ProductID)
				continue
			}
			switch msg.Kind {
			case router.BookSnapshot:
				b.SeedSnapshot(model.BookSnapshot{
					ProductID: msg.ProductID,
					Sequence:  msg.Sequence,
					Bids:      msg.Bids,
					Asks:      msg.Asks,
				})
			case router.BookDelta:
				for _, d := range msg.Deltas {
					b.ApplyDelta(d)
				}
			}
		}
	}()
}

// seedProducts backfills each timeline and book from REST. Trades that
// arrive while a seed is in flight queue inside the synchronizer and
// replay afterwards, so the fetch does not race the feed.
func seedProducts(
	ctx context.Context,
	cfg *config.SyncdConfig,
	history *candle.History,
	apiClient *api.Client,
	syncs map[string]*candle.Synchronizer,
	books map[string]*book.Book,
	logger *slog.Logger,
) {
	depth := time.Duration(cfg.Candles.SeedBuckets) * cfg.Candles.Granularity
	for pid := range syncs {
		pid := pid
		go func() {
			end := time.Now().Truncate(cfg.Candles.Granularity).Add(cfg.Candles.Granularity)
			start := end.Add(-depth)

			candles, err := history.Range(ctx, pid, cfg.Candles.Granularity, start, end)
			if err != nil {
				// The poller's reconcile loop retries the seed for any
			// timeline this leaves empty.
				logger.Error("initial candle seed failed", "product", pid, "error", err)
			} else if err := syncs[pid].Seed(candles); err != nil {
				logger.Error("initial candle seed rejected", "product", pid, "error", err)
			} else {
				logger.Info("candle timeline seeded", "product", pid, "candles", len(candles))
			}

			snap, err := apiClient.GetBookSnapshot(ctx, pid)
			if err != nil {
				logger.Error("initial book seed failed", "product", pid, "error", err)
				return
			}
			books[pid].SeedSnapshot(snap)
		}()
	}
}
