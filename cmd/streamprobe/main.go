// streamprobe connects to the exchange feed and streams parsed messages
// to the console. Useful for eyeballing the live feed without a database.
//
// Usage: go run ./cmd/streamprobe --products BTC-USD,ETH-USD
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/router"
	"github.com/rickgao/marketsync/internal/subscription"
)

func main() {
	wsURL := flag.String("url", "wss://ws-feed.exchange.coinbase.com", "feed URL")
	products := flag.String("products", "BTC-USD", "comma-separated product IDs")
	verbose := flag.Bool("verbose", false, "print book deltas as well as trades")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	clientCfg := connection.DefaultClientConfig()
	clientCfg.URL = *wsURL
	client := connection.NewClient(clientCfg, logger)

	if err := client.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer client.Close()
	logger.Info("connected", "url", *wsURL)

	ids := strings.Split(*products, ",")
	frame, err := json.Marshal(map[string]any{
		"type": "subscribe",
		"channels": []map[string]any{
			{"name": "level2", "product_ids": ids},
			{"name": "matches", "product_ids": ids},
		},
	})
	if err != nil {
		logger.Error("failed to build subscribe frame", "error", err)
		os.Exit(1)
	}
	if err := client.Send(frame); err != nil {
		logger.Error("failed to subscribe", "error", err)
		os.Exit(1)
	}
	logger.Info("subscribed", "products", ids)

	rtr := router.NewRouter(router.DefaultRouterConfig(), client.Messages(), nopDispatcher{}, logger)
	if err := rtr.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	bufs := rtr.Buffers()
	go func() {
		for {
			trade, ok := bufs.Trade.Receive()
			if !ok {
				return
			}
			fmt.Printf("%s trade  %-10s price=%.2f size=%.6f id=%d\n",
				trade.Time.Format(time.TimeOnly), trade.ProductID, trade.Price, trade.Size, trade.TradeID)
		}
	}()
	go func() {
		for {
			msg, ok := bufs.Book.Receive()
			if !ok {
				return
			}
			switch msg.Kind {
			case router.BookSnapshot:
				fmt.Printf("%s book   %-10s snapshot bids=%d asks=%d\n",
					msg.ReceivedAt.Format(time.TimeOnly), msg.ProductID, len(msg.Bids), len(msg.Asks))
			case router.BookDelta:
				if *verbose {
					for _, d := range msg.Deltas {
						fmt.Printf("%s book   %-10s %s price=%.2f size=%.6f\n",
							msg.ReceivedAt.Format(time.TimeOnly), msg.ProductID, d.Side, d.Price, d.Size)
					}
				}
			}
		}
	}()

	go func() {
		for err := range client.Errors() {
			logger.Error("stream error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	rtr.Stop(shutdownCtx)

	stats := rtr.Stats()
	logger.Info("stream summary",
		"frames_received", stats.FramesReceived,
		"frames_routed", stats.FramesRouted,
		"parse_errors", stats.ParseErrors,
	)
}

// nopDispatcher satisfies the router's dispatcher hook; the probe reads
// the typed buffers directly.
type nopDispatcher struct{}

func (nopDispatcher) Dispatch(subscription.Inbound) {}
