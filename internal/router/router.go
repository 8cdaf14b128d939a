package router

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/subscription"
)

// Dispatcher receives routed raw messages for activity tracking and
// handle delivery. The subscription manager satisfies this.
type Dispatcher interface {
	Dispatch(subscription.Inbound)
}

// Router parses raw feed frames and fans them into typed buffers.
type Router interface {
	// Start begins routing frames from the input channel.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the router.
	Stop(ctx context.Context) error

	// Buffers returns the typed output buffers.
	Buffers() RouterBuffers

	// Stats returns current router statistics.
	Stats() RouterStats
}

// RouterBuffers provides access to the typed output buffers.
type RouterBuffers struct {
	Book  *GrowableBuffer[BookMsg]
	Trade *GrowableBuffer[model.Trade]
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	FramesReceived int64
	FramesRouted   int64
	ParseErrors    int64
	UnknownFrames  int64
	FeedErrors     int64
	BookBuffer     BufferStats
	TradeBuffer    BufferStats
}

// router is the internal implementation.
type router struct {
	cfg        RouterConfig
	logger     *slog.Logger
	input      <-chan connection.TimestampedMessage
	dispatcher Dispatcher

	bookBuf  *GrowableBuffer[BookMsg]
	tradeBuf *GrowableBuffer[model.Trade]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.RWMutex
	received      int64
	routed        int64
	parseErrors   int64
	unknownFrames int64
	feedErrors    int64
}

// NewRouter creates a new frame router. dispatcher may be nil.
func NewRouter(cfg RouterConfig, input <-chan connection.TimestampedMessage, dispatcher Dispatcher, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &router{
		cfg:        cfg,
		logger:     logger,
		input:      input,
		dispatcher: dispatcher,
		bookBuf:    NewGrowableBuffer[BookMsg](cfg.BookBufferSize),
		tradeBuf:   NewGrowableBuffer[model.Trade](cfg.TradeBufferSize),
	}
}

// Start begins routing frames.
func (r *router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("frame router started",
		"book_buffer", r.cfg.BookBufferSize,
		"trade_buffer", r.cfg.TradeBufferSize,
	)

	return nil
}

// Stop gracefully shuts down the router.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping frame router")

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("frame router stopped")
	case <-ctx.Done():
		r.logger.Warn("frame router stop timed out")
	}

	r.bookBuf.Close()
	r.tradeBuf.Close()

	return nil
}

// Buffers returns the typed output buffers.
func (r *router) Buffers() RouterBuffers {
	return RouterBuffers{
		Book:  r.bookBuf,
		Trade: r.tradeBuf,
	}
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RouterStats{
		FramesReceived: r.received,
		FramesRouted:   r.routed,
		ParseErrors:    r.parseErrors,
		UnknownFrames:  r.unknownFrames,
		FeedErrors:     r.feedErrors,
		BookBuffer:     r.bookBuf.Stats(),
		TradeBuffer:    r.tradeBuf.Stats(),
	}
}

// routeLoop is the main routing goroutine.
func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case raw, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.route(raw)
		}
	}
}

// route parses and routes a single frame.
func (r *router) route(raw connection.TimestampedMessage) {
	r.count(func() { r.received++ })

	var envelope messageEnvelope
	if err := json.Unmarshal(raw.Data, &envelope); err != nil {
		r.logger.Warn("unparseable frame", "error", err)
		r.count(func() { r.parseErrors++ })
		return
	}

	var sent bool

	switch envelope.Type {
	case "l2update":
		msg, err := r.parseL2Update(raw)
		if err != nil {
			r.logger.Warn("failed to parse l2update", "product", envelope.ProductID, "error", err)
			r.count(func() { r.parseErrors++ })
			return
		}
		sent = r.bookBuf.Send(msg)
		r.dispatch("level2", envelope.ProductID, raw)

	case "snapshot":
		msg, err := r.parseSnapshot(raw)
		if err != nil {
			r.logger.Warn("failed to parse snapshot", "product", envelope.ProductID, "error", err)
			r.count(func() { r.parseErrors++ })
			return
		}
		sent = r.bookBuf.Send(msg)
		r.dispatch("level2", envelope.ProductID, raw)

	case "match", "last_match":
		trade, err := r.parseMatch(raw)
		if err != nil {
			r.logger.Warn("failed to parse match", "product", envelope.ProductID, "error", err)
			r.count(func() { r.parseErrors++ })
			return
		}
		sent = r.tradeBuf.Send(trade)
		r.dispatch("matches", envelope.ProductID, raw)

	case "error":
		var wire errorWire
		if err := json.Unmarshal(raw.Data, &wire); err == nil {
			r.logger.Error("feed error frame", "message", wire.Message, "reason", wire.Reason)
		}
		r.count(func() { r.feedErrors++ })
		return

	case "subscriptions":
		var wire subscriptionsWire
		if err := json.Unmarshal(raw.Data, &wire); err == nil {
			r.logger.Debug("subscription ack", "channels", len(wire.Channels))
		}
		return

	case "heartbeat":
		return

	default:
		r.logger.Debug("skipping frame type", "type", envelope.Type)
		r.count(func() { r.unknownFrames++ })
		return
	}

	if sent {
		r.count(func() { r.routed++ })
	}
}

func (r *router) dispatch(channel, productID string, raw connection.TimestampedMessage) {
	if r.dispatcher == nil {
		return
	}
	r.dispatcher.Dispatch(subscription.Inbound{
		Channel:    channel,
		ProductID:  productID,
		Data:       raw.Data,
		ReceivedAt: raw.ReceivedAt,
	})
}

// parseL2Update converts one l2update frame into a BookMsg.
func (r *router) parseL2Update(raw connection.TimestampedMessage) (BookMsg, error) {
	var wire l2updateWire
	if err := json.Unmarshal(raw.Data, &wire); err != nil {
		return BookMsg{}, err
	}
	if wire.ProductID == "" {
		return BookMsg{}, fmt.Errorf("l2update: missing product_id")
	}

	ts, err := parseFeedTime(wire.Time)
	if err != nil {
		return BookMsg{}, fmt.Errorf("l2update: %w", err)
	}

	deltas := make([]model.BookDelta, 0, len(wire.Changes))
	for _, change := range wire.Changes {
		if len(change) != 3 {
			return BookMsg{}, fmt.Errorf("l2update: change has %d fields, want 3", len(change))
		}
		side, err := parseSide(change[0])
		if err != nil {
			return BookMsg{}, fmt.Errorf("l2update: %w", err)
		}
		price, err := strconv.ParseFloat(change[1], 64)
		if err != nil {
			return BookMsg{}, fmt.Errorf("l2update: bad price %q: %w", change[1], err)
		}
		size, err := strconv.ParseFloat(change[2], 64)
		if err != nil {
			return BookMsg{}, fmt.Errorf("l2update: bad size %q: %w", change[2], err)
		}
		deltas = append(deltas, model.BookDelta{
			ProductID:  wire.ProductID,
			Side:       side,
			Price:      price,
			Size:       size,
			Time:       ts,
			Sequence:   wire.Sequence,
			ReceivedAt: raw.ReceivedAt,
		})
	}

	return BookMsg{
		Kind:       BookDelta,
		ProductID:  wire.ProductID,
		Sequence:   wire.Sequence,
		Deltas:     deltas,
		ReceivedAt: raw.ReceivedAt,
	}, nil
}

// parseSnapshot converts one snapshot frame into a BookMsg.
func (r *router) parseSnapshot(raw connection.TimestampedMessage) (BookMsg, error) {
	var wire snapshotWire
	if err := json.Unmarshal(raw.Data, &wire); err != nil {
		return BookMsg{}, err
	}
	if wire.ProductID == "" {
		return BookMsg{}, fmt.Errorf("snapshot: missing product_id")
	}

	bids, err := parseLevels(wire.Bids)
	if err != nil {
		return BookMsg{}, fmt.Errorf("snapshot bids: %w", err)
	}
	asks, err := parseLevels(wire.Asks)
	if err != nil {
		return BookMsg{}, fmt.Errorf("snapshot asks: %w", err)
	}

	return BookMsg{
		Kind:       BookSnapshot,
		ProductID:  wire.ProductID,
		Sequence:   wire.Sequence,
		Bids:       bids,
		Asks:       asks,
		ReceivedAt: raw.ReceivedAt,
	}, nil
}

// parseMatch converts one match frame into a model.Trade.
func (r *router) parseMatch(raw connection.TimestampedMessage) (model.Trade, error) {
	var wire matchWire
	if err := json.Unmarshal(raw.Data, &wire); err != nil {
		return model.Trade{}, err
	}
	if wire.ProductID == "" {
		return model.Trade{}, fmt.Errorf("match: missing product_id")
	}

	price, err := strconv.ParseFloat(wire.Price, 64)
	if err != nil {
		return model.Trade{}, fmt.Errorf("match: bad price %q: %w", wire.Price, err)
	}
	size, err := strconv.ParseFloat(wire.Size, 64)
	if err != nil {
		return model.Trade{}, fmt.Errorf("match: bad size %q: %w", wire.Size, err)
	}
	ts, err := parseFeedTime(wire.Time)
	if err != nil {
		return model.Trade{}, fmt.Errorf("match: %w", err)
	}

	return model.Trade{
		TradeID:    wire.TradeID,
		ProductID:  wire.ProductID,
		Price:      price,
		Size:       size,
		Time:       ts,
		Sequence:   wire.Sequence,
		ReceivedAt: raw.ReceivedAt,
	}, nil
}

// parseLevels converts [price, size] string pairs.
func parseLevels(raw [][]string) ([]model.PriceLevel, error) {
	out := make([]model.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("level has %d fields, want 2", len(pair))
		}
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bad price %q: %w", pair[0], err)
		}
		size, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad size %q: %w", pair[1], err)
		}
		out = append(out, model.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

// parseSide maps the feed's side names onto book sides. "buy" changes
// land on the bid side, "sell" on the ask side.
func parseSide(s string) (model.Side, error) {
	switch s {
	case "buy":
		return model.Bid, nil
	case "sell":
		return model.Ask, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

func parseFeedTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return ts, nil
}

func (r *router) count(fn func()) {
	r.mu.Lock()
	fn()
	r.mu.Unlock()
}
