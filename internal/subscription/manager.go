package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Handle is an opaque subscription identifier. Callers hold it only to
// cancel; the record behind it belongs to the Manager.
type Handle struct {
	id uuid.UUID
}

func (h Handle) String() string { return h.id.String() }

// Inbound is one routed feed message delivered to subscriber callbacks.
type Inbound struct {
	Channel    string
	ProductID  string
	Data       []byte
	ReceivedAt time.Time
}

// Callback receives routed messages for one subscription.
type Callback func(Inbound)

// Sender writes raw frames to the stream. The connection supervisor
// satisfies this.
type Sender interface {
	Send(data []byte) error
}

// LeakReport describes one suspect subscription: no unsubscribe seen and
// no recent activity.
type LeakReport struct {
	Handle       Handle
	Channel      string
	ProductID    string
	CreatedAt    time.Time
	LastActivity time.Time
}

// Stats counts manager outcomes since construction.
type Stats struct {
	Active      int
	Subscribes  int64 // Outbound subscribe frames sent
	Batched     int64 // Channel entries coalesced into those frames
	Routed      int64
	Unrouted    int64 // Messages with no registered handle
	SendRetries int64
}

// Config holds manager settings.
type Config struct {
	MaxPerSecond float64       // Outbound frame ceiling; queued, never rejected
	BatchWindow  time.Duration // Coalescing window for outbound requests
	LeakAge      time.Duration // Default ListLeaked threshold
}

// subscribeChannel mirrors one entry of the channels array in a
// subscribe or unsubscribe frame.
type subscribeChannel struct {
	Name       string   `json:"name"`
	ProductIDs []string `json:"product_ids"`
}

// subscribeRequest is the outbound frame shape.
type subscribeRequest struct {
	Type     string             `json:"type"`
	Channels []subscribeChannel `json:"channels"`
}

// record is the manager-owned state of one subscription.
type record struct {
	handle       Handle
	channel      string
	productID    string
	callback     Callback
	createdAt    time.Time
	lastActivity time.Time
}

// pendingOp is one queued outbound request awaiting a batch flush.
type pendingOp struct {
	unsubscribe bool
	channel     string
	productID   string
}

// Manager tracks logical subscriptions and paces outbound requests.
type Manager struct {
	cfg     Config
	sender  Sender
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	records map[Handle]*record
	// byKey indexes records per (channel, product) for dispatch.
	byKey   map[string]map[Handle]*record
	queue deque.Deque[pendingOp]
	stats Stats

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a stopped manager.
func NewManager(cfg Config, sender Sender, logger *slog.Logger) (*Manager, error) {
	if sender == nil {
		return nil, fmt.Errorf("subscription: sender is required")
	}
	if cfg.MaxPerSecond <= 0 {
		return nil, fmt.Errorf("subscription: max per second must be > 0, got %v", cfg.MaxPerSecond)
	}
	if cfg.BatchWindow <= 0 {
		return nil, fmt.Errorf("subscription: batch window must be > 0, got %v", cfg.BatchWindow)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:     cfg,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxPerSecond), 1),
		logger:  logger,
		now:     time.Now,
		records: make(map[Handle]*record),
		byKey:   make(map[string]map[Handle]*record),
	}, nil
}

// Start launches the batch flush loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("subscription: already running")
	}
	m.running = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.flushLoop(runCtx)
	}()
	return nil
}

// Stop halts the flush loop. Queued requests that have not flushed are
// dropped; a reconnect resends the full desired set anyway.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
}

// Subscribe registers interest in a (channel, product) pair and returns
// the cancellation handle. The first handle for a pair queues an
// outbound subscribe; later handles share the existing wire
// subscription.
func (m *Manager) Subscribe(channel, productID string, cb Callback) (Handle, error) {
	if channel == "" {
		return Handle{}, fmt.Errorf("subscription: channel is required")
	}
	if cb == nil {
		return Handle{}, fmt.Errorf("subscription: callback is required")
	}

	h := Handle{id: uuid.New()}
	now := m.now()
	rec := &record{
		handle:       h,
		channel:      channel,
		productID:    productID,
		callback:     cb,
		createdAt:    now,
		lastActivity: now,
	}

	m.mu.Lock()
	m.records[h] = rec
	key := routeKey(channel, productID)
	peers, existed := m.byKey[key]
	if !existed {
		peers = make(map[Handle]*record)
		m.byKey[key] = peers
	}
	peers[h] = rec
	if !existed {
		m.queue.PushBack(pendingOp{channel: channel, productID: productID})
	}
	m.mu.Unlock()
	return h, nil
}

// Unsubscribe cancels one handle. Idempotent: unknown or already
// cancelled handles are no-ops. Dropping the last handle for a pair
// queues an outbound unsubscribe.
func (m *Manager) Unsubscribe(h Handle) {
	m.mu.Lock()
	rec, ok := m.records[h]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.records, h)
	key := routeKey(rec.channel, rec.productID)
	peers := m.byKey[key]
	delete(peers, h)
	if len(peers) == 0 {
		delete(m.byKey, key)
		m.queue.PushBack(pendingOp{unsubscribe: true, channel: rec.channel, productID: rec.productID})
	}
	m.mu.Unlock()
}

// Dispatch routes one inbound message to every handle registered for its
// (channel, product) pair, refreshing their activity times. Delivery
// stops immediately for unsubscribed handles.
func (m *Manager) Dispatch(msg Inbound) {
	m.mu.Lock()
	peers := m.byKey[routeKey(msg.Channel, msg.ProductID)]
	if len(peers) == 0 {
		m.stats.Unrouted++
		m.mu.Unlock()
		return
	}
	now := m.now()
	callbacks := make([]Callback, 0, len(peers))
	for _, rec := range peers {
		rec.lastActivity = now
		callbacks = append(callbacks, rec.callback)
	}
	m.stats.Routed++
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(msg)
	}
}

// ListLeaked reports subscriptions with no activity for olderThan.
// olderThan <= 0 uses the configured default. Report only: nothing is
// force-unsubscribed.
func (m *Manager) ListLeaked(olderThan time.Duration) []LeakReport {
	if olderThan <= 0 {
		olderThan = m.cfg.LeakAge
	}
	cutoff := m.now().Add(-olderThan)

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []LeakReport
	for _, rec := range m.records {
		if rec.lastActivity.Before(cutoff) {
			out = append(out, LeakReport{
				Handle:       rec.handle,
				Channel:      rec.channel,
				ProductID:    rec.productID,
				CreatedAt:    rec.createdAt,
				LastActivity: rec.lastActivity,
			})
		}
	}
	return out
}

// Resubscribe re-sends the full desired set in one frame. Called by the
// connection supervisor after every reconnect.
func (m *Manager) Resubscribe(ctx context.Context) error {
	m.mu.Lock()
	desired := make(map[string][]string)
	for key := range m.byKey {
		ch, product := splitKey(key)
		desired[ch] = append(desired[ch], product)
	}
	m.mu.Unlock()

	if len(desired) == 0 {
		return nil
	}
	return m.sendFrame(ctx, "subscribe", desired)
}

// Stats returns a copy of the counters plus the live handle count.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stats
	st.Active = len(m.records)
	return st
}

// flushLoop drains the pending queue once per batch window, coalescing
// everything queued in that window into at most two frames.
func (m *Manager) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.BatchWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.flush(ctx)
		}
	}
}

// flush sends one subscribe and one unsubscribe frame covering every op
// queued so far.
func (m *Manager) flush(ctx context.Context) {
	m.mu.Lock()
	if m.queue.Len() == 0 {
		m.mu.Unlock()
		return
	}
	subs := make(map[string][]string)
	unsubs := make(map[string][]string)
	batched := int64(0)
	for m.queue.Len() > 0 {
		op := m.queue.PopFront()
		if op.unsubscribe {
			unsubs[op.channel] = append(unsubs[op.channel], op.productID)
		} else {
			subs[op.channel] = append(subs[op.channel], op.productID)
		}
		batched++
	}
	m.stats.Batched += batched
	m.mu.Unlock()

	if len(subs) > 0 {
		if err := m.sendFrame(ctx, "subscribe", subs); err != nil {
			m.logger.Warn("subscribe frame failed", "error", err)
			m.requeue(subs, false)
			return
		}
	}
	if len(unsubs) > 0 {
		if err := m.sendFrame(ctx, "unsubscribe", unsubs); err != nil {
			m.logger.Warn("unsubscribe frame failed", "error", err)
			m.requeue(unsubs, true)
		}
	}
}

// sendFrame builds, rate-limits, and writes one frame.
func (m *Manager) sendFrame(ctx context.Context, frameType string, channels map[string][]string) error {
	req := subscribeRequest{Type: frameType}
	for name, products := range channels {
		req.Channels = append(req.Channels, subscribeChannel{Name: name, ProductIDs: products})
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("subscription: marshal %s frame: %w", frameType, err)
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := m.sender.Send(data); err != nil {
		return fmt.Errorf("subscription: send %s frame: %w", frameType, err)
	}

	m.mu.Lock()
	if frameType == "subscribe" {
		m.stats.Subscribes++
	}
	m.mu.Unlock()

	m.logger.Debug("sent frame", "type", frameType, "channels", len(req.Channels))
	return nil
}

// requeue puts a failed batch back for the next flush. The supervisor's
// reconnect path will usually resolve the underlying send failure.
func (m *Manager) requeue(channels map[string][]string, unsubscribe bool) {
	m.mu.Lock()
	for ch, products := range channels {
		for _, p := range products {
			m.queue.PushBack(pendingOp{unsubscribe: unsubscribe, channel: ch, productID: p})
		}
	}
	m.stats.SendRetries++
	m.mu.Unlock()
}

func routeKey(channel, productID string) string {
	return channel + "|" + productID
}

func splitKey(key string) (channel, productID string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
