package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/marketsync/internal/breaker"
	"github.com/rickgao/marketsync/internal/pubsub"
)

// Factory builds a fresh Client for each connection attempt.
type Factory func() Client

// OnConnect runs after every successful dial, before frames are pumped.
// Resubscription lives here. A non-nil error tears the connection down
// and schedules a retry.
type OnConnect func(ctx context.Context, c Client) error

// SupervisorConfig configures the connection supervisor.
type SupervisorConfig struct {
	MessageBuffer int // Depth of the outbound frame channel
}

// Supervisor keeps one feed connection alive. Dials go through the
// circuit breaker, retry pacing comes from the scheduler, and lifecycle
// transitions are published as Events. Crossing the scheduler's fallback
// threshold publishes StreamDegraded exactly once per outage.
type Supervisor struct {
	newClient Factory
	brk       *breaker.Breaker
	sched     *breaker.Scheduler
	onConnect OnConnect
	logger    *slog.Logger

	out chan TimestampedMessage
	pub *pubsub.Publisher[Event]

	mu      sync.Mutex
	client  Client
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stats SupervisorStats
}

// SupervisorStats counts supervisor outcomes since construction.
type SupervisorStats struct {
	Connects    int64
	Disconnects int64
	DialFails   int64
	Degradation int64
}

// NewSupervisor creates a stopped supervisor.
func NewSupervisor(factory Factory, brk *breaker.Breaker, sched *breaker.Scheduler, onConnect OnConnect, cfg SupervisorConfig, logger *slog.Logger) (*Supervisor, error) {
	if factory == nil {
		return nil, fmt.Errorf("supervisor: client factory is required")
	}
	if brk == nil || sched == nil {
		return nil, fmt.Errorf("supervisor: breaker and scheduler are required")
	}
	if cfg.MessageBuffer <= 0 {
		cfg.MessageBuffer = 65536
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Supervisor{
		newClient: factory,
		brk:       brk,
		sched:     sched,
		onConnect: onConnect,
		logger:    logger,
		out:       make(chan TimestampedMessage, cfg.MessageBuffer),
		pub:       pubsub.NewPublisher[Event](),
	}, nil
}

// Start launches the supervision loop.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: already running")
	}
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(runCtx)
	}()
	return nil
}

// Stop tears down the current connection and waits for the loop to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	client := s.client
	s.mu.Unlock()

	if client != nil {
		client.Close()
	}
	s.wg.Wait()
}

// Messages returns the merged stream of frames from every connection the
// supervisor establishes over its lifetime.
func (s *Supervisor) Messages() <-chan TimestampedMessage {
	return s.out
}

// Send writes to the current connection, if one is up.
func (s *Supervisor) Send(data []byte) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client == nil {
		return ErrNotConnected
	}
	return client.Send(data)
}

// SubscribeEvents registers a consumer for lifecycle events.
func (s *Supervisor) SubscribeEvents(fn func(Event)) pubsub.Token {
	return s.pub.Subscribe(fn)
}

// UnsubscribeEvents removes a lifecycle consumer. Idempotent.
func (s *Supervisor) UnsubscribeEvents(tok pubsub.Token) {
	s.pub.Unsubscribe(tok)
}

// Stats returns a copy of the outcome counters.
func (s *Supervisor) Stats() SupervisorStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Supervisor) run(ctx context.Context) {
	attempt := 0
	degraded := false

	for ctx.Err() == nil {
		client := s.newClient()

		err := s.brk.Execute(ctx, client.Connect)
		if err != nil {
			client.Close()
			s.count(func(st *SupervisorStats) { st.DialFails++ })
			attempt++
			if !errors.Is(err, breaker.ErrOpen) {
				s.logger.Warn("dial failed", "attempt", attempt, "error", err)
			}
			if !s.backOff(ctx, attempt, &degraded, err) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.client = client
		s.stats.Connects++
		s.mu.Unlock()

		if degraded {
			degraded = false
			s.logger.Info("stream recovered", "attempt", attempt)
			s.pub.Publish(Event{Type: StreamRecovered, Attempt: attempt})
		} else {
			s.pub.Publish(Event{Type: StreamConnected, Attempt: attempt})
		}
		attempt = 0

		var dropErr error
		if s.onConnect != nil {
			if err := s.onConnect(ctx, client); err != nil {
				s.logger.Error("post-connect setup failed", "error", err)
				dropErr = err
			}
		}
		if dropErr == nil {
			dropErr = s.pump(ctx, client)
		}
		s.dropClient(client, dropErr)
		if ctx.Err() != nil {
			return
		}

		// A connection that dialed fine but died afterwards counts against
		// the breaker the same as a failed dial, and the retry is paced
		// like one. Otherwise a feed that accepts and immediately drops
		// would be re-dialed in a tight loop forever.
		s.brk.RecordFailure(dropErr)
		attempt++
		if !s.backOff(ctx, attempt, &degraded, dropErr) {
			return
		}
	}
}

// backOff paces the next attempt: it escalates the breaker cooldown to the
// scheduler's delay, publishes StreamDegraded once per outage when the
// fallback threshold is crossed, and sleeps. Returns false on cancellation.
func (s *Supervisor) backOff(ctx context.Context, attempt int, degraded *bool, cause error) bool {
	delay := s.sched.NextDelay(attempt - 1)
	s.brk.SetCooldown(delay)
	if !*degraded && s.sched.ShouldFallback(attempt) {
		*degraded = true
		s.count(func(st *SupervisorStats) { st.Degradation++ })
		s.logger.Warn("stream degraded, falling back to polling",
			"attempt", attempt,
			"error", cause,
		)
		s.pub.Publish(Event{Type: StreamDegraded, Attempt: attempt, Err: cause})
	}
	return sleep(ctx, delay)
}

// pump forwards frames until the connection errors or ctx is cancelled.
func (s *Supervisor) pump(ctx context.Context, client Client) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-client.Errors():
			return err
		case msg, ok := <-client.Messages():
			if !ok {
				return ErrNotConnected
			}
			select {
			case s.out <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (s *Supervisor) dropClient(client Client, cause error) {
	client.Close()

	s.mu.Lock()
	if s.client == client {
		s.client = nil
	}
	s.stats.Disconnects++
	s.mu.Unlock()

	if cause != nil && !errors.Is(cause, context.Canceled) {
		s.logger.Warn("stream disconnected", "error", cause)
	}
	s.pub.Publish(Event{Type: StreamDisconnected, Err: cause})
}

func (s *Supervisor) count(fn func(*SupervisorStats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}

// sleep waits for d or until ctx is done. Returns false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
