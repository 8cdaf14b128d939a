package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Errors
var (
	// ErrOpen reports that the breaker is OPEN and the operation was not
	// attempted.
	ErrOpen = errors.New("breaker: open")

	// ErrProbePending reports that the HALF_OPEN probe slot is taken.
	ErrProbePending = errors.New("breaker: probe already in flight")
)

// State is the breaker's position.
type State int

const (
	Closed State = iota // Normal: all traffic permitted
	Open                // Tripped: all traffic fails fast
	HalfOpen            // Probation: exactly one probe permitted
)

// String returns the conventional state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds breaker thresholds.
type Config struct {
	FailureThreshold int           // Failures within RollingWindow that trip the breaker
	RollingWindow    time.Duration // Width of the failure-counting window
	Cooldown         time.Duration // Initial OPEN duration before a probe is allowed
}

// Breaker is a tri-state failure-isolation gate. It starts CLOSED and
// cycles for the lifetime of the connection; there is no terminal state.
type Breaker struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failures []time.Time // Timestamps within the rolling window
	openedAt time.Time
	cooldown time.Duration // Current cooldown; escalated via SetCooldown
	probing  bool

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a CLOSED breaker. Invalid thresholds fail fast.
func New(cfg Config, logger *slog.Logger) (*Breaker, error) {
	if cfg.FailureThreshold < 1 {
		return nil, fmt.Errorf("breaker: failure threshold must be >= 1, got %d", cfg.FailureThreshold)
	}
	if cfg.RollingWindow <= 0 {
		return nil, fmt.Errorf("breaker: rolling window must be > 0, got %v", cfg.RollingWindow)
	}
	if cfg.Cooldown <= 0 {
		return nil, fmt.Errorf("breaker: cooldown must be > 0, got %v", cfg.Cooldown)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Breaker{
		cfg:      cfg,
		logger:   logger,
		state:    Closed,
		cooldown: cfg.Cooldown,
		now:      time.Now,
	}, nil
}

// Execute runs op subject to the breaker's state. In CLOSED the operation
// runs and its outcome is recorded. In OPEN it fails immediately with
// ErrOpen until the cooldown elapses, at which point the caller becomes
// the HALF_OPEN probe. In HALF_OPEN only one probe runs; concurrent
// callers get ErrProbePending until it resolves.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.transitionLocked(HalfOpen)
		b.probing = true
		b.mu.Unlock()
		return b.probe(ctx, op)

	case HalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrProbePending
		}
		b.probing = true
		b.mu.Unlock()
		return b.probe(ctx, op)

	default: // Closed
		b.mu.Unlock()
		err := op(ctx)
		b.record(err)
		return err
	}
}

// State returns the current state, applying a pending OPEN→HALF_OPEN
// transition if the cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}

// SetCooldown replaces the current cooldown. The reconnection scheduler
// escalates it after each failed probe.
func (b *Breaker) SetCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	b.cooldown = d
	b.mu.Unlock()
}

// FailureCount returns the number of failures inside the rolling window.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pruneLocked())
}

// RecordFailure feeds an external failure into the rolling window, as if
// an Execute operation had failed. Connection drops after a successful
// dial go through here; they count toward the threshold exactly like
// failed dials. A nil err is a no-op.
func (b *Breaker) RecordFailure(err error) {
	if err == nil {
		return
	}
	b.record(err)
}

// probe runs the single HALF_OPEN trial operation.
func (b *Breaker) probe(ctx context.Context, op func(context.Context) error) error {
	err := op(ctx)

	b.mu.Lock()
	b.probing = false
	if err != nil {
		b.openedAt = b.now()
		b.transitionLocked(Open)
	} else {
		b.failures = nil
		b.cooldown = b.cfg.Cooldown
		b.transitionLocked(Closed)
	}
	b.mu.Unlock()

	return err
}

// record accounts a CLOSED-state outcome and trips the breaker when the
// rolling-window threshold is exceeded. A success does not erase the
// window: failures age out by time, so a flood of connections that dial
// fine but drop immediately still accumulates toward the threshold. Only
// a successful HALF_OPEN probe clears the window outright.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.pruneLocked()
		return
	}

	b.failures = append(b.pruneLocked(), b.now())
	if b.state == Closed && len(b.failures) >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		b.transitionLocked(Open)
	}
}

// pruneLocked drops failures older than the rolling window. Caller holds b.mu.
func (b *Breaker) pruneLocked() []time.Time {
	cutoff := b.now().Add(-b.cfg.RollingWindow)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
	return kept
}

// transitionLocked changes state and logs it. Caller holds b.mu.
func (b *Breaker) transitionLocked(next State) {
	if b.state == next {
		return
	}
	b.logger.Info("breaker state change",
		"from", b.state.String(),
		"to", next.String(),
		"failures", len(b.failures),
		"cooldown", b.cooldown,
	)
	b.state = next
}
