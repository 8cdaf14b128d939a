package breaker

import (
	"fmt"
	"time"

	"github.com/jpillora/backoff"
)

// SchedulerConfig holds backoff parameters for reconnection attempts.
type SchedulerConfig struct {
	BaseDelay   time.Duration // First-attempt delay
	MaxDelay    time.Duration // Cap on the exponential growth
	Jitter      bool          // Randomize delays to avoid synchronized retry storms
	MaxAttempts int           // Past this, ShouldFallback reports true
}

// Scheduler computes reconnection delays. It is stateless given the
// attempt number and performs no I/O; the connection supervisor consumes
// its decisions.
type Scheduler struct {
	b           *backoff.Backoff
	maxAttempts int
}

// NewScheduler validates cfg and builds a Scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.BaseDelay <= 0 {
		return nil, fmt.Errorf("scheduler: base delay must be > 0, got %v", cfg.BaseDelay)
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		return nil, fmt.Errorf("scheduler: max delay %v below base delay %v", cfg.MaxDelay, cfg.BaseDelay)
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("scheduler: max attempts must be >= 1, got %d", cfg.MaxAttempts)
	}

	return &Scheduler{
		b: &backoff.Backoff{
			Min:    cfg.BaseDelay,
			Max:    cfg.MaxDelay,
			Factor: 2,
			Jitter: cfg.Jitter,
		},
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

// NextDelay returns the wait before reconnection attempt number attempt
// (zero-based): base delay doubling per attempt, capped at the maximum,
// with jitter when enabled.
func (s *Scheduler) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return s.b.ForAttempt(float64(attempt))
}

// ShouldFallback reports whether the caller should stop retrying the
// stream and degrade to periodic polling.
func (s *Scheduler) ShouldFallback(attempt int) bool {
	return attempt >= s.maxAttempts
}
