package breaker

import (
	"testing"
	"time"
)

func newTestScheduler(t *testing.T, jitter bool) *Scheduler {
	t.Helper()
	s, err := NewScheduler(SchedulerConfig{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      jitter,
		MaxAttempts: 5,
	})
	if err != nil {
		t.Fatalf("NewScheduler() error: %v", err)
	}
	return s
}

func TestNextDelayDoublesAndCaps(t *testing.T) {
	s := newTestScheduler(t, false)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},  // Capped
		{10, 30 * time.Second}, // Still capped
	}

	for _, tt := range tests {
		if got := s.NextDelay(tt.attempt); got != tt.want {
			t.Errorf("NextDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestNextDelayIsPureInAttempt(t *testing.T) {
	s := newTestScheduler(t, false)

	// Same attempt number, same answer, regardless of call order.
	first := s.NextDelay(3)
	s.NextDelay(7)
	s.NextDelay(0)
	if got := s.NextDelay(3); got != first {
		t.Errorf("NextDelay(3) = %v on re-ask, want %v", got, first)
	}
}

func TestNextDelayNegativeAttempt(t *testing.T) {
	s := newTestScheduler(t, false)
	if got := s.NextDelay(-4); got != time.Second {
		t.Errorf("NextDelay(-4) = %v, want base delay %v", got, time.Second)
	}
}

func TestJitterStaysWithinBounds(t *testing.T) {
	s := newTestScheduler(t, true)

	for attempt := 0; attempt < 8; attempt++ {
		for i := 0; i < 50; i++ {
			got := s.NextDelay(attempt)
			if got < 0 || got > 30*time.Second {
				t.Fatalf("NextDelay(%d) = %v, outside [0, 30s]", attempt, got)
			}
		}
	}
}

func TestShouldFallback(t *testing.T) {
	s := newTestScheduler(t, false)

	for _, attempt := range []int{0, 1, 4} {
		if s.ShouldFallback(attempt) {
			t.Errorf("ShouldFallback(%d) = true, want false", attempt)
		}
	}
	for _, attempt := range []int{5, 6, 100} {
		if !s.ShouldFallback(attempt) {
			t.Errorf("ShouldFallback(%d) = false, want true", attempt)
		}
	}
}

func TestNewSchedulerRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  SchedulerConfig
	}{
		{"zero base", SchedulerConfig{BaseDelay: 0, MaxDelay: time.Minute, MaxAttempts: 3}},
		{"max below base", SchedulerConfig{BaseDelay: time.Minute, MaxDelay: time.Second, MaxAttempts: 3}},
		{"zero attempts", SchedulerConfig{BaseDelay: time.Second, MaxDelay: time.Minute, MaxAttempts: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewScheduler(tt.cfg); err == nil {
				t.Errorf("NewScheduler(%+v) = nil error, want failure", tt.cfg)
			}
		})
	}
}
