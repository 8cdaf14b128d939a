package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Errors
var (
	// ErrLoadTimeout reports that the caller's wait elapsed while the load
	// was still outstanding and no stale value was available. The load
	// itself keeps running and may populate the cache for future reads.
	ErrLoadTimeout = errors.New("cache: load timed out")
)

// LoadError wraps a loader failure that could not be absorbed by a
// stale fallback.
type LoadError struct {
	Key string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("cache: load %q: %v", e.Key, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Loader populates the cache on a miss. It may fail or hang; GetOrLoad
// guards it with a timeout.
type Loader[V any] func(ctx context.Context) (V, error)

// Stats counts cache outcomes since construction.
type Stats struct {
	Hits           int64
	Misses         int64
	StaleFallbacks int64
	LoadErrors     int64
	Evictions      int64
}

// entry is one cached value with its freshness bookkeeping.
type entry[V any] struct {
	value    V
	storedAt time.Time
	ttl      time.Duration
}

// Store is a bounded LRU cache keyed by string.
type Store[V any] struct {
	lru    *lru.Cache[string, *entry[V]]
	group  singleflight.Group
	logger *slog.Logger

	// now is replaceable in tests.
	now func() time.Time

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Store with the given capacity.
func New[V any](capacity int, logger *slog.Logger) (*Store[V], error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store[V]{
		logger: logger,
		now:    time.Now,
	}

	l, err := lru.NewWithEvict(capacity, func(key string, _ *entry[V]) {
		s.statsMu.Lock()
		s.stats.Evictions++
		s.statsMu.Unlock()
	})
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	s.lru = l

	return s, nil
}

// GetOrLoad returns the cached value for key if present and still within
// the TTL it was stored with. Otherwise it invokes loader guarded by
// timeout, stores the result under ttl, and returns it. Concurrent
// callers for the same key share one in-flight load. On loader failure or
// timeout the previous stale value is returned if one exists; otherwise
// the failure propagates.
//
// ttl <= 0 disables caching for this call: the loader always runs and the
// result is not stored. timeout <= 0 means wait only on ctx.
func (s *Store[V]) GetOrLoad(ctx context.Context, key string, loader Loader[V], ttl, timeout time.Duration) (V, error) {
	if ttl <= 0 {
		return s.loadDirect(ctx, key, loader, timeout)
	}

	if e, ok := s.lru.Get(key); ok {
		// Freshness is the stored entry's own contract, not the reader's.
		if s.now().Sub(e.storedAt) <= e.ttl {
			s.count(func(st *Stats) { st.Hits++ })
			return e.value, nil
		}
		// Present but stale: fall through to a load, keeping e as fallback.
	}
	s.count(func(st *Stats) { st.Misses++ })

	ch := s.group.DoChan(key, func() (any, error) {
		// The load is deliberately detached from the caller's deadline:
		// a waiter giving up must not cancel the shared load.
		v, err := loader(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.lru.Add(key, &entry[V]{value: v, storedAt: s.now(), ttl: ttl})
		return v, nil
	})

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			s.count(func(st *Stats) { st.LoadErrors++ })
			return s.fallback(key, &LoadError{Key: key, Err: res.Err})
		}
		return res.Val.(V), nil
	case <-timeoutCh:
		return s.fallback(key, fmt.Errorf("%w: %q after %v", ErrLoadTimeout, key, timeout))
	case <-ctx.Done():
		return s.fallback(key, ctx.Err())
	}
}

// Get returns the cached value regardless of staleness, without loading.
func (s *Store[V]) Get(key string) (V, bool) {
	if e, ok := s.lru.Get(key); ok {
		return e.value, true
	}
	var zero V
	return zero, false
}

// Remove drops key from the cache.
func (s *Store[V]) Remove(key string) {
	s.lru.Remove(key)
}

// Len returns the number of cached entries.
func (s *Store[V]) Len() int {
	return s.lru.Len()
}

// Stats returns a copy of the outcome counters.
func (s *Store[V]) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// loadDirect bypasses the cache entirely (ttl disabled) but still honors
// the timeout guard.
func (s *Store[V]) loadDirect(ctx context.Context, key string, loader Loader[V], timeout time.Duration) (V, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	v, err := loader(ctx)
	if err != nil {
		s.count(func(st *Stats) { st.LoadErrors++ })
		var zero V
		return zero, &LoadError{Key: key, Err: err}
	}
	return v, nil
}

// fallback resolves a failed or timed-out load: stale value if one is
// still cached, otherwise the causing error.
func (s *Store[V]) fallback(key string, cause error) (V, error) {
	if e, ok := s.lru.Get(key); ok {
		s.count(func(st *Stats) { st.StaleFallbacks++ })
		s.logger.Warn("serving stale cache entry",
			"key", key,
			"age", s.now().Sub(e.storedAt),
			"cause", cause,
		)
		return e.value, nil
	}
	var zero V
	return zero, cause
}

func (s *Store[V]) count(fn func(*Stats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}
