package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestStore(t *testing.T, capacity int) (*Store[string], *time.Time) {
	t.Helper()
	s, err := New[string](capacity, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	now := time.Unix(0, 0)
	s.now = func() time.Time { return now }
	return s, &now
}

func constLoader(v string, calls *atomic.Int64) Loader[string] {
	return func(context.Context) (string, error) {
		calls.Add(1)
		return v, nil
	}
}

func TestTTLFreshnessBoundary(t *testing.T) {
	s, now := newTestStore(t, 8)
	var calls atomic.Int64

	ttl := 5 * time.Second
	ctx := context.Background()

	// t=0: miss, loader runs.
	if v, err := s.GetOrLoad(ctx, "k", constLoader("v1", &calls), ttl, time.Second); err != nil || v != "v1" {
		t.Fatalf("GetOrLoad() = %q, %v; want v1, nil", v, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("loader calls = %d, want 1", calls.Load())
	}

	// t=4: within TTL, served from cache.
	*now = now.Add(4 * time.Second)
	if v, err := s.GetOrLoad(ctx, "k", constLoader("v2", &calls), ttl, time.Second); err != nil || v != "v1" {
		t.Fatalf("GetOrLoad() at t=4 = %q, %v; want cached v1, nil", v, err)
	}
	if calls.Load() != 1 {
		t.Errorf("loader calls at t=4 = %d, want 1", calls.Load())
	}

	// t=6: past TTL, loader runs again.
	*now = now.Add(2 * time.Second)
	if v, err := s.GetOrLoad(ctx, "k", constLoader("v2", &calls), ttl, time.Second); err != nil || v != "v2" {
		t.Fatalf("GetOrLoad() at t=6 = %q, %v; want reloaded v2, nil", v, err)
	}
	if calls.Load() != 2 {
		t.Errorf("loader calls at t=6 = %d, want 2", calls.Load())
	}
}

func TestFreshnessUsesStoredTTL(t *testing.T) {
	s, now := newTestStore(t, 8)
	var calls atomic.Int64
	ctx := context.Background()

	// Stored under a 50ms TTL.
	if _, err := s.GetOrLoad(ctx, "k", constLoader("v1", &calls), 50*time.Millisecond, time.Second); err != nil {
		t.Fatalf("seed load error: %v", err)
	}

	// The entry outlived its own TTL. A reader asking with a generous
	// TTL must not resurrect it; the entry's contract governs.
	*now = now.Add(100 * time.Millisecond)
	v, err := s.GetOrLoad(ctx, "k", constLoader("v2", &calls), time.Hour, time.Second)
	if err != nil || v != "v2" {
		t.Fatalf("GetOrLoad() = %q, %v; want reloaded v2, nil", v, err)
	}
	if calls.Load() != 2 {
		t.Errorf("loader calls = %d, want 2 (expired entry must reload)", calls.Load())
	}

	// Now stored under the hour-long TTL: fresh for later 50ms readers.
	*now = now.Add(100 * time.Millisecond)
	v, err = s.GetOrLoad(ctx, "k", constLoader("v3", &calls), 50*time.Millisecond, time.Second)
	if err != nil || v != "v2" {
		t.Fatalf("GetOrLoad() = %q, %v; want cached v2, nil", v, err)
	}
	if calls.Load() != 2 {
		t.Errorf("loader calls = %d, want 2 (entry still within its stored TTL)", calls.Load())
	}
}

func TestConcurrentLoadsCollapse(t *testing.T) {
	s, _ := newTestStore(t, 8)

	var calls atomic.Int64
	release := make(chan struct{})
	loader := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.GetOrLoad(context.Background(), "k", loader, time.Minute, 5*time.Second)
		}(i)
	}

	// Give the callers time to attach to the in-flight load.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("loader calls = %d, want exactly 1 for %d concurrent callers", calls.Load(), n)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil || results[i] != "shared" {
			t.Errorf("caller %d got %q, %v; want shared, nil", i, results[i], errs[i])
		}
	}
}

func TestStaleFallbackOnLoaderError(t *testing.T) {
	s, now := newTestStore(t, 8)
	ctx := context.Background()
	ttl := time.Second

	var calls atomic.Int64
	if _, err := s.GetOrLoad(ctx, "k", constLoader("old", &calls), ttl, time.Second); err != nil {
		t.Fatalf("seed load error: %v", err)
	}

	// Entry expires; the reload fails; the stale value is served.
	*now = now.Add(time.Minute)
	failing := func(context.Context) (string, error) {
		return "", errors.New("backend down")
	}
	v, err := s.GetOrLoad(ctx, "k", failing, ttl, time.Second)
	if err != nil || v != "old" {
		t.Errorf("GetOrLoad() = %q, %v; want stale old, nil", v, err)
	}
	if got := s.Stats().StaleFallbacks; got != 1 {
		t.Errorf("StaleFallbacks = %d, want 1", got)
	}
}

func TestLoaderErrorWithoutFallbackPropagates(t *testing.T) {
	s, _ := newTestStore(t, 8)

	boom := errors.New("boom")
	_, err := s.GetOrLoad(context.Background(), "missing", func(context.Context) (string, error) {
		return "", boom
	}, time.Minute, time.Second)

	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("error = %v, want *LoadError", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("error chain %v does not wrap loader error", err)
	}
}

func TestTimeoutDoesNotCancelLoad(t *testing.T) {
	s, _ := newTestStore(t, 8)

	loaded := make(chan struct{})
	slow := func(ctx context.Context) (string, error) {
		defer close(loaded)
		select {
		case <-time.After(200 * time.Millisecond):
			return "late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	// Waiter gives up after 20ms with no stale value: timeout error.
	_, err := s.GetOrLoad(context.Background(), "k", slow, time.Minute, 20*time.Millisecond)
	if !errors.Is(err, ErrLoadTimeout) {
		t.Fatalf("error = %v, want ErrLoadTimeout", err)
	}

	// The detached load must still complete and populate the cache.
	select {
	case <-loaded:
	case <-time.After(2 * time.Second):
		t.Fatal("load never completed after the waiter disengaged")
	}

	// Brief wait for the singleflight fn's store to land.
	deadline := time.After(time.Second)
	for {
		if v, ok := s.Get("k"); ok {
			if v != "late" {
				t.Fatalf("cached value = %q, want late", v)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("late result never populated the cache")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestZeroTTLDisablesCaching(t *testing.T) {
	s, _ := newTestStore(t, 8)
	var calls atomic.Int64

	for i := 0; i < 3; i++ {
		v, err := s.GetOrLoad(context.Background(), "k", constLoader("v", &calls), 0, time.Second)
		if err != nil || v != "v" {
			t.Fatalf("GetOrLoad() = %q, %v; want v, nil", v, err)
		}
	}
	if calls.Load() != 3 {
		t.Errorf("loader calls = %d, want 3 (ttl=0 always reloads)", calls.Load())
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0 entries with ttl=0", s.Len())
	}
}

func TestLRUEvictionIndependentOfTTL(t *testing.T) {
	s, _ := newTestStore(t, 2)
	ctx := context.Background()
	var calls atomic.Int64

	longTTL := time.Hour
	for _, key := range []string{"a", "b", "c"} {
		if _, err := s.GetOrLoad(ctx, key, constLoader("v-"+key, &calls), longTTL, time.Second); err != nil {
			t.Fatalf("load %q error: %v", key, err)
		}
	}

	// "a" is least recently used and must be evicted despite a live TTL.
	if _, ok := s.Get("a"); ok {
		t.Error("entry a still present, want evicted for capacity")
	}
	for _, key := range []string{"b", "c"} {
		if _, ok := s.Get(key); !ok {
			t.Errorf("entry %q missing, want present", key)
		}
	}
	if got := s.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestAccessRefreshesRecency(t *testing.T) {
	s, _ := newTestStore(t, 2)
	ctx := context.Background()
	var calls atomic.Int64

	ttl := time.Hour
	s.GetOrLoad(ctx, "a", constLoader("va", &calls), ttl, time.Second)
	s.GetOrLoad(ctx, "b", constLoader("vb", &calls), ttl, time.Second)

	// Touch "a" so "b" becomes the LRU victim.
	if v, err := s.GetOrLoad(ctx, "a", constLoader("x", &calls), ttl, time.Second); err != nil || v != "va" {
		t.Fatalf("GetOrLoad(a) = %q, %v; want cached va", v, err)
	}

	s.GetOrLoad(ctx, "c", constLoader("vc", &calls), ttl, time.Second)

	if _, ok := s.Get("b"); ok {
		t.Error("entry b still present, want evicted")
	}
	if _, ok := s.Get("a"); !ok {
		t.Error("entry a missing, want retained after access")
	}
}

func TestDistinctKeysLoadIndependently(t *testing.T) {
	s, _ := newTestStore(t, 8)
	var calls atomic.Int64

	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("k%d", i)
		if _, err := s.GetOrLoad(context.Background(), key, constLoader(key, &calls), time.Minute, time.Second); err != nil {
			t.Fatalf("load %q error: %v", key, err)
		}
	}
	if calls.Load() != 4 {
		t.Errorf("loader calls = %d, want 4", calls.Load())
	}
}
