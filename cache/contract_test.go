package cache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/rpclink/link"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingCompute returns value and counts invocations.
func countingCompute(calls *atomic.Int32, value string) ComputeFunc {
	return func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte(value), nil
	}
}

// runStoreContract checks the Store contract against one implementation.
func runStoreContract(t *testing.T, newStore func(t *testing.T, clock *fakeClock) Store) {
	t.Helper()
	ctx := context.Background()
	forever := Options{Revalidate: link.NoRevalidate(), Tags: []string{"t1"}}

	t.Run("computes once then serves stored value", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		var calls atomic.Int32

		for i := 0; i < 3; i++ {
			got, err := s.GetOrCompute(ctx, "k", countingCompute(&calls, "v1"), forever)
			if err != nil {
				t.Fatalf("GetOrCompute() error = %v", err)
			}
			if !bytes.Equal(got, []byte("v1")) {
				t.Errorf("GetOrCompute() = %q, want v1", got)
			}
		}
		if n := calls.Load(); n != 1 {
			t.Errorf("compute calls = %d, want 1", n)
		}
	})

	t.Run("window expires", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)
		var calls atomic.Int32
		opts := Options{Revalidate: link.RevalidateAfter(60)}

		if _, err := s.GetOrCompute(ctx, "k", countingCompute(&calls, "v"), opts); err != nil {
			t.Fatalf("GetOrCompute() error = %v", err)
		}
		clock.Advance(59 * time.Second)
		if _, err := s.GetOrCompute(ctx, "k", countingCompute(&calls, "v"), opts); err != nil {
			t.Fatalf("GetOrCompute() error = %v", err)
		}
		if n := calls.Load(); n != 1 {
			t.Fatalf("compute calls before expiry = %d, want 1", n)
		}

		clock.Advance(time.Second)
		if _, err := s.GetOrCompute(ctx, "k", countingCompute(&calls, "v"), opts); err != nil {
			t.Fatalf("GetOrCompute() error = %v", err)
		}
		if n := calls.Load(); n != 2 {
			t.Errorf("compute calls after expiry = %d, want 2", n)
		}
	})

	t.Run("zero window stores nothing", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		var calls atomic.Int32
		opts := Options{Revalidate: link.RevalidateAfter(0)}

		for i := 0; i < 2; i++ {
			if _, err := s.GetOrCompute(ctx, "k", countingCompute(&calls, "v"), opts); err != nil {
				t.Fatalf("GetOrCompute() error = %v", err)
			}
		}
		if n := calls.Load(); n != 2 {
			t.Errorf("compute calls = %d, want 2", n)
		}
	})

	t.Run("call window decides freshness", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)
		var calls atomic.Int32
		get := func(value string, r link.Revalidate) string {
			t.Helper()
			got, err := s.GetOrCompute(ctx, "k", countingCompute(&calls, value), Options{Revalidate: r})
			if err != nil {
				t.Fatalf("GetOrCompute() error = %v", err)
			}
			return string(got)
		}

		get("v1", link.RevalidateAfter(60))
		clock.Advance(10 * time.Second)
		if got := get("v2", link.RevalidateAfter(5)); got != "v2" || calls.Load() != 2 {
			t.Fatalf("5s window on a 10s old entry = %q after %d computes, want v2 after 2", got, calls.Load())
		}
		if got := get("unused", link.RevalidateAfter(60)); got != "v2" || calls.Load() != 2 {
			t.Fatalf("60s window = %q after %d computes, want stored v2", got, calls.Load())
		}

		if got := get("v3", link.RevalidateAfter(0)); got != "v3" || calls.Load() != 3 {
			t.Fatalf("zero window = %q after %d computes, want v3 after 3", got, calls.Load())
		}
		if got := get("v4", link.NoRevalidate()); got != "v4" || calls.Load() != 4 {
			t.Fatalf("after zero window = %q after %d computes, want v4 after 4", got, calls.Load())
		}

		clock.Advance(time.Hour)
		if got := get("unused", link.NoRevalidate()); got != "v4" || calls.Load() != 4 {
			t.Fatalf("disabled window on an hour old entry = %q after %d computes, want v4", got, calls.Load())
		}
		if got := get("v5", link.RevalidateAfter(60)); got != "v5" || calls.Load() != 5 {
			t.Fatalf("60s window on an hour old entry = %q after %d computes, want v5 after 5", got, calls.Load())
		}
	})

	t.Run("errors are not stored", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		boom := errors.New("boom")

		_, err := s.GetOrCompute(ctx, "k", func(context.Context) ([]byte, error) { return nil, boom }, forever)
		if !errors.Is(err, boom) {
			t.Fatalf("GetOrCompute() error = %v, want %v", err, boom)
		}

		var calls atomic.Int32
		got, err := s.GetOrCompute(ctx, "k", countingCompute(&calls, "ok"), forever)
		if err != nil || string(got) != "ok" || calls.Load() != 1 {
			t.Errorf("after error: got %q, err %v, calls %d; want ok, nil, 1", got, err, calls.Load())
		}
	})

	t.Run("invalidate tag", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		var calls atomic.Int32

		_, _ = s.GetOrCompute(ctx, "a", countingCompute(&calls, "a"), Options{Tags: []string{"users"}})
		_, _ = s.GetOrCompute(ctx, "b", countingCompute(&calls, "b"), Options{Tags: []string{"users", "b"}})
		_, _ = s.GetOrCompute(ctx, "c", countingCompute(&calls, "c"), Options{Tags: []string{"posts"}})

		if err := s.InvalidateTag(ctx, "users"); err != nil {
			t.Fatalf("InvalidateTag() error = %v", err)
		}
		if err := s.InvalidateTag(ctx, "users"); err != nil {
			t.Fatalf("InvalidateTag() second call error = %v", err)
		}

		calls.Store(0)
		for _, key := range []string{"a", "b", "c"} {
			_, _ = s.GetOrCompute(ctx, key, countingCompute(&calls, key), Options{})
		}
		if n := calls.Load(); n != 2 {
			t.Errorf("recomputes after invalidation = %d, want 2 (a and b)", n)
		}
	})

	t.Run("concurrent callers share one compute", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		var calls atomic.Int32
		release := make(chan struct{})
		compute := func(context.Context) ([]byte, error) {
			calls.Add(1)
			<-release
			return []byte("shared"), nil
		}

		const n = 10
		var wg sync.WaitGroup
		results := make([][]byte, n)
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = s.GetOrCompute(ctx, "k", compute, forever)
			}(i)
		}

		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		if got := calls.Load(); got != 1 {
			t.Errorf("compute calls = %d, want 1", got)
		}
		for i := 0; i < n; i++ {
			if errs[i] != nil || string(results[i]) != "shared" {
				t.Errorf("caller %d: %q, %v", i, results[i], errs[i])
			}
		}
	})

	t.Run("waiter stops on context cancel", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		release := make(chan struct{})
		defer close(release)

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := s.GetOrCompute(cctx, "slow", func(context.Context) ([]byte, error) {
			<-release
			return []byte("late"), nil
		}, forever)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("GetOrCompute() error = %v, want deadline exceeded", err)
		}
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		if _, err := s.GetOrCompute(ctx, "", countingCompute(new(atomic.Int32), "v"), forever); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("empty key error = %v, want ErrInvalidKey", err)
		}
		if _, err := s.GetOrCompute(ctx, "k", nil, forever); !errors.Is(err, ErrNilCompute) {
			t.Errorf("nil compute error = %v, want ErrNilCompute", err)
		}
	})
}
