package memo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var errBoom = errors.New("boom")

func TestCompute_Memoizes(t *testing.T) {
	t.Parallel()

	fn := &counting{}
	c := newCache[string](t, fn, Options[string, string]{})
	ctx := context.Background()

	v1, err := c.Compute(ctx, "A", time.Minute)
	require.NoError(t, err)
	v2, err := c.Compute(ctx, "A", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.EqualValues(t, 1, fn.calls.Load())
	assert.True(t, c.Contains("A"))
	assert.Equal(t, 1, c.Size())
}

// Concurrent Compute calls for the same key run the Computable once and
// all observe the same value.
func TestCompute_Singleflight(t *testing.T) {
	t.Parallel()

	fn := &counting{delay: 5 * time.Millisecond}
	c := newCache[string](t, fn, Options[string, string]{})

	const N = 64
	results := make([]string, N)
	var g errgroup.Group
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < N; i++ {
		g.Go(func() error {
			v, err := c.Compute(ctx, "k", time.Minute)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, fn.calls.Load(), "computable must run exactly once")
	for _, v := range results {
		assert.Equal(t, "k#1", v)
	}
}

func TestRemove_Recomputes(t *testing.T) {
	t.Parallel()

	fn := &counting{}
	c := newCache[string](t, fn, Options[string, string]{})
	ctx := context.Background()

	v1, err := c.Compute(ctx, "A", 0)
	require.NoError(t, err)

	assert.True(t, c.Remove("A"))
	assert.False(t, c.Remove("A"), "second Remove is a no-op")

	v2, err := c.Compute(ctx, "A", 0)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)
	assert.EqualValues(t, 2, fn.calls.Load())
}

func TestClear(t *testing.T) {
	t.Parallel()

	fn := &counting{}
	c := newCache[string](t, fn, Options[string, string]{})
	ctx := context.Background()

	for _, k := range []string{"A", "B", "C"} {
		_, err := c.Compute(ctx, k, time.Minute)
		require.NoError(t, err)
	}
	require.Equal(t, 3, c.Size())

	c.Clear()
	assert.Zero(t, c.Size())
	assert.Zero(t, c.(*cache[string, string]).tracker.Len(), "deadlines cleared with entries")

	for _, k := range []string{"A", "B", "C"} {
		_, err := c.Compute(ctx, k, time.Minute)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 6, fn.calls.Load())
}

func TestTTL_Expires(t *testing.T) {
	t.Parallel()

	fn := &counting{}
	c := newCache[string](t, fn, Options[string, string]{})
	ctx := context.Background()

	v1, err := c.Compute(ctx, "A", 30*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !c.Contains("A") }, time.Second, 5*time.Millisecond)

	all, err := c.GetAll(ctx)
	require.NoError(t, err)
	assert.NotContains(t, all, "A")

	v2, err := c.Compute(ctx, "A", 30*time.Millisecond)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)
}

// Same value within the TTL, a fresh one after it.
func TestTTL_Scenario(t *testing.T) {
	t.Parallel()

	fn := &counting{}
	c := newCache[string](t, fn, Options[string, string]{})
	ctx := context.Background()

	v1, err := c.Compute(ctx, "A", 100*time.Millisecond)
	require.NoError(t, err)
	v2, err := c.Compute(ctx, "A", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.EqualValues(t, 1, fn.calls.Load())

	time.Sleep(150 * time.Millisecond)

	v3, err := c.Compute(ctx, "A", 100*time.Millisecond)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v3)
}

func TestTTL_ZeroNeverExpires(t *testing.T) {
	t.Parallel()

	fn := &counting{}
	c := newCache[string](t, fn, Options[string, string]{})
	ctx := context.Background()

	_, err := c.Compute(ctx, "A", 0)
	require.NoError(t, err)
	time.Sleep(80 * time.Millisecond)

	assert.True(t, c.Contains("A"))
	_, err = c.Compute(ctx, "A", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, fn.calls.Load())
}

// Each hit pushes the deadline out again.
func TestTTL_RefreshOnAccess(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	fn := &counting{}
	c := newCache[string](t, fn, Options[string, string]{Clock: clk, MaxWait: 2 * time.Millisecond})
	ctx := context.Background()

	_, err := c.Compute(ctx, "A", 100*time.Millisecond)
	require.NoError(t, err)

	clk.add(60 * time.Millisecond)
	_, err = c.Compute(ctx, "A", 100*time.Millisecond) // deadline now 160ms
	require.NoError(t, err)

	clk.add(60 * time.Millisecond) // 120ms: past the first deadline only
	time.Sleep(20 * time.Millisecond)
	assert.True(t, c.Contains("A"), "refreshed entry must survive its first deadline")

	clk.add(60 * time.Millisecond) // 180ms
	require.Eventually(t, func() bool { return !c.Contains("A") }, time.Second, 2*time.Millisecond)
	assert.EqualValues(t, 1, fn.calls.Load())
}

// An expiration event whose generation was superseded must not evict.
func TestExpire_IgnoresStaleGeneration(t *testing.T) {
	t.Parallel()

	c := newCache[string](t, &counting{}, Options[string, string]{})
	impl := c.(*cache[string, string])
	ctx := context.Background()

	_, err := c.Compute(ctx, "A", time.Hour)
	require.NoError(t, err)
	s := impl.getShard("A")
	s.mu.Lock()
	old := s.m["A"].gen
	s.mu.Unlock()

	_, err = c.Compute(ctx, "A", time.Hour) // refresh: new generation
	require.NoError(t, err)

	impl.expire("A", old)
	assert.True(t, c.Contains("A"), "stale event evicted a refreshed entry")

	s.mu.Lock()
	cur := s.m["A"].gen
	s.mu.Unlock()
	impl.expire("A", cur)
	assert.False(t, c.Contains("A"))
}

func TestGetAll_AfterRemove(t *testing.T) {
	t.Parallel()

	c := newCache[string](t, &counting{}, Options[string, string]{})
	ctx := context.Background()

	_, err := c.Compute(ctx, "A", 0)
	require.NoError(t, err)
	vb, err := c.Compute(ctx, "B", 0)
	require.NoError(t, err)
	c.Remove("A")

	all, err := c.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"B": vb}, all)
}

func TestCompute_FailureIsEvicted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	fn := ComputeFunc[string, int](func(_ context.Context, k string) (int, error) {
		if calls.Add(1) == 1 {
			return 0, errBoom
		}
		return 42, nil
	})
	c := newCache[int](t, fn, Options[string, int]{})
	ctx := context.Background()

	_, err := c.Compute(ctx, "A", 0)
	require.ErrorIs(t, err, errBoom)
	var ce *ComputeError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "A", ce.Key)
	assert.Zero(t, c.Size(), "failed key must be absent")

	v, err := c.Compute(ctx, "A", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.EqualValues(t, 1, c.Stats().Failures)
}

// Every caller sharing a failed computation sees the same error.
func TestCompute_FailureShared(t *testing.T) {
	t.Parallel()

	g := newGate(func(context.Context, string, int64) (string, error) { return "", errBoom })
	c := newCache[string](t, g, Options[string, string]{})

	const N = 8
	errs := make(chan error, N)
	go func() {
		_, err := c.Compute(context.Background(), "A", 0)
		errs <- err
	}()
	<-g.started
	for i := 1; i < N; i++ {
		go func() {
			_, err := c.Compute(context.Background(), "A", 0)
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond) // let followers join the handle
	close(g.release)

	var first error
	for i := 0; i < N; i++ {
		err := <-errs
		require.ErrorIs(t, err, errBoom)
		if first == nil {
			first = err
		}
		assert.Same(t, first, err)
	}
	assert.EqualValues(t, 1, g.calls.Load())
	assert.Zero(t, c.Size())
}

func TestCompute_PanicBecomesError(t *testing.T) {
	t.Parallel()

	fn := ComputeFunc[string, string](func(context.Context, string) (string, error) {
		panic("kaboom")
	})
	c := newCache[string](t, fn, Options[string, string]{})

	_, err := c.Compute(context.Background(), "A", 0)
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.Zero(t, c.Size())
}

// A waiter whose context expires gets its own error; the computation and
// other callers are unaffected.
func TestCompute_WaiterInterrupted(t *testing.T) {
	t.Parallel()

	g := newGate(nil)
	c := newCache[string](t, g, Options[string, string]{})

	leader := make(chan string, 1)
	go func() {
		v, _ := c.Compute(context.Background(), "A", 0)
		leader <- v
	}()
	<-g.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Compute(ctx, "A", 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(g.release)
	assert.Equal(t, "A#1", <-leader)
	assert.True(t, c.Contains("A"))
}

// The computing caller is cancelled: its handle is discarded and a waiter
// with a live context retries instead of failing.
func TestCompute_CancelledLeaderRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	started := make(chan struct{}, 1)
	fn := ComputeFunc[string, string](func(ctx context.Context, k string) (string, error) {
		if calls.Add(1) == 1 {
			started <- struct{}{}
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "fresh", nil
	})
	c := newCache[string](t, fn, Options[string, string]{})

	lctx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Compute(lctx, "A", 0)
		leaderErr <- err
	}()
	<-started

	follower := make(chan string, 1)
	go func() {
		v, err := c.Compute(context.Background(), "A", 0)
		assert.NoError(t, err)
		follower <- v
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	assert.Equal(t, "fresh", <-follower)
	assert.EqualValues(t, 2, calls.Load())
	assert.Zero(t, c.Stats().Failures, "cancellation is not a failure")
}

func TestCompute_ErrCancelledRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	fn := ComputeFunc[string, string](func(context.Context, string) (string, error) {
		if calls.Add(1) == 1 {
			return "", fmt.Errorf("upstream gave up: %w", ErrCancelled)
		}
		return "ok", nil
	})
	c := newCache[string](t, fn, Options[string, string]{})

	v, err := c.Compute(context.Background(), "A", 0)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.EqualValues(t, 2, calls.Load())
}

// Cancelled runs reach Metrics.Load without an error, so error-labelled
// loads and Stats.Failures count the same runs.
func TestMetrics_CancelledLoadIsNotAnError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	fn := ComputeFunc[string, string](func(_ context.Context, k string) (string, error) {
		switch calls.Add(1) {
		case 1:
			return "", ErrCancelled
		case 2:
			return "", errBoom
		}
		return "v:" + k, nil
	})
	m := &recMetrics{}
	c := newCache[string](t, fn, Options[string, string]{Metrics: m})
	ctx := context.Background()

	_, err := c.Compute(ctx, "A", 0) // cancelled, then failed
	require.ErrorIs(t, err, errBoom)
	_, err = c.Compute(ctx, "A", 0)
	require.NoError(t, err)

	assert.EqualValues(t, 3, m.loads.Load())
	assert.EqualValues(t, 1, m.loadErrs.Load())
	assert.EqualValues(t, m.loadErrs.Load(), c.Stats().Failures)
}

// Remove racing an in-flight computation discards it: the caller still gets
// the value, but it is not cached and has no deadline.
func TestRemove_DuringComputeDiscards(t *testing.T) {
	t.Parallel()

	g := newGate(nil)
	c := newCache[string](t, g, Options[string, string]{})
	impl := c.(*cache[string, string])

	res := make(chan string, 1)
	go func() {
		v, _ := c.Compute(context.Background(), "A", time.Hour)
		res <- v
	}()
	<-g.started

	assert.True(t, c.Remove("A"))
	close(g.release)

	assert.Equal(t, "A#1", <-res)
	assert.False(t, c.Contains("A"))
	assert.Zero(t, c.Size())
	assert.Zero(t, impl.tracker.Len(), "discarded computation must not register a deadline")

	v, err := c.Compute(context.Background(), "A", 0)
	require.NoError(t, err)
	assert.Equal(t, "A#2", v)
}

func TestGetAll_WaitsAndPropagatesFailure(t *testing.T) {
	t.Parallel()

	g := newGate(func(_ context.Context, k string, _ int64) (string, error) {
		if k == "bad" {
			return "", errBoom
		}
		return "v:" + k, nil
	})
	c := newCache[string](t, g, Options[string, string]{})

	go func() { _, _ = c.Compute(context.Background(), "bad", 0) }()
	<-g.started

	errc := make(chan error, 1)
	go func() {
		_, err := c.GetAll(context.Background())
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(g.release)

	assert.ErrorIs(t, <-errc, errBoom)

	_, err := c.Compute(context.Background(), "good", 0)
	require.NoError(t, err)
	all, err := c.GetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"good": "v:good"}, all)
}

func TestGet_UsesDefaultTTL(t *testing.T) {
	t.Parallel()

	c := newCache[string](t, &counting{}, Options[string, string]{DefaultTTL: 20 * time.Millisecond})

	_, err := c.Get(context.Background(), "A")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !c.Contains("A") }, time.Second, 5*time.Millisecond)
}

func TestOnEvictAndMetrics(t *testing.T) {
	t.Parallel()

	m := &recMetrics{}
	reasons := make(chan string, 8)
	c := newCache[string](t, &counting{}, Options[string, string]{
		Metrics: m,
		OnEvict: func(k, v string, r EvictReason) {
			reasons <- k + ":" + r.String()
		},
	})
	ctx := context.Background()

	for _, k := range []string{"r", "c", "t"} {
		_, err := c.Compute(ctx, k, 0)
		require.NoError(t, err)
	}
	_, _ = c.Compute(ctx, "r", 0) // hit

	c.Remove("r")
	assert.Equal(t, "r:removed", <-reasons)

	_, err := c.Compute(ctx, "t", 10*time.Millisecond) // hit, now expiring
	require.NoError(t, err)
	assert.Equal(t, "t:ttl", <-reasons)

	c.Clear()
	assert.Equal(t, "c:cleared", <-reasons)

	assert.EqualValues(t, 3, m.misses.Load())
	assert.EqualValues(t, 2, m.hits.Load())
	assert.EqualValues(t, 3, m.loads.Load())
	assert.Equal(t, 1, m.evicted(EvictRemoved))
	assert.Equal(t, 1, m.evicted(EvictTTL))
	assert.Equal(t, 1, m.evicted(EvictCleared))

	st := c.Stats()
	assert.EqualValues(t, 3, st.Misses)
	assert.EqualValues(t, 2, st.Hits)
	assert.EqualValues(t, 3, st.Evictions)
}

func TestClose(t *testing.T) {
	t.Parallel()

	c := New[string, string](&counting{}, Options[string, string]{})
	_, err := c.Compute(context.Background(), "A", time.Hour)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Zero(t, c.Size())
	_, err = c.Compute(context.Background(), "A", 0)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.GetAll(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, c.Remove("A"))
	c.Clear()
}

// Once Close has flagged the cache, a caller that got past the entry checks
// cannot install a handle behind the final clear.
func TestCompute_NoHandleAfterClose(t *testing.T) {
	t.Parallel()

	c := New[string, string](&counting{}, Options[string, string]{})
	impl := c.(*cache[string, string])
	require.NoError(t, c.Close())

	s := impl.getShard("late")
	h, leader, ok := s.acquire("late", &impl.closed)
	assert.False(t, ok)
	assert.False(t, leader)
	assert.Nil(t, h)
	assert.Zero(t, c.Size())
	assert.Zero(t, impl.tracker.Len())
}

type point struct{ x, y int }

// Any comparable key works, not only strings and integers.
func TestCompute_ComparableKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var calls atomic.Int64
	pc := New[point, int](ComputeFunc[point, int](func(_ context.Context, p point) (int, error) {
		calls.Add(1)
		return p.x*10 + p.y, nil
	}), Options[point, int]{Shards: 8})
	defer func() { _ = pc.Close() }()

	for i := 0; i < 2; i++ {
		v, err := pc.Compute(ctx, point{1, 2}, time.Second)
		require.NoError(t, err)
		assert.Equal(t, 12, v)
	}
	v, err := pc.Compute(ctx, point{2, 1}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 21, v)
	assert.EqualValues(t, 2, calls.Load())
	assert.True(t, pc.Contains(point{1, 2}))
	assert.True(t, pc.Remove(point{2, 1}))

	fc := New[float64, string](ComputeFunc[float64, string](func(_ context.Context, f float64) (string, error) {
		return fmt.Sprint(f), nil
	}), Options[float64, string]{})
	defer func() { _ = fc.Close() }()

	fv, err := fc.Compute(ctx, 1.5, 0)
	require.NoError(t, err)
	assert.Equal(t, "1.5", fv)
	all, err := fc.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[float64]string{1.5: "1.5"}, all)
}

func TestNew_NilComputablePanics(t *testing.T) {
	t.Parallel()

	assert.PanicsWithValue(t, "memo: nil Computable", func() {
		New[string, string](nil, Options[string, string]{})
	})
}

func TestEvictReasonString(t *testing.T) {
	t.Parallel()

	for r, want := range map[EvictReason]string{
		EvictTTL: "ttl", EvictRemoved: "removed", EvictCleared: "cleared", EvictFailed: "failed", 99: "unknown",
	} {
		assert.Equal(t, want, r.String())
	}
	assert.True(t, strings.HasPrefix((&ComputeError{Key: "k", Err: errBoom}).Error(), "memo: compute k"))
}
