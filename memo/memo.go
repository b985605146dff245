package memo

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/memocache/expiry"
	"github.com/IvanBrykalov/memocache/internal/util"
)

// cache is a sharded memoizing store with per-key expiration.
// All methods are safe for concurrent use by multiple goroutines.
type cache[K comparable, V any] struct {
	shards []*shard[K, V]
	hash   func(K) uint64
	fn     Computable[K, V]
	opt    Options[K, V]
	log    *slog.Logger

	tracker *expiry.Tracker[K]
	bridge  *bridge[K]

	closed    atomic.Bool
	closeOnce sync.Once

	failures  util.Counter
	evictions util.Counter
}

// New constructs a cache around fn and starts its expiration goroutines.
// Close must be called to release them.
func New[K comparable, V any](fn Computable[K, V], opt Options[K, V]) Cache[K, V] {
	if fn == nil {
		panic("memo: nil Computable")
	}
	opt = opt.withDefaults()

	n := util.ShardCount(opt.Shards)
	shards := make([]*shard[K, V], n)
	for i := range shards {
		shards[i] = newShard[K, V]()
	}

	c := &cache[K, V]{
		shards: shards,
		hash:   util.Hash[K],
		fn:     fn,
		opt:    opt,
		log:    opt.Logger,
	}
	c.tracker = expiry.New[K](expiry.Options{
		Clock:   opt.Clock,
		Logger:  opt.Logger,
		Buffer:  opt.EventBuffer,
		MaxWait: opt.MaxWait,
	})
	c.bridge = startBridge(c.tracker.Events(), c.expire)
	return c
}

// ---- Cache[K,V] implementation ----

// Compute returns k's memoized value, computing it at most once across
// concurrent callers.
func (c *cache[K, V]) Compute(ctx context.Context, k K, ttl time.Duration) (V, error) {
	var zero V
	s := c.getShard(k)
	for {
		h, leader, ok := s.acquire(k, &c.closed)
		if !ok {
			return zero, ErrClosed
		}
		if leader {
			c.opt.Metrics.Miss()
			c.load(ctx, s, k, h, ttl)
		} else {
			c.opt.Metrics.Hit()
		}

		if err := h.wait(ctx); err != nil {
			return zero, err
		}
		switch h.st {
		case stateCompleted:
			if !leader {
				c.refresh(s, k, h, ttl)
			}
			return h.val, nil
		case stateFailed:
			return zero, h.err
		}

		// Cancelled: the handle is gone; retry unless this caller is done.
		if err := ctx.Err(); err != nil {
			return zero, err
		}
	}
}

// Get is Compute with the configured DefaultTTL.
func (c *cache[K, V]) Get(ctx context.Context, k K) (V, error) {
	return c.Compute(ctx, k, c.opt.DefaultTTL)
}

// Remove deletes k and its deadline. Returns true if an entry existed.
func (c *cache[K, V]) Remove(k K) bool {
	if c.closed.Load() {
		return false
	}
	s := c.getShard(k)

	s.mu.Lock()
	h, ok := s.takeLocked(k)
	c.tracker.Unregister(k)
	s.mu.Unlock()

	if ok {
		c.evicted(k, h, EvictRemoved)
		c.opt.Metrics.Size(c.Size())
	}
	return ok
}

// Clear removes every entry together with its deadline, shard by shard.
func (c *cache[K, V]) Clear() {
	if c.closed.Load() {
		return
	}
	c.clear(EvictCleared)
	c.opt.Metrics.Size(c.Size())
}

// GetAll snapshots the present handles and waits for each, like Compute.
func (c *cache[K, V]) GetAll(ctx context.Context) (map[K]V, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	var entries []entry[K, V]
	for _, s := range c.shards {
		entries = s.snapshot(entries)
	}

	out := make(map[K]V, len(entries))
	for _, e := range entries {
		if err := e.h.wait(ctx); err != nil {
			return nil, err
		}
		switch e.h.st {
		case stateCompleted:
			out[e.key] = e.h.val
		case stateFailed:
			return nil, e.h.err
		}
	}
	return out, nil
}

// Size returns the number of handles across all shards.
func (c *cache[K, V]) Size() int {
	total := 0
	for _, s := range c.shards {
		total += s.Len()
	}
	return total
}

// Contains reports whether k currently holds a completed value.
func (c *cache[K, V]) Contains(k K) bool {
	s := c.getShard(k)
	s.mu.Lock()
	h, ok := s.m[k]
	s.mu.Unlock()
	return ok && h.completed()
}

// Stats sums the per-shard and cache-wide counters.
func (c *cache[K, V]) Stats() Stats {
	st := Stats{
		Failures:  c.failures.Load(),
		Evictions: c.evictions.Load(),
	}
	for _, s := range c.shards {
		st.Hits += s.hits.Load()
		st.Misses += s.misses.Load()
	}
	return st
}

// Close stops the tracker, waits for the bridge to drain, then drops all
// entries. Computations still in flight finish for their current waiters.
func (c *cache[K, V]) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.tracker.Stop()
		c.bridge.wait()
		c.clear(EvictCleared)
		c.opt.Metrics.Size(0)
		c.log.Debug("memo: cache closed")
	})
	return nil
}

// ---- internals ----

// load runs the Computable for the leader of h and publishes the outcome.
// The shard map is updated before waiters are released, so by the time any
// caller sees a failure the key is already absent.
func (c *cache[K, V]) load(ctx context.Context, s *shard[K, V], k K, h *handle[V], ttl time.Duration) {
	start := time.Now()
	v, err := c.call(ctx, k)
	elapsed := time.Since(start)

	st := stateCompleted
	switch {
	case err == nil:
	case errors.Is(err, ErrCancelled), ctx.Err() != nil && errors.Is(err, ctx.Err()):
		st = stateCancelled
	default:
		st = stateFailed
		err = &ComputeError{Key: k, Err: err}
		c.failures.Add(1)
	}
	if st == stateFailed {
		c.opt.Metrics.Load(elapsed, err)
	} else {
		c.opt.Metrics.Load(elapsed, nil)
	}

	s.mu.Lock()
	current := s.currentLocked(k, h)
	switch {
	case !current:
		// Removed or cleared while computing: deliver to current waiters only.
	case st == stateCompleted:
		h.gen = c.tracker.Register(k, ttl)
	default:
		delete(s.m, k)
	}
	s.mu.Unlock()

	h.resolve(v, err, st)

	switch {
	case !current:
		c.log.Debug("memo: discarded computation for removed key", slog.Any("key", k))
	case st == stateFailed:
		c.evicted(k, h, EvictFailed)
	case st == stateCancelled:
		c.log.Debug("memo: computation cancelled, will retry", slog.Any("key", k))
	}
	c.opt.Metrics.Size(c.Size())
}

// call invokes the Computable, turning a panic into a PanicError.
func (c *cache[K, V]) call(ctx context.Context, k K) (v V, err error) {
	defer func() {
		if p := recover(); p != nil {
			c.log.Warn("memo: computation panicked", slog.Any("key", k), slog.Any("panic", p))
			err = &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return c.fn.Compute(ctx, k)
}

// refresh re-arms k's deadline after a hit, if h is still the stored handle.
func (c *cache[K, V]) refresh(s *shard[K, V], k K, h *handle[V], ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentLocked(k, h) {
		h.gen = c.tracker.Register(k, ttl)
	}
}

// expire is the eviction primitive applied by the bridge. It removes k only
// if the stored handle still carries the expired deadline's generation, so
// an event racing a refresh or a recomputation is ignored. It never calls
// back into the tracker: the record is already gone.
func (c *cache[K, V]) expire(k K, gen uint64) {
	s := c.getShard(k)

	s.mu.Lock()
	h, ok := s.m[k]
	ok = ok && h.gen == gen
	if ok {
		delete(s.m, k)
	}
	s.mu.Unlock()

	if ok {
		c.evicted(k, h, EvictTTL)
		c.opt.Metrics.Size(c.Size())
	}
}

// clear empties every shard and drops the matching deadlines under the
// shard lock, then reports the evictions outside it.
func (c *cache[K, V]) clear(reason EvictReason) {
	for _, s := range c.shards {
		s.mu.Lock()
		old := s.m
		s.m = make(map[K]*handle[V])
		for k := range old {
			c.tracker.Unregister(k)
		}
		s.mu.Unlock()

		for k, h := range old {
			c.evicted(k, h, reason)
		}
	}
}

// evicted records an eviction and calls OnEvict for completed entries.
func (c *cache[K, V]) evicted(k K, h *handle[V], reason EvictReason) {
	c.evictions.Add(1)
	c.opt.Metrics.Evict(reason)
	c.log.Debug("memo: evicted", slog.Any("key", k), slog.String("reason", reason.String()))
	if cb := c.opt.OnEvict; cb != nil && h.completed() {
		cb(k, h.val, reason)
	}
}

// getShard picks a shard by hashing the key.
func (c *cache[K, V]) getShard(k K) *shard[K, V] {
	return c.shards[util.ShardIndex(c.hash(k), len(c.shards))]
}
