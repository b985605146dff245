package memo

import (
	"log/slog"
	"time"

	"github.com/IvanBrykalov/memocache/expiry"
)

// EvictReason explains why an entry was removed.
type EvictReason int

const (
	// EvictTTL: the entry's deadline passed.
	EvictTTL EvictReason = iota
	// EvictRemoved: removed by Remove.
	EvictRemoved
	// EvictCleared: removed by Clear or Close.
	EvictCleared
	// EvictFailed: the computation failed; the entry is dropped so the
	// next call retries.
	EvictFailed
)

func (r EvictReason) String() string {
	switch r {
	case EvictTTL:
		return "ttl"
	case EvictRemoved:
		return "removed"
	case EvictCleared:
		return "cleared"
	case EvictFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	// Load observes one run of the Computable. err is the *ComputeError
	// returned to callers when the run failed, and nil when it succeeded or
	// was cancelled (cancelled runs are retried, not failures).
	Load(d time.Duration, err error)
	Evict(reason EvictReason)
	Size(entries int)
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock = expiry.Clock

// Options configures the cache. Zero values are safe;
// defaults are applied in New():
//   - Shards <= 0  => auto (≈ 2*GOMAXPROCS, power of two)
//   - nil Metrics  => NoopMetrics
//   - nil Logger   => slog.Default()
//   - nil Clock    => monotonic clock
type Options[K comparable, V any] struct {
	// Shards defines the number of shards, rounded up to a power of two.
	Shards int

	// DefaultTTL is the TTL used by Get (0 = entries never expire).
	// A cache used only through Get behaves like a single uniform timer.
	DefaultTTL time.Duration

	// OnEvict is called after a completed entry leaves the cache, outside
	// any cache lock. In-flight and failed entries carry no value and are
	// not reported. TTL evictions run it on the expiration goroutine, which
	// Close waits for: OnEvict must not call Close.
	OnEvict func(k K, v V, reason EvictReason)

	Metrics Metrics
	Logger  *slog.Logger

	// Clock allows overriding the time source for deadlines (tests).
	Clock Clock

	// EventBuffer is the capacity of the expiration event channel
	// (0 = synchronous hand-off).
	EventBuffer int

	// MaxWait caps how long expiration detection sleeps between checks
	// (0 = expiry.DefaultMaxWait).
	MaxWait time.Duration
}

func (o Options[K, V]) withDefaults() Options[K, V] {
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
