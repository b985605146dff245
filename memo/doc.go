// Package memo provides a generic, sharded memoizing cache: it stores the
// result of an expensive, idempotent computation per key, runs that
// computation at most once for concurrent callers of the same key, and
// optionally expires entries after a per-key TTL.
//
// Design
//
//   - Concurrency: keys are spread over shards, each protected by a mutex
//     and holding a map[K]*handle. The first caller for a missing key
//     installs a pending handle under the shard lock and runs the
//     Computable outside it; everyone else waits on the handle's done
//     channel and observes the same value or error.
//
//   - Failures: an error (or panic) from the Computable is delivered to all
//     waiters as a *ComputeError and the handle is dropped before they wake,
//     so the next call retries. ErrCancelled, or the computing caller's own
//     context error after cancellation, discards the handle and waiting
//     callers retry against a fresh one.
//
//   - Expiration: successful calls register now+ttl with an expiry.Tracker
//     (refresh on access). A bridge goroutine applies the tracker's events
//     back to the store in order. Each deadline carries a generation and an
//     event only removes a handle still stamped with it. ttl <= 0 never
//     expires; Options.DefaultTTL with Get gives a uniform deadline.
//
//   - Removal: Remove and Clear drop handles and deadlines together under
//     the shard lock. A computation in flight for a removed key still
//     answers the callers already waiting on it but is not cached.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Load/Evict/Size signals.
//     NoopMetrics is the default; see metrics/prom and metrics/otelmetrics.
//
// Basic usage
//
//	c := memo.New[string, string](memo.ComputeFunc[string, string](
//	    func(ctx context.Context, k string) (string, error) {
//	        return fetch(ctx, k) // expensive, idempotent
//	    }), memo.Options[string, string]{})
//	defer c.Close()
//
//	v, err := c.Compute(ctx, "a", time.Second) // computed
//	v, err = c.Compute(ctx, "a", time.Second)  // cached
//	c.Remove("a")
//
// Thread-safety & complexity
//
// All methods are safe for concurrent use. Compute on a present key costs
// one shard lock plus a deadline refresh (O(log n) in the tracker heap).
package memo
