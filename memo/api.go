package memo

import (
	"context"
	"time"
)

// Cache memoizes a Computable per key.
// All methods are safe for concurrent use by multiple goroutines.
type Cache[K comparable, V any] interface {
	// Compute returns the memoized value for k, running the Computable if no
	// entry exists. Concurrent callers for the same key share one
	// computation and observe the same value or the same error.
	// On success the entry's deadline is (re)set to now+ttl; a non-positive
	// ttl means the entry never expires.
	// ctx bounds only this caller's wait; it is also handed to the
	// Computable when this caller is the one that runs it.
	Compute(ctx context.Context, k K, ttl time.Duration) (V, error)

	// Get is Compute with Options.DefaultTTL.
	Get(ctx context.Context, k K) (V, error)

	// Remove deletes k and its deadline. Returns false if k was absent.
	// A computation in flight for k is discarded: callers already waiting
	// still receive its result, but it is not cached.
	Remove(k K) bool

	// Clear removes every entry and every deadline.
	Clear()

	// GetAll returns a snapshot of the entries present at call time,
	// waiting for in-flight ones. A failed entry aborts with its error.
	GetAll(ctx context.Context) (map[K]V, error)

	// Size returns the number of entries, in-flight ones included.
	Size() int

	// Contains reports whether k holds a completed value.
	Contains(k K) bool

	// Stats returns cumulative counters since New.
	Stats() Stats

	// Close stops expiration, drops all entries and rejects further calls
	// with ErrClosed. It is safe to call more than once.
	Close() error
}

// Stats are cumulative cache counters.
type Stats struct {
	Hits      int64 // Compute found an entry (possibly in flight)
	Misses    int64 // Compute started a computation
	Failures  int64 // computations that ended in an error
	Evictions int64 // entries removed for any reason
}
