package memo

import "context"

// Computable produces the value for a key. It may block and may fail.
// The cache calls it at most once per key population, with the context of
// the caller that triggered the computation.
type Computable[K comparable, V any] interface {
	Compute(ctx context.Context, k K) (V, error)
}

// ComputeFunc adapts an ordinary function to Computable.
type ComputeFunc[K comparable, V any] func(ctx context.Context, k K) (V, error)

// Compute calls f(ctx, k).
func (f ComputeFunc[K, V]) Compute(ctx context.Context, k K) (V, error) { return f(ctx, k) }
