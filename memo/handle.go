package memo

import "context"

type state uint8

const (
	statePending state = iota
	stateCompleted
	stateFailed
	stateCancelled
)

// handle is one (possibly in-flight) computation for a key, shared by every
// caller that asked for the key while it was present.
//
// val, err and st are written once by the computing goroutine before done
// is closed; readers only look at them after <-done.
type handle[V any] struct {
	done chan struct{}
	val  V
	err  error
	st   state

	// Generation of the deadline registered for this handle (0 = none).
	// Guarded by the owning shard's mutex.
	gen uint64
}

func newHandle[V any]() *handle[V] {
	return &handle[V]{done: make(chan struct{})}
}

// resolve publishes the outcome and wakes every waiter. Called exactly once.
func (h *handle[V]) resolve(v V, err error, st state) {
	h.val, h.err, h.st = v, err, st
	close(h.done)
}

// wait blocks until the handle resolves or ctx is done.
// An already resolved handle wins over a cancelled ctx.
func (h *handle[V]) wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// completed reports whether the handle resolved with a value.
func (h *handle[V]) completed() bool {
	select {
	case <-h.done:
		return h.st == stateCompleted
	default:
		return false
	}
}
