package memo

import (
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/memocache/internal/util"
)

// shard is an independent partition of the cache with its own lock and
// key->handle map. Every map mutation, and every deadline registration for
// a key of this shard, happens under mu so the handle's gen stays in step
// with the tracker.
type shard[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*handle[V]

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	hits   util.Counter
	misses util.Counter
}

func newShard[K comparable, V any]() *shard[K, V] {
	return &shard[K, V]{m: make(map[K]*handle[V])}
}

// acquire returns k's handle, installing a new pending one if absent.
// leader is true for the single caller that installed it and must run the
// computation. closed is read under mu: Close sets it before clearing the
// shards, so once it is observed no handle can be installed behind the
// clear. ok is false in that case.
func (s *shard[K, V]) acquire(k K, closed *atomic.Bool) (h *handle[V], leader, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if closed.Load() {
		return nil, false, false
	}
	if h, found := s.m[k]; found {
		s.hits.Add(1)
		return h, false, true
	}
	h = newHandle[V]()
	s.m[k] = h
	s.misses.Add(1)
	return h, true, true
}

// takeLocked removes and returns k's handle.
func (s *shard[K, V]) takeLocked(k K) (*handle[V], bool) {
	h, ok := s.m[k]
	if ok {
		delete(s.m, k)
	}
	return h, ok
}

// currentLocked reports whether h is still the handle stored for k.
func (s *shard[K, V]) currentLocked(k K, h *handle[V]) bool {
	return s.m[k] == h
}

// entry is a key/handle pair captured by snapshot.
type entry[K comparable, V any] struct {
	key K
	h   *handle[V]
}

func (s *shard[K, V]) snapshot(dst []entry[K, V]) []entry[K, V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, h := range s.m {
		dst = append(dst, entry[K, V]{key: k, h: h})
	}
	return dst
}

// Len returns the number of handles in this shard.
func (s *shard[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
