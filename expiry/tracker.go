package expiry

import (
	"container/heap"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Event reports that Key's deadline passed. Gen is the generation returned
// by the Register call that set the deadline.
type Event[K comparable] struct {
	Key      K
	Gen      uint64
	Deadline time.Time
}

// Tracker keeps at most one deadline per key and emits an Event on Events()
// when a deadline passes. A single background goroutine sleeps until the
// nearest deadline (capped by MaxWait) and is woken early when a
// registration becomes the new nearest one.
//
// All methods are safe for concurrent use.
type Tracker[K comparable] struct {
	mu      sync.Mutex
	byKey   map[K]*record[K]
	heap    deadlines[K]
	seq     uint64
	stopped bool

	clock   Clock
	log     *slog.Logger
	maxWait time.Duration

	wake     chan struct{} // cap 1; poked when the heap minimum moves earlier
	stop     chan struct{}
	done     chan struct{}
	events   chan Event[K]
	stopOnce sync.Once
}

// New creates a Tracker and starts its detection goroutine.
// Call Stop to release it.
func New[K comparable](opt Options) *Tracker[K] {
	opt = opt.withDefaults()
	t := &Tracker[K]{
		byKey:   make(map[K]*record[K]),
		clock:   opt.Clock,
		log:     opt.Logger,
		maxWait: opt.MaxWait,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		events:  make(chan Event[K], opt.Buffer),
	}
	go t.run()
	return t
}

// Register sets k's deadline to now+ttl, replacing any earlier one, and
// returns the generation of the new record.
// A non-positive ttl means "never expire": any record for k is dropped and
// none is kept. After Stop, Register does nothing and returns 0.
func (t *Tracker[K]) Register(k K, ttl time.Duration) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return 0
	}
	t.seq++
	gen := t.seq

	r, exists := t.byKey[k]
	if ttl <= 0 {
		if exists {
			t.removeLocked(r)
		}
		return gen
	}

	now := t.clock.NowUnixNano()
	at := now + int64(ttl)
	if at < now { // overflow: effectively never
		at = math.MaxInt64
	}

	if exists {
		r.at, r.gen = at, gen
		heap.Fix(&t.heap, r.index)
	} else {
		r = &record[K]{key: k, at: at, gen: gen}
		heap.Push(&t.heap, r)
		t.byKey[k] = r
	}
	if t.heap[0] == r {
		t.poke()
	}
	return gen
}

// Unregister drops k's deadline and reports whether one existed.
// No event is emitted. After Stop it does nothing and returns false.
func (t *Tracker[K]) Unregister(k K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return false
	}
	r, ok := t.byKey[k]
	if !ok {
		return false
	}
	t.removeLocked(r)
	return true
}

// Clear drops every deadline without emitting events and returns how many
// were dropped.
func (t *Tracker[K]) Clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.heap)
	clear(t.byKey)
	clear(t.heap)
	t.heap = t.heap[:0]
	return n
}

// Deadline returns k's pending deadline, if any.
func (t *Tracker[K]) Deadline(k K) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.byKey[k]
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(0, r.at), true
}

// Len returns the number of pending deadlines.
func (t *Tracker[K]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.heap)
}

// Events returns the channel expirations are delivered on, in deadline
// order. Delivery blocks until the event is received; nothing is dropped.
// The channel is closed by Stop.
func (t *Tracker[K]) Events() <-chan Event[K] { return t.events }

// Stop terminates the detection goroutine and waits for it to exit.
// No event is delivered once Stop returns. Stop is idempotent.
func (t *Tracker[K]) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopped = true
		pending := len(t.heap)
		t.mu.Unlock()

		close(t.stop)
		t.log.Debug("expiry: stopping tracker", slog.Int("pending", pending))
	})
	<-t.done
}

// -------------------- internals --------------------

func (t *Tracker[K]) removeLocked(r *record[K]) {
	heap.Remove(&t.heap, r.index)
	delete(t.byKey, r.key)
}

// poke wakes the loop without blocking; one pending wakeup is enough.
func (t *Tracker[K]) poke() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Tracker[K]) run() {
	defer close(t.done)
	defer close(t.events)

	timer := time.NewTimer(t.maxWait)
	defer timer.Stop()

	for {
		expired, wait := t.step()
		for _, ev := range expired {
			select {
			case t.events <- ev:
			case <-t.stop:
				return
			}
		}
		if len(expired) > 0 {
			// More deadlines may have passed while delivering.
			continue
		}

		timer.Reset(wait)
		select {
		case <-t.stop:
			return
		case <-t.wake:
		case <-timer.C:
		}
	}
}

// step pops every record whose deadline has passed and returns the events
// to deliver plus how long to sleep before the next check.
// A panic (e.g. from an injected Clock) is logged and the loop carries on.
func (t *Tracker[K]) step() (expired []Event[K], wait time.Duration) {
	defer func() {
		if p := recover(); p != nil {
			t.log.Warn("expiry: detection step panicked", slog.Any("panic", p))
			expired, wait = nil, t.maxWait
		}
	}()

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.NowUnixNano()
	for len(t.heap) > 0 && t.heap[0].at <= now {
		r := heap.Pop(&t.heap).(*record[K])
		delete(t.byKey, r.key)
		expired = append(expired, Event[K]{Key: r.key, Gen: r.gen, Deadline: time.Unix(0, r.at)})
		t.log.Debug("expiry: deadline reached", slog.Any("key", r.key), slog.Uint64("gen", r.gen))
	}

	wait = t.maxWait
	if len(t.heap) > 0 {
		if d := time.Duration(t.heap[0].at - now); d < wait {
			wait = d
		}
	}
	return expired, wait
}
