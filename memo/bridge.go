package memo

import "github.com/IvanBrykalov/memocache/expiry"

// bridge is the single consumer of a tracker's expiration events. It applies
// them to the store in the order they were emitted and exits once the
// tracker closes the channel.
type bridge[K comparable] struct {
	events <-chan expiry.Event[K]
	apply  func(k K, gen uint64)
	done   chan struct{}
}

func startBridge[K comparable](events <-chan expiry.Event[K], apply func(k K, gen uint64)) *bridge[K] {
	b := &bridge[K]{
		events: events,
		apply:  apply,
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *bridge[K]) run() {
	defer close(b.done)
	for ev := range b.events {
		b.apply(ev.Key, ev.Gen)
	}
}

// wait blocks until the event channel is closed and drained.
func (b *bridge[K]) wait() { <-b.done }
