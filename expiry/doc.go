// Package expiry tracks per-key deadlines and reports expired keys on a
// channel.
//
// A Tracker holds at most one deadline per key in a min-heap. One background
// goroutine sleeps until the nearest deadline, pops every record that has
// passed and sends an Event for each, in deadline order. Sends block until
// the consumer receives them, so no expiration is ever dropped. Explicit
// Unregister and Clear never produce events.
//
//	t := expiry.New[string](expiry.Options{})
//	defer t.Stop()
//
//	t.Register("session:42", 30*time.Second)
//	for ev := range t.Events() {
//	    evict(ev.Key, ev.Gen)
//	}
//
// Each Register returns a generation number carried by the resulting Event.
// Consumers that may refresh a key concurrently with its expiration compare
// generations to ignore events for a deadline that has since been replaced.
package expiry
