package expiry

import (
	"log/slog"
	"time"
)

// DefaultMaxWait bounds how long the detection loop sleeps between checks
// when no nearer deadline is pending.
const DefaultMaxWait = time.Second

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures a Tracker. The zero value is usable:
//   - nil Clock    => monotonic clock anchored at New
//   - nil Logger   => slog.Default()
//   - MaxWait <= 0 => DefaultMaxWait
type Options struct {
	// Clock overrides the time source. The loop re-reads it at least every
	// MaxWait, so an injected clock that jumps forward is noticed.
	Clock Clock

	// Logger receives lifecycle and expiration records.
	Logger *slog.Logger

	// Buffer is the capacity of the Events channel. 0 means every event is
	// handed over synchronously; the emitter blocks until it is received.
	Buffer int

	// MaxWait caps a single sleep of the detection loop.
	MaxWait time.Duration
}

// monoClock reports UnixNano derived from a monotonic reading, so wall
// clock steps do not move deadlines.
type monoClock struct{ base time.Time }

func (c monoClock) NowUnixNano() int64 {
	return c.base.UnixNano() + int64(time.Since(c.base))
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = monoClock{base: time.Now()}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Buffer < 0 {
		o.Buffer = 0
	}
	if o.MaxWait <= 0 {
		o.MaxWait = DefaultMaxWait
	}
	return o
}
