package muxcore

import "time"

/*------------------------------------------------------------------
 *
 * Purpose: Watchdog owns the 5-second repeating interval EventLoop.Run
 *          polls against and binds to Link.Tick (spec section 4.F, 4.G).
 *          The liveness decisions themselves (PING emission, silence
 *          timeout, ping-threshold CLOSING transition) live on Link,
 *          since they mutate state only Link owns; Watchdog's job is
 *          purely to track when the next tick is due, so EventLoop.Run
 *          has one place to ask instead of keeping its own duplicate
 *          "time since last tick" bookkeeping.
 *
 *------------------------------------------------------------------*/

// Watchdog tracks the interval between Link.Tick calls. unix.Poll cannot
// select on a Go channel while blocked in the syscall, so unlike a plain
// time.Ticker, Watchdog exposes "how long until due" (Remaining, fed to
// Poll's timeout) and "is it due" (Due, checked after Poll returns)
// instead of a ticker channel.
type Watchdog struct {
	Interval time.Duration
	last     time.Time
}

// NewWatchdog builds a Watchdog at the given interval (spec default 5s),
// due for its first tick immediately.
func NewWatchdog(interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watchdog{Interval: interval}
}

// Remaining reports the time until the next tick is due, clamped to a
// minimum of 0 (never negative, the shape unix.Poll's timeout needs).
func (w *Watchdog) Remaining() time.Duration {
	if w.last.IsZero() {
		return 0
	}
	d := w.Interval - time.Since(w.last)
	if d < 0 {
		d = 0
	}
	return d
}

// Due reports whether Interval has elapsed since the last Reset (or
// construction).
func (w *Watchdog) Due() bool {
	return w.last.IsZero() || time.Since(w.last) >= w.Interval
}

// Reset marks now as the last tick time, rearming Due/Remaining for
// another full Interval.
func (w *Watchdog) Reset() {
	w.last = time.Now()
}
