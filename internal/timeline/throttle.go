package timeline

import "time"

// DefaultThrottleInterval bounds drag recomputation to about 60 Hz.
const DefaultThrottleInterval = time.Second / 60

// Throttle limits how often an update runs without any goroutines or
// timers of its own. The first call after a quiet interval runs at once;
// calls inside the interval overwrite a single pending slot, which the
// owner's event loop runs via Flush once the interval has elapsed.
type Throttle struct {
	interval time.Duration
	now      func() time.Time
	last     time.Time
	ran      bool
	pending  func()
}

// NewThrottle creates a throttle. A nil clock uses time.Now.
func NewThrottle(interval time.Duration, now func() time.Time) *Throttle {
	if now == nil {
		now = time.Now
	}
	if interval <= 0 {
		interval = DefaultThrottleInterval
	}
	return &Throttle{interval: interval, now: now}
}

// Do runs fn now if the interval has elapsed, otherwise stores it as the
// pending update, replacing any previous one.
func (t *Throttle) Do(fn func()) {
	now := t.now()
	if !t.ran || now.Sub(t.last) >= t.interval {
		t.pending = nil
		t.run(fn, now)
		return
	}
	t.pending = fn
}

// Flush runs the pending update if one exists and the interval has elapsed.
// It reports whether an update ran.
func (t *Throttle) Flush() bool {
	if t.pending == nil {
		return false
	}
	now := t.now()
	if now.Sub(t.last) < t.interval {
		return false
	}
	fn := t.pending
	t.pending = nil
	t.run(fn, now)
	return true
}

// Cancel drops the pending update without running it.
func (t *Throttle) Cancel() {
	t.pending = nil
}

// Pending reports whether an update is waiting to run.
func (t *Throttle) Pending() bool {
	return t.pending != nil
}

func (t *Throttle) run(fn func(), now time.Time) {
	t.last = now
	t.ran = true
	fn()
}
