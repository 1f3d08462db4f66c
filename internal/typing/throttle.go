package typing

import (
	"sync"
	"time"
)

// DefaultThrottle caps typing=true writes during continuous input.
const DefaultThrottle = 500 * time.Millisecond

// Throttle rate-limits typing notifications on the caller side: at most one
// positive write per interval of continuous typing. Clearing (blur, send) is
// never throttled — the flag must drop immediately.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		interval = DefaultThrottle
	}
	return &Throttle{interval: interval, now: time.Now}
}

// Allow reports whether a typing=true write may go out now, consuming the
// slot when it does.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}

// Reset clears the window so the next Allow passes, used after an immediate
// typing=false write.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = time.Time{}
}
