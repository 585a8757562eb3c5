package exchange

import (
	"time"
)

// Clock creates watchdog timers. Injecting it keeps timeout behavior
// deterministic under test instead of wall-clock-dependent.
type Clock interface {
	NewTimer(d time.Duration) Timer
}

// Timer is the subset of time.Timer the manager needs.
type Timer interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

type realClock struct{}

// RealClock returns a Clock backed by time.Timer.
func RealClock() Clock {
	return realClock{}
}

func (realClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) C() <-chan time.Time {
	return r.t.C
}

func (r *realTimer) Reset(d time.Duration) {
	// Drain a fired-but-unread timer so Reset does not leave a stale tick.
	if !r.t.Stop() {
		select {
		case <-r.t.C:
		default:
		}
	}
	r.t.Reset(d)
}

func (r *realTimer) Stop() {
	r.t.Stop()
}
