package game

import (
	"sync"
	"time"
)

// Timer is a single-shot deferred task. A Game owns at most one start,
// one delete and one command timer; arming always cancels the previous
// shot first, so a stale callback can never race a fresh one.
type Timer struct {
	mu sync.Mutex
	t  *time.Timer
	d  time.Duration
	fn func()
}

// NewTimer returns an unarmed timer.
func NewTimer() *Timer {
	return &Timer{}
}

// Arm cancels any pending shot and schedules fn to run once after d.
func (t *Timer) Arm(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		t.t.Stop()
	}
	t.d = d
	t.fn = fn
	t.t = time.AfterFunc(d, fn)
}

// Rearm restarts the timer with its previous duration and callback.
// A timer that was never armed stays unarmed.
func (t *Timer) Rearm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fn == nil {
		return
	}
	if t.t != nil {
		t.t.Stop()
	}
	t.t = time.AfterFunc(t.d, t.fn)
}

// Cancel stops the pending shot, if any. The duration and callback are
// kept so Rearm still works.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		t.t.Stop()
	}
}
