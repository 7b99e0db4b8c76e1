package game

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerArmFiresOnce(t *testing.T) {
	var fired atomic.Int32
	tm := NewTimer()
	tm.Arm(10*time.Millisecond, func() { fired.Add(1) })

	waitFor(t, time.Second, func() bool { return fired.Load() == 1 })
	time.Sleep(30 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("single-shot timer fired %d times", got)
	}
}

func TestTimerCancel(t *testing.T) {
	var fired atomic.Int32
	tm := NewTimer()
	tm.Arm(15*time.Millisecond, func() { fired.Add(1) })
	tm.Cancel()

	time.Sleep(50 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Errorf("cancelled timer fired %d times", got)
	}
}

func TestTimerArmSupersedesPrevious(t *testing.T) {
	var first, second atomic.Int32
	tm := NewTimer()
	tm.Arm(15*time.Millisecond, func() { first.Add(1) })
	tm.Arm(15*time.Millisecond, func() { second.Add(1) })

	waitFor(t, time.Second, func() bool { return second.Load() == 1 })
	if got := first.Load(); got != 0 {
		t.Errorf("superseded callback fired %d times", got)
	}
}

func TestTimerRearm(t *testing.T) {
	var fired atomic.Int32
	tm := NewTimer()
	tm.Arm(15*time.Millisecond, func() { fired.Add(1) })
	tm.Cancel()
	tm.Rearm()

	waitFor(t, time.Second, func() bool { return fired.Load() == 1 })
}

func TestTimerRearmUnarmed(t *testing.T) {
	tm := NewTimer()
	tm.Rearm() // must be a no-op, not a panic
	tm.Cancel()
}
