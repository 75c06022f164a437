package clock

import (
	"testing"
	"time"
)

func TestAfterFuncFiresOnAdvance(t *testing.T) {
	v := NewVirtual()
	fired := false
	v.AfterFunc(5*time.Second, func() { fired = true })
	v.Advance(4 * time.Second)
	if fired {
		t.Fatal("should not fire before deadline")
	}
	v.Advance(1 * time.Second)
	if !fired {
		t.Fatal("expected fire at deadline")
	}
}

func TestStopPreventsFiring(t *testing.T) {
	v := NewVirtual()
	fired := false
	timer := v.AfterFunc(5*time.Second, func() { fired = true })
	timer.Stop()
	v.Advance(10 * time.Second)
	if fired {
		t.Fatal("stopped timer should not fire")
	}
}

func TestFiresInDeadlineOrder(t *testing.T) {
	v := NewVirtual()
	var order []int
	v.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	v.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	v.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	v.Advance(5 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected deadline order [1 2 3], got %v", order)
	}
}

func TestSleepUnblocksOnAdvanceFromAnotherGoroutine(t *testing.T) {
	v := NewVirtual()
	done := make(chan struct{})
	go func() {
		v.Sleep(2 * time.Second)
		close(done)
	}()
	// Wait until the sleeper has registered its timer; an Advance that ran
	// first would move the clock before that deadline existed.
	registered := time.Now().Add(time.Second)
	for v.PendingTimers() == 0 && time.Now().Before(registered) {
		time.Sleep(time.Millisecond)
	}
	v.Advance(2 * time.Second)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Sleep did not unblock after Advance")
	}
}
