// Package clock abstracts time so DistanceVector and NeighborLiveness can be
// driven deterministically in tests instead of racing real timers.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is the subset of *time.Timer a one-shot task needs.
type Timer interface {
	Stop() bool
}

// Clock supplies monotonic time and schedules work relative to it. Periodic
// tasks are built on top of AfterFunc by self-rescheduling, rather than a
// separate ticker type — this keeps Virtual's firing order trivially
// deterministic (every scheduled callback, one-shot or "periodic", goes
// through the same timer list).
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	// Sleep blocks the calling goroutine until d has elapsed on this clock.
	Sleep(d time.Duration)
}

// Real is the production Clock, backed by the time package.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (Real) Sleep(d time.Duration) { time.Sleep(d) }

// Virtual is a manually-advanced Clock for tests. Time only moves when
// Advance is called; all due timers fire synchronously, in deadline order,
// before Advance returns to its caller.
type Virtual struct {
	mu     sync.Mutex
	now    time.Time
	timers []*virtualTimer
}

// NewVirtual creates a Virtual clock starting at an arbitrary fixed epoch.
func NewVirtual() *Virtual {
	return &Virtual{now: time.Unix(0, 0)}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

type virtualTimer struct {
	deadline time.Time
	f        func()
	stopped  bool
}

func (t *virtualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (v *Virtual) AfterFunc(d time.Duration, f func()) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := &virtualTimer{deadline: v.now.Add(d), f: f}
	v.timers = append(v.timers, t)
	return t
}

// Sleep blocks the calling goroutine until some other goroutine advances
// this clock past d from now. Useful for code (like the data-plane sender)
// that polls on a delay and needs to behave deterministically under test.
func (v *Virtual) Sleep(d time.Duration) {
	done := make(chan struct{})
	v.AfterFunc(d, func() { close(done) })
	<-done
}

// PendingTimers reports how many armed, unfired timers are currently
// scheduled. Tests use it to synchronize with a background goroutine that
// calls AfterFunc or Sleep before calling Advance.
func (v *Virtual) PendingTimers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, t := range v.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves the virtual clock forward by d, firing every timer whose
// deadline falls within the new interval, in deadline order. Callbacks run
// synchronously on the caller's goroutine; a callback that schedules a new
// timer (e.g. a self-rescheduling periodic task) will have that new timer
// picked up by a later Advance call, not the one currently in progress.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)

	var fires []*virtualTimer
	for _, t := range v.timers {
		if !t.stopped && !t.deadline.After(target) {
			fires = append(fires, t)
			t.stopped = true
		}
	}
	sort.Slice(fires, func(i, j int) bool { return fires[i].deadline.Before(fires[j].deadline) })
	v.now = target
	v.mu.Unlock()

	for _, t := range fires {
		t.f()
	}
}
