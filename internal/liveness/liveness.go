// Package liveness tracks per-neighbor heartbeat timers and fires a death
// callback when a neighbor has gone quiet for the dead interval.
package liveness

import (
	"sync"
	"time"

	"github.com/roverlab/rover/internal/address"
	"github.com/roverlab/rover/internal/clock"
)

// DeadInterval is the time without a heartbeat before a neighbor is
// declared dead.
const DeadInterval = 7 * time.Second

// DeathFunc is invoked exactly once when a neighbor's timer expires,
// carrying both its private and public addresses. It runs on its own
// goroutine (the clock's timer goroutine), never inline with whatever
// called Touch — this is the "dispatch by message, don't reenter" rule
// from the design notes.
type DeathFunc func(neighbor address.PrivateAddress, public address.PublicAddress)

// Tracker owns one one-shot timer per neighbor.
type Tracker struct {
	clk      clock.Clock
	interval time.Duration
	onDeath  DeathFunc

	mu     sync.Mutex
	timers map[address.PrivateAddress]clock.Timer
}

// New creates a Tracker that invokes onDeath after interval of silence.
func New(clk clock.Clock, interval time.Duration, onDeath DeathFunc) *Tracker {
	return &Tracker{
		clk:      clk,
		interval: interval,
		onDeath:  onDeath,
		timers:   make(map[address.PrivateAddress]clock.Timer),
	}
}

// Touch cancels any existing timer for neighbor and arms a fresh one.
func (t *Tracker) Touch(neighbor address.PrivateAddress, public address.PublicAddress) {
	t.mu.Lock()
	if existing, ok := t.timers[neighbor]; ok {
		existing.Stop()
	}
	t.timers[neighbor] = t.clk.AfterFunc(t.interval, func() {
		t.fire(neighbor, public)
	})
	t.mu.Unlock()
}

// Cancel disarms the timer for neighbor, if any.
func (t *Tracker) Cancel(neighbor address.PrivateAddress) {
	t.mu.Lock()
	if existing, ok := t.timers[neighbor]; ok {
		existing.Stop()
		delete(t.timers, neighbor)
	}
	t.mu.Unlock()
}

func (t *Tracker) fire(neighbor address.PrivateAddress, public address.PublicAddress) {
	t.mu.Lock()
	delete(t.timers, neighbor)
	t.mu.Unlock()
	t.onDeath(neighbor, public)
}
