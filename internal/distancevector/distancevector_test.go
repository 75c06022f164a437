package distancevector

import (
	"sync"
	"testing"
	"time"

	"github.com/roverlab/rover/internal/address"
	"github.com/roverlab/rover/internal/clock"
	"github.com/roverlab/rover/internal/routetable"
	"github.com/roverlab/rover/internal/wire"
)

// fakeEmitter records every emitted frame and can decode them back into
// advertisements for assertions.
type fakeEmitter struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeEmitter) Emit(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
}

func (f *fakeEmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeEmitter) last() wire.Advertisement {
	f.mu.Lock()
	defer f.mu.Unlock()
	ad, _ := wire.DecodeAdvertisement(f.frames[len(f.frames)-1])
	return ad
}

func newTestDV(myID uint8) (*DistanceVector, *fakeEmitter, *clock.Virtual) {
	vc := clock.NewVirtual()
	em := &fakeEmitter{}
	dv := New(Config{
		MyID:      myID,
		MyPrivate: address.FromID(myID),
		MyPublic:  address.PublicAddress{10, 0, 0, myID},
		Table:     routetable.New(),
		Clock:     vc,
		Emitter:   em,
	})
	return dv, em, vc
}

func pub(n byte) address.PublicAddress { return address.PublicAddress{192, 168, 0, n} }

func TestSelfRejectDropsOwnEcho(t *testing.T) {
	dv, em, _ := newTestDV(1)
	dv.HandleAdvertisement(pub(1), wire.Advertisement{Command: wire.CommandUpdate, RoverID: 1})
	if em.count() != 0 {
		t.Fatalf("expected no emission from self-echo, got %d", em.count())
	}
	if dv.table.Has(address.FromID(1)) {
		t.Fatal("self-echo should not install a route")
	}
}

func TestNeighborInstallAndHeartbeat(t *testing.T) {
	dv, _, _ := newTestDV(1)
	dv.HandleAdvertisement(pub(2), wire.Advertisement{Command: wire.CommandUpdate, RoverID: 2})

	rec, ok := dv.table.Get(address.FromID(2))
	if !ok {
		t.Fatal("expected direct route to neighbor")
	}
	if rec.Metric != 1 || rec.NextHop != pub(2) {
		t.Fatalf("unexpected neighbor record: %+v", rec)
	}
}

func TestSplitHorizonPoisoning(t *testing.T) {
	dv, _, _ := newTestDV(1)
	myPublic := dv.myPublic

	// Neighbor 2 claims it reaches rover 3 through *our* public address.
	dv.HandleAdvertisement(pub(2), wire.Advertisement{
		Command: wire.CommandUpdate,
		RoverID: 2,
		Records: []wire.Record{
			{Dest: wire.Address4(address.FromID(3)), Mask: 24, NextHop: wire.Address4(myPublic), Metric: 3},
		},
	})

	rec, ok := dv.table.Get(address.FromID(3))
	if !ok {
		t.Fatal("expected a record for rover 3")
	}
	if rec.Metric != routetable.Infinity {
		t.Fatalf("expected poisoned metric 16, got %d", rec.Metric)
	}
}

func TestChainConverges(t *testing.T) {
	// Three rovers 1-2-3. Rover 2's view after hearing from both neighbors
	// is applied to rover 1's DV instance to check two-hop convergence.
	dv1, _, _ := newTestDV(1)

	// Rover 2 hears rover 1 directly, then relays in its next advertisement.
	dv1.HandleAdvertisement(pub(2), wire.Advertisement{Command: wire.CommandUpdate, RoverID: 2})

	// Rover 2's advertisement now includes a route to rover 3 at metric 1
	// (as rover 2 would construct after hearing rover 3 directly).
	dv1.HandleAdvertisement(pub(2), wire.Advertisement{
		Command: wire.CommandUpdate,
		RoverID: 2,
		Records: []wire.Record{
			{Dest: wire.Address4(address.FromID(3)), Mask: 24, NextHop: wire.Address4(pub(3)), Metric: 1},
		},
	})

	rec, ok := dv1.table.Get(address.FromID(3))
	if !ok {
		t.Fatal("expected rover 1 to learn about rover 3")
	}
	if rec.Metric != 2 || rec.NextHop != pub(2) {
		t.Fatalf("expected metric 2 via rover 2, got %+v", rec)
	}
}

func TestTrustSourceEvenWhenWorsening(t *testing.T) {
	dv, _, _ := newTestDV(1)
	// First hear a good route to rover 4 via rover 2 at metric 2.
	dv.HandleAdvertisement(pub(2), wire.Advertisement{
		Command: wire.CommandUpdate,
		RoverID: 2,
		Records: []wire.Record{
			{Dest: wire.Address4(address.FromID(4)), Mask: 24, NextHop: wire.Address4(pub(4)), Metric: 1},
		},
	})
	rec, _ := dv.table.Get(address.FromID(4))
	if rec.Metric != 2 {
		t.Fatalf("expected metric 2, got %d", rec.Metric)
	}

	// Rover 2 now reports a worse route; since rover 2 is our current
	// next-hop for this destination, we must trust the refresh even though
	// it worsens.
	dv.HandleAdvertisement(pub(2), wire.Advertisement{
		Command: wire.CommandUpdate,
		RoverID: 2,
		Records: []wire.Record{
			{Dest: wire.Address4(address.FromID(4)), Mask: 24, NextHop: wire.Address4(pub(4)), Metric: 5},
		},
	})
	rec, _ = dv.table.Get(address.FromID(4))
	if rec.Metric != 6 {
		t.Fatalf("expected worsened metric 6 trusted from current next-hop, got %d", rec.Metric)
	}
}

func TestNeighborDeathPoisonsTransitiveRoutes(t *testing.T) {
	dv, em, vc := newTestDV(1)

	dv.HandleAdvertisement(pub(2), wire.Advertisement{
		Command: wire.CommandUpdate,
		RoverID: 2,
		Records: []wire.Record{
			{Dest: wire.Address4(address.FromID(3)), Mask: 24, NextHop: wire.Address4(pub(3)), Metric: 1},
		},
	})

	before := em.count()
	vc.Advance(liveDeadInterval())

	rec2, _ := dv.table.Get(address.FromID(2))
	rec3, _ := dv.table.Get(address.FromID(3))
	if rec2.Metric != routetable.Infinity || rec3.Metric != routetable.Infinity {
		t.Fatalf("expected both routes poisoned after death, got rec2=%+v rec3=%+v", rec2, rec3)
	}
	if em.count() <= before {
		t.Fatal("expected a triggered advertisement after neighbor death")
	}
}

func liveDeadInterval() time.Duration { return 7 * time.Second }

func TestTriggeredUpdateEmittedOnChange(t *testing.T) {
	dv, em, _ := newTestDV(1)
	before := em.count()
	dv.HandleAdvertisement(pub(2), wire.Advertisement{Command: wire.CommandUpdate, RoverID: 2})
	if em.count() <= before {
		t.Fatal("expected triggered update when the table changed")
	}
}

func TestRequestAlwaysEmitsEvenWithoutChange(t *testing.T) {
	dv, em, _ := newTestDV(1)
	dv.HandleAdvertisement(pub(2), wire.Advertisement{Command: wire.CommandUpdate, RoverID: 2})
	before := em.count()
	// Re-sending the exact same neighbor heartbeat changes nothing (same
	// metric/next-hop), but it's a request so we must still answer.
	dv.HandleAdvertisement(pub(2), wire.Advertisement{Command: wire.CommandRequest, RoverID: 2})
	if em.count() <= before {
		t.Fatal("expected an emission in response to a request even without a table change")
	}
	lastAd := em.last()
	if lastAd.Command != wire.CommandUpdate {
		t.Fatalf("emitted advertisements should always carry command=update, got %d", lastAd.Command)
	}
}

func TestPeriodicEmitsImmediatelyThenOnCadence(t *testing.T) {
	dv, em, vc := newTestDV(1)
	dv.StartPeriodic()
	if em.count() != 1 {
		t.Fatalf("expected one immediate emission at startup, got %d", em.count())
	}
	vc.Advance(PeriodicInterval)
	if em.count() != 2 {
		t.Fatalf("expected a second emission after one period, got %d", em.count())
	}
}
