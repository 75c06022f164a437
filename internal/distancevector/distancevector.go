// Package distancevector implements the routing protocol's update rule:
// consuming decoded advertisements, mutating the routing table, resetting
// neighbor liveness timers, and emitting triggered advertisements.
package distancevector

import (
	"log"
	"sync"
	"time"

	"github.com/roverlab/rover/internal/address"
	"github.com/roverlab/rover/internal/clock"
	"github.com/roverlab/rover/internal/liveness"
	"github.com/roverlab/rover/internal/metrics"
	"github.com/roverlab/rover/internal/routetable"
	"github.com/roverlab/rover/internal/telemetry/eventbus"
	"github.com/roverlab/rover/internal/wire"
)

// PeriodicInterval is the cadence of the unconditional full-table
// advertisement.
const PeriodicInterval = 5 * time.Second

// SubnetMaskLen is the fixed mask length this system always advertises.
const SubnetMaskLen uint8 = 24

// neighborEntry is one row of the NeighborCache: the last advertisement
// received from a neighbor, plus the public address it arrived from. It is
// populated on every advertisement and, per spec.md's open question,
// deliberately never consulted by the death path in this implementation.
type neighborEntry struct {
	lastAdvertisement []routetable.Record
	public            address.PublicAddress
}

// Emitter is the one capability DistanceVector needs from ControlPlaneIO:
// the ability to put a fully-encoded advertisement frame on the wire.
type Emitter interface {
	Emit(frame []byte)
}

// DistanceVector is the routing protocol state machine. All table mutation
// goes through its single mutex, serializing inbound advertisements against
// each other and against neighbor-death callbacks.
type DistanceVector struct {
	mu sync.Mutex

	myID      uint8
	myPrivate address.PrivateAddress
	myPublic  address.PublicAddress

	table    *routetable.Table
	liveness *liveness.Tracker
	clk      clock.Clock
	emitter  Emitter
	bus      *eventbus.Bus
	metrics  *metrics.Collector

	periodicInterval time.Duration
	neighborCache    map[address.PrivateAddress]*neighborEntry
}

// Config bundles the fixed identity and collaborators DistanceVector needs.
type Config struct {
	MyID      uint8
	MyPrivate address.PrivateAddress
	MyPublic  address.PublicAddress
	Table     *routetable.Table
	Clock     clock.Clock
	Emitter   Emitter
	Bus       *eventbus.Bus      // optional; nil disables telemetry publication
	Metrics   *metrics.Collector // optional; nil disables counter updates

	// PeriodicInterval and DeadInterval override the package defaults of the
	// same name when non-zero; set from config.Config so deployments can
	// tune cadence without a rebuild.
	PeriodicInterval time.Duration
	DeadInterval     time.Duration
}

// New builds a DistanceVector and arms its own neighbor-liveness tracker.
func New(cfg Config) *DistanceVector {
	periodic := cfg.PeriodicInterval
	if periodic == 0 {
		periodic = PeriodicInterval
	}
	dead := cfg.DeadInterval
	if dead == 0 {
		dead = liveness.DeadInterval
	}
	dv := &DistanceVector{
		myID:             cfg.MyID,
		myPrivate:        cfg.MyPrivate,
		myPublic:         cfg.MyPublic,
		table:            cfg.Table,
		clk:              cfg.Clock,
		emitter:          cfg.Emitter,
		bus:              cfg.Bus,
		metrics:          cfg.Metrics,
		periodicInterval: periodic,
		neighborCache:    make(map[address.PrivateAddress]*neighborEntry),
	}
	dv.liveness = liveness.New(cfg.Clock, dead, dv.onNeighborDeath)
	return dv
}

// publish is a no-op when telemetry is disabled.
func (dv *DistanceVector) publish(ev eventbus.Event) {
	if dv.bus == nil {
		return
	}
	ev.Timestamp = dv.clk.Now()
	dv.bus.Publish(ev)
}

// StartPeriodic launches the periodic full-table emitter. The first
// emission happens immediately, with no initial delay, per spec; every
// subsequent emission is scheduled by self-rescheduling AfterFunc calls
// rather than a ticker, so a Virtual clock's deterministic firing order
// covers this path too.
func (dv *DistanceVector) StartPeriodic() {
	dv.emitFullTable(wire.CommandUpdate)
	dv.schedulePeriodic()
}

func (dv *DistanceVector) schedulePeriodic() {
	dv.clk.AfterFunc(dv.periodicInterval, func() {
		dv.emitFullTable(wire.CommandUpdate)
		dv.schedulePeriodic()
	})
}

// HandleAdvertisement processes one decoded advertisement received on the
// control plane. sourcePublic comes from the UDP packet; the source rover id
// is ad.RoverID, taken from the advertisement header.
func (dv *DistanceVector) HandleAdvertisement(sourcePublic address.PublicAddress, ad wire.Advertisement) {
	// Self-reject: drop our own multicast echo.
	if ad.RoverID == dv.myID {
		return
	}

	if dv.metrics != nil {
		dv.metrics.AddAdvertisementReceived()
	}

	sourcePrivate := address.FromID(ad.RoverID)

	dv.mu.Lock()
	defer dv.mu.Unlock()

	before := dv.table.Signature()

	// Cache the neighbor's raw records and public address (write-only; the
	// death path below never reads this back, per the design notes).
	records := make([]routetable.Record, len(ad.Records))
	for i, rec := range ad.Records {
		records[i] = routetable.Record{
			Destination: address.PrivateAddress(rec.Dest),
			MaskLen:     rec.Mask,
			NextHop:     address.PublicAddress(rec.NextHop),
			Metric:      rec.Metric,
		}
	}
	dv.neighborCache[sourcePrivate] = &neighborEntry{lastAdvertisement: records, public: sourcePublic}

	// Neighbor install: unconditional direct route, metric 1.
	dv.table.Put(sourcePrivate, routetable.Record{
		MaskLen: SubnetMaskLen,
		NextHop: sourcePublic,
		Metric:  1,
	})
	dv.publish(eventbus.Event{Type: eventbus.NeighborHeard, Private: sourcePrivate.String(), Public: sourcePublic.String()})

	// Heartbeat: reset the neighbor's death timer.
	dv.liveness.Touch(sourcePrivate, sourcePublic)

	for _, rec := range ad.Records {
		dest := address.PrivateAddress(rec.Dest)
		if dest == dv.myPrivate {
			continue // split-horizon for self
		}
		dv.applyUpdateRule(sourcePublic, dest, rec.Mask, rec.Metric, rec.NextHop)
	}

	after := dv.table.Signature()
	if before != after {
		log.Printf("rover %d: routing table changed, emitting triggered update", dv.myID)
		if dv.metrics != nil {
			dv.metrics.AddTriggeredUpdate()
		}
		dv.emitFullTable(wire.CommandUpdate)
	} else if ad.Command == wire.CommandRequest {
		dv.emitFullTable(wire.CommandUpdate)
	}
}

// applyUpdateRule implements spec.md §4.4's per-record update rule. Caller
// holds dv.mu.
func (dv *DistanceVector) applyUpdateRule(sourcePublic address.PublicAddress, dest address.PrivateAddress, mask uint8, metric uint8, claimedNextHop wire.Address4) {
	v := metric
	if address.PublicAddress(claimedNextHop) == dv.myPublic {
		// Split-horizon by poisoning: never believe a peer that claims to
		// reach a destination through us.
		v = routetable.Infinity
	}
	newMetric := saturatingAdd1(v)

	existing, ok := dv.table.Get(dest)
	switch {
	case !ok:
		dv.table.Put(dest, routetable.Record{MaskLen: mask, NextHop: sourcePublic, Metric: newMetric})
		dv.publish(eventbus.Event{Type: eventbus.RouteChanged, Private: dest.String(), Public: sourcePublic.String(), Metric: newMetric})
	case existing.NextHop == sourcePublic || existing.Metric > newMetric:
		if existing.NextHop != sourcePublic || existing.Metric != newMetric {
			dv.publish(eventbus.Event{Type: eventbus.RouteChanged, Private: dest.String(), Public: sourcePublic.String(), Metric: newMetric})
		}
		dv.table.Put(dest, routetable.Record{MaskLen: mask, NextHop: sourcePublic, Metric: newMetric})
	default:
		// do nothing
	}
}

func saturatingAdd1(v uint8) uint8 {
	if 1+int(v) >= int(routetable.Infinity) {
		return routetable.Infinity
	}
	return v + 1
}

// onNeighborDeath is the NeighborLiveness death callback: poison the dead
// neighbor's own route and every route that currently transits it, then
// emit a triggered update.
func (dv *DistanceVector) onNeighborDeath(deadPrivate address.PrivateAddress, deadPublic address.PublicAddress) {
	dv.mu.Lock()
	defer dv.mu.Unlock()

	dv.table.SetMetric(deadPrivate, routetable.Infinity)
	dv.table.PoisonByNextHop(deadPublic)

	log.Printf("rover %d: neighbor %s (%s) is dead, poisoning routes", dv.myID, deadPrivate, deadPublic)
	if dv.metrics != nil {
		dv.metrics.AddNeighborDeath()
	}
	dv.publish(eventbus.Event{Type: eventbus.NeighborDied, Private: deadPrivate.String(), Public: deadPublic.String()})
	dv.emitFullTable(wire.CommandUpdate)
}

// emitFullTable renders the current table to an advertisement frame and
// hands it to the emitter. Caller may or may not hold dv.mu; Snapshot takes
// its own read lock so this is safe either way.
func (dv *DistanceVector) emitFullTable(command uint8) {
	snapshot := dv.table.Snapshot()
	records := make([]wire.Record, len(snapshot))
	for i, rec := range snapshot {
		records[i] = wire.Record{
			Dest:    wire.Address4(rec.Destination),
			Mask:    rec.MaskLen,
			NextHop: wire.Address4(rec.NextHop),
			Metric:  rec.Metric,
		}
	}
	frame := wire.EncodeAdvertisement(wire.Advertisement{
		Command: command,
		RoverID: dv.myID,
		Records: records,
	})
	dv.emitter.Emit(frame)
	if dv.metrics != nil {
		dv.metrics.AddAdvertisementSent()
	}
	dv.publish(eventbus.Event{Type: eventbus.AdvertisementOut, Detail: dv.myPrivate.String()})
}

// Table exposes the underlying routing table to other components
// (DataPlaneIO) that need read access for next-hop lookups.
func (dv *DistanceVector) Table() *routetable.Table {
	return dv.table
}
