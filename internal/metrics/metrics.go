// Package metrics collects process-lifetime counters for a running rover
// and can flush them as JSON or as a compact msgpack snapshot.
package metrics

import (
	"encoding/json"
	"os"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"
)

// Collector holds lock-free counters updated from multiple goroutines
// (control-plane, data-plane, sender) via atomic operations.
type Collector struct {
	advertisementsSent     uint64
	advertisementsReceived uint64
	triggeredUpdates       uint64
	retransmits            uint64
	bytesForwarded         uint64
	framesDropped          uint64
	neighborDeaths         uint64
}

// New returns a zeroed Collector.
func New() *Collector {
	return &Collector{}
}

func (c *Collector) AddAdvertisementSent()     { atomic.AddUint64(&c.advertisementsSent, 1) }
func (c *Collector) AddAdvertisementReceived() { atomic.AddUint64(&c.advertisementsReceived, 1) }
func (c *Collector) AddTriggeredUpdate()       { atomic.AddUint64(&c.triggeredUpdates, 1) }
func (c *Collector) AddRetransmit()            { atomic.AddUint64(&c.retransmits, 1) }
func (c *Collector) AddBytesForwarded(n int)   { atomic.AddUint64(&c.bytesForwarded, uint64(n)) }
func (c *Collector) AddFrameDropped()          { atomic.AddUint64(&c.framesDropped, 1) }
func (c *Collector) AddNeighborDeath()         { atomic.AddUint64(&c.neighborDeaths, 1) }

// Snapshot is a consistent-enough (not atomically joint) point-in-time copy
// of every counter, suitable for serialization.
type Snapshot struct {
	AdvertisementsSent     uint64 `json:"advertisements_sent" msgpack:"advertisements_sent"`
	AdvertisementsReceived uint64 `json:"advertisements_received" msgpack:"advertisements_received"`
	TriggeredUpdates       uint64 `json:"triggered_updates" msgpack:"triggered_updates"`
	Retransmits            uint64 `json:"retransmits" msgpack:"retransmits"`
	BytesForwarded         uint64 `json:"bytes_forwarded" msgpack:"bytes_forwarded"`
	FramesDropped          uint64 `json:"frames_dropped" msgpack:"frames_dropped"`
	NeighborDeaths         uint64 `json:"neighbor_deaths" msgpack:"neighbor_deaths"`
}

func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		AdvertisementsSent:     atomic.LoadUint64(&c.advertisementsSent),
		AdvertisementsReceived: atomic.LoadUint64(&c.advertisementsReceived),
		TriggeredUpdates:       atomic.LoadUint64(&c.triggeredUpdates),
		Retransmits:            atomic.LoadUint64(&c.retransmits),
		BytesForwarded:         atomic.LoadUint64(&c.bytesForwarded),
		FramesDropped:          atomic.LoadUint64(&c.framesDropped),
		NeighborDeaths:         atomic.LoadUint64(&c.neighborDeaths),
	}
}

// WriteJSONFile dumps the current snapshot to path as pretty JSON, matching
// the format the teacher's simulation writes its end-of-run statistics in.
func (c *Collector) WriteJSONFile(path string) error {
	data, err := json.MarshalIndent(c.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// MarshalBinary renders the current snapshot as msgpack, for compact
// transport over the telemetry channel.
func (c *Collector) MarshalBinary() ([]byte, error) {
	return msgpack.Marshal(c.Snapshot())
}
