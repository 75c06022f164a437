// Package eventbus is a small fan-out publish/subscribe bus used purely for
// observability: DistanceVector and DataPlaneIO publish lifecycle events,
// and the debug WebSocket server / MQTT publisher in internal/telemetry
// relay them onward. Nothing in the core protocol ever reads from it —
// publishing is fire-and-forget and never blocks the caller.
package eventbus

import (
	"log"
	"sync"
	"time"
)

// Type names the kind of lifecycle event.
type Type string

const (
	RouteChanged     Type = "ROUTE_CHANGED"
	NeighborHeard    Type = "NEIGHBOR_HEARD"
	NeighborDied     Type = "NEIGHBOR_DIED"
	AdvertisementOut Type = "ADVERTISEMENT_OUT"
	TransferStarted  Type = "TRANSFER_STARTED"
	TransferFinished Type = "TRANSFER_FINISHED"
	FrameDropped     Type = "FRAME_DROPPED"
)

// Event is the payload pushed to every subscriber. TransferID correlates
// the TransferStarted/TransferFinished pair for one file transfer; it is
// empty for routing events, which have no transfer to correlate.
type Event struct {
	Type       Type      `json:"type"`
	Private    string    `json:"private,omitempty"`
	Public     string    `json:"public,omitempty"`
	Metric     uint8     `json:"metric,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	TransferID string    `json:"transfer_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Bus fans events out to every current subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Publish sends e to every subscriber, dropping it for any subscriber whose
// channel is currently full rather than blocking the publisher.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		select {
		case sub <- e:
		default:
			log.Println("telemetry: dropping event, subscriber channel full")
		}
	}
}

// Subscribe returns a new channel that receives every future published
// event.
func (b *Bus) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 100)
	b.subscribers = append(b.subscribers, ch)
	return ch
}
