// Package routetable holds the concurrent destination -> route mapping
// shared by the control-plane listener, the death-timer callbacks, and the
// data-plane forwarder.
package routetable

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roverlab/rover/internal/address"
)

// Infinity is the sentinel metric meaning "unreachable".
const Infinity uint8 = 16

// Record is one routing table entry. Destination is implied by the key it
// is stored under, but is also carried on the struct so callers holding a
// Record in hand (e.g. from Snapshot) know what it's for.
type Record struct {
	Destination address.PrivateAddress
	MaskLen     uint8
	NextHop     address.PublicAddress
	Metric      uint8
}

// Table is a concurrent map[PrivateAddress]Record, guarded by a single
// RWMutex — the same "plain mutex-guarded map" idiom the teacher uses for
// its node/neighbor tables, not a lock-free structure.
type Table struct {
	mu   sync.RWMutex
	rows map[address.PrivateAddress]Record
}

// New creates an empty routing table.
func New() *Table {
	return &Table{rows: make(map[address.PrivateAddress]Record)}
}

// Get returns the record for dest, if any.
func (t *Table) Get(dest address.PrivateAddress) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.rows[dest]
	return rec, ok
}

// Has reports whether dest has a record at all (reachable or not).
func (t *Table) Has(dest address.PrivateAddress) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rows[dest]
	return ok
}

// Put inserts or overwrites the record for dest. The record's Destination
// field is forced to match the key it is stored under.
func (t *Table) Put(dest address.PrivateAddress, rec Record) {
	rec.Destination = dest
	t.mu.Lock()
	t.rows[dest] = rec
	t.mu.Unlock()
}

// SetMetric updates only the metric of an existing record; it is a no-op if
// dest has no record yet.
func (t *Table) SetMetric(dest address.PrivateAddress, metric uint8) {
	t.mu.Lock()
	if rec, ok := t.rows[dest]; ok {
		rec.Metric = metric
		t.rows[dest] = rec
	}
	t.mu.Unlock()
}

// NextHop looks up the next-hop public address for dest.
func (t *Table) NextHop(dest address.PrivateAddress) (address.PublicAddress, bool) {
	rec, ok := t.Get(dest)
	if !ok {
		return address.PublicAddress{}, false
	}
	return rec.NextHop, true
}

// Metric looks up the current metric for dest.
func (t *Table) Metric(dest address.PrivateAddress) (uint8, bool) {
	rec, ok := t.Get(dest)
	if !ok {
		return 0, false
	}
	return rec.Metric, true
}

// Snapshot copies every record under a read lock, safe to iterate even while
// concurrent mutation proceeds on other keys. A concurrent insert may or may
// not be visible in the returned slice, per spec.
func (t *Table) Snapshot() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, 0, len(t.rows))
	for _, rec := range t.rows {
		out = append(out, rec)
	}
	return out
}

// PoisonByNextHop sets every record whose next-hop equals dead to Infinity,
// and returns whether any record actually changed.
func (t *Table) PoisonByNextHop(dead address.PublicAddress) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := false
	for dest, rec := range t.rows {
		if rec.NextHop == dead && rec.Metric != Infinity {
			rec.Metric = Infinity
			t.rows[dest] = rec
			changed = true
		}
	}
	return changed
}

// Signature renders a canonical, deterministic textual form of the table —
// sorted by destination — so DistanceVector can detect whether a round of
// updates actually changed anything, the Go equivalent of the Java source's
// raw (but insertion-order-dependent) routingTable.toString() comparison.
func (t *Table) Signature() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]address.PrivateAddress, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	var b strings.Builder
	for _, k := range keys {
		rec := t.rows[k]
		fmt.Fprintf(&b, "%s/%d->%s:%d;", k, rec.MaskLen, rec.NextHop, rec.Metric)
	}
	return b.String()
}
