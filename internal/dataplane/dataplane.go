// Package dataplane implements the reliable unicast forwarder, sender, and
// receiver built on top of the routing table: stop-and-wait with sequence
// numbers, ACKs, retransmission, and store-and-forward relaying.
package dataplane

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roverlab/rover/internal/address"
	"github.com/roverlab/rover/internal/metrics"
	"github.com/roverlab/rover/internal/routetable"
	"github.com/roverlab/rover/internal/telemetry/eventbus"
	"github.com/roverlab/rover/internal/wire"
)

// Fixed ports per spec.md §4.6 / §6.
const (
	DataPort = 6161
	AckPort  = 5454

	PayloadChunkSize = 5000
	AckTimeout       = 1000 * time.Millisecond

	maxDatagram = 6000
)

// OutputFileName is the fixed filename a receiving rover writes to.
const OutputFileName = "OUTPUT_FILE"

type receiverState struct {
	mu            sync.Mutex
	started       bool
	expectedSeqno uint32
	remaining     uint32
	sink          *os.File
	done          bool
	transferID    string
}

// IO owns the data-plane UDP endpoint and runs the receiver/forwarder loop
// shared by all three data-plane activities. The ACK-plane socket belongs to
// the sender's AckWaiter; IO only sends to the ACK port.
type IO struct {
	dataConn *net.UDPConn
	table    *routetable.Table

	myPrivate  address.PrivateAddress
	outputPath string

	metrics *metrics.Collector
	bus     *eventbus.Bus

	recv receiverState

	// send abstracts "put these bytes on the wire toward ip:port" so tests
	// can substitute a fake in place of the real socket.
	send func(raw []byte, ip net.IP, port int)

	// OnTransferComplete is invoked once the full file has been received
	// and the sink closed. Production wiring exits the process (per
	// spec.md §4.6: "terminate the process"); tests override it.
	OnTransferComplete func()
}

// New binds the data-plane socket on DataPort and wires it to table for
// next-hop lookups. Binding the ACK-plane socket is the sender's
// responsibility (see NewAckWaiter) since only the sender ever listens on
// it.
func New(table *routetable.Table, myPrivate address.PrivateAddress, outputPath string, coll *metrics.Collector, bus *eventbus.Bus) (*IO, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: DataPort})
	if err != nil {
		return nil, fmt.Errorf("dataplane: listen on data port %d: %w", DataPort, err)
	}
	io := &IO{
		dataConn:           conn,
		table:              table,
		myPrivate:          myPrivate,
		outputPath:         outputPath,
		metrics:            coll,
		bus:                bus,
		OnTransferComplete: func() { os.Exit(0) },
	}
	io.send = func(raw []byte, ip net.IP, port int) {
		if _, err := conn.WriteToUDP(raw, &net.UDPAddr{IP: ip, Port: port}); err != nil {
			log.Printf("dataplane: send to %s:%d: %v", ip, port, err)
		}
	}
	return io, nil
}

// Close releases the data-plane socket.
func (io *IO) Close() error {
	return io.dataConn.Close()
}

func (io *IO) publish(ev eventbus.Event) {
	if io.bus == nil {
		return
	}
	ev.Timestamp = time.Now()
	io.bus.Publish(ev)
}

// Run blocks, receiving datagrams on the data port and either relaying them
// (store-and-forward) or applying them locally, until a fatal socket error
// occurs or ctx is cancelled. A cancelled ctx is clean shutdown and returns
// nil.
func (io *IO) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		io.dataConn.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := io.dataConn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("dataplane: receive: %w", err)
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])

		frame, err := wire.DecodeDataFrame(raw)
		if err != nil {
			log.Printf("dataplane: dropping malformed data frame: %v", err)
			continue
		}

		destPrivate := address.PrivateAddress(frame.Dest)
		if destPrivate != io.myPrivate {
			io.forward(raw, frame, destPrivate)
			continue
		}
		io.handleLocalFrame(frame)
	}
}

// forward implements store-and-forward relaying: the exact received bytes
// are sent on, unmodified, toward the next hop for destPrivate.
func (io *IO) forward(raw []byte, frame wire.DataFrame, destPrivate address.PrivateAddress) {
	nextHop, ok := io.table.NextHop(destPrivate)
	if !ok {
		log.Printf("dataplane: no route to %s, dropping frame", destPrivate)
		if io.metrics != nil {
			io.metrics.AddFrameDropped()
		}
		io.publish(eventbus.Event{Type: eventbus.FrameDropped, Private: destPrivate.String(), Detail: "no route"})
		return
	}

	port := DataPort
	if frame.Flags&wire.FlagACK != 0 {
		if metric, ok := io.table.Metric(destPrivate); ok && metric == 1 {
			port = AckPort
		}
	}
	io.sendRaw(raw, nextHop, port)
	if io.metrics != nil {
		io.metrics.AddBytesForwarded(len(raw))
	}
}

// handleLocalFrame applies the drop rules and receiver state machine for a
// frame addressed to this rover.
func (io *IO) handleLocalFrame(frame wire.DataFrame) {
	r := &io.recv
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		// The last chunk's ACK may have been lost: re-ACK a retransmitted
		// final NORMAL frame, as for any other duplicate below.
		if frame.Flags&wire.FlagNORMAL != 0 && frame.Seqno+1 == r.expectedSeqno {
			io.sendAck(frame.Src, frame.Seqno+1)
		}
		return
	}

	// ACK frames addressed to us arrive via the dedicated ACK socket used
	// by the sender's wait loop (see sender.go), never via this shared
	// receiver/forwarder loop in correct operation; guard defensively.
	if frame.Flags&wire.FlagACK != 0 {
		return
	}

	isSYN := frame.Flags&wire.FlagSYN != 0
	isNORMAL := frame.Flags&wire.FlagNORMAL != 0

	if isNORMAL && frame.Seqno != r.expectedSeqno {
		if r.started && frame.Seqno+1 == r.expectedSeqno {
			// Duplicate of the chunk immediately before the one we're
			// expecting: the sender's ACK for it was likely lost. Always
			// re-ACK it instead of silently dropping, per the documented
			// resolution to the retransmission open question.
			io.sendAck(frame.Src, frame.Seqno+1)
		}
		return
	}
	if isSYN && r.expectedSeqno != 0 {
		return // already mid-transfer; duplicate SYN is ignored
	}

	if r.sink == nil {
		sink, err := os.Create(io.outputPath)
		if err != nil {
			log.Fatalf("dataplane: fatal: creating %s: %v", io.outputPath, err)
		}
		r.sink = sink
		r.started = true
		r.transferID = uuid.NewString()
		io.publish(eventbus.Event{Type: eventbus.TransferStarted, Private: address.PrivateAddress(frame.Src).String(), TransferID: r.transferID})
	}

	if isSYN {
		r.remaining = frame.TotalSize - uint32(len(frame.Payload))
	} else if isNORMAL {
		r.remaining -= uint32(len(frame.Payload))
	}

	if _, err := r.sink.Write(frame.Payload); err != nil {
		log.Fatalf("dataplane: fatal: writing %s: %v", io.outputPath, err)
	}

	io.sendAck(frame.Src, frame.Seqno+1)
	r.expectedSeqno++

	if r.remaining == 0 {
		r.done = true
		r.sink.Close()
		log.Printf("dataplane: transfer complete, wrote %s", io.outputPath)
		io.publish(eventbus.Event{Type: eventbus.TransferFinished, Private: address.PrivateAddress(frame.Src).String(), TransferID: r.transferID})
		if io.OnTransferComplete != nil {
			io.OnTransferComplete()
		}
	}
}

// sendAck builds and sends an ACK frame acknowledging seqno+1 back toward
// originalSender.
func (io *IO) sendAck(originalSender wire.Address4, ackNumber uint32) {
	senderPriv := address.PrivateAddress(originalSender)
	nextHop, ok := io.table.NextHop(senderPriv)
	if !ok {
		log.Printf("dataplane: no route to ack %s, dropping ack", senderPriv)
		return
	}
	port := DataPort
	if metric, ok := io.table.Metric(senderPriv); ok && metric == 1 {
		port = AckPort
	}
	ack := wire.EncodeDataFrame(wire.DataFrame{
		Dest:  originalSender,
		Src:   wire.Address4(io.myPrivate),
		Ackno: ackNumber,
		Flags: wire.FlagACK,
	})
	io.sendRaw(ack, nextHop, port)
}

func (io *IO) sendRaw(raw []byte, to address.PublicAddress, port int) {
	io.send(raw, to.ToIP(), port)
}
