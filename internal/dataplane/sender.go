package dataplane

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/roverlab/rover/internal/address"
	"github.com/roverlab/rover/internal/clock"
	"github.com/roverlab/rover/internal/metrics"
	"github.com/roverlab/rover/internal/wire"
)

// RoutePollInterval is how often the sender rechecks the routing table
// while waiting for a route to its destination to appear.
const RoutePollInterval = 5 * time.Second

// StartupDelay gives the control plane time to populate the routing table
// before the sender starts looking for a route.
const StartupDelay = 3 * time.Second

// AckWaiter blocks until a matching ACK arrives or timeout elapses. An
// unrelated frame arriving on the ACK port does not reset the deadline.
type AckWaiter interface {
	Wait(expected uint32, timeout time.Duration) (bool, error)
	Close() error
}

// udpAckWaiter is the production AckWaiter, backed by a socket bound to
// AckPort. Only the sender ever listens on this socket; the shared
// receiver/forwarder loop lives entirely on the data port.
type udpAckWaiter struct {
	conn *net.UDPConn
}

// NewAckWaiter binds the ACK-plane socket.
func NewAckWaiter() (AckWaiter, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: AckPort})
	if err != nil {
		return nil, fmt.Errorf("dataplane: listen on ack port %d: %w", AckPort, err)
	}
	return &udpAckWaiter{conn: conn}, nil
}

func (w *udpAckWaiter) Close() error { return w.conn.Close() }

func (w *udpAckWaiter) Wait(expected uint32, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, maxDatagram)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if err := w.conn.SetReadDeadline(time.Now().Add(remaining)); err != nil {
			return false, err
		}
		n, err := w.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return false, nil
			}
			return false, err
		}
		frame, err := wire.DecodeDataFrame(buf[:n])
		if err != nil {
			continue // malformed, keep waiting within the same window
		}
		if frame.Flags&wire.FlagACK != 0 && frame.Ackno == expected {
			return true, nil
		}
		// Unrelated datagram: loop and keep waiting within remaining.
	}
}

// Sender drives one outbound file transfer: it polls the routing table for
// a route to dest, then sends the file in fixed-size chunks, stop-and-wait,
// retransmitting on ACK timeout.
type Sender struct {
	io          *IO
	dest        address.PrivateAddress
	path        string
	clk         clock.Clock
	waiter      AckWaiter
	metrics     *metrics.Collector
	chunkSize   int
	ackTimeout  time.Duration
	startupWait time.Duration
	pollEvery   time.Duration

	// OnComplete is invoked once the whole file has been sent and
	// acknowledged. Production wiring exits the process (per spec.md §4.6:
	// "the sender terminates the process when the file has been fully sent
	// and acknowledged"); tests override it.
	OnComplete func()
}

// NewSender builds a Sender for one transfer of the file at path to dest,
// using the package defaults for chunk size, ACK timeout, startup delay, and
// route-poll cadence.
func NewSender(io *IO, dest address.PrivateAddress, path string, clk clock.Clock, waiter AckWaiter, coll *metrics.Collector) *Sender {
	return &Sender{
		io: io, dest: dest, path: path, clk: clk, waiter: waiter, metrics: coll,
		chunkSize: PayloadChunkSize, ackTimeout: AckTimeout,
		startupWait: StartupDelay, pollEvery: RoutePollInterval,
		OnComplete: func() { os.Exit(0) },
	}
}

// WithChunkSize overrides the default PayloadChunkSize, e.g. from a loaded
// config.Config. Must be called before Run.
func (s *Sender) WithChunkSize(n int) *Sender {
	if n > 0 {
		s.chunkSize = n
	}
	return s
}

// WithAckTimeout overrides the default AckTimeout, e.g. from a loaded
// config.Config. Must be called before Run.
func (s *Sender) WithAckTimeout(d time.Duration) *Sender {
	if d > 0 {
		s.ackTimeout = d
	}
	return s
}

// WithStartupDelay overrides the default StartupDelay. Must be called before Run.
func (s *Sender) WithStartupDelay(d time.Duration) *Sender {
	if d > 0 {
		s.startupWait = d
	}
	return s
}

// WithRoutePollInterval overrides the default RoutePollInterval. Must be
// called before Run.
func (s *Sender) WithRoutePollInterval(d time.Duration) *Sender {
	if d > 0 {
		s.pollEvery = d
	}
	return s
}

// Run waits for a route, then sends the whole file, retransmitting chunks
// that go unacknowledged for AckTimeout. It returns once the transfer
// completes, ctx is cancelled, or a fatal error occurs. On successful
// completion it invokes OnComplete before returning.
func (s *Sender) Run(ctx context.Context) error {
	transferID := uuid.NewString()
	log.Printf("sender[%s]: starting transfer of %s to %s", transferID, s.path, s.dest)

	s.clk.Sleep(s.startupWait)

	for !s.io.table.Has(s.dest) {
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("sender[%s]: no route to %s yet, waiting", transferID, s.dest)
		s.clk.Sleep(s.pollEvery)
	}

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("sender: open %s: %w", s.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("sender: stat %s: %w", s.path, err)
	}
	totalSize := uint32(info.Size())

	reader := bufio.NewReader(f)
	buf := make([]byte, s.chunkSize)
	seq := uint32(0)
	first := true

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, readErr := io.ReadFull(reader, buf)
		if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
			return fmt.Errorf("sender: read %s: %w", s.path, readErr)
		}
		if n == 0 && readErr == io.EOF {
			break
		}
		chunk := make([]byte, n)
		copy(chunk, buf[:n])

		flags := wire.FlagNORMAL
		var sizeField uint32
		if first {
			flags = wire.FlagSYN
			sizeField = totalSize
		}

		frame := wire.DataFrame{
			Dest:      wire.Address4(s.dest),
			Src:       wire.Address4(s.io.myPrivate),
			Seqno:     seq,
			Flags:     flags,
			TotalSize: sizeField,
			Payload:   chunk,
		}
		if err := s.sendChunkWithRetransmit(ctx, frame, seq+1); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		first = false
		seq++

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
	}

	log.Printf("sender[%s]: transfer of %s to %s complete", transferID, s.path, s.dest)
	if s.OnComplete != nil {
		s.OnComplete()
	}
	return nil
}

// sendChunkWithRetransmit sends frame to the current next hop and blocks
// until expectedAck is observed, resending on every timeout.
func (s *Sender) sendChunkWithRetransmit(ctx context.Context, frame wire.DataFrame, expectedAck uint32) error {
	raw := wire.EncodeDataFrame(frame)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		nextHop, ok := s.io.table.NextHop(s.dest)
		if !ok {
			// Route vanished mid-transfer; keep retrying on the same cadence
			// as the initial wait rather than giving up.
			s.clk.Sleep(s.pollEvery)
			continue
		}

		s.io.sendRaw(raw, nextHop, DataPort)
		if attempt > 0 && s.metrics != nil {
			s.metrics.AddRetransmit()
		}

		acked, err := s.waiter.Wait(expectedAck, s.ackTimeout)
		if err != nil {
			return fmt.Errorf("sender: waiting for ack: %w", err)
		}
		if acked {
			return nil
		}
		attempt++
		log.Printf("sender: ack %d timed out (attempt %d), retransmitting", expectedAck, attempt)
	}
}
