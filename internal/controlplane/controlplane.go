// Package controlplane owns the multicast socket rovers use to advertise
// and receive routing tables.
package controlplane

import (
	"context"
	"fmt"
	"log"
	"net"

	"golang.org/x/net/ipv4"

	"github.com/roverlab/rover/internal/address"
	"github.com/roverlab/rover/internal/wire"
)

// ReceiveBufferSize is the size of the control-plane receive buffer, twice
// the 1024-byte minimum.
const ReceiveBufferSize = 2048

// Handler is the single thing ControlPlaneIO needs from DistanceVector:
// somewhere to deliver a decoded advertisement, tagged with the public
// address it arrived from.
type Handler interface {
	HandleAdvertisement(sourcePublic address.PublicAddress, ad wire.Advertisement)
}

// IO owns the multicast socket: it can Emit an advertisement frame, and it
// runs a receive loop that decodes and dispatches inbound frames.
type IO struct {
	conn    *net.UDPConn
	pktConn *ipv4.PacketConn
	group   *net.UDPAddr
	handler Handler
}

// New joins the multicast group on the given interface-agnostic address and
// port. Any error here is FatalIO — without this socket the rover cannot
// participate in the control plane at all.
func New(groupIP net.IP, port int, handler Handler) (*IO, error) {
	group := &net.UDPAddr{IP: groupIP, Port: port}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("controlplane: listen: %w", err)
	}

	pktConn := ipv4.NewPacketConn(conn)
	if err := pktConn.JoinGroup(nil, &net.UDPAddr{IP: groupIP}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("controlplane: join group %s: %w", groupIP, err)
	}
	if err := pktConn.SetControlMessage(ipv4.FlagSrc, true); err != nil {
		log.Printf("controlplane: warning: could not enable control messages: %v", err)
	}

	return &IO{conn: conn, pktConn: pktConn, group: group, handler: handler}, nil
}

// SetHandler replaces the advertisement handler. It exists because
// DistanceVector needs an Emitter (this IO) to construct, while this IO
// needs a Handler (the DistanceVector) to run Run — callers build IO with a
// nil handler, construct DistanceVector, then call SetHandler before Run.
func (io *IO) SetHandler(handler Handler) {
	io.handler = handler
}

// Emit sends one multicast datagram carrying frame.
func (io *IO) Emit(frame []byte) {
	if _, err := io.conn.WriteToUDP(frame, io.group); err != nil {
		log.Printf("controlplane: emit: %v", err)
	}
}

// Run blocks, receiving advertisements and dispatching them to the handler,
// until a fatal socket error occurs or ctx is cancelled. The returned error
// is FatalIO — the caller (Supervisor) should terminate the process; a
// cancelled ctx is clean shutdown and returns nil.
func (io *IO) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		io.conn.Close()
	}()

	buf := make([]byte, ReceiveBufferSize)
	for {
		n, _, srcAddr, err := io.pktConn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("controlplane: receive: %w", err)
		}
		udpAddr, ok := srcAddr.(*net.UDPAddr)
		if !ok {
			continue
		}
		ad, err := wire.DecodeAdvertisement(buf[:n])
		if err != nil {
			log.Printf("controlplane: dropping malformed advertisement from %s: %v", udpAddr, err)
			continue
		}
		pub, err := address.FromIP(udpAddr.IP)
		if err != nil {
			log.Printf("controlplane: dropping advertisement with non-IPv4 source %s: %v", udpAddr, err)
			continue
		}
		io.handler.HandleAdvertisement(pub, ad)
	}
}

// Close releases the multicast socket.
func (io *IO) Close() error {
	return io.conn.Close()
}
