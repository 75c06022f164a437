// Package address derives and discovers the two address spaces a rover
// speaks: the synthetic PrivateAddress that names it in the routing domain,
// and the real PublicAddress the OS hands it on an outbound interface.
package address

import (
	"fmt"
	"net"

	"github.com/roverlab/rover/internal/wire"
)

// PrivateAddress is the synthetic "10.<id>.0.1" identity of a rover.
type PrivateAddress wire.Address4

func (p PrivateAddress) String() string {
	return wire.Address4(p).String()
}

// PublicAddress is a rover's real interface address, used as a UDP next-hop.
type PublicAddress wire.Address4

func (p PublicAddress) String() string {
	return wire.Address4(p).String()
}

// FromID builds the private address "10.<id>.0.1" for a rover identity.
func FromID(id uint8) PrivateAddress {
	return PrivateAddress{10, id, 0, 1}
}

// FromIP converts a 4-byte IPv4 net.IP into a PublicAddress.
func FromIP(ip net.IP) (PublicAddress, error) {
	v4 := ip.To4()
	if v4 == nil {
		return PublicAddress{}, fmt.Errorf("address: %v is not an IPv4 address", ip)
	}
	return PublicAddress{v4[0], v4[1], v4[2], v4[3]}, nil
}

// ToIP renders a PublicAddress (or PrivateAddress, via wire.Address4) back
// into a net.IP for use with the standard networking stack.
func (p PublicAddress) ToIP() net.IP {
	return net.IPv4(p[0], p[1], p[2], p[3])
}

// ToIP renders a PrivateAddress back into a net.IP, mostly for logging and
// for comparisons against addresses parsed from the CLI.
func (p PrivateAddress) ToIP() net.IP {
	return net.IPv4(p[0], p[1], p[2], p[3])
}

// ParsePrivate parses a dotted-quad string (e.g. from the -dest CLI flag)
// into a PrivateAddress.
func ParsePrivate(s string) (PrivateAddress, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return PrivateAddress{}, fmt.Errorf("address: %q is not a valid IPv4 address", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return PrivateAddress{}, fmt.Errorf("address: %q is not an IPv4 address", s)
	}
	return PrivateAddress{v4[0], v4[1], v4[2], v4[3]}, nil
}

// DiscoverPublic discovers this host's outbound address by connecting a
// throwaway UDP socket to an arbitrary reachable host and reading back the
// OS-chosen local address — the same trick Rover.java's getMyInetAddress
// uses against 8.8.8.8. It never sends a packet (UDP "connect" just binds a
// route); failures here are FatalIO.
func DiscoverPublic() (PublicAddress, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return PublicAddress{}, fmt.Errorf("address: discovering public address: %w", err)
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return PublicAddress{}, fmt.Errorf("address: unexpected local address type %T", conn.LocalAddr())
	}
	return FromIP(localAddr.IP)
}
