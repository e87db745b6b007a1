package session

import (
	"encoding/binary"
	"net"
	"net/netip"
)

// ClientIdentity keys a session by the UDP source address and port of the
// client. The zero value is not a valid identity.
type ClientIdentity struct {
	addrPort netip.AddrPort
}

// NewClientIdentity builds an identity from a datagram source address.
// IPv4-mapped IPv6 addresses are unmapped so both socket families agree.
func NewClientIdentity(addr *net.UDPAddr) ClientIdentity {
	if addr == nil {
		return ClientIdentity{}
	}
	return IdentityFromAddrPort(addr.AddrPort())
}

// IdentityFromAddrPort builds an identity from an already parsed address.
func IdentityFromAddrPort(ap netip.AddrPort) ClientIdentity {
	return ClientIdentity{addrPort: netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())}
}

// Addr returns the client address.
func (c ClientIdentity) Addr() netip.Addr {
	return c.addrPort.Addr()
}

// Port returns the client UDP port.
func (c ClientIdentity) Port() uint16 {
	return c.addrPort.Port()
}

// Host returns the address without the port, used for per-host limits.
func (c ClientIdentity) Host() string {
	return c.addrPort.Addr().String()
}

// AddrPort returns the address and port for WriteToUDPAddrPort.
func (c ClientIdentity) AddrPort() netip.AddrPort {
	return c.addrPort
}

// UDPAddr returns a fresh *net.UDPAddr suitable for WriteToUDP.
func (c ClientIdentity) UDPAddr() *net.UDPAddr {
	return net.UDPAddrFromAddrPort(c.addrPort)
}

// IsValid reports whether the identity carries an address.
func (c ClientIdentity) IsValid() bool {
	return c.addrPort.IsValid()
}

// Equal reports whether both address and port match.
func (c ClientIdentity) Equal(other ClientIdentity) bool {
	return c.addrPort == other.addrPort
}

// Hash packs the address big-endian into an integer and adds the port.
// Lookups never rely on it alone; map keys compare the full identity.
func (c ClientIdentity) Hash() uint64 {
	addr := c.addrPort.Addr()
	var h uint64
	if addr.Is4() {
		b := addr.As4()
		h = uint64(binary.BigEndian.Uint32(b[:]))
	} else {
		b := addr.As16()
		h = binary.BigEndian.Uint64(b[:8]) ^ binary.BigEndian.Uint64(b[8:])
	}
	return h + uint64(c.addrPort.Port())
}

func (c ClientIdentity) String() string {
	return c.addrPort.String()
}
