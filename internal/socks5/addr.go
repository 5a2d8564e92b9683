package socks5

import (
	"net/netip"

	"github.com/die-net/socksd/internal/wire"
)

// AddrType is the ATYP tag that precedes an address on the wire.
type AddrType byte

const (
	AddrIPv4   AddrType = 0x01
	AddrDomain AddrType = 0x03
	AddrIPv6   AddrType = 0x04
)

// Addr is a destination or bound address: an IPv4 address, an IPv6 address,
// or a domain name. Type selects which of IP and Name is meaningful.
type Addr struct {
	Type AddrType
	IP   netip.Addr
	Name string
}

// AddrFromIP returns an IPv4 Addr for IPv4 and IPv4-mapped addresses and an
// IPv6 Addr otherwise.
func AddrFromIP(ip netip.Addr) Addr {
	ip = ip.Unmap()
	if ip.Is4() {
		return Addr{Type: AddrIPv4, IP: ip}
	}
	return Addr{Type: AddrIPv6, IP: ip}
}

// DomainAddr returns a domain-name Addr.
func DomainAddr(name string) Addr {
	return Addr{Type: AddrDomain, Name: name}
}

// String returns the bare address or name, suitable for net.JoinHostPort.
func (a Addr) String() string {
	if a.Type == AddrDomain {
		return a.Name
	}
	return a.IP.String()
}

// AppendTo panics if a.Type is not one of the defined address types or if
// a domain name is longer than 255 bytes.
func (a Addr) AppendTo(b []byte) []byte {
	b = append(b, byte(a.Type))
	switch a.Type {
	case AddrIPv4:
		return wire.AppendIPv4(b, a.IP)
	case AddrIPv6:
		return wire.AppendIPv6(b, a.IP)
	case AddrDomain:
		return wire.AppendHostname(b, a.Name)
	}
	panic("socks5: invalid address type")
}

func (a *Addr) Decode(b []byte) ([]byte, error) {
	tag, rest, err := wire.ReadByte(b)
	if err != nil {
		return b, err
	}
	switch AddrType(tag) {
	case AddrIPv4:
		ip, rest, err := wire.ReadIPv4(rest)
		if err != nil {
			return b, wire.WithContext("address", err)
		}
		*a = Addr{Type: AddrIPv4, IP: ip}
		return rest, nil
	case AddrIPv6:
		ip, rest, err := wire.ReadIPv6(rest)
		if err != nil {
			return b, wire.WithContext("address", err)
		}
		*a = Addr{Type: AddrIPv6, IP: ip}
		return rest, nil
	case AddrDomain:
		name, rest, err := wire.ReadHostname(rest)
		if err != nil {
			return b, wire.WithContext("address", err)
		}
		*a = Addr{Type: AddrDomain, Name: name}
		return rest, nil
	}
	return b, wire.Malformed("address type", "invalid address type %#02x", tag)
}
