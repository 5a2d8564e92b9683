package socks

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/socksd/internal/socks4"
	"github.com/die-net/socksd/internal/socks5"
	"github.com/die-net/socksd/internal/wire"
)

// Destination is a version-independent address and port.
type Destination struct {
	Addr socks5.Addr
	Port uint16
}

// DestinationFromAddrPort returns the Destination for a resolved socket
// address.
func DestinationFromAddrPort(ap netip.AddrPort) Destination {
	return Destination{Addr: socks5.AddrFromIP(ap.Addr()), Port: ap.Port()}
}

// DestinationFromNetAddr converts a *net.TCPAddr (or any net.Addr whose
// String is an ip:port) to a Destination.
func DestinationFromNetAddr(a net.Addr) (Destination, error) {
	if ta, ok := a.(*net.TCPAddr); ok {
		return DestinationFromAddrPort(ta.AddrPort()), nil
	}
	ap, err := netip.ParseAddrPort(a.String())
	if err != nil {
		return Destination{}, fmt.Errorf("destination from %s address %q: %w", a.Network(), a.String(), err)
	}
	return DestinationFromAddrPort(ap), nil
}

// ParseDestination parses a "host:port" string. Hosts that are not IP
// literals become domain names.
func ParseDestination(address string) (Destination, error) {
	atyp, addr, port, err := txsocks5.ParseAddress(address)
	if err != nil {
		return Destination{}, fmt.Errorf("parse destination %q: %w", address, err)
	}

	var d Destination
	switch atyp {
	case txsocks5.ATYPIPv4:
		d.Addr = socks5.AddrFromIP(netip.AddrFrom4([4]byte(addr)))
	case txsocks5.ATYPIPv6:
		d.Addr = socks5.AddrFromIP(netip.AddrFrom16([16]byte(addr)))
	case txsocks5.ATYPDomain:
		// The domain form carries its own length prefix.
		name := addr[1:]
		if len(name) == 0 || len(name) > wire.MaxHostnameLen {
			return Destination{}, fmt.Errorf("parse destination %q: host name must be 1-%d bytes", address, wire.MaxHostnameLen)
		}
		d.Addr = socks5.DomainAddr(string(name))
	default:
		return Destination{}, fmt.Errorf("parse destination %q: unknown address type %d", address, atyp)
	}
	d.Port = uint16(port[0])<<8 | uint16(port[1])
	return d, nil
}

func destinationFromSOCKS4(a socks4.Addr, port uint16) Destination {
	return Destination{Addr: a.SOCKS5(), Port: port}
}

// SOCKS4 returns the SOCKS4 form of d's address. IPv6 destinations fail with
// wire.ErrUnsupported.
func (d Destination) SOCKS4() (socks4.Addr, error) {
	return socks4.AddrFromSOCKS5(d.Addr)
}

// AddrPort returns d as a netip.AddrPort. ok is false for domain names.
func (d Destination) AddrPort() (netip.AddrPort, bool) {
	if d.Addr.Type == socks5.AddrDomain {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(d.Addr.IP, d.Port), true
}

// ErrInvalidDestination is wrapped by Destination.Validate failures.
var ErrInvalidDestination = errors.New("invalid destination")

// Validate reports whether d can be encoded in a reply: a known address
// type holding an address of that family, or a 1-255 byte host name.
func (d Destination) Validate() error {
	a := d.Addr
	switch a.Type {
	case socks5.AddrIPv4:
		if a.IP.Is4() {
			return nil
		}
	case socks5.AddrIPv6:
		if a.IP.Is6() {
			return nil
		}
	case socks5.AddrDomain:
		if len(a.Name) > 0 && len(a.Name) <= wire.MaxHostnameLen {
			return nil
		}
	}
	return fmt.Errorf("%w: %+v", ErrInvalidDestination, d)
}

// String returns d in host:port form, suitable for net.Dial.
func (d Destination) String() string {
	return net.JoinHostPort(d.Addr.String(), strconv.Itoa(int(d.Port)))
}

// ConnectionRequest is what a Resolver is asked to connect to.
type ConnectionRequest struct {
	Destination Destination

	// Version and Command are as decoded from the client. SOCKS4 commands
	// share their values with SOCKS5.
	Version wire.Version
	Command socks5.Command

	// UserID is the SOCKS4 user id field, empty for SOCKS5.
	UserID string

	// ClientAddr is the remote address of the client connection, if known.
	ClientAddr net.Addr
}

// ConnectionResponse is the outcome reported back to the client.
type ConnectionResponse struct {
	Destination Destination
	Status      socks5.Status
}

// SOCKS5 returns the SOCKS5 reply for r.
func (r ConnectionResponse) SOCKS5() *socks5.Response {
	return &socks5.Response{Status: r.Status, Addr: r.Destination.Addr, Port: r.Destination.Port}
}

// SOCKS4 returns the SOCKS4 reply for r. Every non-success status becomes
// StatusRejected, and a destination that is not IPv4 is reported as
// 0.0.0.0 since SOCKS4 replies can carry nothing else.
func (r ConnectionResponse) SOCKS4() *socks4.Response {
	resp := &socks4.Response{
		Status: socks4.StatusRejected,
		IP:     netip.IPv4Unspecified(),
		Port:   r.Destination.Port,
	}
	if r.Status == socks5.StatusSuccess {
		resp.Status = socks4.StatusSuccess
	}
	if r.Destination.Addr.Type == socks5.AddrIPv4 {
		resp.IP = r.Destination.Addr.IP
	}
	return resp
}
