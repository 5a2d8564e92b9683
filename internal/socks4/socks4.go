package socks4

import (
	"fmt"
	"net/netip"
	"strings"
	"unicode/utf8"

	"github.com/die-net/socksd/internal/socks5"
	"github.com/die-net/socksd/internal/wire"
)

// Command is the CD field of a request.
type Command byte

const (
	CmdConnect Command = 0x01
	CmdBind    Command = 0x02
)

func (c Command) String() string {
	switch c {
	case CmdConnect:
		return "connect"
	case CmdBind:
		return "bind"
	}
	return fmt.Sprintf("command(%#02x)", byte(c))
}

func (c Command) AppendTo(b []byte) []byte {
	return append(b, byte(c))
}

func (c *Command) Decode(b []byte) ([]byte, error) {
	v, rest, err := wire.ReadByte(b)
	if err != nil {
		return b, err
	}
	switch Command(v) {
	case CmdConnect, CmdBind:
		*c = Command(v)
		return rest, nil
	}
	return b, wire.Malformed("command", "unknown command %#02x", v)
}

// Status is the CD field of a reply. Unlike SOCKS5, the set is closed.
type Status byte

const (
	StatusSuccess            Status = 0x5a
	StatusRejected           Status = 0x5b
	StatusInetdNotAccessible Status = 0x5c
	StatusInetdNotIdentified Status = 0x5d
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "request granted"
	case StatusRejected:
		return "request rejected or failed"
	case StatusInetdNotAccessible:
		return "identd not reachable"
	case StatusInetdNotIdentified:
		return "identd could not confirm user id"
	}
	return fmt.Sprintf("status(%#02x)", byte(s))
}

func (s Status) AppendTo(b []byte) []byte {
	return append(b, byte(s))
}

func (s *Status) Decode(b []byte) ([]byte, error) {
	v, rest, err := wire.ReadByte(b)
	if err != nil {
		return b, err
	}
	switch Status(v) {
	case StatusSuccess, StatusRejected, StatusInetdNotAccessible, StatusInetdNotIdentified:
		*s = Status(v)
		return rest, nil
	}
	return b, wire.Malformed("status", "unknown status %#02x", v)
}

// AddrType distinguishes the two address forms SOCKS4 can carry.
type AddrType byte

const (
	AddrIPv4 AddrType = iota + 1
	AddrDomain
)

// Addr is a SOCKS4 destination: an IPv4 address or, via the SOCKS4a
// extension, a host name. IPv6 is not representable.
type Addr struct {
	Type AddrType
	IP   netip.Addr
	Name string
}

// AddrFromSOCKS5 converts a SOCKS5 address. IPv6 addresses, and IPv4
// addresses in 0.0.0.1-0.0.0.255 that SOCKS4a reserves to announce a host
// name, fail with wire.ErrUnsupported.
func AddrFromSOCKS5(a socks5.Addr) (Addr, error) {
	switch a.Type {
	case socks5.AddrIPv4:
		if isSentinel(a.IP) {
			return Addr{}, fmt.Errorf("socks4 cannot carry reserved address %s: %w", a, wire.ErrUnsupported)
		}
		return Addr{Type: AddrIPv4, IP: a.IP}, nil
	case socks5.AddrDomain:
		return Addr{Type: AddrDomain, Name: a.Name}, nil
	}
	return Addr{}, fmt.Errorf("socks4 cannot carry address %s: %w", a, wire.ErrUnsupported)
}

// SOCKS5 returns the equivalent SOCKS5 address.
func (a Addr) SOCKS5() socks5.Addr {
	if a.Type == AddrDomain {
		return socks5.DomainAddr(a.Name)
	}
	return socks5.AddrFromIP(a.IP)
}

func (a Addr) String() string {
	if a.Type == AddrDomain {
		return a.Name
	}
	return a.IP.String()
}

// sentinel is the 0.0.0.1 address written in place of an IP when a host name
// follows.
var sentinel = netip.AddrFrom4([4]byte{0, 0, 0, 1})

// isSentinel reports whether ip is in 0.0.0.1-0.0.0.255.
func isSentinel(ip netip.Addr) bool {
	a := ip.As4()
	return a[0] == 0 && a[1] == 0 && a[2] == 0 && a[3] != 0
}

// Request is a client request:
//
//	+----+----+----+----+----+----+----+----+----+----+....+----+
//	| VN | CD | DSTPORT |      DSTIP        | USERID       |NULL|
//	+----+----+----+----+----+----+----+----+----+----+....+----+
//	  1    1      2              4           variable       1
//
// followed, for SOCKS4a, by a NUL-terminated host name.
type Request struct {
	Command Command
	Addr    Addr
	Port    uint16
	UserID  string
}

// AppendTo panics if UserID or a host name contains a NUL byte, or if an
// IPv4 address falls in the 0.0.0.x range reserved for SOCKS4a.
func (r *Request) AppendTo(b []byte) []byte {
	b = wire.Socks4.AppendTo(b)
	b = r.Command.AppendTo(b)
	b = wire.AppendUint16(b, r.Port)
	if r.Addr.Type == AddrDomain {
		b = wire.AppendIPv4(b, sentinel)
		b = wire.AppendCString(b, r.UserID)
		return wire.AppendCString(b, r.Addr.Name)
	}
	if isSentinel(r.Addr.IP) {
		panic("socks4: IPv4 address in the SOCKS4a reserved range")
	}
	b = wire.AppendIPv4(b, r.Addr.IP)
	return wire.AppendCString(b, r.UserID)
}

func (r *Request) Decode(b []byte) ([]byte, error) {
	rest, err := r.decode(b)
	if err != nil {
		return b, wire.WithContext("request", err)
	}
	return rest, nil
}

func (r *Request) decode(b []byte) ([]byte, error) {
	rest, err := wire.Expect(b, wire.Socks4)
	if err != nil {
		return b, err
	}
	if rest, err = r.Command.Decode(rest); err != nil {
		return b, err
	}
	port, rest, err := wire.ReadUint16(rest)
	if err != nil {
		return b, err
	}
	ip, rest, err := wire.ReadIPv4(rest)
	if err != nil {
		return b, err
	}
	userID, rest, err := readString(rest, "user id")
	if err != nil {
		return b, err
	}

	addr := Addr{Type: AddrIPv4, IP: ip}
	if isSentinel(ip) {
		var name string
		name, rest, err = readString(rest, "domain name")
		if err != nil {
			return b, err
		}
		if name == "" {
			return b, wire.Malformed("domain name", "empty domain name")
		}
		addr = Addr{Type: AddrDomain, Name: name}
	}

	r.Addr, r.Port, r.UserID = addr, port, userID
	return rest, nil
}

func readString(b []byte, label string) (string, []byte, error) {
	s, rest, err := wire.ReadCString(b)
	if err != nil {
		return "", b, err
	}
	if !utf8.ValidString(s) || strings.ContainsFunc(s, isControl) {
		return "", b, wire.Malformed(label, "invalid characters in %q", s)
	}
	return s, rest, nil
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f
}

// Response is a server reply:
//
//	+----+----+----+----+----+----+----+----+
//	| VN | CD | DSTPORT |      DSTIP        |
//	+----+----+----+----+----+----+----+----+
//	  1    1      2              4
//
// VN is always zero.
type Response struct {
	Status Status
	IP     netip.Addr
	Port   uint16
}

func (r *Response) AppendTo(b []byte) []byte {
	b = append(b, 0x00)
	b = r.Status.AppendTo(b)
	b = wire.AppendUint16(b, r.Port)
	return wire.AppendIPv4(b, r.IP)
}

func (r *Response) Decode(b []byte) ([]byte, error) {
	rest, err := r.decode(b)
	if err != nil {
		return b, wire.WithContext("response", err)
	}
	return rest, nil
}

func (r *Response) decode(b []byte) ([]byte, error) {
	vn, rest, err := wire.ReadByte(b)
	if err != nil {
		return b, err
	}
	if vn != 0 {
		return b, wire.Malformed("version", "reply version %#02x, want 0x00", vn)
	}
	if rest, err = r.Status.Decode(rest); err != nil {
		return b, err
	}
	port, rest, err := wire.ReadUint16(rest)
	if err != nil {
		return b, err
	}
	ip, rest, err := wire.ReadIPv4(rest)
	if err != nil {
		return b, err
	}
	r.IP, r.Port = ip, port
	return rest, nil
}
