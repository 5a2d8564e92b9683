package wire

import (
	"encoding/binary"
	"net/netip"
	"unicode/utf8"
)

// Codable is implemented by every SOCKS wire value.
//
// AppendTo appends the canonical encoding to b and returns the extended
// slice. Decode parses a value from the front of b into the receiver and
// returns the unconsumed remainder; on failure the receiver is left in an
// unspecified state and the error is an *IncompleteError or *MalformedError.
// Decode never retains b.
type Codable interface {
	AppendTo(b []byte) []byte
	Decode(b []byte) ([]byte, error)
}

// Marshal returns the encoding of c.
func Marshal(c Codable) []byte {
	return c.AppendTo(nil)
}

// Unmarshal decodes c from b and returns the unconsumed remainder.
func Unmarshal(b []byte, c Codable) ([]byte, error) {
	return c.Decode(b)
}

const (
	IPv4Len = 4
	IPv6Len = 16
	PortLen = 2

	// MaxHostnameLen is the largest host name representable by the one-byte
	// length prefix.
	MaxHostnameLen = 255
)

// ReadByte decodes a single byte.
func ReadByte(b []byte) (byte, []byte, error) {
	if len(b) < 1 {
		return 0, b, Incomplete(1, len(b))
	}
	return b[0], b[1:], nil
}

// AppendUint16 appends v in network byte order.
func AppendUint16(b []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(b, v)
}

// ReadUint16 decodes a big-endian uint16.
func ReadUint16(b []byte) (uint16, []byte, error) {
	if len(b) < PortLen {
		return 0, b, Incomplete(PortLen, len(b))
	}
	return binary.BigEndian.Uint16(b), b[PortLen:], nil
}

// AppendIPv4 appends the four octets of ip. ip must be an IPv4 (or
// IPv4-mapped IPv6) address; anything else encodes as 0.0.0.0.
func AppendIPv4(b []byte, ip netip.Addr) []byte {
	ip = ip.Unmap()
	if !ip.Is4() {
		return append(b, 0, 0, 0, 0)
	}
	a := ip.As4()
	return append(b, a[:]...)
}

// ReadIPv4 decodes four octets as an IPv4 address.
func ReadIPv4(b []byte) (netip.Addr, []byte, error) {
	if len(b) < IPv4Len {
		return netip.Addr{}, b, Incomplete(IPv4Len, len(b))
	}
	return netip.AddrFrom4([IPv4Len]byte(b[:IPv4Len])), b[IPv4Len:], nil
}

// AppendIPv6 appends the sixteen octets of ip. IPv4 addresses are written
// in their IPv4-mapped form.
func AppendIPv6(b []byte, ip netip.Addr) []byte {
	if !ip.IsValid() {
		ip = netip.IPv6Unspecified()
	}
	a := ip.As16()
	return append(b, a[:]...)
}

// ReadIPv6 decodes sixteen octets as an IPv6 address.
func ReadIPv6(b []byte) (netip.Addr, []byte, error) {
	if len(b) < IPv6Len {
		return netip.Addr{}, b, Incomplete(IPv6Len, len(b))
	}
	return netip.AddrFrom16([IPv6Len]byte(b[:IPv6Len])), b[IPv6Len:], nil
}

// AppendHostname appends a one-byte length followed by name. It panics if
// name is longer than MaxHostnameLen bytes.
func AppendHostname(b []byte, name string) []byte {
	if len(name) > MaxHostnameLen {
		panic("wire: host name longer than 255 bytes")
	}
	b = append(b, byte(len(name)))
	return append(b, name...)
}

// ReadHostname decodes a length-prefixed host name. The bytes must be valid
// UTF-8.
func ReadHostname(b []byte) (string, []byte, error) {
	n, rest, err := ReadByte(b)
	if err != nil {
		return "", b, err
	}
	if len(rest) < int(n) {
		return "", b, Incomplete(int(n), len(rest))
	}
	name := rest[:n]
	if !utf8.Valid(name) {
		return "", b, Malformed("domain name", "invalid UTF-8")
	}
	return string(name), rest[n:], nil
}

// AppendCString appends s followed by a NUL byte. It panics if s contains
// a NUL byte.
func AppendCString(b []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			panic("wire: NUL byte inside NUL-terminated string")
		}
	}
	b = append(b, s...)
	return append(b, 0)
}

// ReadCString decodes a NUL-terminated string. A missing terminator is
// reported as incomplete with an unknown byte count.
func ReadCString(b []byte) (string, []byte, error) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:], nil
		}
	}
	return "", b, &IncompleteError{}
}
