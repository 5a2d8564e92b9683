package socks5

import (
	"fmt"

	"github.com/die-net/socksd/internal/wire"
)

// Command is the CMD field of a request.
type Command byte

const (
	CmdConnect      Command = 0x01
	CmdBind         Command = 0x02
	CmdUDPAssociate Command = 0x03
)

func (c Command) String() string {
	switch c {
	case CmdConnect:
		return "connect"
	case CmdBind:
		return "bind"
	case CmdUDPAssociate:
		return "udp associate"
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
	case CmdConnect, CmdBind, CmdUDPAssociate:
		*c = Command(v)
		return rest, nil
	}
	return b, wire.Malformed("command", "unknown command %#02x", v)
}

// AuthMethod is a METHOD value offered in a Hello or selected in a
// HelloResponse. Every byte value is a valid AuthMethod.
type AuthMethod byte

const (
	MethodNone             AuthMethod = 0x00
	MethodGSSAPI           AuthMethod = 0x01
	MethodUsernamePassword AuthMethod = 0x02
	MethodNotAcceptable    AuthMethod = 0xff
)

// IANAAssigned reports whether m is in the IANA-assigned range 0x03-0x7F.
func (m AuthMethod) IANAAssigned() bool {
	return m >= 0x03 && m <= 0x7f
}

// Private reports whether m is in the private-method range 0x80-0xFE.
func (m AuthMethod) Private() bool {
	return m >= 0x80 && m <= 0xfe
}

func (m AuthMethod) String() string {
	switch {
	case m == MethodNone:
		return "no authentication"
	case m == MethodGSSAPI:
		return "gssapi"
	case m == MethodUsernamePassword:
		return "username/password"
	case m == MethodNotAcceptable:
		return "no acceptable methods"
	case m.IANAAssigned():
		return fmt.Sprintf("iana assigned(%#02x)", byte(m))
	}
	return fmt.Sprintf("private method(%#02x)", byte(m))
}

func (m AuthMethod) AppendTo(b []byte) []byte {
	return append(b, byte(m))
}

func (m *AuthMethod) Decode(b []byte) ([]byte, error) {
	v, rest, err := wire.ReadByte(b)
	if err != nil {
		return b, err
	}
	*m = AuthMethod(v)
	return rest, nil
}

// Status is the REP field of a reply. Values above StatusCommandNotSupported
// are carried through unchanged and reported as unassigned.
type Status byte

const (
	StatusSuccess              Status = 0x00
	StatusGeneralFailure       Status = 0x01
	StatusConnectionNotAllowed Status = 0x02
	StatusNetworkUnreachable   Status = 0x03
	StatusHostUnreachable      Status = 0x04
	StatusConnectionRefused    Status = 0x05
	StatusTTLExpired           Status = 0x06
	StatusCommandNotSupported  Status = 0x07
)

// Unassigned reports whether s has no defined meaning here.
func (s Status) Unassigned() bool {
	return s > StatusCommandNotSupported
}

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "succeeded"
	case StatusGeneralFailure:
		return "general SOCKS server failure"
	case StatusConnectionNotAllowed:
		return "connection not allowed by ruleset"
	case StatusNetworkUnreachable:
		return "network unreachable"
	case StatusHostUnreachable:
		return "host unreachable"
	case StatusConnectionRefused:
		return "connection refused"
	case StatusTTLExpired:
		return "TTL expired"
	case StatusCommandNotSupported:
		return "command not supported"
	}
	return fmt.Sprintf("unassigned(%#02x)", byte(s))
}

func (s Status) AppendTo(b []byte) []byte {
	return append(b, byte(s))
}

func (s *Status) Decode(b []byte) ([]byte, error) {
	v, rest, err := wire.ReadByte(b)
	if err != nil {
		return b, err
	}
	*s = Status(v)
	return rest, nil
}
