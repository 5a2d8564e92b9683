package socks5

import (
	"slices"

	"github.com/die-net/socksd/internal/wire"
)

// Hello is the client's method-selection message:
//
//	+----+----------+----------+
//	|VER | NMETHODS | METHODS  |
//	+----+----------+----------+
//	| 1  |    1     | 1 to 255 |
//	+----+----------+----------+
type Hello struct {
	Methods []AuthMethod
}

// Offers reports whether the client offered m.
func (h *Hello) Offers(m AuthMethod) bool {
	return slices.Contains(h.Methods, m)
}

// AppendTo panics if more than 255 methods are offered.
func (h *Hello) AppendTo(b []byte) []byte {
	if len(h.Methods) > 255 {
		panic("socks5: more than 255 authentication methods")
	}
	b = wire.Socks5.AppendTo(b)
	b = append(b, byte(len(h.Methods)))
	for _, m := range h.Methods {
		b = m.AppendTo(b)
	}
	return b
}

func (h *Hello) Decode(b []byte) ([]byte, error) {
	rest, err := wire.Expect(b, wire.Socks5)
	if err != nil {
		return b, wire.WithContext("hello", err)
	}
	n, rest, err := wire.ReadByte(rest)
	if err != nil {
		return b, err
	}
	if len(rest) < int(n) {
		return b, wire.Incomplete(int(n), len(rest))
	}
	methods := make([]AuthMethod, n)
	for i := range methods {
		methods[i] = AuthMethod(rest[i])
	}
	h.Methods = methods
	return rest[n:], nil
}

// HelloResponse is the server's method selection:
//
//	+----+--------+
//	|VER | METHOD |
//	+----+--------+
//	| 1  |   1    |
//	+----+--------+
type HelloResponse struct {
	Method AuthMethod
}

func (r *HelloResponse) AppendTo(b []byte) []byte {
	b = wire.Socks5.AppendTo(b)
	return r.Method.AppendTo(b)
}

func (r *HelloResponse) Decode(b []byte) ([]byte, error) {
	rest, err := wire.Expect(b, wire.Socks5)
	if err != nil {
		return b, wire.WithContext("hello response", err)
	}
	rest, err = r.Method.Decode(rest)
	if err != nil {
		return b, err
	}
	return rest, nil
}

// Request is a client request:
//
//	+----+-----+-------+------+----------+----------+
//	|VER | CMD |  RSV  | ATYP | DST.ADDR | DST.PORT |
//	+----+-----+-------+------+----------+----------+
//	| 1  |  1  | X'00' |  1   | Variable |    2     |
//	+----+-----+-------+------+----------+----------+
type Request struct {
	Command Command
	Addr    Addr
	Port    uint16
}

func (r *Request) AppendTo(b []byte) []byte {
	b = wire.Socks5.AppendTo(b)
	b = r.Command.AppendTo(b)
	b = append(b, 0x00)
	b = r.Addr.AppendTo(b)
	return wire.AppendUint16(b, r.Port)
}

func (r *Request) Decode(b []byte) ([]byte, error) {
	addr, port, rest, err := decodeHeader(b, &r.Command)
	if err != nil {
		return b, wire.WithContext("request", err)
	}
	r.Addr, r.Port = addr, port
	return rest, nil
}

// Response is a server reply:
//
//	+----+-----+-------+------+----------+----------+
//	|VER | REP |  RSV  | ATYP | BND.ADDR | BND.PORT |
//	+----+-----+-------+------+----------+----------+
//	| 1  |  1  | X'00' |  1   | Variable |    2     |
//	+----+-----+-------+------+----------+----------+
type Response struct {
	Status Status
	Addr   Addr
	Port   uint16
}

func (r *Response) AppendTo(b []byte) []byte {
	b = wire.Socks5.AppendTo(b)
	b = r.Status.AppendTo(b)
	b = append(b, 0x00)
	b = r.Addr.AppendTo(b)
	return wire.AppendUint16(b, r.Port)
}

func (r *Response) Decode(b []byte) ([]byte, error) {
	addr, port, rest, err := decodeHeader(b, &r.Status)
	if err != nil {
		return b, wire.WithContext("response", err)
	}
	r.Addr, r.Port = addr, port
	return rest, nil
}

// decodeHeader parses the VER, code, RSV, address and port layout shared by
// requests and replies. code decodes the second byte.
func decodeHeader(b []byte, code wire.Codable) (Addr, uint16, []byte, error) {
	var addr Addr
	rest, err := wire.Expect(b, wire.Socks5)
	if err != nil {
		return addr, 0, b, err
	}
	if rest, err = code.Decode(rest); err != nil {
		return addr, 0, b, err
	}
	// RSV is ignored on receipt.
	if _, rest, err = wire.ReadByte(rest); err != nil {
		return addr, 0, b, err
	}
	if rest, err = addr.Decode(rest); err != nil {
		return addr, 0, b, err
	}
	port, rest, err := wire.ReadUint16(rest)
	if err != nil {
		return addr, 0, b, wire.WithContext("port", err)
	}
	return addr, port, rest, nil
}
