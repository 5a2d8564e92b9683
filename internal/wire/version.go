package wire

import "fmt"

// Version is the protocol version byte that starts every client message.
type Version byte

const (
	Socks4 Version = 0x04
	Socks5 Version = 0x05
)

func (v Version) String() string {
	switch v {
	case Socks4:
		return "SOCKS4"
	case Socks5:
		return "SOCKS5"
	}
	return fmt.Sprintf("%#02x", byte(v))
}

func (v Version) AppendTo(b []byte) []byte {
	return append(b, byte(v))
}

// Decode accepts only Socks4 and Socks5.
func (v *Version) Decode(b []byte) ([]byte, error) {
	c, rest, err := ReadByte(b)
	if err != nil {
		return b, err
	}
	switch Version(c) {
	case Socks4, Socks5:
		*v = Version(c)
		return rest, nil
	}
	return b, Malformed("version", "unsupported version %#02x", c)
}

// Expect decodes a version byte and requires it to equal want.
func Expect(b []byte, want Version) ([]byte, error) {
	var v Version
	rest, err := v.Decode(b)
	if err != nil {
		return b, err
	}
	if v != want {
		return b, Malformed("version", "got %s, want %s", v, want)
	}
	return rest, nil
}
