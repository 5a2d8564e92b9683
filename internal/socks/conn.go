package socks

import "net"

// prefixConn replays bytes that were read past the end of the handshake
// before reading from the underlying connection.
type prefixConn struct {
	net.Conn
	pending []byte
}

func newPrefixConn(c net.Conn, pending []byte) net.Conn {
	if len(pending) == 0 {
		return c
	}
	return &prefixConn{Conn: c, pending: pending}
}

func (c *prefixConn) Read(b []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(b, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	return c.Conn.Read(b)
}

// CloseWrite half-closes the underlying connection when it supports it.
func (c *prefixConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.Conn.Close()
}
