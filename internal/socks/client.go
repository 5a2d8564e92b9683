package socks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/die-net/socksd/internal/socks4"
	"github.com/die-net/socksd/internal/socks5"
	"github.com/die-net/socksd/internal/wire"
)

// ErrRequestFailed is wrapped by the error Client.Connect returns when the
// server answers with a non-success status.
var ErrRequestFailed = errors.New("socks request failed")

// Client performs the client side of a SOCKS handshake over an existing
// connection to a SOCKS server.
type Client struct {
	// Version selects the protocol. Zero means wire.Socks5. SOCKS4 sends
	// domain names with the SOCKS4a extension.
	Version wire.Version

	// UserID is the SOCKS4 user id field. Ignored for SOCKS5.
	UserID string

	// MaxMessageSize bounds the server's replies. Zero selects
	// wire.DefaultMaxMessageSize.
	MaxMessageSize int
}

// Connect asks the server on conn to connect to dst and returns the
// tunnelled stream.
//
// ctx's deadline, if any, bounds the handshake; cancelling ctx interrupts
// it. Connect does not close conn on failure.
func (c *Client) Connect(ctx context.Context, conn net.Conn, dst Destination) (net.Conn, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
		defer conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	r := wire.NewReader(conn, c.MaxMessageSize)
	var err error
	if c.Version == wire.Socks4 {
		err = c.connect4(conn, r, dst)
	} else {
		err = c.connect5(conn, r, dst)
	}

	if !stop() {
		if err == nil {
			err = ctx.Err()
		} else {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("socks connect %s: %w", dst, err)
	}
	return newPrefixConn(conn, bytes.Clone(r.Buffered())), nil
}

func (c *Client) connect5(conn net.Conn, r *wire.Reader, dst Destination) error {
	if err := writeMessage(conn, &socks5.Hello{Methods: []socks5.AuthMethod{socks5.MethodNone}}); err != nil {
		return err
	}
	var hr socks5.HelloResponse
	if err := r.Next(&hr); err != nil {
		return err
	}
	if hr.Method != socks5.MethodNone {
		return fmt.Errorf("server selected authentication method %s: %w", hr.Method, wire.ErrUnsupported)
	}

	if err := writeMessage(conn, &socks5.Request{Command: socks5.CmdConnect, Addr: dst.Addr, Port: dst.Port}); err != nil {
		return err
	}
	var resp socks5.Response
	if err := r.Next(&resp); err != nil {
		return err
	}
	if resp.Status != socks5.StatusSuccess {
		return &StatusError{Status: resp.Status, Err: ErrRequestFailed}
	}
	return nil
}

func (c *Client) connect4(conn net.Conn, r *wire.Reader, dst Destination) error {
	addr, err := dst.SOCKS4()
	if err != nil {
		return err
	}
	req := &socks4.Request{Command: socks4.CmdConnect, Addr: addr, Port: dst.Port, UserID: c.UserID}
	if err := writeMessage(conn, req); err != nil {
		return err
	}
	var resp socks4.Response
	if err := r.Next(&resp); err != nil {
		return err
	}
	if resp.Status != socks4.StatusSuccess {
		return fmt.Errorf("%w: %s", ErrRequestFailed, resp.Status)
	}
	return nil
}

func writeMessage(conn net.Conn, m wire.Codable) error {
	if _, err := conn.Write(wire.Marshal(m)); err != nil {
		return fmt.Errorf("write %T: %w", m, err)
	}
	return nil
}
