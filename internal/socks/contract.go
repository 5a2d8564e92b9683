package socks

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/die-net/socksd/internal/socks5"
)

// Resolver turns a decoded request into an established outbound connection.
//
// Resolve is called at most once per session, after the request has been
// fully decoded. It returns the outbound connection and the Destination it
// actually reached, which may differ from the one requested (for example a
// resolved IP for a requested domain name). A Resolver is shared by every
// session and must be safe for concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, req ConnectionRequest) (net.Conn, Destination, error)
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(ctx context.Context, req ConnectionRequest) (net.Conn, Destination, error)

func (f ResolverFunc) Resolve(ctx context.Context, req ConnectionRequest) (net.Conn, Destination, error) {
	return f(ctx, req)
}

// StreamHandler relays bytes between the client and the outbound
// connection once negotiation succeeds. It owns both connections and must
// close them. A StreamHandler is shared by every session and must be safe for
// concurrent use.
type StreamHandler interface {
	HandleStreams(ctx context.Context, client, remote net.Conn) error
}

// StreamHandlerFunc adapts a function to a StreamHandler.
type StreamHandlerFunc func(ctx context.Context, client, remote net.Conn) error

func (f StreamHandlerFunc) HandleStreams(ctx context.Context, client, remote net.Conn) error {
	return f(ctx, client, remote)
}

// StatusError lets a Resolver choose the SOCKS5 reply status for a
// failure. SOCKS4 clients always see StatusRejected.
type StatusError struct {
	Status socks5.Status
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return e.Status.String()
	}
	return fmt.Sprintf("%s: %v", e.Status, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// StatusFor returns the SOCKS5 reply status for a Resolver error:
// the status of the first *StatusError in its chain, or
// StatusGeneralFailure.
func StatusFor(err error) socks5.Status {
	var se *StatusError
	if errors.As(err, &se) && se.Status != socks5.StatusSuccess {
		return se.Status
	}
	return socks5.StatusGeneralFailure
}
