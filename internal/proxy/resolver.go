package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/die-net/socksd/internal/dialer"
	"github.com/die-net/socksd/internal/policy"
	"github.com/die-net/socksd/internal/socks"
	"github.com/die-net/socksd/internal/socks5"
)

// DialResolver connects requests through a dialer.Dialer after checking
// them against a policy. It implements socks.Resolver.
type DialResolver struct {
	Dialer dialer.Dialer
	Policy *policy.Policy

	// Timeout bounds each dial, on top of any dialer timeout.
	Timeout time.Duration
}

func (r *DialResolver) Resolve(ctx context.Context, req socks.ConnectionRequest) (net.Conn, socks.Destination, error) {
	dst := req.Destination
	if ap, ok := dst.AddrPort(); ok {
		if err := r.Policy.CheckAddr(ap.Addr()); err != nil {
			return nil, dst, denied(err)
		}
	} else if err := r.Policy.CheckName(dst.Addr.Name); err != nil {
		return nil, dst, denied(err)
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	conn, err := r.Dialer.DialContext(ctx, "tcp", dst.String())
	if err != nil {
		return nil, dst, &socks.StatusError{Status: dialStatus(err), Err: err}
	}

	// Through an upstream proxy the remote address is the proxy itself, so
	// the best report is the requested destination.
	if _, tunnelled := r.Dialer.(interface{ ProxyAddr() string }); tunnelled {
		return conn, dst, nil
	}

	reached, err := socks.DestinationFromNetAddr(conn.RemoteAddr())
	if err != nil {
		_ = conn.Close()
		return nil, dst, err
	}
	if dst.Addr.Type == socks5.AddrDomain {
		// Names were only checked by suffix; check what they resolved to.
		ap, _ := reached.AddrPort()
		if err := r.Policy.CheckAddr(ap.Addr()); err != nil {
			_ = conn.Close()
			return nil, dst, denied(err)
		}
	}
	return conn, reached, nil
}

func denied(err error) error {
	if errors.Is(err, policy.ErrDenied) {
		return &socks.StatusError{Status: socks5.StatusConnectionNotAllowed, Err: err}
	}
	return fmt.Errorf("policy: %w", err)
}

// dialStatus picks the SOCKS5 reply for a failed dial.
func dialStatus(err error) socks5.Status {
	var se *socks.StatusError
	var de *net.DNSError
	switch {
	case errors.As(err, &se):
		// An upstream SOCKS server already chose.
		return se.Status
	case errors.Is(err, syscall.ECONNREFUSED):
		return socks5.StatusConnectionRefused
	case errors.Is(err, syscall.ENETUNREACH):
		return socks5.StatusNetworkUnreachable
	case errors.Is(err, syscall.EHOSTUNREACH), errors.As(err, &de):
		return socks5.StatusHostUnreachable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, syscall.ETIMEDOUT):
		return socks5.StatusTTLExpired
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return socks5.StatusTTLExpired
	}
	return socks5.StatusGeneralFailure
}
