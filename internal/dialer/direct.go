package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

type directDialer struct {
	cfg Config
}

// NewDirectDialer returns a Dialer that connects straight to the
// destination. Host names are resolved with cfg.Resolver when set, and each
// address is tried in turn.
func NewDirectDialer(cfg Config) Dialer {
	return &directDialer{cfg: cfg}
}

func (f *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	dd := net.Dialer{Timeout: f.cfg.DialTimeout, KeepAliveConfig: f.cfg.KeepAlive}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	if _, err := netip.ParseAddr(host); err == nil || f.cfg.Resolver == nil {
		conn, err := dd.DialContext(ctx, network, address)
		if err != nil {
			return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
		}
		return conn, nil
	}

	if f.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.DialTimeout)
		defer cancel()
	}

	addrs, err := f.cfg.Resolver.LookupNetIP(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: invalid port: %w", network, address, err)
	}

	var errs []error
	for _, ip := range addrs {
		if !networkAccepts(network, ip) {
			continue
		}
		conn, err := dd.DialContext(ctx, network, netip.AddrPortFrom(ip, uint16(portNum)).String())
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("dial %s %s: no usable addresses in %v", network, address, addrs)
	}
	return nil, fmt.Errorf("dial %s %s: %w", network, address, errors.Join(errs...))
}

func networkAccepts(network string, ip netip.Addr) bool {
	switch network {
	case "tcp4":
		return ip.Is4()
	case "tcp6":
		return ip.Is6()
	}
	return true
}
