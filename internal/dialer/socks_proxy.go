package dialer

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/die-net/socksd/internal/socks"
	"github.com/die-net/socksd/internal/socks5"
	"github.com/die-net/socksd/internal/wire"
)

// SOCKSProxyDialer dials outbound TCP connections through a SOCKS4, SOCKS4a,
// SOCKS5 or SOCKS5h upstream.
type SOCKSProxyDialer struct {
	cfg       Config
	proxyAddr string
	client    socks.Client
	remoteDNS bool
	direct    Dialer
}

// NewSOCKSProxyDialer returns a dialer that connects through the SOCKS
// server at proxyAddr. With remoteDNS set, host names are sent to the
// upstream; otherwise they are resolved locally first.
func NewSOCKSProxyDialer(cfg Config, proxyAddr string, version wire.Version, userID string, remoteDNS bool) *SOCKSProxyDialer {
	return &SOCKSProxyDialer{
		cfg:       cfg,
		proxyAddr: proxyAddr,
		client:    socks.Client{Version: version, UserID: userID},
		remoteDNS: remoteDNS,
		direct:    NewDirectDialer(cfg),
	}
}

// ProxyAddr returns the upstream host:port.
func (f *SOCKSProxyDialer) ProxyAddr() string {
	return f.proxyAddr
}

// DialContext connects to address via the upstream. The SOCKS handshake is
// bounded by NegotiationTimeout when set.
func (f *SOCKSProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("socks proxy dial %s %s: unsupported network", network, address)
	}

	dst, err := socks.ParseDestination(address)
	if err != nil {
		return nil, fmt.Errorf("socks proxy dial %s: %w", address, err)
	}
	if dst.Addr.Type == socks5.AddrDomain && !f.remoteDNS {
		if dst, err = f.resolveLocally(ctx, dst); err != nil {
			return nil, fmt.Errorf("socks proxy dial %s: %w", address, err)
		}
	}

	c, err := f.direct.DialContext(ctx, "tcp", f.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks proxy: %w", err)
	}

	hctx := ctx
	if f.cfg.NegotiationTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, f.cfg.NegotiationTimeout)
		defer cancel()
	}

	tunnel, err := f.client.Connect(hctx, c, dst)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("socks proxy %s: %w", f.proxyAddr, err)
	}
	return tunnel, nil
}

func (f *SOCKSProxyDialer) resolveLocally(ctx context.Context, dst socks.Destination) (socks.Destination, error) {
	if f.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.DialTimeout)
		defer cancel()
	}

	addrs, err := f.cfg.resolver().LookupNetIP(ctx, dst.Addr.Name)
	if err != nil {
		return dst, err
	}
	for _, ip := range addrs {
		ip = ip.Unmap()
		// SOCKS4 can only carry IPv4.
		if f.client.Version == wire.Socks4 && !ip.Is4() {
			continue
		}
		return socks.DestinationFromAddrPort(netip.AddrPortFrom(ip, dst.Port)), nil
	}
	return dst, fmt.Errorf("no usable address for %s in %v", dst.Addr.Name, addrs)
}
