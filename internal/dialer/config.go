package dialer

import (
	"context"
	"net"
	"net/netip"
	"time"
)

// HostResolver turns a host name into addresses. *dns.Resolver implements
// it.
type HostResolver interface {
	LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error)
}

type Config struct {
	DialTimeout time.Duration

	// NegotiationTimeout bounds the handshake with an upstream proxy.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// Resolver resolves names for the direct dialer and for upstream
	// schemes that need a local lookup (socks4, socks5). Nil uses the
	// system resolver.
	Resolver HostResolver
}

func (c Config) resolver() HostResolver {
	if c.Resolver != nil {
		return c.Resolver
	}
	return systemResolver{}
}

type systemResolver struct{}

func (systemResolver) LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}
