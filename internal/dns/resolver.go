// Package dns resolves host names for outbound connections by querying
// configured DNS servers directly, caching answers for their TTL.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
	"github.com/patrickmn/go-cache"
	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout  = 2 * time.Second
	defaultCacheTTL = 5 * time.Minute
	minCacheTTL     = time.Second
)

type Config struct {
	// Servers are host:port addresses of recursive resolvers. A port-less
	// entry uses 53.
	Servers []string

	// Timeout bounds each query. Zero selects 2s.
	Timeout time.Duration

	// CacheTTL caps how long an answer is cached. Zero selects 5m; a
	// negative value disables caching.
	CacheTTL time.Duration
}

// Resolver looks up A and AAAA records. It is safe for concurrent use.
type Resolver struct {
	servers []string
	udp     *dns.Client
	tcp     *dns.Client
	maxTTL  time.Duration
	cache   *cache.Cache
	group   singleflight.Group
}

type answer struct {
	addrs []netip.Addr
	ttl   time.Duration
}

func New(cfg Config) (*Resolver, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("dns: no servers configured")
	}
	servers := make([]string, len(cfg.Servers))
	for i, s := range cfg.Servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		servers[i] = s
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxTTL := cfg.CacheTTL
	if maxTTL == 0 {
		maxTTL = defaultCacheTTL
	}

	r := &Resolver{
		servers: servers,
		udp:     &dns.Client{Net: "udp", Timeout: timeout},
		tcp:     &dns.Client{Net: "tcp", Timeout: timeout},
		maxTTL:  maxTTL,
	}
	if maxTTL > 0 {
		r.cache = cache.New(maxTTL, 2*maxTTL)
	}
	return r, nil
}

// LookupNetIP returns the IPv4 then IPv6 addresses of host. IP literals are
// returned as is.
func (r *Resolver) LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{ip.Unmap()}, nil
	}

	name := dns.CanonicalName(host)
	if r.cache != nil {
		if v, ok := r.cache.Get(name); ok {
			return v.([]netip.Addr), nil
		}
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		a, err := r.resolve(ctx, name)
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			r.cache.Set(name, a.addrs, min(max(a.ttl, minCacheTTL), r.maxTTL))
		}
		return a.addrs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]netip.Addr), nil
}

func (r *Resolver) resolve(ctx context.Context, name string) (answer, error) {
	var v4, v6 answer

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		v4, err = r.query(gctx, name, dns.TypeA)
		return err
	})
	g.Go(func() error {
		var err error
		v6, err = r.query(gctx, name, dns.TypeAAAA)
		return err
	})
	if err := g.Wait(); err != nil {
		return answer{}, err
	}

	addrs := append(v4.addrs, v6.addrs...)
	if len(addrs) == 0 {
		return answer{}, &net.DNSError{
			Err:        "no such host",
			Name:       name,
			IsNotFound: true,
		}
	}

	ttl := v4.ttl
	if len(v4.addrs) == 0 || (len(v6.addrs) > 0 && v6.ttl < ttl) {
		ttl = v6.ttl
	}
	return answer{addrs: addrs, ttl: ttl}, nil
}

// query asks the servers in turn, starting with the one name hashes to, and
// returns the first definitive answer. NXDOMAIN is an empty answer.
func (r *Resolver) query(ctx context.Context, name string, qtype uint16) (answer, error) {
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)

	start := pickServer(name, len(r.servers))
	var lastErr error
	for i := range r.servers {
		server := r.servers[(start+i)%len(r.servers)]

		resp, _, err := r.udp.ExchangeContext(ctx, m, server)
		if err == nil && resp.Truncated {
			resp, _, err = r.tcp.ExchangeContext(ctx, m, server)
		}
		if err != nil {
			lastErr = fmt.Errorf("dns %s %s via %s: %w", dns.TypeToString[qtype], name, server, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		switch resp.Rcode {
		case dns.RcodeSuccess:
			return parseAnswer(resp), nil
		case dns.RcodeNameError:
			return answer{}, nil
		default:
			lastErr = fmt.Errorf("dns %s %s via %s: %s", dns.TypeToString[qtype], name, server, dns.RcodeToString[resp.Rcode])
		}
	}
	return answer{}, lastErr
}

func parseAnswer(resp *dns.Msg) answer {
	var a answer
	first := true
	for _, rr := range resp.Answer {
		var ip net.IP
		switch rr := rr.(type) {
		case *dns.A:
			ip = rr.A
		case *dns.AAAA:
			ip = rr.AAAA
		default:
			continue
		}
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		a.addrs = append(a.addrs, addr.Unmap())

		ttl := time.Duration(rr.Header().Ttl) * time.Second
		if first || ttl < a.ttl {
			a.ttl = ttl
			first = false
		}
	}
	return a
}

// pickServer maps a name to a stable server index.
func pickServer(name string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(murmur3.Sum64([]byte(name)) % uint64(n))
}
