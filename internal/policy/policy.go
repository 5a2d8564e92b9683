// Package policy decides which destinations clients may connect to.
package policy

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// ErrDenied is wrapped by every refusal.
var ErrDenied = errors.New("destination denied by policy")

// CountryDB looks up the country of an address. *geoip2.Reader implements
// it.
type CountryDB interface {
	Country(ip net.IP) (*geoip2.Country, error)
}

type Config struct {
	// Allow, if non-empty, limits addresses to these prefixes.
	Allow []netip.Prefix
	Deny  []netip.Prefix

	// DenyDomains refuses each name and all of its subdomains.
	DenyDomains []string

	// DenyCountries lists ISO 3166-1 alpha-2 codes looked up in GeoIP.
	DenyCountries []string
	GeoIP         CountryDB
}

// Policy is safe for concurrent use. A nil *Policy allows everything.
type Policy struct {
	allow     []netip.Prefix
	deny      []netip.Prefix
	domains   []string
	countries map[string]bool
	geoip     CountryDB
}

func New(cfg Config) (*Policy, error) {
	if len(cfg.DenyCountries) > 0 && cfg.GeoIP == nil {
		return nil, errors.New("policy: country rules need a GeoIP database")
	}

	p := &Policy{
		allow: cfg.Allow,
		deny:  cfg.Deny,
		geoip: cfg.GeoIP,
	}
	for _, d := range cfg.DenyDomains {
		d = strings.Trim(strings.ToLower(d), ".")
		if d == "" {
			return nil, errors.New("policy: empty domain rule")
		}
		p.domains = append(p.domains, d)
	}
	if len(cfg.DenyCountries) > 0 {
		p.countries = make(map[string]bool, len(cfg.DenyCountries))
		for _, c := range cfg.DenyCountries {
			p.countries[strings.ToUpper(c)] = true
		}
	}
	return p, nil
}

// CheckName reports whether a host name may be resolved and dialed.
func (p *Policy) CheckName(name string) error {
	if p == nil {
		return nil
	}
	name = strings.TrimSuffix(strings.ToLower(name), ".")
	for _, d := range p.domains {
		if name == d || strings.HasSuffix(name, "."+d) {
			return fmt.Errorf("%w: %s matches %s", ErrDenied, name, d)
		}
	}
	return nil
}

// CheckAddr reports whether ip may be dialed.
func (p *Policy) CheckAddr(ip netip.Addr) error {
	if p == nil {
		return nil
	}
	ip = ip.Unmap()

	if len(p.allow) > 0 && !containsAddr(p.allow, ip) {
		return fmt.Errorf("%w: %s is not in an allowed range", ErrDenied, ip)
	}
	for _, pfx := range p.deny {
		if pfx.Contains(ip) {
			return fmt.Errorf("%w: %s is in %s", ErrDenied, ip, pfx)
		}
	}

	if len(p.countries) > 0 {
		c, err := p.geoip.Country(net.IP(ip.AsSlice()))
		if err != nil {
			return fmt.Errorf("geoip lookup %s: %w", ip, err)
		}
		if code := c.Country.IsoCode; p.countries[code] {
			return fmt.Errorf("%w: %s is in country %s", ErrDenied, ip, code)
		}
	}
	return nil
}

func containsAddr(prefixes []netip.Prefix, ip netip.Addr) bool {
	for _, pfx := range prefixes {
		if pfx.Contains(ip) {
			return true
		}
	}
	return false
}

// ParsePrefixes parses CIDR prefixes. A bare address is a single-host
// prefix.
func ParsePrefixes(ss []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(ss))
	for _, s := range ss {
		s = strings.TrimSpace(s)
		if !strings.Contains(s, "/") {
			ip, err := netip.ParseAddr(s)
			if err != nil {
				return nil, fmt.Errorf("policy prefix %q: %w", s, err)
			}
			ip = ip.Unmap()
			out = append(out, netip.PrefixFrom(ip, ip.BitLen()))
			continue
		}
		pfx, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("policy prefix %q: %w", s, err)
		}
		out = append(out, pfx.Masked())
	}
	return out, nil
}

// OpenGeoIP opens a MaxMind country or city database.
func OpenGeoIP(path string) (*geoip2.Reader, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return r, nil
}
