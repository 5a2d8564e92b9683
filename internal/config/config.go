// Package config loads the optional YAML configuration file and merges it
// into the command-line flags.
//
// Flags given explicitly on the command line win over the file, and the file
// wins over flag defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/die-net/socksd/internal/logging"
)

// File is the on-disk configuration. Every field is optional.
type File struct {
	Listen   []string `yaml:"listen"`
	Upstream string   `yaml:"upstream"`

	DialTimeout        DurationString `yaml:"dial_timeout"`
	NegotiationTimeout DurationString `yaml:"negotiation_timeout"`
	IdleTimeout        DurationString `yaml:"idle_timeout"`
	TCPKeepAlive       string         `yaml:"tcp_keepalive"`
	ReusePort          bool           `yaml:"reuse_port"`
	MaxMessageSize     int            `yaml:"max_message_size"`
	BandwidthLimit     ByteSize       `yaml:"bandwidth_limit"`
	Verbose            bool           `yaml:"verbose"`

	DNS    DNS            `yaml:"dns"`
	Policy Policy         `yaml:"policy"`
	Log    logging.Config `yaml:"log"`
}

// DNS configures the resolver used by the direct dialer.
type DNS struct {
	Servers  []string       `yaml:"servers"`
	Timeout  DurationString `yaml:"timeout"`
	CacheTTL DurationString `yaml:"cache_ttl"`
}

// Policy restricts the destinations clients may reach.
type Policy struct {
	Allow         []string `yaml:"allow"`
	Deny          []string `yaml:"deny"`
	DenyDomains   []string `yaml:"deny_domains"`
	GeoIPDB       string   `yaml:"geoip_db"`
	DenyCountries []string `yaml:"deny_countries"`
}

// Load reads and parses the YAML file at path. Unknown keys are an error;
// an empty file is not.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg File
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// FlagValues returns the file's settings keyed by flag name, in the string
// form pflag accepts. Unset fields are omitted.
func (c *File) FlagValues() map[string]string {
	m := make(map[string]string)
	setString := func(name, v string) {
		if v != "" {
			m[name] = v
		}
	}
	setList := func(name string, v []string) {
		if len(v) > 0 {
			m[name] = strings.Join(v, ",")
		}
	}
	setDuration := func(name string, d DurationString) {
		if d != 0 {
			m[name] = d.Duration().String()
		}
	}
	setBool := func(name string, b bool) {
		if b {
			m[name] = "true"
		}
	}

	setList("listen", c.Listen)
	setString("upstream", c.Upstream)
	setDuration("dial-timeout", c.DialTimeout)
	setDuration("negotiation-timeout", c.NegotiationTimeout)
	setDuration("idle-timeout", c.IdleTimeout)
	setString("tcp-keepalive", c.TCPKeepAlive)
	setBool("reuse-port", c.ReusePort)
	if c.MaxMessageSize != 0 {
		m["max-message-size"] = strconv.Itoa(c.MaxMessageSize)
	}
	if c.BandwidthLimit != 0 {
		m["bandwidth-limit"] = strconv.FormatInt(int64(c.BandwidthLimit), 10)
	}
	setBool("verbose", c.Verbose)

	setList("dns-server", c.DNS.Servers)
	setDuration("dns-timeout", c.DNS.Timeout)
	setDuration("dns-cache-ttl", c.DNS.CacheTTL)

	setList("allow", c.Policy.Allow)
	setList("deny", c.Policy.Deny)
	setList("deny-domain", c.Policy.DenyDomains)
	setString("geoip-db", c.Policy.GeoIPDB)
	setList("deny-country", c.Policy.DenyCountries)

	setString("log-level", c.Log.Level)
	setString("log-encoding", c.Log.Encoding)
	setString("log-file", c.Log.File)
	return m
}

// Apply sets every flag in fs that was not given on the command line to the
// file's value for it.
func Apply(fs *pflag.FlagSet, c *File) error {
	for name, v := range c.FlagValues() {
		if fs.Lookup(name) == nil || fs.Changed(name) {
			continue
		}
		if err := fs.Set(name, v); err != nil {
			return fmt.Errorf("config %s: %w", name, err)
		}
	}
	return nil
}

// DurationString accepts Go durations ("10s", "5m") or a bare integer number
// of seconds.
type DurationString time.Duration

func (d *DurationString) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!int" {
		v, err := strconv.Atoi(value.Value)
		if err != nil {
			return err
		}
		*d = DurationString(time.Duration(v) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = DurationString(dur)
	return nil
}

func (d DurationString) Duration() time.Duration {
	return time.Duration(d)
}

// ByteSize accepts a byte count with an optional K, M or G suffix (powers of
// 1024).
type ByteSize int64

func (s *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseByteSize(value.Value)
	if err != nil {
		return err
	}
	*s = ByteSize(v)
	return nil
}

// ParseByteSize parses "512", "64K", "10M" or "1G".
func ParseByteSize(s string) (int64, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	raw = strings.TrimSuffix(raw, "B")
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(raw, "K"):
		multiplier = 1 << 10
	case strings.HasSuffix(raw, "M"):
		multiplier = 1 << 20
	case strings.HasSuffix(raw, "G"):
		multiplier = 1 << 30
	}
	if multiplier != 1 {
		raw = raw[:len(raw)-1]
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return v * multiplier, nil
}
