package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/socksd/internal/config"
	"github.com/die-net/socksd/internal/dialer"
	"github.com/die-net/socksd/internal/dns"
	"github.com/die-net/socksd/internal/logging"
	"github.com/die-net/socksd/internal/policy"
	"github.com/die-net/socksd/internal/proxy"
	"github.com/die-net/socksd/internal/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = pflag.String("config", "", "YAML config file. Flags given on the command line take precedence.")
		listen     = pflag.StringSlice("listen", []string{"127.0.0.1:1080"}, "SOCKS4/4a/5 listen addresses")
		upstream   = pflag.String("upstream", defaultUpstream(), "Upstream forwarding target URL: direct:// | http://[user:pass@]host:port | https://[user:pass@]host:port | socks4://[user@]host:port | socks4a://[user@]host:port | socks5://host:port | socks5h://host:port")

		debugListen        = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
		dialTimeout        = pflag.Duration("dial-timeout", 10*time.Second, "Timeout for outbound DNS lookup and TCP connect")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 10*time.Second, "Timeout for protocol negotiation to set up connection")
		idleTimeout        = pflag.Duration("idle-timeout", 0, "Close relayed connections idle this long (0 disables)")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		reusePort          = pflag.Bool("reuse-port", false, "Set SO_REUSEPORT on listeners")
		maxMessageSize     = pflag.Int("max-message-size", wire.DefaultMaxMessageSize, "Largest SOCKS handshake message accepted, in bytes")
		bandwidthLimit     = pflag.String("bandwidth-limit", "0", "Total relay bandwidth in bytes/s, with optional K/M/G suffix (0 is unlimited)")
		verbose            = pflag.Bool("verbose", false, "Enable per-connection error logging")

		dnsServers  = pflag.StringSlice("dns-server", nil, "DNS servers for direct connections (host[:port]). Empty uses the system resolver.")
		dnsTimeout  = pflag.Duration("dns-timeout", 2*time.Second, "Timeout for a single DNS query")
		dnsCacheTTL = pflag.Duration("dns-cache-ttl", 5*time.Minute, "Longest time to cache a DNS answer (negative disables)")

		allow         = pflag.StringSlice("allow", nil, "Only allow destinations in these CIDR prefixes")
		deny          = pflag.StringSlice("deny", nil, "Deny destinations in these CIDR prefixes")
		denyDomains   = pflag.StringSlice("deny-domain", nil, "Deny these domains and their subdomains")
		geoIPDB       = pflag.String("geoip-db", "", "MaxMind GeoIP2/GeoLite2 country database")
		denyCountries = pflag.StringSlice("deny-country", nil, "Deny destinations in these ISO country codes (needs --geoip-db)")

		logLevel    = pflag.String("log-level", "info", "Log level: debug|info|warn|error")
		logEncoding = pflag.String("log-encoding", "console", "Log encoding: console|json")
		logFile     = pflag.String("log-file", "", "Write logs to this file with rotation instead of stderr")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	var fileCfg config.File
	if *configPath != "" {
		c, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		if err := config.Apply(pflag.CommandLine, c); err != nil {
			return err
		}
		fileCfg = *c
	}

	logCfg := fileCfg.Log
	logCfg.Level, logCfg.Encoding, logCfg.File = *logLevel, *logEncoding, *logFile
	logger, closeLog, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	defer closeLog()

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	bps, err := config.ParseByteSize(*bandwidthLimit)
	if err != nil {
		return fmt.Errorf("invalid --bandwidth-limit: %w", err)
	}

	if len(*listen) == 0 {
		return errors.New("no listeners enabled (set --listen)")
	}

	dialCfg := dialer.Config{
		DialTimeout:        *dialTimeout,
		NegotiationTimeout: *negotiationTimeout,
		KeepAlive:          ka,
	}
	if len(*dnsServers) > 0 {
		r, err := dns.New(dns.Config{Servers: *dnsServers, Timeout: *dnsTimeout, CacheTTL: *dnsCacheTTL})
		if err != nil {
			return fmt.Errorf("invalid --dns-server: %w", err)
		}
		dialCfg.Resolver = r
	}

	pol, closePolicy, err := buildPolicy(*allow, *deny, *denyDomains, *geoIPDB, *denyCountries)
	if err != nil {
		return err
	}
	defer closePolicy()

	cfg := proxy.Config{
		NegotiationTimeout: *negotiationTimeout,
		IdleTimeout:        *idleTimeout,
		MaxMessageSize:     *maxMessageSize,
		Policy:             pol,
		Limiter:            proxy.NewLimiter(bps),
		Verbose:            *verbose,
		Logger:             logger,
	}

	cfg.Dialer, err = dialer.New(dialCfg, *upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *debugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: ka}
		debugLn, err := lc.Listen(ctx, "tcp", *debugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		logger.Info("debug listening", zap.String("addr", *debugListen))
	}

	srv := proxy.NewServer(cfg)
	for _, addr := range *listen {
		ln, err := proxy.ListenTCP("tcp", addr, ka, *reusePort)
		if err != nil {
			return fmt.Errorf("socks listen: %w", err)
		}

		g.Go(func() error {
			if err := srv.Serve(ctx, ln); err != nil {
				return fmt.Errorf("socks serve %s: %w", addr, err)
			}
			return nil
		})
		logger.Info("socks proxy listening", zap.String("addr", ln.Addr().String()), zap.String("upstream", *upstream))
	}

	err = g.Wait()
	logger.Info("shutting down")
	return err
}

func buildPolicy(allow, deny, denyDomains []string, geoIPDB string, denyCountries []string) (*policy.Policy, func(), error) {
	noop := func() {}
	if len(allow)+len(deny)+len(denyDomains)+len(denyCountries) == 0 {
		return nil, noop, nil
	}

	pc := policy.Config{DenyDomains: denyDomains, DenyCountries: denyCountries}
	var err error
	if pc.Allow, err = policy.ParsePrefixes(allow); err != nil {
		return nil, noop, fmt.Errorf("invalid --allow: %w", err)
	}
	if pc.Deny, err = policy.ParsePrefixes(deny); err != nil {
		return nil, noop, fmt.Errorf("invalid --deny: %w", err)
	}

	closeDB := noop
	if geoIPDB != "" {
		db, err := policy.OpenGeoIP(geoIPDB)
		if err != nil {
			return nil, noop, err
		}
		pc.GeoIP = db
		closeDB = func() { _ = db.Close() }
	}

	p, err := policy.New(pc)
	if err != nil {
		closeDB()
		return nil, noop, err
	}
	return p, closeDB, nil
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

func defaultUpstream() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}

	if p := os.Getenv("all_proxy"); p != "" {
		return p
	}

	return "direct://"
}
