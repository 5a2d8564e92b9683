package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/die-net/socksd/internal/wire"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// New parses upstream and constructs the appropriate outbound Dialer.
//
// Supported schemes:
//   - direct://
//   - http://[user:pass@]host:port
//   - https://[user:pass@]host:port
//   - socks4://[user@]host:port (names resolved locally)
//   - socks4a://[user@]host:port
//   - socks5://host:port (names resolved locally)
//   - socks5h://host:port
//
// For schemes that require a host, a default port is applied if the URL host is
// missing a port.
func New(cfg Config, upstream string) (Dialer, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)

	if u.Path != "" && u.Path != "/" {
		return nil, errors.New("invalid URL: path should be empty")
	}

	switch u.Scheme {
	case "":
		return nil, errors.New("invalid url: missing scheme")
	case "direct":
		return NewDirectDialer(cfg), nil
	case "http", "https", "socks4", "socks4a", "socks5", "socks5h":
		if u.Hostname() == "" {
			return nil, fmt.Errorf("invalid url: missing host for %s", u.Scheme)
		}
		if u.Port() == "" {
			u.Host = net.JoinHostPort(u.Hostname(), defaultPortForScheme(u.Scheme))
		}

		var user, pass string
		if u.User != nil {
			user = u.User.Username()
			pass, _ = u.User.Password()
		}

		switch u.Scheme {
		case "http", "https":
			d, err := NewHTTPProxyDialer(cfg, u, user, pass)
			if err != nil {
				return nil, err
			}
			return d, nil
		case "socks4", "socks4a":
			if pass != "" {
				return nil, errors.New("invalid url: socks4 carries a user id but no password")
			}
			return NewSOCKSProxyDialer(cfg, u.Host, wire.Socks4, user, u.Scheme == "socks4a"), nil
		case "socks5", "socks5h":
			if u.User != nil {
				return nil, errors.New("invalid url: socks5 username/password authentication is not supported")
			}
			return NewSOCKSProxyDialer(cfg, u.Host, wire.Socks5, "", u.Scheme == "socks5h"), nil
		default:
			return nil, errors.New("unreachable url scheme")
		}
	default:
		return nil, fmt.Errorf("invalid url scheme: %q", u.Scheme)
	}
}

func defaultPortForScheme(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	case "socks4", "socks4a", "socks5", "socks5h":
		return "1080"
	default:
		return ""
	}
}
