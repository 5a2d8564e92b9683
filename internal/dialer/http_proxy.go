package dialer

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/die-net/socksd/internal/socks"
	"github.com/die-net/socksd/internal/socks5"
)

// ErrConnectRefused is wrapped when an HTTP proxy answers CONNECT with a
// non-2xx status.
var ErrConnectRefused = errors.New("http proxy refused CONNECT")

// HTTPProxyDialer dials outbound TCP connections through an HTTP or HTTPS
// proxy using CONNECT. Host names are passed to the proxy unresolved.
type HTTPProxyDialer struct {
	cfg       Config
	proxyAddr string
	tls       *tls.Config
	auth      string
	direct    Dialer
}

// NewHTTPProxyDialer constructs a CONNECT dialer for proxyURL. If username is
// non-empty, Proxy-Authorization is sent using HTTP Basic auth.
func NewHTTPProxyDialer(cfg Config, proxyURL *url.URL, username, password string) (*HTTPProxyDialer, error) {
	if proxyURL == nil || proxyURL.Hostname() == "" {
		return nil, errors.New("http proxy dialer: missing proxy host")
	}

	f := &HTTPProxyDialer{
		cfg:       cfg,
		proxyAddr: proxyURL.Host,
		direct:    NewDirectDialer(cfg),
	}
	switch proxyURL.Scheme {
	case "http":
	case "https":
		f.tls = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: proxyURL.Hostname()}
	default:
		return nil, fmt.Errorf("http proxy dialer: unsupported scheme: %q", proxyURL.Scheme)
	}
	if username != "" {
		f.auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
	}
	return f, nil
}

// ProxyAddr returns the proxy host:port.
func (f *HTTPProxyDialer) ProxyAddr() string {
	return f.proxyAddr
}

// DialContext connects to address through the proxy. TLS to an HTTPS proxy
// and the CONNECT exchange are bounded by NegotiationTimeout when set. A
// refusal is reported as a *socks.StatusError carrying the closest SOCKS5
// reply status.
func (f *HTTPProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("http proxy dial %s %s: unsupported network", network, address)
	}
	dst, err := socks.ParseDestination(address)
	if err != nil {
		return nil, fmt.Errorf("http proxy dial %s: %w", address, err)
	}

	c, err := f.direct.DialContext(ctx, "tcp", f.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("http proxy: %w", err)
	}

	if f.cfg.NegotiationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.NegotiationTimeout)
		defer cancel()
	}

	tunnel, err := f.connect(ctx, c, dst)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("http proxy %s connect %s: %w", f.proxyAddr, dst, err)
	}
	return tunnel, nil
}

func (f *HTTPProxyDialer) connect(ctx context.Context, c net.Conn, dst socks.Destination) (net.Conn, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.SetDeadline(dl)
		defer c.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if f.tls != nil {
		tc := tls.Client(c, f.tls)
		if err := tc.HandshakeContext(ctx); err != nil {
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		c = tc
	}

	target := dst.String()
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: target},
		Host:   target,
		Header: make(http.Header),
	}
	if f.auth != "" {
		req.Header.Set("Proxy-Authorization", f.auth)
	}
	if err := req.Write(c); err != nil {
		return nil, contextError(ctx, fmt.Errorf("write: %w", err))
	}

	br := bufio.NewReader(c)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, contextError(ctx, fmt.Errorf("read: %w", err))
	}
	_ = resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, &socks.StatusError{
			Status: connectStatus(resp.StatusCode),
			Err:    fmt.Errorf("%w: %s", ErrConnectRefused, resp.Status),
		}
	}

	// Keep anything the proxy sent after its response headers.
	pending, _ := br.Peek(br.Buffered())
	return newBufferedConn(c, bytes.Clone(pending)), nil
}

// connectStatus maps a CONNECT response code to a SOCKS5 reply status.
func connectStatus(code int) socks5.Status {
	switch code {
	case http.StatusForbidden, http.StatusProxyAuthRequired, http.StatusUnauthorized:
		return socks5.StatusConnectionNotAllowed
	case http.StatusBadGateway, http.StatusNotFound:
		return socks5.StatusHostUnreachable
	case http.StatusServiceUnavailable:
		return socks5.StatusNetworkUnreachable
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return socks5.StatusTTLExpired
	}
	return socks5.StatusGeneralFailure
}

func contextError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

// bufferedConn replays bytes read ahead of the tunnelled stream.
type bufferedConn struct {
	net.Conn
	pending []byte
}

func newBufferedConn(c net.Conn, pending []byte) net.Conn {
	if len(pending) == 0 {
		return c
	}
	return &bufferedConn{Conn: c, pending: pending}
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}

func (c *bufferedConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.Conn.Close()
}
