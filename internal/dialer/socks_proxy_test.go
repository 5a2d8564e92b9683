package dialer

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/txthinking/socks5"

	"github.com/die-net/socksd/internal/socks"
	socks5wire "github.com/die-net/socksd/internal/socks5"
	"github.com/die-net/socksd/internal/testutil"
	"github.com/die-net/socksd/internal/wire"
)

type staticResolver map[string][]netip.Addr

func (r staticResolver) LookupNetIP(_ context.Context, host string) ([]netip.Addr, error) {
	if addrs, ok := r[host]; ok {
		return addrs, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

// TestSOCKSProxyDialerInterop runs against an independent SOCKS5
// implementation.
func TestSOCKSProxyDialerInterop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		_ = handleSOCKS5Connect(ctx, c)
	})

	f := NewSOCKSProxyDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), wire.Socks5, "", true)
	conn, err := f.DialContext(ctx, "tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	testutil.AssertEcho(t, conn, conn, []byte("hello"))
	_ = conn.Close()
	waitUp()
}

// TestSOCKSProxyDialerNames checks which form of a host name reaches the
// upstream for each scheme.
func TestSOCKSProxyDialerNames(t *testing.T) {
	resolver := staticResolver{"echo.test": {
		netip.MustParseAddr("2001:db8::1"),
		netip.MustParseAddr("127.0.0.1"),
	}}

	tests := []struct {
		name      string
		version   wire.Version
		remoteDNS bool
		want      string
	}{
		{"socks5 local", wire.Socks5, false, "[2001:db8::1]:7"},
		{"socks5h", wire.Socks5, true, "echo.test:7"},
		{"socks4 picks ipv4", wire.Socks4, false, "127.0.0.1:7"},
		{"socks4a", wire.Socks4, true, "echo.test:7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			got := make(chan socks.ConnectionRequest, 1)
			srv := &socks.Server{
				Resolver: socks.ResolverFunc(func(_ context.Context, req socks.ConnectionRequest) (net.Conn, socks.Destination, error) {
					got <- req
					return nil, socks.Destination{}, &socks.StatusError{Status: socks5wire.StatusHostUnreachable}
				}),
				Handler: socks.StreamHandlerFunc(func(context.Context, net.Conn, net.Conn) error { return nil }),
			}
			upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
				_ = srv.ServeConn(ctx, c)
			})

			cfg := Config{DialTimeout: 2 * time.Second, NegotiationTimeout: time.Second, Resolver: resolver}
			f := NewSOCKSProxyDialer(cfg, upLn.Addr().String(), tt.version, "alice", tt.remoteDNS)
			if _, err := f.DialContext(ctx, "tcp", "echo.test:7"); err == nil {
				t.Fatal("expected error")
			}
			waitUp()

			req := <-got
			if req.Destination.String() != tt.want {
				t.Fatalf("upstream asked for %s, want %s", req.Destination, tt.want)
			}
			if tt.version == wire.Socks4 && req.UserID != "alice" {
				t.Fatalf("user id %q", req.UserID)
			}
		})
	}
}

func TestSOCKSProxyDialerDialFail(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		if _, err := socks5.NewNegotiationRequestFrom(c); err != nil {
			return
		}
		if _, err := socks5.NewNegotiationReply(socks5.MethodNone).WriteTo(c); err != nil {
			return
		}
		if _, err := socks5.NewRequestFrom(c); err != nil {
			return
		}
		_, _ = socks5.NewReply(socks5.RepConnectionRefused, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c)
	})

	f := NewSOCKSProxyDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), wire.Socks5, "", true)
	_, err := f.DialContext(ctx, "tcp", "127.0.0.1:1")

	var se *socks.StatusError
	if !errors.As(err, &se) || se.Status != socks5wire.StatusConnectionRefused {
		t.Fatalf("got %v, want connection refused", err)
	}
	waitUp()
}

func TestSOCKSProxyDialerNegotiationTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		// Read the greeting and never answer.
		_, _ = io.Copy(io.Discard, c)
	})

	f := NewSOCKSProxyDialer(Config{NegotiationTimeout: 50 * time.Millisecond}, upLn.Addr().String(), wire.Socks5, "", true)
	_, err := f.DialContext(ctx, "tcp", "127.0.0.1:1")
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("got %v, want timeout", err)
	}
	waitUp()
}

func TestSOCKSProxyDialerUnresolvable(t *testing.T) {
	f := NewSOCKSProxyDialer(Config{Resolver: staticResolver{}}, "127.0.0.1:1", wire.Socks4, "", false)
	_, err := f.DialContext(context.Background(), "tcp", "missing.test:80")

	var de *net.DNSError
	if !errors.As(err, &de) {
		t.Fatalf("got %v, want dns error", err)
	}
}

func handleSOCKS5Connect(ctx context.Context, c net.Conn) error {
	if _, err := socks5.NewNegotiationRequestFrom(c); err != nil {
		return err
	}
	if _, err := socks5.NewNegotiationReply(socks5.MethodNone).WriteTo(c); err != nil {
		return err
	}

	req, err := socks5.NewRequestFrom(c)
	if err != nil {
		return err
	}
	if req.Cmd != socks5.CmdConnect {
		_, _ = socks5.NewReply(socks5.RepCommandNotSupported, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c)
		return nil
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", req.Address())
	if err != nil {
		_, _ = socks5.NewReply(socks5.RepHostUnreachable, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c)
		return nil
	}
	defer dst.Close()

	a, addr, port, err := socks5.ParseAddress(dst.LocalAddr().String())
	if err != nil {
		return err
	}
	if a == socks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := socks5.NewReply(socks5.RepSuccess, a, addr, port).WriteTo(c); err != nil {
		return err
	}

	go func() {
		_, _ = io.Copy(dst, c)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)

	return nil
}
