package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/txthinking/socks5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/die-net/socksd/internal/dialer"
	"github.com/die-net/socksd/internal/policy"
	"github.com/die-net/socksd/internal/socks"
	socks5wire "github.com/die-net/socksd/internal/socks5"
	"github.com/die-net/socksd/internal/testutil"
	"github.com/die-net/socksd/internal/wire"
)

func startServer(t *testing.T, ctx context.Context, cfg Config) net.Listener {
	t.Helper()

	if cfg.Dialer == nil {
		cfg.Dialer = dialer.NewDirectDialer(dialer.Config{DialTimeout: 2 * time.Second})
	}

	ln, err := ListenTCP("tcp", "127.0.0.1:0", net.KeepAliveConfig{Enable: false}, false)
	if err != nil {
		t.Fatal(err)
	}

	srv := NewServer(cfg)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		_ = ln.Close()
		if err := <-done; err != nil {
			t.Errorf("serve: %v", err)
		}
	})
	return ln
}

func TestServerSOCKS5Interop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	ln := startServer(t, ctx, Config{NegotiationTimeout: time.Second})

	client, err := socks5.NewClient(ln.Addr().String(), "", "", 2, 0)
	if err != nil {
		t.Fatal(err)
	}

	c, err := client.Dial("tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	testutil.AssertEcho(t, c, c, []byte("hello"))
}

func TestServerClientVersions(t *testing.T) {
	tests := []struct {
		name    string
		version wire.Version
	}{
		{"socks5", wire.Socks5},
		{"socks4", wire.Socks4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			defer echoLn.Close()

			ln := startServer(t, ctx, Config{IdleTimeout: time.Second, Limiter: NewLimiter(1 << 20)})

			// Reuse the outbound SOCKS dialer as a client for this server.
			d := dialer.NewSOCKSProxyDialer(dialer.Config{DialTimeout: time.Second}, ln.Addr().String(), tt.version, "tester", false)
			c, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
			if err != nil {
				t.Fatal(err)
			}
			defer c.Close()

			testutil.AssertEcho(t, c, c, []byte("hello"))
		})
	}
}

func TestServerPolicyDenied(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pol, err := policy.New(policy.Config{Deny: []netip.Prefix{netip.MustParsePrefix("127.0.0.0/8")}})
	if err != nil {
		t.Fatal(err)
	}
	ln := startServer(t, ctx, Config{Policy: pol})

	d := dialer.NewSOCKSProxyDialer(dialer.Config{}, ln.Addr().String(), wire.Socks5, "", true)
	_, err = d.DialContext(ctx, "tcp", "127.0.0.1:1")

	var se *socks.StatusError
	if !errors.As(err, &se) || se.Status != socks5wire.StatusConnectionNotAllowed {
		t.Fatalf("got %v, want connection not allowed", err)
	}
}

func TestServerNegotiationTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	core, logs := observer.New(zap.DebugLevel)
	ln := startServer(t, ctx, Config{NegotiationTimeout: 50 * time.Millisecond, Verbose: true, Logger: zap.New(core)})

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// Half a greeting, then silence; the server gives up and hangs up.
	if _, err := c.Write([]byte{0x05}); err != nil {
		t.Fatal(err)
	}
	_ = c.SetReadDeadline(time.Now().Add(time.Second))
	if n, err := io.Copy(io.Discard, c); err != nil || n != 0 {
		t.Fatalf("read %d bytes, err=%v", n, err)
	}

	deadline := time.Now().Add(time.Second)
	for logs.FilterMessage("socks connection").Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no connection error logged")
		}
		time.Sleep(10 * time.Millisecond)
	}
	entry := logs.FilterMessage("socks connection").All()[0]
	if entry.Level != zap.InfoLevel {
		t.Fatalf("verbose error logged at %s", entry.Level)
	}
}

func TestServerStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ln, err := ListenTCP("tcp", "127.0.0.1:0", net.KeepAliveConfig{}, false)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- NewServer(Config{}).Serve(ctx, ln) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}
