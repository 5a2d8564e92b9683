package socks

import (
	"net"
	"net/netip"
	"strings"
	"testing"

	"github.com/die-net/socksd/internal/socks4"
	"github.com/die-net/socksd/internal/socks5"
)

func TestParseDestination(t *testing.T) {
	tests := []struct {
		in      string
		want    Destination
		wantStr string
	}{
		{"93.184.216.34:80", Destination{Addr: socks5.AddrFromIP(netip.MustParseAddr("93.184.216.34")), Port: 80}, "93.184.216.34:80"},
		{"[2001:db8::1]:443", Destination{Addr: socks5.AddrFromIP(netip.MustParseAddr("2001:db8::1")), Port: 443}, "[2001:db8::1]:443"},
		{"[::ffff:1.2.3.4]:1", Destination{Addr: socks5.AddrFromIP(netip.MustParseAddr("1.2.3.4")), Port: 1}, "1.2.3.4:1"},
		{"example.com:8080", Destination{Addr: socks5.DomainAddr("example.com"), Port: 8080}, "example.com:8080"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDestination(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %+v want %+v", got, tt.want)
			}
			if got.String() != tt.wantStr {
				t.Fatalf("String() = %q, want %q", got.String(), tt.wantStr)
			}
		})
	}
}

func TestParseDestinationErrors(t *testing.T) {
	for _, in := range []string{
		"example.com",
		":80",
		strings.Repeat("a", 256) + ":80",
	} {
		if _, err := ParseDestination(in); err == nil {
			t.Errorf("%.20q: expected error", in)
		}
	}
}

func TestDestinationFromNetAddr(t *testing.T) {
	d, err := DestinationFromNetAddr(&net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 99})
	if err != nil {
		t.Fatal(err)
	}
	if d.Addr.Type != socks5.AddrIPv4 || d.Port != 99 {
		t.Fatalf("got %+v", d)
	}

	ap, ok := d.AddrPort()
	if !ok || ap != netip.MustParseAddrPort("10.0.0.1:99") {
		t.Fatalf("AddrPort() = %v, %v", ap, ok)
	}

	if _, ok := (Destination{Addr: socks5.DomainAddr("example.com")}).AddrPort(); ok {
		t.Fatal("domain destination has an AddrPort")
	}

	if _, err := DestinationFromNetAddr(&net.UnixAddr{Name: "/tmp/sock", Net: "unix"}); err == nil {
		t.Fatal("expected error for unix address")
	}
}

func TestConnectionResponseSOCKS4(t *testing.T) {
	tests := []struct {
		name string
		resp ConnectionResponse
		want socks4.Response
	}{
		{
			name: "success ipv4",
			resp: ConnectionResponse{Destination: Destination{Addr: socks5.AddrFromIP(netip.MustParseAddr("1.2.3.4")), Port: 80}},
			want: socks4.Response{Status: socks4.StatusSuccess, IP: netip.MustParseAddr("1.2.3.4"), Port: 80},
		},
		{
			name: "success ipv6",
			resp: ConnectionResponse{Destination: Destination{Addr: socks5.AddrFromIP(netip.MustParseAddr("::1")), Port: 80}},
			want: socks4.Response{Status: socks4.StatusSuccess, IP: netip.IPv4Unspecified(), Port: 80},
		},
		{
			name: "failure",
			resp: ConnectionResponse{Destination: Destination{Addr: socks5.DomainAddr("example.com"), Port: 443}, Status: socks5.StatusTTLExpired},
			want: socks4.Response{Status: socks4.StatusRejected, IP: netip.IPv4Unspecified(), Port: 443},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := *tt.resp.SOCKS4(); got != tt.want {
				t.Fatalf("got %+v want %+v", got, tt.want)
			}
		})
	}
}
