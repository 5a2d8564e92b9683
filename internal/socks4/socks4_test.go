package socks4

import (
	"bytes"
	"errors"
	"net/netip"
	"reflect"
	"strings"
	"testing"

	"github.com/die-net/socksd/internal/socks5"
	"github.com/die-net/socksd/internal/wire"
)

func TestRequestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want []byte
	}{
		{
			name: "ipv4 no user",
			req:  Request{Command: CmdConnect, Addr: Addr{Type: AddrIPv4, IP: netip.MustParseAddr("10.1.2.3")}, Port: 80},
			want: []byte{0x04, 0x01, 0x00, 0x50, 10, 1, 2, 3, 0x00},
		},
		{
			name: "ipv4 with user",
			req:  Request{Command: CmdBind, Addr: Addr{Type: AddrIPv4, IP: netip.MustParseAddr("10.1.2.3")}, Port: 21, UserID: "bob"},
			want: []byte{0x04, 0x02, 0x00, 0x15, 10, 1, 2, 3, 'b', 'o', 'b', 0x00},
		},
		{
			name: "socks4a domain",
			req:  Request{Command: CmdConnect, Addr: Addr{Type: AddrDomain, Name: "example.com"}, Port: 443},
			want: append([]byte{0x04, 0x01, 0x01, 0xbb, 0, 0, 0, 1, 0x00}, "example.com\x00"...),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := wire.Marshal(&tt.req)
			if !bytes.Equal(b, tt.want) {
				t.Fatalf("got % x want % x", b, tt.want)
			}

			var got Request
			rest, err := got.Decode(append(b, 'z'))
			if err != nil {
				t.Fatal(err)
			}
			if string(rest) != "z" {
				t.Fatalf("remainder %q", rest)
			}
			if !reflect.DeepEqual(got, tt.req) {
				t.Fatalf("got %+v want %+v", got, tt.req)
			}

			for i := 0; i < len(b); i++ {
				var r Request
				if _, err := r.Decode(b[:i]); !wire.IsIncomplete(err) {
					t.Fatalf("truncated to %d: got %v, want incomplete", i, err)
				}
			}
		})
	}
}

func TestRequestDomainExtension(t *testing.T) {
	b := []byte{0x04, 0x01, 0x00, 0x50, 0, 0, 0, 1, 0x00}
	b = append(b, "example.com\x00"...)

	var r Request
	if _, err := r.Decode(b); err != nil {
		t.Fatal(err)
	}
	if r.Addr != (Addr{Type: AddrDomain, Name: "example.com"}) || r.UserID != "" {
		t.Fatalf("got %+v", r)
	}

	// Any 0.0.0.x with x != 0 is the sentinel.
	b[7] = 0xff
	if _, err := r.Decode(b); err != nil || r.Addr.Type != AddrDomain {
		t.Fatalf("0.0.0.255: got %+v err=%v", r, err)
	}
}

func TestRequestEmptyDomainIsMalformed(t *testing.T) {
	b := []byte{0x04, 0x01, 0x00, 0x50, 0, 0, 0, 1, 0x00, 0x00}

	var r Request
	_, err := r.Decode(b)
	if !errors.Is(err, wire.ErrMalformed) {
		t.Fatalf("got %v, want malformed", err)
	}
	if !strings.Contains(err.Error(), "domain name") {
		t.Fatalf("error %q does not name the field", err)
	}
}

func TestRequestMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"version 5", []byte{0x05, 0x01, 0x00, 0x50, 1, 2, 3, 4, 0x00}},
		{"udp associate", []byte{0x04, 0x03, 0x00, 0x50, 1, 2, 3, 4, 0x00}},
		{"control in user id", []byte{0x04, 0x01, 0x00, 0x50, 1, 2, 3, 4, 'a', 0x07, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Request
			if _, err := r.Decode(tt.input); !errors.Is(err, wire.ErrMalformed) {
				t.Fatalf("got %v, want malformed", err)
			}
		})
	}
}

func TestResponse(t *testing.T) {
	r := Response{Status: StatusRejected, IP: netip.MustParseAddr("1.2.3.4"), Port: 8080}
	b := wire.Marshal(&r)
	want := []byte{0x00, 0x5b, 0x1f, 0x90, 1, 2, 3, 4}
	if !bytes.Equal(b, want) {
		t.Fatalf("got % x want % x", b, want)
	}

	var got Response
	if _, err := got.Decode(b); err != nil || got != r {
		t.Fatalf("got %+v err=%v", got, err)
	}

	for i := 0; i < len(b); i++ {
		if _, err := got.Decode(b[:i]); !wire.IsIncomplete(err) {
			t.Fatalf("truncated to %d: got %v", i, err)
		}
	}
}

func TestStatusClosed(t *testing.T) {
	for i := 0; i < 256; i++ {
		var s Status
		_, err := s.Decode([]byte{byte(i)})
		known := i >= 0x5a && i <= 0x5d
		if known != (err == nil) {
			t.Fatalf("%#02x: err=%v", i, err)
		}
		if err != nil && !errors.Is(err, wire.ErrMalformed) {
			t.Fatalf("%#02x: got %v, want malformed", i, err)
		}
	}

	var r Response
	if _, err := r.Decode([]byte{0x00, 0x42, 0, 0, 0, 0, 0, 0}); !errors.Is(err, wire.ErrMalformed) {
		t.Fatalf("got %v", err)
	}
	if _, err := r.Decode([]byte{0x04, 0x5a, 0, 0, 0, 0, 0, 0}); !errors.Is(err, wire.ErrMalformed) {
		t.Fatalf("nonzero reply version: got %v", err)
	}
}

func TestAddrFromSOCKS5(t *testing.T) {
	a, err := AddrFromSOCKS5(socks5.DomainAddr("example.com"))
	if err != nil || a != (Addr{Type: AddrDomain, Name: "example.com"}) {
		t.Fatalf("domain: got %+v err=%v", a, err)
	}

	ip := netip.MustParseAddr("192.0.2.1")
	a, err = AddrFromSOCKS5(socks5.AddrFromIP(ip))
	if err != nil || a.IP != ip || a.SOCKS5() != socks5.AddrFromIP(ip) {
		t.Fatalf("ipv4: got %+v err=%v", a, err)
	}

	if _, err := AddrFromSOCKS5(socks5.AddrFromIP(netip.MustParseAddr("::1"))); !errors.Is(err, wire.ErrUnsupported) {
		t.Fatalf("ipv6: got %v, want unsupported", err)
	}

	// 0.0.0.x would be read back as a SOCKS4a request.
	for _, s := range []string{"0.0.0.1", "0.0.0.7", "0.0.0.255"} {
		if _, err := AddrFromSOCKS5(socks5.AddrFromIP(netip.MustParseAddr(s))); !errors.Is(err, wire.ErrUnsupported) {
			t.Fatalf("%s: got %v, want unsupported", s, err)
		}
	}
	if _, err := AddrFromSOCKS5(socks5.AddrFromIP(netip.IPv4Unspecified())); err != nil {
		t.Fatalf("0.0.0.0: %v", err)
	}
}

func TestRequestReservedAddressPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	req := &Request{Command: CmdConnect, Addr: Addr{Type: AddrIPv4, IP: netip.MustParseAddr("0.0.0.7")}, Port: 80}
	_ = wire.Marshal(req)
}
