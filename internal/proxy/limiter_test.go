package proxy

import (
	"io"
	"net"
	"testing"
	"time"
)

func TestNewLimiterUnlimited(t *testing.T) {
	if l := NewLimiter(0); l != nil {
		t.Fatal("expected nil limiter")
	}
	var l *Limiter
	c, _ := net.Pipe()
	defer c.Close()
	if l.WrapConn(c) != c {
		t.Fatal("nil limiter must not wrap")
	}
}

func TestLimiterThrottles(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	// The first second of tokens is available immediately, so 1.5 seconds
	// worth of data takes at least ~0.5s.
	const rate = 1000
	w := NewLimiter(rate).WrapConn(a)

	go func() {
		_, _ = w.Write(make([]byte, rate))
		_, _ = w.Write(make([]byte, rate/2))
		_ = w.Close()
	}()

	start := time.Now()
	n, err := io.Copy(io.Discard, b)
	if err != nil || n != rate*3/2 {
		t.Fatalf("copied %d err=%v", n, err)
	}
	if d := time.Since(start); d < 400*time.Millisecond {
		t.Fatalf("finished in %s, limiter not applied", d)
	}
}
