package proxy

import (
	"net"

	"github.com/juju/ratelimit"
)

// Limiter is a token bucket shared by every connection it wraps, limiting
// their combined throughput.
type Limiter struct {
	bucket *ratelimit.Bucket
}

// NewLimiter returns a Limiter allowing bytesPerSec with a one second
// burst. It returns nil, meaning unlimited, if bytesPerSec <= 0.
func NewLimiter(bytesPerSec int64) *Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	return &Limiter{bucket: ratelimit.NewBucketWithRate(float64(bytesPerSec), bytesPerSec)}
}

// WrapConn throttles reads and writes on c.
func (l *Limiter) WrapConn(c net.Conn) net.Conn {
	if l == nil {
		return c
	}
	return &throttledConn{Conn: c, bucket: l.bucket}
}

type throttledConn struct {
	net.Conn
	bucket *ratelimit.Bucket
}

func (t *throttledConn) Read(p []byte) (int, error) {
	n, err := t.Conn.Read(p)
	if n > 0 {
		t.bucket.Wait(int64(n))
	}
	return n, err
}

func (t *throttledConn) Write(p []byte) (int, error) {
	t.bucket.Wait(int64(len(p)))
	return t.Conn.Write(p)
}

func (t *throttledConn) CloseWrite() error {
	return closeWrite(t.Conn)
}
