package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const relayBufferSize = 32 * 1024

var relayBuffers = NewBufferPool(relayBufferSize)

// Relay copies bytes between the client and remote connections until both
// directions finish. It implements socks.StreamHandler.
type Relay struct {
	// IdleTimeout closes both connections once neither direction has
	// carried data for this long. Zero disables it.
	IdleTimeout time.Duration

	// Limiter, if set, throttles traffic to and from remote.
	Limiter *Limiter
}

// HandleStreams relays until both sides are done and closes both
// connections.
func (r *Relay) HandleStreams(ctx context.Context, client, remote net.Conn) error {
	if r.Limiter != nil {
		remote = r.Limiter.WrapConn(remote)
	}
	return CopyBidirectional(ctx, client, remote, r.IdleTimeout)
}

// CopyBidirectional copies left to right and right to left. When one
// direction reaches EOF the write side of its destination is shut down, so
// half-closed streams drain normally.
func CopyBidirectional(ctx context.Context, left, right net.Conn, idleTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	var idle *idleTracker
	if idleTimeout > 0 {
		idle = &idleTracker{timeout: idleTimeout}
		idle.touch()
	}

	g.Go(func() error {
		return copyHalf(right, left, idle)
	})

	g.Go(func() error {
		return copyHalf(left, right, idle)
	})

	// Cancellation or a failed direction closes both sides to unblock the
	// other copy.
	done := make(chan struct{})
	go func() {
		select {
		case <-gctx.Done():
			closeBoth()
		case <-done:
		}
	}()

	err := g.Wait()
	close(done)
	return err
}

func copyHalf(dst, src net.Conn, idle *idleTracker) error {
	bp := relayBuffers.Get()
	defer relayBuffers.Put(bp)
	buf := *bp

	for {
		if idle != nil {
			_ = src.SetReadDeadline(idle.deadline())
		}
		n, err := src.Read(buf)
		if n > 0 {
			if idle != nil {
				idle.touch()
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return closeWrite(dst)
		case idle != nil && errors.Is(err, os.ErrDeadlineExceeded) && !idle.expired():
			// The other direction was active; keep waiting.
		default:
			return err
		}
	}
}

func closeWrite(c net.Conn) error {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.Close()
}

// idleTracker records the last time either direction carried data.
type idleTracker struct {
	timeout time.Duration
	last    atomic.Int64
}

func (t *idleTracker) touch() {
	t.last.Store(time.Now().UnixNano())
}

func (t *idleTracker) deadline() time.Time {
	return time.Unix(0, t.last.Load()).Add(t.timeout)
}

func (t *idleTracker) expired() bool {
	return !time.Now().Before(t.deadline())
}
