package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// tcpPair returns both ends of a loopback TCP connection, which unlike
// net.Pipe supports half-close.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	var server net.Conn
	var g errgroup.Group
	g.Go(func() error {
		var err error
		server, err = ln.Accept()
		return err
	})
	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

func TestCopyBidirectionalHalfClose(t *testing.T) {
	clientApp, clientSide := tcpPair(t)
	remoteSide, remoteApp := tcpPair(t)

	done := make(chan error, 1)
	go func() {
		done <- CopyBidirectional(context.Background(), clientSide, remoteSide, 0)
	}()

	// The client sends a request and half-closes; the remote sees EOF, then
	// answers.
	if _, err := clientApp.Write([]byte("request")); err != nil {
		t.Fatal(err)
	}
	_ = clientApp.(*net.TCPConn).CloseWrite()

	got, err := io.ReadAll(remoteApp)
	if err != nil || string(got) != "request" {
		t.Fatalf("remote read %q err=%v", got, err)
	}
	if _, err := remoteApp.Write([]byte("response")); err != nil {
		t.Fatal(err)
	}
	_ = remoteApp.Close()

	got, err = io.ReadAll(clientApp)
	if err != nil || string(got) != "response" {
		t.Fatalf("client read %q err=%v", got, err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestCopyBidirectionalIdleTimeout(t *testing.T) {
	_, clientSide := tcpPair(t)
	remoteSide, _ := tcpPair(t)

	start := time.Now()
	err := CopyBidirectional(context.Background(), clientSide, remoteSide, 50*time.Millisecond)
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("idle timeout took too long")
	}
}

func TestCopyBidirectionalIdleKeepsActiveStream(t *testing.T) {
	clientApp, clientSide := tcpPair(t)
	remoteSide, remoteApp := tcpPair(t)

	done := make(chan error, 1)
	go func() {
		done <- CopyBidirectional(context.Background(), clientSide, remoteSide, 100*time.Millisecond)
	}()

	// Only the download direction is active; the idle upload direction
	// must not end the relay.
	buf := make([]byte, 1)
	for i := 0; i < 5; i++ {
		time.Sleep(40 * time.Millisecond)
		if _, err := remoteApp.Write([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
		if _, err := io.ReadFull(clientApp, buf); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}
	_ = clientApp.Close()
	_ = remoteApp.Close()
	<-done
}

func TestCopyBidirectionalCancel(t *testing.T) {
	_, clientSide := tcpPair(t)
	remoteSide, _ := tcpPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- CopyBidirectional(ctx, clientSide, remoteSide, 0)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
