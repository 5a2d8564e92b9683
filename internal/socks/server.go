package socks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/die-net/socksd/internal/socks4"
	"github.com/die-net/socksd/internal/socks5"
	"github.com/die-net/socksd/internal/wire"
)

// State is a step of the server handshake.
type State int

const (
	StateAwaitVersion State = iota
	StateV4Handshake
	StateV5Hello
	StateV5Auth
	StateV5Request
	StateResolve
	StateRespond
	StateHandoff
	StateEstablished
	StateAborted
)

var stateNames = [...]string{
	StateAwaitVersion: "await version",
	StateV4Handshake:  "v4 handshake",
	StateV5Hello:      "v5 hello",
	StateV5Auth:       "v5 auth",
	StateV5Request:    "v5 request",
	StateResolve:      "resolve",
	StateRespond:      "respond",
	StateHandoff:      "handoff",
	StateEstablished:  "established",
	StateAborted:      "aborted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrCommandNotSupported is reported for Bind and UDP Associate requests,
// which are decoded but never acted on.
var ErrCommandNotSupported = fmt.Errorf("command not supported: %w", wire.ErrUnsupported)

// HandshakeError reports a session that ended before handoff, along with
// the state it was in when it failed.
type HandshakeError struct {
	State State
	// Version is zero if the session failed before a version was read.
	Version wire.Version
	Err     error
}

func (e *HandshakeError) Error() string {
	if e.Version == 0 {
		return fmt.Sprintf("socks handshake (%s): %v", e.State, e.Err)
	}
	return fmt.Sprintf("%s handshake (%s): %v", e.Version, e.State, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Server negotiates SOCKS4, SOCKS4a and SOCKS5 (no authentication) sessions
// on connections accepted by the caller.
//
// A Server applies no timeouts of its own; callers bound a session with
// connection deadlines or by cancelling ctx in the Resolver. A Server may
// serve many connections concurrently.
type Server struct {
	Resolver Resolver
	Handler  StreamHandler

	// MaxMessageSize bounds each handshake message. Zero selects
	// wire.DefaultMaxMessageSize.
	MaxMessageSize int

	// Trace, if set, is called as the session enters each state.
	Trace func(State)
}

// ServeConn runs the handshake on conn and, on success, hands conn and the
// resolved outbound connection to the StreamHandler, returning its result.
//
// ServeConn does not close conn. The outbound connection is closed if the
// session fails before handoff.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	if s.Resolver == nil || s.Handler == nil {
		return errors.New("socks server: missing resolver or stream handler")
	}
	ss := &session{
		srv:  s,
		conn: conn,
		r:    wire.NewReader(conn, s.MaxMessageSize),
	}
	return ss.run(ctx)
}

type session struct {
	srv     *Server
	conn    net.Conn
	r       *wire.Reader
	state   State
	version wire.Version
}

func (ss *session) enter(st State) {
	ss.state = st
	if ss.srv.Trace != nil {
		ss.srv.Trace(st)
	}
}

func (ss *session) abort(err error) error {
	herr := &HandshakeError{State: ss.state, Version: ss.version, Err: err}
	ss.enter(StateAborted)
	return herr
}

func (ss *session) run(ctx context.Context) error {
	ss.enter(StateAwaitVersion)
	b, err := ss.r.Peek()
	if err != nil {
		return ss.abort(err)
	}
	// The version byte stays buffered; each request decoder checks it again.
	if _, err := ss.version.Decode(b); err != nil {
		return ss.abort(err)
	}

	var req ConnectionRequest
	if ss.version == wire.Socks5 {
		req, err = ss.request5()
	} else {
		req, err = ss.request4()
	}
	if err != nil {
		return ss.abort(err)
	}
	req.ClientAddr = ss.conn.RemoteAddr()

	if req.Command != socks5.CmdConnect {
		ss.enter(StateRespond)
		err := fmt.Errorf("%s %s: %w", req.Command, req.Destination, ErrCommandNotSupported)
		if werr := ss.respond(ConnectionResponse{Destination: req.Destination, Status: socks5.StatusCommandNotSupported}); werr != nil {
			err = errors.Join(err, werr)
		}
		return ss.abort(err)
	}

	ss.enter(StateResolve)
	remote, reached, err := ss.srv.Resolver.Resolve(ctx, req)
	if err == nil && remote == nil {
		err = errors.New("resolver returned no connection")
	}
	if err == nil {
		if verr := reached.Validate(); verr != nil {
			_ = remote.Close()
			err = fmt.Errorf("resolver reached %w", verr)
		}
	}
	if err != nil {
		herr := &HandshakeError{State: StateResolve, Version: ss.version, Err: err}
		ss.enter(StateRespond)
		if werr := ss.respond(ConnectionResponse{Destination: req.Destination, Status: StatusFor(err)}); werr != nil {
			herr.Err = errors.Join(err, werr)
		}
		ss.enter(StateAborted)
		return herr
	}

	ss.enter(StateRespond)
	if err := ss.respond(ConnectionResponse{Destination: reached, Status: socks5.StatusSuccess}); err != nil {
		_ = remote.Close()
		return ss.abort(err)
	}

	ss.enter(StateHandoff)
	client := newPrefixConn(ss.conn, bytes.Clone(ss.r.Buffered()))
	ss.enter(StateEstablished)
	if err := ss.srv.Handler.HandleStreams(ctx, client, remote); err != nil {
		return fmt.Errorf("relay %s: %w", reached, err)
	}
	return nil
}

// request5 negotiates the authentication method and reads a SOCKS5 request.
// Only MethodNone is accepted; any other offer is answered with
// MethodNotAcceptable and the session ends.
func (ss *session) request5() (ConnectionRequest, error) {
	ss.enter(StateV5Hello)
	var hello socks5.Hello
	if err := ss.r.Next(&hello); err != nil {
		return ConnectionRequest{}, err
	}
	method := socks5.MethodNotAcceptable
	if hello.Offers(socks5.MethodNone) {
		method = socks5.MethodNone
	}
	if err := ss.write(&socks5.HelloResponse{Method: method}); err != nil {
		return ConnectionRequest{}, err
	}

	ss.enter(StateV5Auth)
	if method != socks5.MethodNone {
		return ConnectionRequest{}, fmt.Errorf("no acceptable authentication method in %v: %w", hello.Methods, wire.ErrUnsupported)
	}

	ss.enter(StateV5Request)
	var r socks5.Request
	if err := ss.r.Next(&r); err != nil {
		return ConnectionRequest{}, err
	}
	return ConnectionRequest{
		Destination: Destination{Addr: r.Addr, Port: r.Port},
		Version:     wire.Socks5,
		Command:     r.Command,
	}, nil
}

func (ss *session) request4() (ConnectionRequest, error) {
	ss.enter(StateV4Handshake)
	var r socks4.Request
	if err := ss.r.Next(&r); err != nil {
		return ConnectionRequest{}, err
	}
	return ConnectionRequest{
		Destination: destinationFromSOCKS4(r.Addr, r.Port),
		Version:     wire.Socks4,
		// SOCKS4 command codes match their SOCKS5 counterparts.
		Command: socks5.Command(r.Command),
		UserID:  r.UserID,
	}, nil
}

func (ss *session) respond(resp ConnectionResponse) error {
	if ss.version == wire.Socks4 {
		return ss.write(resp.SOCKS4())
	}
	return ss.write(resp.SOCKS5())
}

func (ss *session) write(m wire.Codable) error {
	return writeMessage(ss.conn, m)
}
