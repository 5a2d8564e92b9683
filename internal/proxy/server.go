package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/socksd/internal/socks"
)

// Server accepts SOCKS4, SOCKS4a and SOCKS5 clients.
type Server struct {
	cfg   Config
	log   *zap.Logger
	socks socks.Server
}

func NewServer(cfg Config) *Server {
	s := &Server{
		cfg: cfg,
		log: cfg.logger(),
	}
	s.socks = socks.Server{
		Resolver:       &DialResolver{Dialer: cfg.Dialer, Policy: cfg.Policy, Timeout: cfg.NegotiationTimeout},
		Handler:        &Relay{IdleTimeout: cfg.IdleTimeout, Limiter: cfg.Limiter},
		MaxMessageSize: cfg.MaxMessageSize,
	}
	return s
}

// Serve accepts connections on ln until it is closed or ctx is done, then
// returns. Connections already accepted keep running until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error("accept", zap.Error(err))
			return err
		}
		go s.handleConn(ctx, c)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	log := s.log.With(zap.Stringer("client", conn.RemoteAddr()))

	if s.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}

	srv := s.socks
	srv.Trace = func(st socks.State) {
		if st == socks.StateHandoff && s.cfg.NegotiationTimeout > 0 {
			_ = conn.SetDeadline(time.Time{})
		}
		if ce := log.Check(zap.DebugLevel, "socks state"); ce != nil {
			ce.Write(zap.Stringer("state", st))
		}
	}

	err := srv.ServeConn(ctx, conn)
	switch {
	case err == nil, errors.Is(err, io.EOF) && isEmptyHandshake(err):
		return
	case s.cfg.Verbose:
		log.Info("socks connection", zap.Error(err))
	default:
		log.Debug("socks connection", zap.Error(err))
	}
}

// isEmptyHandshake reports a client that disconnected before sending
// anything, such as a health check.
func isEmptyHandshake(err error) bool {
	var he *socks.HandshakeError
	return errors.As(err, &he) && he.State == socks.StateAwaitVersion
}
