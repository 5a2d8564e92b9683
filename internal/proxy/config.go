package proxy

import (
	"time"

	"go.uber.org/zap"

	"github.com/die-net/socksd/internal/dialer"
	"github.com/die-net/socksd/internal/policy"
)

type Config struct {
	// NegotiationTimeout is a deadline on the client connection from accept
	// until handoff, and separately bounds the outbound dial. Zero means no
	// limit.
	NegotiationTimeout time.Duration

	// IdleTimeout closes a relayed connection after this long with no
	// traffic in either direction. Zero means no limit.
	IdleTimeout time.Duration

	// MaxMessageSize bounds a single handshake message.
	MaxMessageSize int

	Dialer dialer.Dialer

	// Policy may be nil to allow every destination.
	Policy *policy.Policy

	// Limiter may be nil for unlimited bandwidth.
	Limiter *Limiter

	// Verbose logs per-connection errors at info instead of debug.
	Verbose bool

	Logger *zap.Logger
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
