// Package socks runs the SOCKS4/SOCKS5 connection negotiation on top of the
// socks4 and socks5 wire codecs.
//
// Server drives the proxy side of a single accepted connection: it sniffs
// the protocol version, negotiates the authentication method (SOCKS5 only,
// and only "no authentication" is accepted), decodes the connect request,
// asks a Resolver for an outbound connection, writes exactly one reply, and
// hands both streams to a StreamHandler. Client is the counterpart used when
// dialing through an upstream SOCKS server.
//
// Neither side applies its own timeouts; callers bound a session with
// connection deadlines or a context.
package socks
