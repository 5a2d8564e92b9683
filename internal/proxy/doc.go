// Package proxy runs the SOCKS listener: it accepts client connections,
// negotiates them with internal/socks, dials destinations through the
// configured dialer, and relays bytes.
package proxy
