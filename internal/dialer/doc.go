// Package dialer provides the outbound dialers used to reach a client's
// destination.
//
// Dialers implement a small interface (DialContext) and either connect
// directly or through an upstream HTTP(S) CONNECT or SOCKS4/4a/5 proxy.
package dialer
