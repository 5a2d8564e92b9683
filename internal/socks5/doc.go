// Package socks5 implements the SOCKS Protocol Version 5 (RFC 1928) wire
// format: method negotiation, CONNECT-style requests and replies, and the
// tagged destination address shared by both.
//
// Every message type implements wire.Codable. Decoding is total over its
// input: it returns either a value and the unconsumed remainder, an
// *wire.IncompleteError when more bytes are needed, or a
// *wire.MalformedError naming the offending field.
package socks5
