// Package socks4 implements the SOCKS4 wire format, including the SOCKS4a
// extension in which a destination IP of 0.0.0.x (x != 0) signals that a
// NUL-terminated host name follows the user id.
package socks4
