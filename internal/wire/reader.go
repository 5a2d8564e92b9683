package wire

import (
	"errors"
	"fmt"
	"io"
)

// DefaultMaxMessageSize bounds a single handshake message. The largest
// SOCKS5 message is 262 bytes; SOCKS4 user ids and host names are
// unbounded on the wire, so this leaves room for both.
const DefaultMaxMessageSize = 1024

// Reader accumulates bytes from an underlying stream until a complete
// message decodes.
//
// A Reader is owned by a single connection and is not safe for concurrent
// use.
type Reader struct {
	r   io.Reader
	max int
	buf []byte
	off int
}

// NewReader returns a Reader on r. limit <= 0 selects DefaultMaxMessageSize.
func NewReader(r io.Reader, limit int) *Reader {
	if limit <= 0 {
		limit = DefaultMaxMessageSize
	}
	return &Reader{r: r, max: limit, buf: make([]byte, 0, min(512, limit))}
}

// Next decodes the next message into c, reading from the stream as long as
// the buffered bytes are incomplete. Malformed input is returned
// immediately; an incomplete message that grows past the size limit yields
// ErrMessageTooLarge.
func (r *Reader) Next(c Codable) error {
	for {
		pending := r.buf[r.off:]
		if len(pending) > 0 {
			rest, err := c.Decode(pending)
			if err == nil {
				r.off += len(pending) - len(rest)
				r.compact()
				return nil
			}
			if !IsIncomplete(err) {
				return err
			}
			if len(pending) >= r.max {
				return fmt.Errorf("%w: %d bytes without a complete message", ErrMessageTooLarge, len(pending))
			}
		}
		if err := r.fill(); err != nil {
			return err
		}
	}
}

// Peek returns at least one buffered byte, reading if necessary. The bytes
// remain buffered.
func (r *Reader) Peek() ([]byte, error) {
	if len(r.buf) == r.off {
		if err := r.fill(); err != nil {
			return nil, err
		}
	}
	return r.buf[r.off:], nil
}

// Buffered returns bytes read from the stream but not consumed by a
// message. The slice is valid until the next call to Next or Peek.
func (r *Reader) Buffered() []byte {
	return r.buf[r.off:]
}

func (r *Reader) fill() error {
	r.compact()
	if len(r.buf) == cap(r.buf) {
		grown := make([]byte, len(r.buf), min(2*cap(r.buf), r.max))
		copy(grown, r.buf)
		r.buf = grown
	}
	if len(r.buf) == cap(r.buf) {
		return fmt.Errorf("%w: limit %d bytes", ErrMessageTooLarge, r.max)
	}
	n, err := r.r.Read(r.buf[len(r.buf):cap(r.buf)])
	r.buf = r.buf[:len(r.buf)+n]
	if n > 0 {
		return nil
	}
	if err == nil {
		return io.ErrNoProgress
	}
	if errors.Is(err, io.EOF) && len(r.buf) > r.off {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (r *Reader) compact() {
	if r.off == 0 {
		return
	}
	n := copy(r.buf, r.buf[r.off:])
	r.buf = r.buf[:n]
	r.off = 0
}
