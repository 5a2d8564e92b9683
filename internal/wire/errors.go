package wire

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIncomplete matches any *IncompleteError.
	ErrIncomplete = errors.New("incomplete message")

	// ErrMalformed matches any *MalformedError.
	ErrMalformed = errors.New("malformed message")

	// ErrUnsupported reports a well-formed value that this implementation does
	// not act on, such as an IPv6 address in a SOCKS4 request.
	ErrUnsupported = errors.New("unsupported")

	// ErrMessageTooLarge is returned by Reader when a message does not
	// complete within its size limit.
	ErrMessageTooLarge = errors.New("message too large")
)

// IncompleteError reports that the input ended before a complete value could
// be decoded. Reading more bytes may allow the decode to succeed.
type IncompleteError struct {
	// Needed is the number of additional bytes required, or 0 when the
	// amount is not known (e.g. while scanning for a NUL terminator).
	Needed int
}

func (e *IncompleteError) Error() string {
	if e.Needed > 0 {
		return fmt.Sprintf("incomplete message: need %d more bytes", e.Needed)
	}
	return "incomplete message"
}

func (e *IncompleteError) Is(target error) bool {
	return target == ErrIncomplete
}

// MalformedError reports structurally invalid input. Context lists the
// enclosing fields, outermost first.
type MalformedError struct {
	Context []string
	Reason  string
}

func (e *MalformedError) Error() string {
	if len(e.Context) == 0 {
		return e.Reason
	}
	return strings.Join(e.Context, ": ") + ": " + e.Reason
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

// Malformed returns a *MalformedError with the given field label and reason.
func Malformed(label, format string, args ...any) error {
	return &MalformedError{Context: []string{label}, Reason: fmt.Sprintf(format, args...)}
}

// Incomplete returns an *IncompleteError for a field that needs want bytes
// when only have are available.
func Incomplete(want, have int) error {
	return &IncompleteError{Needed: want - have}
}

// WithContext prefixes label to the context chain of a *MalformedError.
// Other errors are returned unchanged.
func WithContext(label string, err error) error {
	var me *MalformedError
	if !errors.As(err, &me) {
		return err
	}
	ctx := make([]string, 0, len(me.Context)+1)
	ctx = append(ctx, label)
	ctx = append(ctx, me.Context...)
	return &MalformedError{Context: ctx, Reason: me.Reason}
}

// IsIncomplete reports whether err means more input is required.
func IsIncomplete(err error) bool {
	return errors.Is(err, ErrIncomplete)
}
