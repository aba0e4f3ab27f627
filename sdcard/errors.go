package sdcard

import "fmt"

// CardError is a terminal protocol failure. None are retried
// internally; retry policy belongs to the caller.
type CardError int

const (
	// ErrTimeout means a bounded poll or retry budget was exhausted
	// without the expected condition.
	ErrTimeout CardError = 1
	// ErrNotSupported means the card identified itself as incompatible
	// with this driver (legacy card, or standard capacity without
	// block addressing).
	ErrNotSupported CardError = 2
	// ErrBadResponse means the card replied within budget but with a
	// value the protocol does not accept at that step.
	ErrBadResponse CardError = 3
	// ErrCRC is reserved for data checksum failures. No current read
	// path verifies payload checksums, so it is never produced.
	ErrCRC CardError = 4
)

func (e CardError) Error() string {
	return fmt.Sprintf("sdcard: %v", e.name())
}

func (e CardError) name() string {
	switch e {
	case ErrTimeout:
		return "timed out waiting for card"
	case ErrNotSupported:
		return "card not supported"
	case ErrBadResponse:
		return "unexpected response from card"
	case ErrCRC:
		return "data checksum mismatch"
	default:
		return fmt.Sprintf("unknown error code: %v", int(e))
	}
}
