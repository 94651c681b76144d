package zk

import "errors"

var (
	ErrNotConnected = errors.New("zk: not connected")
	ErrTimeout      = errors.New("zk: timed out waiting for reply")
	ErrUnauthorized = errors.New("zk: unauthorized")
	ErrResponse     = errors.New("zk: unexpected device response")

	// ErrMalformedLength and ErrUnpack mark a corrupted exchange: the stream
	// can no longer be trusted, but a fresh connection usually works.
	ErrMalformedLength = errors.New("zk: malformed packet length")
	ErrUnpack          = errors.New("zk: unpack error")
)

// IsCorruption reports whether err signals a corrupted exchange.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrMalformedLength) || errors.Is(err, ErrUnpack)
}
