package stream

import "errors"

// Stream errors.
var (
	// ErrClosed is returned by Write when the stream has transitioned to
	// CLOSED. Read instead returns io.EOF once buffered data is drained.
	ErrClosed = errors.New("stream: closed")

	// ErrOpenRejected is returned by Open's waiter when the peer answers an
	// OPEN request with CLSE instead of OKAY.
	ErrOpenRejected = errors.New("stream: open rejected by peer")
)
