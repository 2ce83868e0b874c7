package conn

import "errors"

// Errors returned by the conn package. These name the taxonomy a caller
// should branch on; wrapped errors (via errors.Is) still satisfy it.
var (
	// ErrIO is returned when the underlying socket read/write fails during
	// the handshake or while running.
	ErrIO = errors.New("conn: io error")

	// ErrProtocol is returned when an illegal command arrives for the
	// current state, or a frame fails validation.
	ErrProtocol = errors.New("conn: protocol error")

	// ErrAuthRejected is returned when the peer issues a second AUTH token
	// while fail-fast authentication is enabled.
	ErrAuthRejected = errors.New("conn: auth rejected")

	// ErrPairingRequired is returned when the STLS handshake fails with a
	// peer-unknown-identity signal while fail-fast is enabled.
	ErrPairingRequired = errors.New("conn: pairing required")

	// ErrOpenRejected is returned by Open when the peer answers with CLSE
	// instead of OKAY.
	ErrOpenRejected = errors.New("conn: open rejected")

	// ErrStreamClosed names the closed-stream failure kind. Nothing in this
	// package returns it: I/O on a closed Stream fails with stream.ErrClosed
	// (writes) or io.EOF (reads once drained).
	ErrStreamClosed = errors.New("conn: stream closed")

	// ErrTimeout is returned when the connect deadline is exceeded.
	ErrTimeout = errors.New("conn: timeout")

	// ErrClosed is returned by operations attempted on an already-closed
	// Connection.
	ErrClosed = errors.New("conn: closed")

	// ErrNotRunning is returned by Open when called before the handshake
	// reaches RUNNING.
	ErrNotRunning = errors.New("conn: not running")
)
