package aproto

import "errors"

// Codec errors.
var (
	// ErrShortHeader is returned when fewer than HeaderSize bytes are available.
	ErrShortHeader = errors.New("aproto: short header")

	// ErrStreamClosed is returned when the underlying reader is exhausted or
	// fails mid-frame; a short read of a header or payload is not a
	// malformed frame, it is the transport going away.
	ErrStreamClosed = errors.New("aproto: stream closed")

	// ErrPayloadTooLarge is returned when a frame's advertised data_length
	// exceeds the configured maximum.
	ErrPayloadTooLarge = errors.New("aproto: payload exceeds maximum size")

	// ErrInvalidMessage is returned by Decode when the decoded frame fails
	// Validate.
	ErrInvalidMessage = errors.New("aproto: invalid message")
)
