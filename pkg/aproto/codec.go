package aproto

import (
	"io"
)

// Packet is a fully decoded frame: header plus payload.
type Packet struct {
	Message
	Payload []byte
}

// Decode performs a blocking read of exactly one ADB frame from r: the
// 24-byte header, then exactly DataLength bytes of payload. A short read at
// either stage (including a clean io.EOF on the header) surfaces as
// ErrStreamClosed rather than a decode error, since it means the transport
// went away, not that a malformed frame arrived.
//
// maxPayload bounds the payload size that will be accepted; frames
// advertising a larger DataLength are rejected with ErrPayloadTooLarge
// without attempting to read the (potentially huge) payload.
func Decode(r io.Reader, maxPayload int) (Packet, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Packet{}, ErrStreamClosed
	}

	m, err := DecodeHeader(hdr[:])
	if err != nil {
		return Packet{}, err
	}

	if m.DataLength > uint32(maxPayload) {
		return Packet{}, ErrPayloadTooLarge
	}

	var payload []byte
	if m.DataLength > 0 {
		payload = make([]byte, m.DataLength)
		if _, err := io.ReadFull(r, payload); err != nil {
			return Packet{}, ErrStreamClosed
		}
	}

	if !Validate(m, payload) {
		return Packet{}, ErrInvalidMessage
	}

	return Packet{Message: m, Payload: payload}, nil
}

// Write encodes and writes one frame to w in a single Write call, so that a
// caller serialising writes with a mutex emits each frame atomically.
func Write(w io.Writer, command Command, arg0, arg1 uint32, payload []byte) error {
	_, err := w.Write(Encode(command, arg0, arg1, payload))
	return err
}
