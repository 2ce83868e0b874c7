// Package aproto implements the ADB wire protocol's message codec: the
// fixed 24-byte header plus variable-length payload that every frame on an
// ADB connection (and nowhere else) is built from.
package aproto

import "encoding/binary"

// Command identifies an ADB message type. Values are the little-endian
// encoding of the four-character ASCII command name, matching adbd's
// types.h.
type Command uint32

// Recognised ADB commands.
const (
	SYNC Command = 0x434e5953
	CNXN Command = 0x4e584e43
	OPEN Command = 0x4e45504f
	OKAY Command = 0x59414b4f
	CLSE Command = 0x45534c43
	WRTE Command = 0x45545257
	AUTH Command = 0x48545541
	STLS Command = 0x534c5453
)

// String renders the command as its four-character ASCII name.
func (c Command) String() string {
	return string(binary.LittleEndian.AppendUint32(nil, uint32(c)))
}

// Protocol version words.
const (
	// VersionMin is the original ADB protocol version.
	VersionMin uint32 = 0x01000000
	// VersionSkipChecksum is the version sent by this implementation: peers
	// at or above it must not reject frames on checksum mismatch.
	VersionSkipChecksum uint32 = 0x01000001
)

// STLSVersionMin is the version word sent/expected in an STLS frame.
const STLSVersionMin uint32 = 0x01000000

// AUTH sub-types, carried in an AUTH frame's arg0.
const (
	AuthToken     uint32 = 1
	AuthSignature uint32 = 2
	AuthRSAPublicKey uint32 = 3
)

// Payload size limits.
const (
	// MaxPayloadV1 is the max-payload value this implementation advertises
	// in its own CNXN frame.
	MaxPayloadV1 = 4096
	// MaxPayload is the hard upper bound enforced on any single frame's
	// payload, regardless of what a peer advertises, to bound memory.
	MaxPayload = 1024 * 1024
)

// HeaderSize is the fixed, encoded size of a Message header in bytes.
const HeaderSize = 24

// Message is the fixed 24-byte ADB frame header: six little-endian u32
// words. Payload, if any, immediately follows on the wire.
type Message struct {
	Command    Command
	Arg0       uint32
	Arg1       uint32
	DataLength uint32
	DataCheck  uint32
	Magic      uint32
}

// Encode builds the full wire frame (header + payload) for the given
// command, arguments, and payload. The checksum is always computed (legacy
// checksum law); magic is always command XOR 0xFFFFFFFF.
func Encode(command Command, arg0, arg1 uint32, payload []byte) []byte {
	m := Message{
		Command:    command,
		Arg0:       arg0,
		Arg1:       arg1,
		DataLength: uint32(len(payload)),
		DataCheck:  checksum(payload),
		Magic:      uint32(command) ^ 0xFFFFFFFF,
	}

	buf := make([]byte, HeaderSize+len(payload))
	m.EncodeTo(buf)
	copy(buf[HeaderSize:], payload)
	return buf
}

// EncodeTo serialises the header into buf, which must be at least
// HeaderSize bytes. It does not write the payload.
func (m Message) EncodeTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.Command))
	binary.LittleEndian.PutUint32(buf[4:8], m.Arg0)
	binary.LittleEndian.PutUint32(buf[8:12], m.Arg1)
	binary.LittleEndian.PutUint32(buf[12:16], m.DataLength)
	binary.LittleEndian.PutUint32(buf[16:20], m.DataCheck)
	binary.LittleEndian.PutUint32(buf[20:24], m.Magic)
}

// DecodeHeader parses a Message header from exactly HeaderSize bytes of buf.
func DecodeHeader(buf []byte) (Message, error) {
	if len(buf) < HeaderSize {
		return Message{}, ErrShortHeader
	}
	m := Message{
		Command:    Command(binary.LittleEndian.Uint32(buf[0:4])),
		Arg0:       binary.LittleEndian.Uint32(buf[4:8]),
		Arg1:       binary.LittleEndian.Uint32(buf[8:12]),
		DataLength: binary.LittleEndian.Uint32(buf[12:16]),
		DataCheck:  binary.LittleEndian.Uint32(buf[16:20]),
		Magic:      binary.LittleEndian.Uint32(buf[20:24]),
	}
	return m, nil
}

// checksum computes the legacy ADB checksum: the unsigned sum of payload
// bytes, mod 2^32.
func checksum(payload []byte) uint32 {
	var sum uint32
	for _, b := range payload {
		sum += uint32(b)
	}
	return sum
}

// Validate checks a decoded Message (with its payload) against the wire
// invariants: the magic law, the legacy checksum law (CNXN with arg0 below
// VersionSkipChecksum only), and that DataLength matches len(payload).
func Validate(m Message, payload []byte) bool {
	if uint32(m.Command)^m.Magic != 0xFFFFFFFF {
		return false
	}
	if m.DataLength != uint32(len(payload)) {
		return false
	}
	if m.Command == CNXN && m.Arg0 < VersionSkipChecksum {
		if m.DataCheck != checksum(payload) {
			return false
		}
	}
	return true
}
