package pairing

import (
	"encoding/binary"
	"io"
)

// PacketVersion is the only version this implementation speaks.
const PacketVersion byte = 1

// Packet types.
const (
	PacketSPAKE2Msg     byte = 0
	PacketPeerInfo      byte = 1
	PacketSPAKE2Confirm byte = 2
	PacketPeerInfoMAC   byte = 3
)

// MaxPacketPayload bounds a PairingPacket's payload length.
const MaxPacketPayload = 16384

// headerSize is the fixed {version, type, length} prefix.
const headerSize = 4

// Packet is one framed message on the pairing wire:
// {u8 version; u8 type; u16be length; u8 payload[length]}.
type Packet struct {
	Type    byte
	Payload []byte
}

// Encode serialises the packet to its wire form.
func (p Packet) Encode() []byte {
	buf := make([]byte, headerSize+len(p.Payload))
	buf[0] = PacketVersion
	buf[1] = p.Type
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(p.Payload)))
	copy(buf[headerSize:], p.Payload)
	return buf
}

// WritePacket encodes and writes one packet to w.
func WritePacket(w io.Writer, typ byte, payload []byte) error {
	_, err := w.Write(Packet{Type: typ, Payload: payload}.Encode())
	return err
}

// ReadPacket reads and validates one packet from r: a malformed version,
// an unrecognised type, or a length over MaxPacketPayload is rejected
// before the payload is read.
func ReadPacket(r io.Reader) (Packet, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Packet{}, err
	}

	version := hdr[0]
	typ := hdr[1]
	length := binary.BigEndian.Uint16(hdr[2:4])

	if version != PacketVersion {
		return Packet{}, ErrInvalidPacket
	}
	switch typ {
	case PacketSPAKE2Msg, PacketPeerInfo, PacketSPAKE2Confirm, PacketPeerInfoMAC:
	default:
		return Packet{}, ErrInvalidPacket
	}
	if int(length) > MaxPacketPayload {
		return Packet{}, ErrInvalidPacket
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Packet{}, err
		}
	}
	return Packet{Type: typ, Payload: payload}, nil
}
