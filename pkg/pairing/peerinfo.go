package pairing

// PeerInfo identifies a paired principal: an RSA public key blob (the usual
// case) or a device GUID string.
type PeerInfo struct {
	Type    byte
	Payload []byte
}

// Peer-info record types.
const (
	PeerInfoTypeRSAPublicKey byte = 1
	PeerInfoTypeGUID         byte = 2
)

// peerInfoPayloadSize is the fixed zero-padded payload width of a peer-info
// record, making the full record 1+8192 = 8193 bytes.
const peerInfoPayloadSize = 8192

// PeerInfoRecordSize is the full size of an encoded peer-info record.
const PeerInfoRecordSize = 1 + peerInfoPayloadSize

// Encode produces the fixed 8193-byte peer-info record: a type byte
// followed by the payload, zero-padded to peerInfoPayloadSize.
func (p PeerInfo) Encode() ([]byte, error) {
	if len(p.Payload) > peerInfoPayloadSize {
		return nil, ErrPeerInfoTooLarge
	}
	record := make([]byte, PeerInfoRecordSize)
	record[0] = p.Type
	copy(record[1:], p.Payload)
	return record, nil
}

// DecodePeerInfo parses a fixed 8193-byte peer-info record. The payload
// returned is the full zero-padded 8192-byte field; callers that embedded a
// shorter blob (e.g. a NUL-terminated public key blob) trim it themselves.
func DecodePeerInfo(record []byte) (PeerInfo, error) {
	if len(record) != PeerInfoRecordSize {
		return PeerInfo{}, ErrInvalidPacket
	}
	return PeerInfo{
		Type:    record[0],
		Payload: append([]byte(nil), record[1:]...),
	}, nil
}
