package pairing

import "errors"

// Pairing errors.
var (
	// ErrPairingFailed wraps any failure from any sub-phase of Run; per the
	// pairing contract, failure anywhere is terminal and carries no state
	// onto the ADB connection.
	ErrPairingFailed = errors.New("pairing: failed")

	// ErrInvalidState names an out-of-sequence phase call. Session runs its
	// phases only in order inside Run, so nothing in this package returns it.
	ErrInvalidState = errors.New("pairing: invalid state")

	// ErrInvalidPacket is returned by ReadPacket when version, type, or
	// length violate the wire invariants.
	ErrInvalidPacket = errors.New("pairing: invalid packet")

	// ErrPeerInfoIntegrity is returned when a received peer-info record's
	// MAC, keyed by TLS exported keying material, does not match.
	ErrPeerInfoIntegrity = errors.New("pairing: peer-info integrity check failed")

	// ErrPeerInfoTooLarge is returned when a peer-info payload exceeds the
	// fixed 8192-byte record budget.
	ErrPeerInfoTooLarge = errors.New("pairing: peer-info payload too large")
)
