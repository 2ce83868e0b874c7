// Package pairing implements ADB's out-of-band six-digit-code pairing
// handshake: a plain SPAKE2 key agreement with key confirmation over a
// dedicated TCP connection, a mutual-certificate TLS 1.3 tunnel, and an
// exchange of identity peer-info records integrity-checked with the
// tunnel's exported keying material.
package pairing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/go-adb/adb/pkg/adbcrypto"
	"github.com/go-adb/adb/pkg/adbcrypto/spake2"
)

// State is the pairing handshake's position in its state machine.
type State int

const (
	StateInit State = iota
	StateSpake2Sent
	StateSpake2Done
	StateTLSUp
	StateInfoSent
	StateInfoReceived
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSpake2Sent:
		return "SPAKE2_SENT"
	case StateSpake2Done:
		return "SPAKE2_DONE"
	case StateTLSUp:
		return "TLS_UP"
	case StateInfoSent:
		return "INFO_SENT"
	case StateInfoReceived:
		return "INFO_RECEIVED"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// spakeContext binds this protocol run into the SPAKE2 transcript. The
// exact byte sequence upstream ADB uses here is not present in the
// reference corpus this implementation was grounded on; this constant is a
// documented placeholder rather than a guess at upstream's value — see the
// project's grounding ledger.
const spakeContext = "adb pairing context v1"

// SPAKE2 identity labels, matching spec's "role=client"/"role=server"
// framing.
const (
	spakeIDClient = "client"
	spakeIDServer = "server"
)

// pskInfo/pskLength double as the RFC 5869 HKDF info/length used to derive
// the PSK from the SPAKE2 shared secret, and as the label/length given to
// tls.ConnectionState.ExportKeyingMaterial once the TLS tunnel is up. Both
// uses trace back to the same "adb export label" spec text.
const (
	pskInfo   = "adb-label\x00"
	pskLength = 64
)

// Credentials supplies the local identity exchanged as peer-info once the
// pairing tunnel is up, and the long-term TLS client certificate presented
// during the tunnel handshake.
type Credentials interface {
	PublicKeyBlob() ([]byte, error)
	TLSCertificate() (tls.Certificate, error)
}

// Session drives one client-side pairing handshake over a dedicated
// connection to a peer's pairing port.
type Session struct {
	mu    sync.Mutex
	state State

	conn    net.Conn
	tlsConn *tls.Conn

	creds Credentials
	spake *spake2.SPAKE2

	// ekm is the TLS exported keying material computed once the tunnel is
	// up, used to MAC the peer-info records exchanged over it.
	ekm []byte

	peerInfo *PeerInfo
}

// NewClient constructs a pairing Session as the client (initiating) role,
// over conn, authenticated by the shared six-digit passcode.
func NewClient(conn net.Conn, passcode []byte, creds Credentials) (*Session, error) {
	w := deriveW(passcode)
	sp, err := spake2.New(spake2.RoleClient, []byte(spakeContext), []byte(spakeIDClient), []byte(spakeIDServer), w)
	if err != nil {
		return nil, fmt.Errorf("pairing: init spake2: %w", err)
	}
	return &Session{
		conn:  conn,
		creds: creds,
		spake: sp,
		state: StateInit,
	}, nil
}

// deriveW reduces the passcode to the 32-byte scalar spake2.New requires.
// SHA-256 of the UTF-8 passcode bytes; the elliptic-curve scalar
// multiplications below are correct for any such value regardless of its
// size relative to the P-256 group order.
func deriveW(passcode []byte) []byte {
	sum := sha256.Sum256(passcode)
	return sum[:]
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run drives the handshake end to end: confirmed SPAKE2 exchange, TLS
// tunnel establishment, and integrity-checked peer-info exchange. On any
// failure the pairing connection is closed and the error is wrapped in
// ErrPairingFailed.
func (s *Session) Run(ctx context.Context) (*PeerInfo, error) {
	psk, err := s.runSpake2(ctx)
	if err != nil {
		return nil, s.fail(err)
	}

	if err := s.runTLS(ctx, psk); err != nil {
		return nil, s.fail(err)
	}

	peer, err := s.runPeerInfo(ctx)
	if err != nil {
		return nil, s.fail(err)
	}

	s.setState(StateDone)
	return peer, nil
}

func (s *Session) fail(cause error) error {
	s.setState(StateFailed)
	s.conn.Close()
	return fmt.Errorf("%w: %v", ErrPairingFailed, cause)
}

// runSpake2 is sub-phase (a): exchange one SPAKE2 message each way over the
// cleartext connection, then exchange and verify key confirmation MACs
// before deriving the PSK. A mismatched passcode yields a different shared
// secret and therefore a different confirmation key, so VerifyPeerConfirmation
// fails here — the confirmation round is this implementation's failure
// point for a wrong passcode, since runTLS no longer ties the TLS handshake
// itself to the PSK (see runTLS).
func (s *Session) runSpake2(ctx context.Context) ([]byte, error) {
	share, err := s.spake.GenerateShare()
	if err != nil {
		return nil, fmt.Errorf("generate share: %w", err)
	}
	if err := WritePacket(s.conn, PacketSPAKE2Msg, share); err != nil {
		return nil, fmt.Errorf("send spake2 message: %w", err)
	}
	s.setState(StateSpake2Sent)

	pkt, err := ReadPacket(s.conn)
	if err != nil {
		return nil, fmt.Errorf("read spake2 message: %w", err)
	}
	if pkt.Type != PacketSPAKE2Msg {
		return nil, ErrInvalidPacket
	}
	if err := s.spake.ProcessPeerShare(pkt.Payload); err != nil {
		return nil, fmt.Errorf("process peer share: %w", err)
	}

	myConfirm, err := s.spake.Confirmation()
	if err != nil {
		return nil, fmt.Errorf("compute confirmation: %w", err)
	}
	if err := WritePacket(s.conn, PacketSPAKE2Confirm, myConfirm); err != nil {
		return nil, fmt.Errorf("send spake2 confirmation: %w", err)
	}

	pkt, err = ReadPacket(s.conn)
	if err != nil {
		return nil, fmt.Errorf("read spake2 confirmation: %w", err)
	}
	if pkt.Type != PacketSPAKE2Confirm {
		return nil, ErrInvalidPacket
	}
	if err := s.spake.VerifyPeerConfirmation(pkt.Payload); err != nil {
		return nil, fmt.Errorf("verify peer confirmation: %w", err)
	}

	psk, err := adbcrypto.HKDFSHA256(s.spake.SharedSecret(), nil, []byte(pskInfo), pskLength)
	if err != nil {
		return nil, fmt.Errorf("derive psk: %w", err)
	}

	s.setState(StateSpake2Done)
	return psk, nil
}

// runTLS is sub-phase (b): a standard mutual TLS 1.3 handshake presenting
// each side's real long-term identity certificate, with no CA to validate
// against (InsecureSkipVerify) since pairing's whole purpose is enrolling a
// peer identity that isn't trusted yet. psk itself is no longer bound into
// the handshake directly; instead the exported keying material computed
// afterwards is used as the peer-info integrity check in runPeerInfo.
func (s *Session) runTLS(ctx context.Context, psk []byte) error {
	cert, err := s.creds.TLSCertificate()
	if err != nil {
		return fmt.Errorf("load identity certificate: %w", err)
	}

	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS13,
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true,
		VerifyConnection:   func(tls.ConnectionState) error { return nil },
	}

	tlsConn := tls.Client(s.conn, tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("tls handshake: %w", err)
	}

	connState := tlsConn.ConnectionState()
	ekm, err := connState.ExportKeyingMaterial(pskInfo, psk, pskLength)
	if err != nil {
		return fmt.Errorf("export keying material: %w", err)
	}

	s.tlsConn = tlsConn
	s.ekm = ekm
	s.setState(StateTLSUp)
	return nil
}

// runPeerInfo is sub-phase (c): exchange exactly one PEER_INFO packet each
// over the TLS tunnel, each followed by an HMAC-SHA256 tag keyed by the
// tunnel's exported keying material — an additional integrity check on the
// peer-info exchange, binding each record to this specific TLS session.
func (s *Session) runPeerInfo(ctx context.Context) (*PeerInfo, error) {
	blob, err := s.creds.PublicKeyBlob()
	if err != nil {
		return nil, fmt.Errorf("public key blob: %w", err)
	}
	record, err := PeerInfo{Type: PeerInfoTypeRSAPublicKey, Payload: blob}.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode local peer-info: %w", err)
	}
	if err := WritePacket(s.tlsConn, PacketPeerInfo, record); err != nil {
		return nil, fmt.Errorf("send peer-info: %w", err)
	}
	if err := WritePacket(s.tlsConn, PacketPeerInfoMAC, s.peerInfoMAC(record)); err != nil {
		return nil, fmt.Errorf("send peer-info integrity check: %w", err)
	}
	s.setState(StateInfoSent)

	pkt, err := ReadPacket(s.tlsConn)
	if err != nil {
		return nil, fmt.Errorf("read peer-info: %w", err)
	}
	if pkt.Type != PacketPeerInfo {
		return nil, ErrInvalidPacket
	}

	macPkt, err := ReadPacket(s.tlsConn)
	if err != nil {
		return nil, fmt.Errorf("read peer-info integrity check: %w", err)
	}
	if macPkt.Type != PacketPeerInfoMAC {
		return nil, ErrInvalidPacket
	}
	if !hmac.Equal(s.peerInfoMAC(pkt.Payload), macPkt.Payload) {
		return nil, ErrPeerInfoIntegrity
	}

	peer, err := DecodePeerInfo(pkt.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode peer-info: %w", err)
	}

	s.peerInfo = &peer
	s.setState(StateInfoReceived)
	return &peer, nil
}

// peerInfoMAC computes the HMAC-SHA256 tag over a peer-info record, keyed
// by the TLS exported keying material established in runTLS.
func (s *Session) peerInfoMAC(record []byte) []byte {
	h := hmac.New(sha256.New, s.ekm)
	h.Write(record)
	return h.Sum(nil)
}

// Pair is the convenience entry point C7 uses: run a full client pairing
// handshake over conn, authenticated by passcode.
func Pair(ctx context.Context, conn net.Conn, passcode []byte, creds Credentials) (*PeerInfo, error) {
	s, err := NewClient(conn, passcode, creds)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx)
}
