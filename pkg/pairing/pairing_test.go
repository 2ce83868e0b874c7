package pairing

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/go-adb/adb/internal/testnet"
	"github.com/go-adb/adb/pkg/adbcrypto"
	"github.com/go-adb/adb/pkg/adbcrypto/spake2"
)

// stubCredentials is a Credentials implementation for tests: a fixed
// peer-info blob plus a fresh self-signed Ed25519 identity certificate.
type stubCredentials struct {
	blob []byte
	cert tls.Certificate
}

func newStubCredentials(t *testing.T, blob string) stubCredentials {
	t.Helper()
	return stubCredentials{blob: []byte(blob), cert: generateTestCert(t)}
}

func (c stubCredentials) PublicKeyBlob() ([]byte, error) { return c.blob, nil }

func (c stubCredentials) TLSCertificate() (tls.Certificate, error) { return c.cert, nil }

// generateTestCert builds a throwaway self-signed Ed25519 certificate, good
// for either TLS role, standing in for a real long-term identity cert.
func generateTestCert(t *testing.T) tls.Certificate {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "pairing-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		t.Fatalf("x509.CreateCertificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
}

// mockPeer plays the server (responder) role of the pairing handshake
// against a Session under test, over the other end of a testnet.Pipe.
type mockPeer struct {
	conn  net.Conn
	spake *spake2.SPAKE2
	cert  tls.Certificate
}

func newMockPeer(t *testing.T, conn net.Conn, passcode []byte) *mockPeer {
	t.Helper()
	w := deriveW(passcode)
	sp, err := spake2.New(spake2.RoleServer, []byte(spakeContext), []byte(spakeIDClient), []byte(spakeIDServer), w)
	if err != nil {
		t.Fatalf("spake2.New: %v", err)
	}
	return &mockPeer{conn: conn, spake: sp, cert: generateTestCert(t)}
}

// runSpake2 drives the responder half of the SPAKE2 exchange and
// confirmation round, returning the derived PSK. It reports a fatal test
// error if confirmation fails to verify.
func (m *mockPeer) runSpake2(t *testing.T) []byte {
	t.Helper()

	share, err := m.spake.GenerateShare()
	if err != nil {
		t.Fatalf("mock: generate share: %v", err)
	}
	pkt, err := ReadPacket(m.conn)
	if err != nil {
		t.Fatalf("mock: read spake2 message: %v", err)
	}
	if err := m.spake.ProcessPeerShare(pkt.Payload); err != nil {
		t.Fatalf("mock: process peer share: %v", err)
	}
	if err := WritePacket(m.conn, PacketSPAKE2Msg, share); err != nil {
		t.Fatalf("mock: write spake2 message: %v", err)
	}

	pkt, err = ReadPacket(m.conn)
	if err != nil {
		t.Fatalf("mock: read spake2 confirmation: %v", err)
	}
	if err := m.spake.VerifyPeerConfirmation(pkt.Payload); err != nil {
		t.Fatalf("mock: verify peer confirmation: %v", err)
	}
	myConfirm, err := m.spake.Confirmation()
	if err != nil {
		t.Fatalf("mock: confirmation: %v", err)
	}
	if err := WritePacket(m.conn, PacketSPAKE2Confirm, myConfirm); err != nil {
		t.Fatalf("mock: write spake2 confirmation: %v", err)
	}

	psk, err := adbcrypto.HKDFSHA256(m.spake.SharedSecret(), nil, []byte(pskInfo), pskLength)
	if err != nil {
		t.Fatalf("mock: derive psk: %v", err)
	}
	return psk
}

// runSpake2ExpectingConfirmationFailure drives the responder's SPAKE2
// exchange but expects VerifyPeerConfirmation to fail, for the
// mismatched-passcode test.
func (m *mockPeer) runSpake2ExpectingConfirmationFailure(t *testing.T) {
	t.Helper()

	share, err := m.spake.GenerateShare()
	if err != nil {
		t.Fatalf("mock: generate share: %v", err)
	}
	pkt, err := ReadPacket(m.conn)
	if err != nil {
		t.Fatalf("mock: read spake2 message: %v", err)
	}
	if err := m.spake.ProcessPeerShare(pkt.Payload); err != nil {
		t.Fatalf("mock: process peer share: %v", err)
	}
	if err := WritePacket(m.conn, PacketSPAKE2Msg, share); err != nil {
		t.Fatalf("mock: write spake2 message: %v", err)
	}

	pkt, err = ReadPacket(m.conn)
	if err != nil {
		t.Fatalf("mock: read spake2 confirmation: %v", err)
	}
	if err := m.spake.VerifyPeerConfirmation(pkt.Payload); err != spake2.ErrConfirmationFailed {
		t.Fatalf("mock: got err=%v, want ErrConfirmationFailed", err)
	}
	// The client is blocked reading our confirmation message; closing the
	// connection unblocks it with an error instead of hanging forever.
	m.conn.Close()
}

// run drives the responder side of the handshake to completion, returning
// the peer-info record it received from the client.
func (m *mockPeer) run(t *testing.T) PeerInfo {
	t.Helper()

	psk := m.runSpake2(t)

	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS13,
		Certificates:       []tls.Certificate{m.cert},
		InsecureSkipVerify: true,
		VerifyConnection:   func(tls.ConnectionState) error { return nil },
	}
	tlsConn := tls.Server(m.conn, tlsCfg)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		t.Fatalf("mock: tls handshake: %v", err)
	}

	connState := tlsConn.ConnectionState()
	ekm, err := connState.ExportKeyingMaterial(pskInfo, psk, pskLength)
	if err != nil {
		t.Fatalf("mock: export keying material: %v", err)
	}
	mac := func(record []byte) []byte {
		h := hmac.New(sha256.New, ekm)
		h.Write(record)
		return h.Sum(nil)
	}

	pkt, err := ReadPacket(tlsConn)
	if err != nil {
		t.Fatalf("mock: read peer-info: %v", err)
	}
	macPkt, err := ReadPacket(tlsConn)
	if err != nil {
		t.Fatalf("mock: read peer-info integrity check: %v", err)
	}
	if !hmac.Equal(mac(pkt.Payload), macPkt.Payload) {
		t.Fatalf("mock: peer-info integrity check failed")
	}
	peer, err := DecodePeerInfo(pkt.Payload)
	if err != nil {
		t.Fatalf("mock: decode peer-info: %v", err)
	}

	record, err := PeerInfo{Type: PeerInfoTypeRSAPublicKey, Payload: []byte("mock-server-blob")}.Encode()
	if err != nil {
		t.Fatalf("mock: encode local peer-info: %v", err)
	}
	if err := WritePacket(tlsConn, PacketPeerInfo, record); err != nil {
		t.Fatalf("mock: write peer-info: %v", err)
	}
	if err := WritePacket(tlsConn, PacketPeerInfoMAC, mac(record)); err != nil {
		t.Fatalf("mock: write peer-info integrity check: %v", err)
	}

	return peer
}

func TestPairingRoundTrip(t *testing.T) {
	pipe := testnet.NewPipe()
	defer pipe.Close()

	passcode := []byte("123456")
	peer := newMockPeer(t, pipe.Conn1(), passcode)

	var gotServerInfo PeerInfo
	mockDone := make(chan struct{})
	go func() {
		defer close(mockDone)
		gotServerInfo = peer.run(t)
	}()

	creds := newStubCredentials(t, "client-blob")
	clientInfo, err := Pair(context.Background(), pipe.Conn0(), passcode, creds)
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	<-mockDone

	if clientInfo.Type != PeerInfoTypeRSAPublicKey {
		t.Errorf("client-observed peer Type = %d, want %d", clientInfo.Type, PeerInfoTypeRSAPublicKey)
	}
	if !bytes.HasPrefix(clientInfo.Payload, []byte("mock-server-blob")) {
		t.Errorf("client-observed peer Payload does not start with the mock server's blob")
	}
	if !bytes.HasPrefix(gotServerInfo.Payload, creds.blob) {
		t.Errorf("mock-observed peer Payload does not start with the client's blob")
	}
}

func TestPairingMismatchedPasscodeFailsAtConfirmation(t *testing.T) {
	pipe := testnet.NewPipe()
	defer pipe.Close()

	peer := newMockPeer(t, pipe.Conn1(), []byte("123456"))

	mockDone := make(chan struct{})
	go func() {
		defer close(mockDone)
		peer.runSpake2ExpectingConfirmationFailure(t)
	}()

	creds := newStubCredentials(t, "client-blob")
	_, err := Pair(context.Background(), pipe.Conn0(), []byte("654321"), creds)
	if err == nil {
		t.Fatal("Pair: expected an error for a mismatched passcode")
	}
	<-mockDone
}
