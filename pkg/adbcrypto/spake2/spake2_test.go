package spake2

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func randomW(t *testing.T) []byte {
	t.Helper()
	w := make([]byte, ScalarSizeBytes)
	if _, err := rand.Read(w); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return w
}

func TestSPAKE2_MatchingSecret(t *testing.T) {
	w := randomW(t)
	context := []byte("adb pairing context")

	client, err := New(RoleClient, context, []byte("host"), []byte("device"), w)
	if err != nil {
		t.Fatalf("New(client): %v", err)
	}
	server, err := New(RoleServer, context, []byte("host"), []byte("device"), w)
	if err != nil {
		t.Fatalf("New(server): %v", err)
	}

	clientShare, err := client.GenerateShare()
	if err != nil {
		t.Fatalf("client.GenerateShare: %v", err)
	}
	serverShare, err := server.GenerateShare()
	if err != nil {
		t.Fatalf("server.GenerateShare: %v", err)
	}

	if err := client.ProcessPeerShare(serverShare); err != nil {
		t.Fatalf("client.ProcessPeerShare: %v", err)
	}
	if err := server.ProcessPeerShare(clientShare); err != nil {
		t.Fatalf("server.ProcessPeerShare: %v", err)
	}

	clientConfirm, err := client.Confirmation()
	if err != nil {
		t.Fatalf("client.Confirmation: %v", err)
	}
	serverConfirm, err := server.Confirmation()
	if err != nil {
		t.Fatalf("server.Confirmation: %v", err)
	}

	if err := client.VerifyPeerConfirmation(serverConfirm); err != nil {
		t.Fatalf("client.VerifyPeerConfirmation: %v", err)
	}
	if err := server.VerifyPeerConfirmation(clientConfirm); err != nil {
		t.Fatalf("server.VerifyPeerConfirmation: %v", err)
	}

	if !bytes.Equal(client.SharedSecret(), server.SharedSecret()) {
		t.Fatal("client and server derived different shared secrets")
	}
}

func TestSPAKE2_WrongPairingCodeFailsConfirmation(t *testing.T) {
	context := []byte("adb pairing context")

	client, err := New(RoleClient, context, nil, nil, randomW(t))
	if err != nil {
		t.Fatalf("New(client): %v", err)
	}
	server, err := New(RoleServer, context, nil, nil, randomW(t))
	if err != nil {
		t.Fatalf("New(server): %v", err)
	}

	clientShare, _ := client.GenerateShare()
	serverShare, _ := server.GenerateShare()

	if err := client.ProcessPeerShare(serverShare); err != nil {
		t.Fatalf("client.ProcessPeerShare: %v", err)
	}
	if err := server.ProcessPeerShare(clientShare); err != nil {
		t.Fatalf("server.ProcessPeerShare: %v", err)
	}

	serverConfirm, err := server.Confirmation()
	if err != nil {
		t.Fatalf("server.Confirmation: %v", err)
	}

	if err := client.VerifyPeerConfirmation(serverConfirm); err != ErrConfirmationFailed {
		t.Fatalf("got err=%v, want ErrConfirmationFailed", err)
	}
}

func TestSPAKE2_InvalidWSize(t *testing.T) {
	if _, err := New(RoleClient, nil, nil, nil, make([]byte, 31)); err != ErrInvalidWSize {
		t.Fatalf("got err=%v, want ErrInvalidWSize", err)
	}
}

func TestSPAKE2_GenerateShareWrongState(t *testing.T) {
	s, err := New(RoleClient, nil, nil, nil, randomW(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.GenerateShare(); err != nil {
		t.Fatalf("first GenerateShare: %v", err)
	}
	if _, err := s.GenerateShare(); err != ErrInvalidState {
		t.Fatalf("got err=%v, want ErrInvalidState", err)
	}
}
