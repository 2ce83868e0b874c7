// Package adbcrypto holds the key-derivation primitives shared by the
// pairing handshake: HKDF-SHA256 (RFC 5869), used both to turn a SPAKE2
// shared secret into a pairing PSK and, inside pkg/adbcrypto/spake2, to
// derive the SPAKE2 confirmation keys.
package adbcrypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDFSHA256 derives length bytes of key material from inputKey via
// HKDF-SHA256 (RFC 5869): HKDF-Expand(PRK := HKDF-Extract(salt, IKM), info, L).
// salt and info may both be nil.
func HKDFSHA256(inputKey, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, inputKey, salt, info)
	result := make([]byte, length)
	if _, err := io.ReadFull(reader, result); err != nil {
		return nil, err
	}
	return result, nil
}
