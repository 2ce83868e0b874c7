// Package credentials holds an ADB client's asymmetric identity: an
// RSA-2048 signing key, a self-signed X.509 certificate for TLS client
// auth, and the legacy Android public-key blob format adbd expects during
// the AUTH handshake.
package credentials

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// rsaKeyBits is the modulus size used for generated identity keys.
const rsaKeyBits = 2048

// rsaNumWords is the modulus width in 32-bit words for a 2048-bit key
// (2048 / 32), matching the legacy Android RSAPublicKey wire struct.
const rsaNumWords = rsaKeyBits / 32

// TokenSize is the length of the SHA-1 digest adbd sends as an AUTH token.
const TokenSize = 20

// Credentials holds the RSA identity key, its self-signed certificate, and
// the human-readable device name embedded in the public key blob.
type Credentials struct {
	mu         sync.Mutex
	privateKey *rsa.PrivateKey
	cert       *x509.Certificate
	certDER    []byte
	deviceName string
	destroyed  bool
}

// Generate creates a fresh RSA-2048 identity and a self-signed X.509
// certificate bound to it. deviceName is embedded verbatim in the public
// key blob suffix (typically "user@host").
func Generate(deviceName string) (*Credentials, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("credentials: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("credentials: generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: deviceName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(10, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("credentials: create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("credentials: parse generated certificate: %w", err)
	}

	return &Credentials{
		privateKey: key,
		cert:       cert,
		certDER:    der,
		deviceName: deviceName,
	}, nil
}

// Sign performs digest-only RSA-PKCS1v1.5 signing over a 20-byte SHA-1
// token, the exact operation adbd expects in response to AUTH(TOKEN, ...).
// crypto.SHA1 tells rsa.SignPKCS1v15 that token is already a SHA-1 digest:
// it prepends the standard SHA-1 DigestInfo prefix rather than hashing
// token itself.
func (c *Credentials) Sign(token []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return nil, ErrDestroyed
	}
	if len(token) != TokenSize {
		return nil, ErrTokenSize
	}

	return rsa.SignPKCS1v15(rand.Reader, c.privateKey, crypto.SHA1, token)
}

// CertificateChain returns the single self-signed DER certificate used for
// TLS client authentication.
func (c *Credentials) CertificateChain() ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return nil, ErrDestroyed
	}
	return [][]byte{append([]byte(nil), c.certDER...)}, nil
}

// TLSCertificate returns a tls.Certificate suitable for
// tls.Config.Certificates, pairing the DER certificate with the private key.
func (c *Credentials) TLSCertificate() (tls.Certificate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return tls.Certificate{}, ErrDestroyed
	}
	return tls.Certificate{
		Certificate: [][]byte{c.certDER},
		PrivateKey:  c.privateKey,
		Leaf:        c.cert,
	}, nil
}

// DeviceName returns the identity string embedded in the public key blob.
func (c *Credentials) DeviceName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceName
}

// Destroy best-effort zeroes the RSA private key material. Failure to zero
// any particular field is ignored, matching spec: credential teardown
// never surfaces an error to the caller.
func (c *Credentials) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return
	}
	if c.privateKey != nil {
		zeroBigInt(c.privateKey.D)
		for _, p := range c.privateKey.Primes {
			zeroBigInt(p)
		}
		if c.privateKey.Precomputed.Dp != nil {
			zeroBigInt(c.privateKey.Precomputed.Dp)
		}
		if c.privateKey.Precomputed.Dq != nil {
			zeroBigInt(c.privateKey.Precomputed.Dq)
		}
		if c.privateKey.Precomputed.Qinv != nil {
			zeroBigInt(c.privateKey.Precomputed.Qinv)
		}
	}
	c.destroyed = true
}

func zeroBigInt(n *big.Int) {
	bits := n.Bits()
	for i := range bits {
		bits[i] = 0
	}
}

// PublicKeyBlob builds the legacy Android ADB public key format: a binary
// RSAPublicKey record (word count, Montgomery n0inv, modulus, R^2 mod N,
// exponent, all little-endian) Base64-encoded and suffixed with
// " "+deviceName+"\x00".
func (c *Credentials) PublicKeyBlob() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return nil, ErrDestroyed
	}

	record, err := encodeRSAPublicKeyRecord(&c.privateKey.PublicKey)
	if err != nil {
		return nil, err
	}

	encoded := base64.StdEncoding.EncodeToString(record)
	blob := append([]byte(encoded), ' ')
	blob = append(blob, []byte(c.deviceName)...)
	blob = append(blob, 0)
	return blob, nil
}

// encodeRSAPublicKeyRecord serialises pub as the fixed-layout mincrypt
// RSAPublicKey struct adbd parses: len(u32) | n0inv(u32) | n[64](u32 each)
// | rr[64](u32 each) | exponent(u32), all little-endian.
func encodeRSAPublicKeyRecord(pub *rsa.PublicKey) ([]byte, error) {
	n := pub.N
	if n.BitLen() > rsaKeyBits {
		return nil, fmt.Errorf("credentials: modulus wider than %d bits", rsaKeyBits)
	}

	n0inv := montgomeryN0Inv(n)
	nWords := bigIntToWords(n, rsaNumWords)

	r := new(big.Int).Lsh(big.NewInt(1), uint(32*rsaNumWords))
	rr := new(big.Int).Mod(new(big.Int).Mul(r, r), n)
	rrWords := bigIntToWords(rr, rsaNumWords)

	buf := make([]byte, 4+4+4*rsaNumWords+4*rsaNumWords+4)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(rsaNumWords))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], n0inv)
	off += 4
	for _, w := range nWords {
		binary.LittleEndian.PutUint32(buf[off:], w)
		off += 4
	}
	for _, w := range rrWords {
		binary.LittleEndian.PutUint32(buf[off:], w)
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:], uint32(pub.E))

	return buf, nil
}

// montgomeryN0Inv computes -N^{-1} mod 2^32, the Montgomery reduction
// constant derived from the modulus' least significant word.
func montgomeryN0Inv(n *big.Int) uint32 {
	mod32 := new(big.Int).Lsh(big.NewInt(1), 32)
	n0 := new(big.Int).Mod(n, mod32)

	inv := new(big.Int).ModInverse(n0, mod32)
	neg := new(big.Int).Sub(mod32, inv)
	neg.Mod(neg, mod32)
	return uint32(neg.Uint64())
}

// bigIntToWords splits n into numWords little-endian 32-bit words (word 0
// is the least significant).
func bigIntToWords(n *big.Int, numWords int) []uint32 {
	mask := new(big.Int).Lsh(big.NewInt(1), 32)
	mask.Sub(mask, big.NewInt(1))

	rem := new(big.Int).Set(n)
	words := make([]uint32, numWords)
	for i := 0; i < numWords; i++ {
		word := new(big.Int).And(rem, mask)
		words[i] = uint32(word.Uint64())
		rem.Rsh(rem, 32)
	}
	return words
}
