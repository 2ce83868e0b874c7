// Package spake2 implements the plain (non-augmented) SPAKE2 password-authenticated
// key exchange over P-256, as used during ADB's wireless pairing handshake.
//
// Unlike SPAKE2+, plain SPAKE2 has no prover/verifier asymmetry: both the host and
// the device derive the same scalar w from the shared pairing code and use it
// directly, rather than splitting it into w0/w1 with the device only storing a
// registration record. The point arithmetic and transcript-based key schedule below
// follow the same shape as a SPAKE2+ implementation with w1 and L dropped.
package spake2

import (
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"math/big"

	"github.com/go-adb/adb/pkg/adbcrypto"
)

// Field and point sizes for the P-256 ciphersuite.
const (
	// ScalarSizeBytes is the size of a P-256 scalar (32 bytes).
	ScalarSizeBytes = 32

	// PointSizeBytes is the size of an uncompressed P-256 point (65 bytes).
	PointSizeBytes = 65
)

// M and N are the SPAKE2 generator points for P-256, reused unmodified from the
// SPAKE2+ ciphersuite (RFC 9383 Section 4): the generators are a property of the
// ciphersuite, not of the augmented/plain variant.
var (
	pointM = mustDecodePoint([]byte{
		0x04, 0x88, 0x6e, 0x2f, 0x97, 0xac, 0xe4, 0x6e, 0x55, 0xba, 0x9d, 0xd7, 0x24, 0x25, 0x79, 0xf2, 0x99,
		0x3b, 0x64, 0xe1, 0x6e, 0xf3, 0xdc, 0xab, 0x95, 0xaf, 0xd4, 0x97, 0x33, 0x3d, 0x8f, 0xa1, 0x2f, 0x5f,
		0xf3, 0x55, 0x16, 0x3e, 0x43, 0xce, 0x22, 0x4e, 0x0b, 0x0e, 0x65, 0xff, 0x02, 0xac, 0x8e, 0x5c, 0x7b,
		0xe0, 0x94, 0x19, 0xc7, 0x85, 0xe0, 0xca, 0x54, 0x7d, 0x55, 0xa1, 0x2e, 0x2d, 0x20,
	})
	pointN = mustDecodePoint([]byte{
		0x04, 0xd8, 0xbb, 0xd6, 0xc6, 0x39, 0xc6, 0x29, 0x37, 0xb0, 0x4d, 0x99, 0x7f, 0x38, 0xc3, 0x77, 0x07,
		0x19, 0xc6, 0x29, 0xd7, 0x01, 0x4d, 0x49, 0xa2, 0x4b, 0x4f, 0x98, 0xba, 0xa1, 0x29, 0x2b, 0x49, 0x07,
		0xd6, 0x0a, 0xa6, 0xbf, 0xad, 0xe4, 0x50, 0x08, 0xa6, 0x36, 0x33, 0x7f, 0x51, 0x68, 0xc6, 0x4d, 0x9b,
		0xd3, 0x60, 0x34, 0x80, 0x8c, 0xd5, 0x64, 0x49, 0x0b, 0x1e, 0x65, 0x6e, 0xdb, 0xe7,
	})

	pointMBytes = append([]byte(nil), encodePoint(pointM)...)
	pointNBytes = append([]byte(nil), encodePoint(pointN)...)
)

var p256 = elliptic.P256()

// Role identifies which side of the pairing exchange this instance plays.
// The roles are symmetric in plain SPAKE2 (both know w); the distinction only
// changes which generator point (M or N) is combined with the random scalar.
type Role int

const (
	// RoleClient is the side that initiates pairing (the ADB host).
	RoleClient Role = iota
	// RoleServer is the side that accepts pairing (the ADB device).
	RoleServer
)

type state int

const (
	stateInit state = iota
	stateShareGenerated
	stateSharedSecretComputed
	stateConfirmed
)

// Errors returned by the SPAKE2 state machine.
var (
	ErrInvalidWSize        = errors.New("spake2: w must be 32 bytes")
	ErrInvalidShareSize    = errors.New("spake2: share must be 65 bytes (uncompressed point)")
	ErrInvalidPointOnCurve = errors.New("spake2: point is not on the curve")
	ErrInvalidState        = errors.New("spake2: invalid protocol state for this operation")
	ErrConfirmationFailed  = errors.New("spake2: key confirmation failed")
)

// SPAKE2 drives one side of a plain SPAKE2 key exchange over P-256.
type SPAKE2 struct {
	role       Role
	context    []byte
	idClient   []byte
	idServer   []byte

	w *big.Int // shared scalar derived from the pairing code

	myRandom  *big.Int
	myShare   []byte
	peerShare []byte
	z         []byte

	// Ke is the 64-byte shared secret exposed via SharedSecret, stretched
	// from the transcript hash via HKDF-SHA256. KcA/KcB are the per-role
	// confirmation MAC keys, derived independently from the same hash.
	Ke  []byte
	KcA []byte
	KcB []byte

	state state
	rand  io.Reader
}

// New creates a SPAKE2 instance for the given role.
//
// context is bound into the transcript (e.g. a hash of the pairing session's
// public parameters); idClient/idServer are optional peer identities, and w is
// the 32-byte scalar both sides derive from the pairing code (pkg/pairing uses
// SHA-256 of the code).
func New(role Role, context, idClient, idServer, w []byte) (*SPAKE2, error) {
	if len(w) != ScalarSizeBytes {
		return nil, ErrInvalidWSize
	}
	return &SPAKE2{
		role:     role,
		context:  copyBytes(context),
		idClient: copyBytes(idClient),
		idServer: copyBytes(idServer),
		w:        new(big.Int).SetBytes(w),
		state:    stateInit,
		rand:     rand.Reader,
	}, nil
}

// SetRandom overrides the random source, for deterministic tests.
func (s *SPAKE2) SetRandom(r io.Reader) { s.rand = r }

// GenerateShare generates this party's public share.
// Client: X = x*P + w*M
// Server: Y = y*P + w*N
func (s *SPAKE2) GenerateShare() ([]byte, error) {
	if s.state != stateInit {
		return nil, ErrInvalidState
	}

	myRandom, err := generateRandomScalar(s.rand)
	if err != nil {
		return nil, err
	}
	s.myRandom = myRandom

	generator := pointM
	if s.role == RoleServer {
		generator = pointN
	}
	share := computeShare(myRandom, s.w, generator)

	s.myShare = encodePoint(share)
	s.state = stateShareGenerated
	return copyBytes(s.myShare), nil
}

// ProcessPeerShare consumes the peer's public share and derives the shared
// secret and confirmation keys.
func (s *SPAKE2) ProcessPeerShare(peerShare []byte) error {
	if s.state != stateShareGenerated {
		return ErrInvalidState
	}
	if len(peerShare) != PointSizeBytes {
		return ErrInvalidShareSize
	}

	peer, err := decodePoint(peerShare)
	if err != nil {
		return err
	}
	s.peerShare = copyBytes(peerShare)

	// Client: Z = x*(Y - w*N); Server: Z = y*(X - w*M).
	genPoint := pointN
	if s.role == RoleServer {
		genPoint = pointM
	}

	wGen := scalarMult(genPoint, s.w)
	diff := pointSub(peer, wGen)
	z := scalarMult(diff, s.myRandom)
	s.z = encodePoint(z)

	if err := s.deriveKeys(); err != nil {
		return err
	}
	s.state = stateSharedSecretComputed
	return nil
}

// Confirmation returns this party's key confirmation MAC over the peer's share.
func (s *SPAKE2) Confirmation() ([]byte, error) {
	if s.state != stateSharedSecretComputed && s.state != stateConfirmed {
		return nil, ErrInvalidState
	}
	if s.role == RoleClient {
		return hmacSHA256(s.KcA, s.peerShare), nil
	}
	return hmacSHA256(s.KcB, s.peerShare), nil
}

// VerifyPeerConfirmation checks the peer's confirmation MAC against our own share.
func (s *SPAKE2) VerifyPeerConfirmation(peerConfirm []byte) error {
	if s.state != stateSharedSecretComputed && s.state != stateConfirmed {
		return ErrInvalidState
	}

	var expected []byte
	if s.role == RoleClient {
		expected = hmacSHA256(s.KcB, s.myShare)
	} else {
		expected = hmacSHA256(s.KcA, s.myShare)
	}

	if !hmac.Equal(expected, peerConfirm) {
		return ErrConfirmationFailed
	}
	s.state = stateConfirmed
	return nil
}

// SharedSecret returns the 64-byte established secret Ke. Callers should
// only trust this after VerifyPeerConfirmation has succeeded.
func (s *SPAKE2) SharedSecret() []byte {
	return copyBytes(s.Ke)
}

// deriveKeys stretches the transcript hash into two independent outputs:
// a 64-byte Ke (the shared secret callers feed into a further HKDF step of
// their own) and a pair of 16-byte confirmation MAC keys. Both are HKDF
// expansions of the same SHA-256 transcript hash, distinguished only by
// their info string, so neither can be derived from the other.
func (s *SPAKE2) deriveKeys() error {
	tt := s.buildTranscript()
	th := sha256.Sum256(tt)

	ke, err := adbcrypto.HKDFSHA256(th[:], nil, []byte("SharedSecret"), 64)
	if err != nil {
		return err
	}
	s.Ke = ke

	kcab, err := adbcrypto.HKDFSHA256(th[:], nil, []byte("ConfirmationKeys"), 32)
	if err != nil {
		return err
	}
	s.KcA = make([]byte, 16)
	s.KcB = make([]byte, 16)
	copy(s.KcA, kcab[:16])
	copy(s.KcB, kcab[16:])
	return nil
}

// buildTranscript builds TT = len||context || len||idClient || len||idServer
// || len||M || len||N || len||X || len||Y || len||Z || len||w.
//
// This drops the V term a SPAKE2+ transcript would include: V only exists
// because the augmented variant separates w0 (verifier-known) from w1
// (prover-only); plain SPAKE2 has no such split, so Z alone carries the
// shared secret into the key schedule.
func (s *SPAKE2) buildTranscript() []byte {
	var x, y []byte
	if s.role == RoleClient {
		x, y = s.myShare, s.peerShare
	} else {
		x, y = s.peerShare, s.myShare
	}

	wBytes := make([]byte, ScalarSizeBytes)
	s.w.FillBytes(wBytes)

	var tt []byte
	tt = appendWithLen64(tt, s.context)
	tt = appendWithLen64(tt, s.idClient)
	tt = appendWithLen64(tt, s.idServer)
	tt = appendWithLen64(tt, pointMBytes)
	tt = appendWithLen64(tt, pointNBytes)
	tt = appendWithLen64(tt, x)
	tt = appendWithLen64(tt, y)
	tt = appendWithLen64(tt, s.z)
	tt = appendWithLen64(tt, wBytes)
	return tt
}

func appendWithLen64(dst, data []byte) []byte {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(data)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, data...)
	return dst
}

// point operations

type point struct {
	x, y *big.Int
}

func mustDecodePoint(data []byte) *point {
	p, err := decodePoint(data)
	if err != nil {
		panic(err)
	}
	return p
}

func decodePoint(data []byte) (*point, error) {
	if len(data) != PointSizeBytes {
		return nil, ErrInvalidShareSize
	}
	if data[0] != 0x04 {
		return nil, ErrInvalidPointOnCurve
	}
	x := new(big.Int).SetBytes(data[1:33])
	y := new(big.Int).SetBytes(data[33:65])
	if !p256.IsOnCurve(x, y) {
		return nil, ErrInvalidPointOnCurve
	}
	return &point{x: x, y: y}, nil
}

func encodePoint(p *point) []byte {
	result := make([]byte, PointSizeBytes)
	result[0] = 0x04
	p.x.FillBytes(result[1:33])
	p.y.FillBytes(result[33:65])
	return result
}

func scalarMult(p *point, k *big.Int) *point {
	x, y := p256.ScalarMult(p.x, p.y, k.Bytes())
	return &point{x: x, y: y}
}

func pointAdd(p1, p2 *point) *point {
	x, y := p256.Add(p1.x, p1.y, p2.x, p2.y)
	return &point{x: x, y: y}
}

func pointSub(p1, p2 *point) *point {
	negY := new(big.Int).Neg(p2.y)
	negY.Mod(negY, p256.Params().P)
	x, y := p256.Add(p1.x, p1.y, p2.x, negY)
	return &point{x: x, y: y}
}

func computeShare(randScalar, w *big.Int, generator *point) *point {
	rpx, rpy := p256.ScalarBaseMult(randScalar.Bytes())
	rp := &point{x: rpx, y: rpy}
	wg := scalarMult(generator, w)
	return pointAdd(rp, wg)
}

func generateRandomScalar(r io.Reader) (*big.Int, error) {
	n := p256.Params().N
	for {
		b := make([]byte, ScalarSizeBytes)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		k := new(big.Int).SetBytes(b)
		if k.Sign() > 0 && k.Cmp(n) < 0 {
			return k, nil
		}
	}
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
