package crypto

import (
	"bytes"
	"crypto/sha512"
	"errors"
	"io"
	"math/big"

	"filippo.io/edwards25519"
)

// fieldPrime is 2^255-19, the field modulus shared by Curve25519 and
// Edwards25519; it is used only to re-derive the Edwards y-coordinate from
// a Montgomery u-coordinate when verifying a signature.
var fieldPrime, _ = new(big.Int).SetString("57896044618658097711785492504343953926634992332820282019728792003956564819949", 10)

var errBadSignature = errors.New("crypto: malformed signature")

// SignCurve25519 signs message with the Curve25519 (Montgomery) private key
// priv, in the XEdDSA scheme used throughout the WhatsApp/Signal identity
// and account-signature chain: the Montgomery scalar is reinterpreted as an
// Edwards scalar, a sign correction is applied so the corresponding Edwards
// point has a deterministic sign bit, and a standard EdDSA-shaped signature
// is produced over an Edwards point whose Montgomery projection is the
// caller's existing Curve25519 public key. random must be 64 bytes of fresh
// entropy; it does not need to be secret, only unique per signature.
func SignCurve25519(priv [KeyLength]byte, message []byte, random [64]byte) ([]byte, error) {
	a, err := new(edwards25519.Scalar).SetBytesWithClamping(priv[:])
	if err != nil {
		return nil, err
	}

	aPoint := new(edwards25519.Point).ScalarBaseMult(a)
	aBytes := aPoint.Bytes()
	sign := (aBytes[31] >> 7) & 1
	if sign == 1 {
		a = new(edwards25519.Scalar).Negate(a)
		aBytes[31] &= 0x7f
	}

	nonceInput := make([]byte, 0, 32+32+len(message)+64)
	nonceInput = append(nonceInput, bytes.Repeat([]byte{0xFE}, 32)...)
	nonceInput = append(nonceInput, a.Bytes()...)
	nonceInput = append(nonceInput, message...)
	nonceInput = append(nonceInput, random[:]...)
	nonceHash := sha512.Sum512(nonceInput)

	r, err := new(edwards25519.Scalar).SetUniformBytes(nonceHash[:])
	if err != nil {
		return nil, err
	}
	rPoint := new(edwards25519.Point).ScalarBaseMult(r)
	rBytes := rPoint.Bytes()

	challengeInput := make([]byte, 0, 32+32+len(message))
	challengeInput = append(challengeInput, rBytes...)
	challengeInput = append(challengeInput, aBytes...)
	challengeInput = append(challengeInput, message...)
	challengeHash := sha512.Sum512(challengeInput)
	h, err := new(edwards25519.Scalar).SetUniformBytes(challengeHash[:])
	if err != nil {
		return nil, err
	}

	s := new(edwards25519.Scalar).Add(r, new(edwards25519.Scalar).Multiply(h, a))
	sBytes := s.Bytes()
	sBytes[31] |= sign << 7

	sig := make([]byte, 0, 64)
	sig = append(sig, rBytes...)
	sig = append(sig, sBytes...)
	return sig, nil
}

// VerifyCurve25519 verifies a signature produced by SignCurve25519 against
// a Montgomery (Curve25519) public key.
func VerifyCurve25519(pub [KeyLength]byte, message, signature []byte) (bool, error) {
	if len(signature) != 64 {
		return false, errBadSignature
	}
	rBytes := signature[:32]
	sBytes := append([]byte(nil), signature[32:64]...)
	// The top bit of s carries the signer's sign correction and is not part
	// of the scalar. SignCurve25519 always hashes the sign-0 encoding of its
	// Edwards public key, so that is the point rebuilt below.
	sBytes[31] &= 0x7f

	s, err := new(edwards25519.Scalar).SetCanonicalBytes(sBytes)
	if err != nil {
		return false, errBadSignature
	}

	aPoint, err := edwardsPointFromMontgomeryU(pub, 0)
	if err != nil {
		return false, err
	}
	aBytes := aPoint.Bytes()

	challengeInput := make([]byte, 0, 32+32+len(message))
	challengeInput = append(challengeInput, rBytes...)
	challengeInput = append(challengeInput, aBytes...)
	challengeInput = append(challengeInput, message...)
	challengeHash := sha512.Sum512(challengeInput)
	h, err := new(edwards25519.Scalar).SetUniformBytes(challengeHash[:])
	if err != nil {
		return false, err
	}

	sB := new(edwards25519.Point).ScalarBaseMult(s)
	hA := new(edwards25519.Point).ScalarMult(h, aPoint)
	candidate := new(edwards25519.Point).Subtract(sB, hA)

	rPoint, err := new(edwards25519.Point).SetBytes(rBytes)
	if err != nil {
		return false, errBadSignature
	}
	return candidate.Equal(rPoint) == 1, nil
}

// NewSignRandom reads 64 bytes of entropy for SignCurve25519 from r.
func NewSignRandom(r io.Reader) ([64]byte, error) {
	var out [64]byte
	_, err := io.ReadFull(r, out[:])
	return out, err
}

// edwardsPointFromMontgomeryU reconstructs the Edwards point corresponding
// to a Montgomery u-coordinate and an explicit sign bit, via the standard
// birational map y = (u-1)/(u+1), reusing the Edwards decompression
// (x-recovery) logic already implemented by edwards25519.Point.SetBytes.
func edwardsPointFromMontgomeryU(u [KeyLength]byte, sign byte) (*edwards25519.Point, error) {
	uInt := new(big.Int).SetBytes(reverseBytes(u[:]))
	uInt.Mod(uInt, fieldPrime)

	num := new(big.Int).Sub(uInt, big.NewInt(1))
	num.Mod(num, fieldPrime)
	den := new(big.Int).Add(uInt, big.NewInt(1))
	den.Mod(den, fieldPrime)
	denInv := new(big.Int).ModInverse(den, fieldPrime)
	if denInv == nil {
		return nil, errors.New("crypto: non-invertible montgomery u-coordinate")
	}
	y := new(big.Int).Mul(num, denInv)
	y.Mod(y, fieldPrime)

	yLE := make([]byte, KeyLength)
	yBE := y.Bytes()
	for i, b := range yBE {
		yLE[len(yBE)-1-i] = b
	}
	yLE[31] |= sign << 7

	return new(edwards25519.Point).SetBytes(yLE)
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
