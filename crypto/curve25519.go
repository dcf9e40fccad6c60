// Package crypto provides the low-level cryptographic primitives shared by
// the Noise handshake, transport cipher, pairing, and media subsystems:
// X25519 key agreement, HKDF-SHA256, HMAC-SHA256, and Curve25519-based
// signing.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
)

const (
	// KeyLength is the size in bytes of an X25519 group element.
	KeyLength = 32
)

var errInvalidKey = errors.New("crypto: invalid key length")

// KeyPair is an X25519 static or ephemeral key pair.
type KeyPair struct {
	Priv [KeyLength]byte
	Pub  [KeyLength]byte
}

// NewKeyPair generates a new X25519 key pair sampled from r. Pass
// crypto/rand.Reader for real use; tests may supply a deterministic reader.
func NewKeyPair(r io.Reader) (*KeyPair, error) {
	kp := new(KeyPair)
	if _, err := io.ReadFull(r, kp.Priv[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(kp.Priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(kp.Pub[:], pub)
	return kp, nil
}

// GenerateKeyPair is a convenience wrapper around NewKeyPair using the
// system CSPRNG.
func GenerateKeyPair() (*KeyPair, error) {
	return NewKeyPair(rand.Reader)
}

// SharedSecret performs X25519(priv, pub) and returns the 32-byte result.
func SharedSecret(priv, pub [KeyLength]byte) ([]byte, error) {
	return curve25519.X25519(priv[:], pub[:])
}

// DH computes the Diffie-Hellman shared secret between the local key pair's
// private scalar and a remote public key. It is the primitive the Noise
// handshake calls "DH(x, Y)".
func DH(priv [KeyLength]byte, pub [KeyLength]byte) ([]byte, error) {
	return curve25519.X25519(priv[:], pub[:])
}

// ParsePublicKey validates and copies a wire-format X25519 public key.
func ParsePublicKey(b []byte) ([KeyLength]byte, error) {
	var pub [KeyLength]byte
	if len(b) != KeyLength {
		return pub, errInvalidKey
	}
	copy(pub[:], b)
	return pub, nil
}

// B64 returns the standard (non-url, padded) base64 encoding of key bytes,
// the same encoding package pairing applies to the keys in the QR text.
func B64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
