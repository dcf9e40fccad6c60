package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ExpandHKDF runs HKDF-SHA256 with the given salt (may be nil/empty),
// input key material, and optional info, producing length bytes of output.
// This is the primitive behind noise.mixIntoKey and media.DeriveKeys.
func ExpandHKDF(salt, ikm, info []byte, length int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// HMACSHA256 computes HMAC-SHA256(key, msg).
func HMACSHA256(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// EqualHMAC performs a constant-time comparison of two MACs.
func EqualHMAC(a, b []byte) bool {
	return hmac.Equal(a, b)
}

// SHA256 hashes data in one shot.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}
