// Package media implements WhatsApp's media content encryption: an
// HKDF-derived key schedule, AES-CBC-PKCS7 encryption, a truncated
// HMAC-SHA256 authentication tag, and the streaming "sidecar" of
// per-block MAC seek points. Key derivation follows the same
// crypto.ExpandHKDF primitive the Noise handshake uses (crypto/hkdf.go),
// kept in its own package because the derivation here has a fixed info
// string per media type rather than a running handshake key.
package media

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"

	"gitlab.com/yawning/bsaes.git"

	"github.com/at1559/WhatsappWeb4j/crypto"
)

// Type identifies the media kind, which selects the HKDF info string.
type Type int

const (
	Image Type = iota
	Video
	Audio
	Document
)

func (t Type) infoString() (string, error) {
	switch t {
	case Image:
		return "WhatsApp Image Keys", nil
	case Video:
		return "WhatsApp Video Keys", nil
	case Audio:
		return "WhatsApp Audio Keys", nil
	case Document:
		return "WhatsApp Document Keys", nil
	default:
		return "", fmt.Errorf("media: unknown media type %d", t)
	}
}

const (
	ivLen        = 16
	cipherKeyLen = 32
	macKeyLen    = 32
	refKeyLen    = 32
	expandedLen  = ivLen + cipherKeyLen + macKeyLen + refKeyLen
	macTagLen    = 10
	sidecarBlock = 80
)

// Keys is the expanded key schedule derived from a 32-byte mediaKey for a
// given Type.
type Keys struct {
	IV        [ivLen]byte
	CipherKey [cipherKeyLen]byte
	MacKey    [macKeyLen]byte
	RefKey    [refKeyLen]byte
}

// DeriveKeys expands mediaKey into the four sub-keys used for encryption,
// MAC, and the CDN reference key, per spec §4.7.
func DeriveKeys(mediaKey [32]byte, t Type) (*Keys, error) {
	info, err := t.infoString()
	if err != nil {
		return nil, err
	}
	out, err := crypto.ExpandHKDF(nil, mediaKey[:], []byte(info), expandedLen)
	if err != nil {
		return nil, err
	}
	k := &Keys{}
	copy(k.IV[:], out[0:16])
	copy(k.CipherKey[:], out[16:48])
	copy(k.MacKey[:], out[48:80])
	copy(k.RefKey[:], out[80:112])
	return k, nil
}

// IntegrityError is returned when a downloaded blob's MAC does not match,
// or the blob is too short to contain one. Decrypt never returns partial
// plaintext alongside this error.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("media: integrity check failed: %s", e.Reason)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%bsaes.BlockSize != 0 {
		return nil, errors.New("media: ciphertext is not a multiple of the block size")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > bsaes.BlockSize || padLen > len(data) {
		return nil, errors.New("media: invalid PKCS7 padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("media: invalid PKCS7 padding")
		}
	}
	return data[:len(data)-padLen], nil
}

func macOf(macKey []byte, parts ...[]byte) []byte {
	h := hmac.New(sha256.New, macKey)
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)[:macTagLen]
}

// Encrypt produces the uploaded blob for plaintext: AES-CBC-PKCS7
// ciphertext followed by the 10-byte truncated HMAC over iv||ciphertext.
func Encrypt(k *Keys, plaintext []byte) ([]byte, error) {
	// bsaes, not crypto/aes: this module keeps every AES block cipher on
	// the same always-constant-time implementation nyquist's AESGCM cipher
	// uses, for CBC mode here exactly as for GCM mode in noise/transport.
	block, err := bsaes.NewCipher(k.CipherKey[:])
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, bsaes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, k.IV[:]).CryptBlocks(ciphertext, padded)

	mac := macOf(k.MacKey[:], k.IV[:], ciphertext)
	blob := make([]byte, 0, len(ciphertext)+macTagLen)
	blob = append(blob, ciphertext...)
	blob = append(blob, mac...)
	return blob, nil
}

// Decrypt verifies and decrypts a downloaded blob, rejecting it outright
// (never returning partial plaintext) if the MAC does not match.
func Decrypt(k *Keys, blob []byte) ([]byte, error) {
	if len(blob) < macTagLen {
		return nil, &IntegrityError{Reason: "blob shorter than MAC tag"}
	}
	ciphertext := blob[:len(blob)-macTagLen]
	tag := blob[len(blob)-macTagLen:]

	expected := macOf(k.MacKey[:], k.IV[:], ciphertext)
	if !hmac.Equal(expected, tag) {
		return nil, &IntegrityError{Reason: "MAC mismatch"}
	}

	if len(ciphertext) == 0 || len(ciphertext)%bsaes.BlockSize != 0 {
		return nil, &IntegrityError{Reason: "ciphertext length is not a multiple of the block size"}
	}
	block, err := bsaes.NewCipher(k.CipherKey[:])
	if err != nil {
		return nil, err
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, k.IV[:]).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded)
	if err != nil {
		return nil, &IntegrityError{Reason: err.Error()}
	}
	return plaintext, nil
}

// Sidecar computes the streaming seek-point table: for each 80-byte block
// of plaintext (the last block may be shorter), the first 10 bytes of
// HMAC-SHA256(macKey, block), concatenated in order.
func Sidecar(k *Keys, plaintext []byte) []byte {
	out := make([]byte, 0, (len(plaintext)/sidecarBlock+1)*macTagLen)
	for off := 0; off < len(plaintext); off += sidecarBlock {
		end := off + sidecarBlock
		if end > len(plaintext) {
			end = len(plaintext)
		}
		out = append(out, macOf(k.MacKey[:], plaintext[off:end])...)
	}
	return out
}
