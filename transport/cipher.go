// Package transport implements the post-handshake wire framing: a 3-byte
// big-endian length prefix around an AES-GCM sealed payload, with
// independent directional keys and monotonic per-direction counters used
// as the GCM nonce. The directional-cipher-pair shape mirrors the teacher's
// wire.Session, which also keeps a separate tx/rx *nyquist.CipherState
// pair rather than one bidirectional cipher (core/wire/session.go).
package transport

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"gitlab.com/yawning/bsaes.git"
)

// MagicDisconnect is the in-band frame length that signals a soft
// disconnect rather than a truncated or malformed frame.
const MagicDisconnect = 8913411

// maxFrameLen is the largest length value the 3-byte prefix can express.
const maxFrameLen = 1<<24 - 1

// DecryptError reports an AEAD tag failure on a transport frame. It is
// always fatal for the connection: the protocol's retry-on-failure
// behavior is a documented bug (spec §9), so this type carries no retry
// path and callers must tear the session down.
type DecryptError struct {
	Counter uint64
	Err     error
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("transport: decrypt failed at counter %d: %v", e.Counter, e.Err)
}

func (e *DecryptError) Unwrap() error { return e.Err }

// directionalCipher is one half of a Cipher: an AEAD keyed for a single
// direction plus its own monotonic nonce counter.
type directionalCipher struct {
	aead    cipher.AEAD
	counter uint64
}

func newDirectionalCipher(key [32]byte) (*directionalCipher, error) {
	// bsaes, not crypto/aes: same always-constant-time block cipher
	// nyquist's AESGCM cipher insists on for this handshake's transport keys.
	block, err := bsaes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &directionalCipher{aead: aead}, nil
}

func nonceFor(counter uint64) []byte {
	n := make([]byte, 12)
	binary.BigEndian.PutUint64(n[4:], counter)
	return n
}

// Cipher is the pair of directional AEAD states handed off by a completed
// Noise handshake. Once constructed, it is the only thing session.Client
// needs to turn node bytes into wire frames and back.
type Cipher struct {
	write *directionalCipher
	read  *directionalCipher

	// readCounter is tracked separately with atomic fetch-and-increment so
	// the gap detector (spec §4.3) can observe it from outside the read
	// loop without taking a lock.
	readCounter atomic.Uint64
}

// NewCipher builds a Cipher from the two keys a completed handshake
// produced. writeKey encrypts outbound frames, readKey decrypts inbound
// ones; both counters start at zero.
func NewCipher(writeKey, readKey [32]byte) (*Cipher, error) {
	w, err := newDirectionalCipher(writeKey)
	if err != nil {
		return nil, err
	}
	r, err := newDirectionalCipher(readKey)
	if err != nil {
		return nil, err
	}
	return &Cipher{write: w, read: r}, nil
}

// Seal encrypts plaintext under the write direction's current counter,
// then increments it. There is no AAD: the handshake's running hash ends
// with the handshake, so transport frames carry none.
func (c *Cipher) Seal(plaintext []byte) []byte {
	counter := c.write.counter
	out := c.write.aead.Seal(nil, nonceFor(counter), plaintext, nil)
	c.write.counter++
	return out
}

// Open decrypts a received frame under the read direction's current
// counter. On success the counter advances by exactly one; on failure the
// counter is left untouched and a *DecryptError is returned — fail closed,
// per spec §9, rather than the source's catch-and-retry.
func (c *Cipher) Open(ciphertext []byte) ([]byte, error) {
	counter := c.read.counter
	plaintext, err := c.read.aead.Open(nil, nonceFor(counter), ciphertext, nil)
	if err != nil {
		return nil, &DecryptError{Counter: counter, Err: err}
	}
	c.read.counter++
	c.readCounter.Add(1)
	return plaintext, nil
}

// ReadCounter returns the number of frames successfully decrypted so far,
// for the gap detector described in spec §4.3.
func (c *Cipher) ReadCounter() uint64 { return c.readCounter.Load() }

// EncodeFrame wraps a ciphertext with its 3-byte big-endian length prefix.
func EncodeFrame(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) > maxFrameLen {
		return nil, fmt.Errorf("transport: frame of %d bytes exceeds 24-bit length prefix", len(ciphertext))
	}
	out := make([]byte, 3+len(ciphertext))
	out[0] = byte(len(ciphertext) >> 16)
	out[1] = byte(len(ciphertext) >> 8)
	out[2] = byte(len(ciphertext))
	copy(out[3:], ciphertext)
	return out, nil
}

// DecodeFrameLength reads the 3-byte big-endian length prefix, reporting
// separately whether it is the magic soft-disconnect signal.
func DecodeFrameLength(prefix [3]byte) (length int, isDisconnect bool) {
	n := int(prefix[0])<<16 | int(prefix[1])<<8 | int(prefix[2])
	if n == MagicDisconnect {
		return 0, true
	}
	return n, false
}

// GapDetector tracks a monotonically increasing counter and reports
// whether more than one increment happened between two observations — a
// sign frames were skipped or reordered. Implementations may choose to
// hard-fail on a detected gap instead of merely logging; this type only
// detects, it does not decide the policy.
type GapDetector struct {
	last uint64
	seen bool
}

// Observe records the current counter value and reports whether the jump
// since the previous observation was anything other than exactly 1 (the
// first observation never reports a gap).
func (g *GapDetector) Observe(counter uint64) (gap bool, delta uint64) {
	if !g.seen {
		g.seen = true
		g.last = counter
		return false, 0
	}
	delta = counter - g.last
	g.last = counter
	return delta != 1, delta
}
