package crypto

import (
	cryptorand "crypto/rand"
	"io"
	"sync"

	"github.com/katzenpost/chacha20"
)

// csprng is a forward-secure chacha20-based io.Reader, reseeded from the
// system entropy source every csprngReseedBytes bytes of output. It exists
// so ephemeral key generation and Noise nonce-adjacent randomness don't all
// draw directly from crypto/rand.Reader under high connection churn.
type csprng struct {
	mu     sync.Mutex
	cipher *chacha20.Cipher
	used   int
}

const csprngReseedBytes = chacha20.BlockSize * 1024

var mNonce [chacha20.NonceSize]byte

func newCSPRNG() *csprng {
	c := &csprng{cipher: new(chacha20.Cipher)}
	c.reseed()
	return c
}

func (c *csprng) reseed() {
	var seed [chacha20.KeySize]byte
	if _, err := io.ReadFull(cryptorand.Reader, seed[:]); err != nil {
		panic("crypto: failed to read system entropy: " + err.Error())
	}
	if err := c.cipher.ReKey(seed[:], mNonce[:]); err != nil {
		panic("crypto: chacha20 rekey failed")
	}
	c.used = 0
}

func (c *csprng) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.used+len(p) > csprngReseedBytes {
		c.reseed()
	}
	c.cipher.KeyStream(p)
	c.used += len(p)
	return len(p), nil
}

// Reader is a process-wide CSPRNG used for ephemeral key generation and
// signature nonces. It is distinct from crypto/rand.Reader only in that it
// amortizes syscalls; reseeded from crypto/rand.Reader periodically.
var Reader io.Reader = newCSPRNG()
