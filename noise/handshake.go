// Package noise implements the specialized Noise XX handshake used to
// establish the transport cipher between this client and the WhatsApp Web
// multi-device relay. It follows the shape of the teacher's symmetric
// wire.Session handshake (core/wire/session.go) — a running hash, a running
// key, and an AEAD reset on every mixIntoKey — but the key schedule and
// message sequence themselves are specific to this protocol and are not a
// generic Noise engine: they are hand-rolled directly on top of
// golang.org/x/crypto rather than layered on a reusable Noise library. The
// DH sequence itself is the textbook XX one: ee and es from the client's
// ephemeral key, then se from the client's static key.
package noise

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"

	"gitlab.com/yawning/bsaes.git"

	"github.com/at1559/WhatsappWeb4j/crypto"
)

// protocolName is the Noise protocol literal padded with zero bytes to 32,
// matching the fixed-width hash seed the relay expects.
var protocolName = []byte("Noise_XX_25519_AESGCM_SHA256\x00\x00\x00\x00")

// BuildPrologue constructs the handshake prologue: the two-byte "WA" magic,
// the big-endian wire version, and the dialect/variant bytes the relay
// expects glued onto the end of the version tuple.
func BuildPrologue(version uint32) []byte {
	p := make([]byte, 0, 8)
	p = append(p, 'W', 'A')
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], version)
	p = append(p, v[:]...)
	p = append(p, 0x06, 0x02)
	return p
}

// symmetricState is the running hash/key pair carried across a handshake,
// mirroring wire.Session's rxKey/txKey bookkeeping but unified into a single
// struct since the handshake here is not yet split into separate rx/tx
// directions — that split happens only once Finish derives the transport
// keys.
type symmetricState struct {
	hash  [32]byte
	key   [32]byte
	aead  cipher.AEAD
	nonce uint64
}

func (s *symmetricState) start(prologue []byte) {
	s.hash = sha256.Sum256(protocolName)
	s.key = s.hash
	s.updateHash(prologue)
}

func (s *symmetricState) updateHash(data []byte) {
	buf := make([]byte, 0, 32+len(data))
	buf = append(buf, s.hash[:]...)
	buf = append(buf, data...)
	s.hash = sha256.Sum256(buf)
}

// mixIntoKey folds a DH output into the running key: the old key is used as
// the HKDF salt, the DH output as the input key material, and the 64-byte
// expansion is split into the next running key and a fresh AEAD cipher key.
// The AEAD nonce counter resets to zero every time this runs, since a new
// cipher key makes prior nonces irrelevant.
func (s *symmetricState) mixIntoKey(input []byte) error {
	out, err := crypto.ExpandHKDF(s.key[:], input, nil, 64)
	if err != nil {
		return err
	}
	copy(s.key[:], out[:32])

	// bsaes, not crypto/aes: nyquist's AESGCM cipher (core/wire's Noise
	// transport) insists on its pure-Go, always-constant-time block cipher
	// rather than trusting the runtime's AES-NI fallback on every platform.
	block, err := bsaes.NewCipher(out[32:64])
	if err != nil {
		return err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}
	s.aead = aead
	s.nonce = 0
	return nil
}

func (s *symmetricState) nonceBytes() []byte {
	n := make([]byte, 12)
	binary.BigEndian.PutUint64(n[4:], s.nonce)
	return n
}

// cypherEncrypt AEAD-encrypts data under the current key and hash, advances
// the nonce, then folds the ciphertext into the running hash.
func (s *symmetricState) cypherEncrypt(data []byte) []byte {
	ciphertext := s.aead.Seal(nil, s.nonceBytes(), data, s.hash[:])
	s.nonce++
	s.updateHash(ciphertext)
	return ciphertext
}

// cypherDecrypt AEAD-decrypts data under the current key and hash — using
// the hash value from before this call as the AAD, exactly mirroring what
// the peer used as AAD when it encrypted — then folds the ciphertext bytes
// into the running hash. A tag mismatch is always fatal: the caller must
// tear the connection down rather than retry, per the resolved open question
// on the source's catch-and-retry behavior.
func (s *symmetricState) cypherDecrypt(data []byte, state State) ([]byte, error) {
	plaintext, err := s.aead.Open(nil, s.nonceBytes(), data, s.hash[:])
	if err != nil {
		return nil, &HandshakeAuthError{State: state, Err: err}
	}
	s.nonce++
	s.updateHash(data)
	return plaintext, nil
}

// finish derives the two transport-direction keys from the final running
// key: an HKDF expansion of the key against itself, split into a write key
// and a read key. This is the point at which the handshake's single
// symmetric state hands off to transport.Cipher's two independent
// directional AEAD states.
func (s *symmetricState) finish() (writeKey, readKey [32]byte, err error) {
	out, err := crypto.ExpandHKDF(s.key[:], nil, nil, 64)
	if err != nil {
		return writeKey, readKey, err
	}
	copy(writeKey[:], out[:32])
	copy(readKey[:], out[32:64])
	return writeKey, readKey, nil
}

// Result carries everything a completed handshake hands off to the session
// layer: the two transport keys, plus the server's static key and payload
// as the caller passes them to Finish.
type Result struct {
	WriteKey      [32]byte
	ReadKey       [32]byte
	ServerStatic  [32]byte
	ServerPayload []byte
}

// Handshake drives the client side of the specialized XX exchange:
// ClientHello, processing ServerHello, and producing ClientFinish. It owns
// no network I/O itself — session.Client is responsible for writing and
// reading the three handshake frames and handing their bytes to these
// methods, the same separation wire.Session draws between handshake()
// (protocol logic) and Initialize() (the net.Conn it runs over).
type Handshake struct {
	state    symmetricState
	ephem    *crypto.KeyPair
	static   *crypto.KeyPair
	version  uint32
	payload  []byte // the ClientPayload bytes to send in ClientFinish
}

// NewHandshake starts a handshake as the client (initiator). ephem is a
// freshly generated ephemeral keypair, static is this device's long-lived
// noise identity keypair, and payload is the already-serialized
// wap.ClientPayload to deliver in ClientFinish.
func NewHandshake(ephem, static *crypto.KeyPair, version uint32, payload []byte) *Handshake {
	h := &Handshake{ephem: ephem, static: static, version: version, payload: payload}
	h.state.start(BuildPrologue(version))
	return h
}

// ClientHello returns the bytes of the first handshake message: the raw
// client ephemeral public key. The hash is pre-updated with it before it is
// ever sent, per the protocol's message ordering.
func (h *Handshake) ClientHello() []byte {
	h.state.updateHash(h.ephem.Pub[:])
	return append([]byte(nil), h.ephem.Pub[:]...)
}

// ProcessServerHello consumes the server's response: its ephemeral public
// key, its encrypted static key, and an encrypted opaque payload. It
// performs the two handshake-phase DH mixes and decrypts both fields,
// returning the server's recovered static key and payload.
func (h *Handshake) ProcessServerHello(serverEphem [32]byte, encStatic, encPayload []byte) (serverStatic [32]byte, serverPayload []byte, err error) {
	h.state.updateHash(serverEphem[:])

	dh1, err := crypto.DH(h.ephem.Priv, serverEphem)
	if err != nil {
		return serverStatic, nil, err
	}
	if err := h.state.mixIntoKey(dh1); err != nil {
		return serverStatic, nil, err
	}

	staticBytes, err := h.state.cypherDecrypt(encStatic, StateServerHello)
	if err != nil {
		return serverStatic, nil, err
	}
	copy(serverStatic[:], staticBytes)

	// "es" token: DH between the client's ephemeral key and the server's
	// now-decrypted static key.
	dh2, err := crypto.DH(h.ephem.Priv, serverStatic)
	if err != nil {
		return serverStatic, nil, err
	}
	if err := h.state.mixIntoKey(dh2); err != nil {
		return serverStatic, nil, err
	}

	serverPayload, err = h.state.cypherDecrypt(encPayload, StateServerHello)
	if err != nil {
		return serverStatic, nil, err
	}
	return serverStatic, serverPayload, nil
}

// ClientFinish performs the final "se" DH mix — the client's static private
// key against the server's ephemeral public key, proving possession of the
// client's long-term identity — then encrypts and returns the client's own
// static public key followed by its serialized payload. serverEphem is the
// same value passed to ProcessServerHello.
func (h *Handshake) ClientFinish(serverEphem [32]byte) (encStatic, encPayload []byte, err error) {
	dh3, err := crypto.DH(h.static.Priv, serverEphem)
	if err != nil {
		return nil, nil, err
	}
	if err := h.state.mixIntoKey(dh3); err != nil {
		return nil, nil, err
	}

	encStatic = h.state.cypherEncrypt(h.static.Pub[:])
	encPayload = h.state.cypherEncrypt(h.payload)
	return encStatic, encPayload, nil
}

// Finish completes the handshake and derives the transport keys. It must be
// called only after ClientFinish; the returned Result is what session.Client
// hands to transport.NewCipher.
func (h *Handshake) Finish(serverStatic [32]byte, serverPayload []byte) (*Result, error) {
	writeKey, readKey, err := h.state.finish()
	if err != nil {
		return nil, err
	}
	return &Result{
		WriteKey:      writeKey,
		ReadKey:       readKey,
		ServerStatic:  serverStatic,
		ServerPayload: serverPayload,
	}, nil
}
