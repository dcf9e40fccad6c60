package noise

import "fmt"

// State names the handshake step in progress, used only for error context.
// Mirrors the teacher's wire.HandshakeState enumeration of message steps.
type State string

const (
	StateInit          State = "init"
	StateClientHello   State = "client_hello"
	StateServerHello   State = "server_hello"
	StateClientFinish  State = "client_finish"
	StateFinalized     State = "finalized"
)

// HandshakeAuthError is returned when an AEAD tag fails to verify during
// the Noise handshake. It is always fatal: the connection must be torn
// down and never retried with the same ciphertext (spec §9 resolves the
// source's catch-and-retry loop as a bug; this type carries no retry path).
type HandshakeAuthError struct {
	State State
	Err   error
}

func (e *HandshakeAuthError) Error() string {
	return fmt.Sprintf("noise: handshake authentication failed at %s: %v", e.State, e.Err)
}

func (e *HandshakeAuthError) Unwrap() error { return e.Err }
