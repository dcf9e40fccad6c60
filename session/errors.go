package session

import "fmt"

// TransportError wraps a WebSocket I/O failure. It is always fatal to the
// current connection; session.Client tears down and reports it through
// Listener.OnDisconnect, and reconnecting is left to the caller.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("session: transport error: %v", e.Err) }
func (e *TransportError) Unwrap() error  { return e.Err }

// ProtocolError marks malformed framing — a server hello too short for its
// fields, or a frame whose length prefix doesn't agree with what was
// actually read. Nodes the digester has no dispatch rule for are not
// errors; they go to the request correlator by id.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("session: protocol error: %s", e.Reason) }

// StreamError mirrors the wire's stream:error node. Code 515 is the one
// recoverable value (reconnect); every other code propagates to pending
// requests as an error rather than tripping an assertion, per the resolved
// open question in spec §9.
type StreamError struct {
	Code int
}

func (e *StreamError) Error() string { return fmt.Sprintf("session: stream error, code=%d", e.Code) }

// Recoverable reports whether this stream error should trigger a
// reconnect rather than propagate as fatal.
func (e *StreamError) Recoverable() bool { return e.Code == 515 }

// LoginFailure mirrors the wire's <failure reason="..."/> node. reason=401
// is the sole recoverable case (session §4.4); anything else is fatal but
// logged, never an assertion trip.
type LoginFailure struct {
	Reason int
}

func (e *LoginFailure) Error() string { return fmt.Sprintf("session: login failure, reason=%d", e.Reason) }

func (e *LoginFailure) Recoverable() bool { return e.Reason == 401 }
