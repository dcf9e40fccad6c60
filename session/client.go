// Package session owns the single WebSocket connection, the Noise
// handshake lifecycle around it, and the digester that dispatches inbound
// nodes to the request correlator or to session-level events. This
// single-socket-behind-one-gate shape is the teacher's wire.Session
// generalized from a raw net.Conn to a WebSocket, with the addition of a
// digester loop the teacher's lower-level session type doesn't need
// (core/wire/session.go talks one command at a time to a PKI/mix server;
// this client talks a tree-shaped stanza protocol to a single relay and
// must route replies back to whichever caller is waiting on them).
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"gopkg.in/op/go-logging.v1"

	"github.com/at1559/WhatsappWeb4j/binary"
	"github.com/at1559/WhatsappWeb4j/crypto"
	"github.com/at1559/WhatsappWeb4j/noise"
	"github.com/at1559/WhatsappWeb4j/pairing"
	"github.com/at1559/WhatsappWeb4j/request"
	"github.com/at1559/WhatsappWeb4j/transport"
	"github.com/at1559/WhatsappWeb4j/wametrics"
	"github.com/at1559/WhatsappWeb4j/wap"
)

// whatsappServer is the relay's JID server suffix, used as the "to"
// attribute on every iq this client originates during pairing.
const whatsappServer = "s.whatsapp.net"

// maxMissedKeepalives is the number of consecutive missed 20-second
// keepalive pings this client tolerates before treating the connection as
// dead (spec.md §9 supplemented feature — the original source has no
// such guard and relies solely on the WebSocket layer noticing a dead
// TCP connection, which can take far longer than three missed pings).
const maxMissedKeepalives = 3

const keepaliveInterval = 20 * time.Second

// Listener receives session-level lifecycle events. Methods are invoked
// from the read-loop goroutine, except that OnDisconnect is also invoked
// from the keepalive goroutine after too many missed pings; none may
// block. Unlike
// the pairing flow itself — which the session core now drives directly
// against cfg.Pairing — these methods only observe its outcome.
type Listener interface {
	OnLoggedIn()
	OnDisconnect(cause error)
	OnPairDeviceQR(qrText string)
	OnPaired(companionJID string)
	OnPairingFailed(err error)
}

// Config bundles everything Connect needs to start a session. Pairing may
// be nil for a connection that never expects a pair-device challenge (an
// already-paired device reconnecting); digestIQ then silently ignores any
// pairing-shaped node rather than panicking on a nil machine.
type Config struct {
	URL           string
	Version       uint32
	Ephemeral     *crypto.KeyPair
	NoiseStatic   *crypto.KeyPair
	ClientPayload []byte
	Listener      Listener
	Pairing       *pairing.Machine
	Metrics       *wametrics.Metrics
	Logger        *logging.Logger
}

func (c *Client) logf(format string, args ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Infof(format, args...)
	}
}

func (c *Client) warnf(format string, args ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Warningf(format, args...)
	}
}

// Client owns exactly one WebSocket connection and gates all access to it
// through the single read-loop goroutine started by Connect, matching
// spec §4.4's "core owns exactly one WebSocket and gates access through a
// single synchronization barrier."
type Client struct {
	cfg  Config
	conn *websocket.Conn

	cipher *transport.Cipher
	gap    transport.GapDetector

	writeMu sync.Mutex

	loggedIn       atomic.Bool
	preKeysSent    atomic.Bool
	passiveActive  atomic.Bool
	missedKeepAlives atomic.Int32

	pending *request.Correlator

	idCounter atomic.Uint64

	keepaliveCancel context.CancelFunc
	readLoopDone    chan struct{}
}

// NewClient constructs a Client ready for Connect. It does not dial.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:     cfg,
		pending: request.NewCorrelator(),
	}
}

// NextID generates an outbound request id: a lowercase-hex, counter-suffixed
// timestamp, per spec §4.6 ("timestamp-seconded counter, lowercased hex").
func (c *Client) NextID() string {
	n := c.idCounter.Add(1)
	return fmt.Sprintf("%x-%x", time.Now().Unix(), n)
}

// Connect opens the WebSocket, runs the Noise handshake, and starts the
// read loop. It blocks until the handshake completes (not until
// loggedIn — that arrives later via the digester's "success" case) or
// fails.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{
		Subprotocols: []string{"chat"},
	})
	if err != nil {
		return &TransportError{Err: err}
	}
	c.conn = conn

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.HandshakeAttempts.Inc()
	}

	hs := noise.NewHandshake(c.cfg.Ephemeral, c.cfg.NoiseStatic, c.cfg.Version, c.cfg.ClientPayload)

	if err := c.writeRaw(ctx, hs.ClientHello()); err != nil {
		return err
	}

	serverEphem, encStatic, encPayload, err := c.readServerHello(ctx)
	if err != nil {
		c.failHandshake()
		return err
	}

	serverStatic, _, err := hs.ProcessServerHello(serverEphem, encStatic, encPayload)
	if err != nil {
		c.failHandshake()
		return err
	}

	clientEncStatic, clientEncPayload, err := hs.ClientFinish(serverEphem)
	if err != nil {
		c.failHandshake()
		return err
	}
	if err := c.writeRaw(ctx, append(clientEncStatic, clientEncPayload...)); err != nil {
		return err
	}

	result, err := hs.Finish(serverStatic, nil)
	if err != nil {
		c.failHandshake()
		return err
	}

	cipher, err := transport.NewCipher(result.WriteKey, result.ReadKey)
	if err != nil {
		return err
	}
	c.cipher = cipher

	c.readLoopDone = make(chan struct{})
	go c.readLoop()
	return nil
}

func (c *Client) failHandshake() {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.HandshakeFailures.Inc()
	}
}

// readServerHello reads the single raw frame carrying the server's
// ephemeral key, encrypted static key, and encrypted payload: a fixed
// 32-byte ephemeral key, a 16-bit big-endian length and the encrypted
// static key it measures, then the encrypted payload filling the rest of
// the frame. This is the unwrapped shape of the length-prefixed protobuf
// HandshakeMessage spec §6 describes at the framing level.
func (c *Client) readServerHello(ctx context.Context) (serverEphem [32]byte, encStatic, encPayload []byte, err error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return serverEphem, nil, nil, &TransportError{Err: err}
	}
	if len(data) < 32 {
		return serverEphem, nil, nil, &ProtocolError{Reason: "server hello shorter than an ephemeral key"}
	}
	copy(serverEphem[:], data[:32])
	rest := data[32:]
	if len(rest) < 2 {
		return serverEphem, nil, nil, &ProtocolError{Reason: "server hello missing static/payload lengths"}
	}
	staticLen := int(rest[0])<<8 | int(rest[1])
	rest = rest[2:]
	if len(rest) < staticLen {
		return serverEphem, nil, nil, &ProtocolError{Reason: "server hello static field truncated"}
	}
	encStatic = rest[:staticLen]
	encPayload = rest[staticLen:]
	return serverEphem, encStatic, encPayload, nil
}

func (c *Client) writeRaw(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

// Send serializes, encrypts, and writes n (spec §4.4 send()). It registers
// nothing with the correlator; SendAndWait does that under the id it is
// given.
func (c *Client) Send(ctx context.Context, n binary.Node) error {
	encoded := binary.Encode(n)
	frame, err := transport.EncodeFrame(c.cipher.Seal(encoded))
	if err != nil {
		return err
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.NodesSent.Inc()
	}
	return c.writeRaw(ctx, frame)
}

// SendAndWait registers the node's id with the correlator, sends it, and
// blocks for the matching reply.
func (c *Client) SendAndWait(ctx context.Context, n binary.Node, id string) (binary.Node, error) {
	return c.pending.BlockingSend(ctx, id, func() error {
		return c.Send(ctx, n)
	})
}

// readLoop is the single goroutine through which every inbound frame
// passes, per spec §4.4's single-synchronization-barrier design.
func (c *Client) readLoop() {
	defer close(c.readLoopDone)
	ctx := context.Background()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.handleDisconnect(&TransportError{Err: err})
			return
		}
		if len(data) < 3 {
			c.handleDisconnect(&ProtocolError{Reason: "frame shorter than length prefix"})
			return
		}
		var prefix [3]byte
		copy(prefix[:], data[:3])
		length, isDisconnect := transport.DecodeFrameLength(prefix)
		if isDisconnect {
			c.handleDisconnect(nil)
			return
		}
		body := data[3:]
		if len(body) != length {
			c.handleDisconnect(&ProtocolError{Reason: "frame length prefix does not match body"})
			return
		}

		plaintext, err := c.cipher.Open(body)
		if err != nil {
			c.handleDisconnect(err)
			return
		}
		if gap, delta := c.gap.Observe(c.cipher.ReadCounter()); gap {
			c.warnf("transport read counter jumped by %d, expected 1", delta)
		}

		node, _, err := binary.Decode(plaintext)
		if err != nil {
			c.handleDisconnect(err)
			return
		}
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.NodesReceived.Inc()
		}
		c.digest(ctx, node)
	}
}

// digest dispatches a decoded node by its root description, per spec §4.4.
func (c *Client) digest(ctx context.Context, n binary.Node) {
	switch n.Description {
	case "iq":
		c.digestIQ(ctx, n)
	case "success":
		c.digestSuccess(ctx)
	case "failure":
		c.digestFailure(n)
	case "stream:error":
		c.digestStreamError(n)
	case "xmlstreamend":
		c.handleDisconnect(nil)
	default:
		if id := attrValue(n, "id"); id != "" {
			c.pending.Complete(id, n, nil)
		}
	}
}

// digestIQ dispatches an inbound iq by its first pairing-shaped child,
// driving cfg.Pairing through spec §4.5 steps 3/5-10/11 itself rather than
// forwarding the raw node to a caller that would have to reimplement the
// same protocol. Anything that isn't pairing-shaped falls through to the
// request correlator as a normal reply.
func (c *Client) digestIQ(ctx context.Context, n binary.Node) {
	for _, child := range n.Children {
		switch child.Description {
		case "pair-device":
			c.handlePairDevice(ctx, n, child)
			return
		case "device-identity":
			c.handlePairSuccess(ctx, n, child)
			return
		case "device":
			c.handlePairConfirm(child)
			return
		}
	}
	if id := attrValue(n, "id"); id != "" {
		c.pending.Complete(id, n, nil)
	}
}

// handlePairDevice implements spec §4.5 steps 1-3: record the ref, hand the
// QR text to the listener for rendering, then ack the ref with an iq/result
// carrying the same id.
func (c *Client) handlePairDevice(ctx context.Context, iq, pairDevice binary.Node) {
	if c.cfg.Pairing == nil {
		return
	}
	c.cfg.Pairing.BeginPairDevice(attrValue(pairDevice, "ref"))
	qrText := c.cfg.Pairing.QRText()
	if c.cfg.Listener != nil {
		c.cfg.Listener.OnPairDeviceQR(qrText)
	}

	ack := binary.Node{
		Description: "iq",
		Attrs: []binary.Attr{
			binary.StrAttr("id", attrValue(iq, "id")),
			binary.StrAttr("to", whatsappServer),
			binary.StrAttr("type", "result"),
		},
	}
	if err := c.Send(ctx, ack); err != nil {
		c.warnf("acking pair-device ref: %v", err)
		return
	}
	c.cfg.Pairing.AckRef()
}

// handlePairSuccess implements spec §4.5 steps 5-10: verify the ADV
// envelope and signature chain through cfg.Pairing, then send the
// pair-device-sign response carrying the re-encoded, re-signed identity.
func (c *Client) handlePairSuccess(ctx context.Context, iq, deviceIdentity binary.Node) {
	if c.cfg.Pairing == nil {
		return
	}
	envelope, err := wap.DecodeADVSignedDeviceIdentityHMAC(deviceIdentity.Content)
	if err != nil {
		c.warnf("decoding pair-success device-identity: %v", err)
		return
	}

	signed, err := c.cfg.Pairing.VerifyPairSuccess(pairing.ADVSignedDeviceIdentityHMAC{
		Details: envelope.Details,
		HMAC:    envelope.HMAC,
	}, decodeADVDetails)
	if err != nil {
		c.warnf("pair-success verification failed: %v", err)
		if c.cfg.Listener != nil {
			c.cfg.Listener.OnPairingFailed(err)
		}
		return
	}

	identity := wap.EncodeADVSignedDeviceIdentity(wap.ADVSignedDeviceIdentity{
		Details:             signed.Details2,
		AccountSignatureKey: signed.AccountSignatureKey[:],
		AccountSignature:    signed.AccountSignature,
		DeviceSignature:     signed.DeviceSignature,
	})
	deviceIdentityNode := binary.Node{
		Description: "device-identity",
		Attrs:       []binary.Attr{binary.StrAttr("key-index", fmt.Sprintf("%d", c.cfg.Pairing.PendingKeyIndex()))},
		Content:     identity,
	}
	reply := binary.Node{
		Description: "iq",
		Attrs: []binary.Attr{
			binary.StrAttr("id", attrValue(iq, "id")),
			binary.StrAttr("to", whatsappServer),
			binary.StrAttr("type", "result"),
		},
		HasChildren: true,
		Children: []binary.Node{{
			Description: "pair-device-sign",
			HasChildren: true,
			Children:    []binary.Node{deviceIdentityNode},
		}},
	}
	if err := c.Send(ctx, reply); err != nil {
		c.warnf("sending pair-device-sign: %v", err)
	}
}

// handlePairConfirm implements spec §4.5 step 11: the server's ack of
// pair-device-sign carries the companion's jid. If it also carries a
// key-index attribute, ConfirmPaired rechecks it against the one extracted
// during VerifyPairSuccess (pairing.ErrKeyIndexMismatch); otherwise the
// pending index is trusted as-is, matching the original source's
// pass-through (see pairing.ErrKeyIndexMismatch).
func (c *Client) handlePairConfirm(device binary.Node) {
	if c.cfg.Pairing == nil {
		return
	}
	ackedKeyIndex := c.cfg.Pairing.PendingKeyIndex()
	if attrValue(device, "key-index") != "" {
		ackedKeyIndex = uint32(attrInt(device, "key-index"))
	}
	jid := attrValue(device, "jid")
	if err := c.cfg.Pairing.ConfirmPaired(jid, ackedKeyIndex); err != nil {
		c.warnf("pair confirmation failed: %v", err)
		if c.cfg.Listener != nil {
			c.cfg.Listener.OnPairingFailed(err)
		}
		return
	}
	if c.cfg.Listener != nil {
		c.cfg.Listener.OnPaired(jid)
	}
}

// decodeADVDetails bridges wap's ADV decoder into the shape
// pairing.Machine.VerifyPairSuccess expects.
func decodeADVDetails(details []byte) (pairing.ADVSignedDeviceIdentity, uint32, error) {
	adv, keyIndex, err := wap.DecodeADVSignedDeviceIdentity(details)
	if err != nil {
		return pairing.ADVSignedDeviceIdentity{}, 0, err
	}
	var accountKey [32]byte
	copy(accountKey[:], adv.AccountSignatureKey)
	return pairing.ADVSignedDeviceIdentity{
		Details2:            adv.Details,
		AccountSignatureKey: accountKey,
		AccountSignature:    adv.AccountSignature,
		DeviceSignature:     adv.DeviceSignature,
	}, keyIndex, nil
}

func (c *Client) digestSuccess(ctx context.Context) {
	c.loggedIn.Store(true)
	c.passiveActive.Store(true)
	c.startKeepalive(ctx)
	if c.cfg.Listener != nil {
		c.cfg.Listener.OnLoggedIn()
	}
}

// ShouldUploadPreKeys reports whether this connection still needs its
// pre-key upload, and marks it done. A Listener.OnLoggedIn handler calls
// this once to decide whether to build and send the upload node — the
// session layer only tracks the "has this happened yet on this
// connection" flag, not the node's contents.
func (c *Client) ShouldUploadPreKeys() bool {
	return !c.preKeysSent.Swap(true)
}

func (c *Client) digestFailure(n binary.Node) {
	reason := attrInt(n, "reason")
	err := &LoginFailure{Reason: reason}
	if err.Recoverable() {
		c.logf("login failure reason=%d is recoverable, reconnecting", reason)
	} else {
		c.warnf("login failure reason=%d is fatal", reason)
	}
	c.handleDisconnect(err)
}

func (c *Client) digestStreamError(n binary.Node) {
	code := attrInt(n, "code")
	err := &StreamError{Code: code}
	if err.Recoverable() {
		c.logf("stream error code=%d is recoverable, reconnecting", code)
		c.handleDisconnect(err)
		return
	}
	c.warnf("stream error code=%d is fatal, propagating to pending requests", code)
	for _, child := range n.Children {
		if id := attrValue(child, "id"); id != "" {
			c.pending.Complete(id, binary.Node{}, err)
		}
	}
	c.pending.CompleteAllWithError(err)
}

func (c *Client) startKeepalive(ctx context.Context) {
	keepaliveCtx, cancel := context.WithCancel(ctx)
	c.keepaliveCancel = cancel
	go func() {
		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-keepaliveCtx.Done():
				return
			case <-ticker.C:
				id := c.NextID()
				pingCtx, cancel := context.WithTimeout(keepaliveCtx, keepaliveInterval)
				_, err := c.SendAndWait(pingCtx, binary.Node{
					Description: "iq",
					Attrs: []binary.Attr{
						binary.StrAttr("id", id),
						binary.StrAttr("type", "get"),
						binary.StrAttr("xmlns", "w:p"),
					},
					HasChildren: true,
					Children:    []binary.Node{{Description: "ping"}},
				}, id)
				cancel()
				if err != nil {
					if c.missedKeepAlives.Add(1) >= maxMissedKeepalives {
						c.handleDisconnect(&TransportError{Err: fmt.Errorf("missed %d consecutive keepalives", maxMissedKeepalives)})
						return
					}
					continue
				}
				c.missedKeepAlives.Store(0)
			}
		}
	}()
}

func (c *Client) handleDisconnect(cause error) {
	c.loggedIn.Store(false)
	if c.keepaliveCancel != nil {
		c.keepaliveCancel()
	}
	c.pending.CompleteAllWithError(cause)
	if c.cfg.Listener != nil {
		c.cfg.Listener.OnDisconnect(cause)
	}
}

// Disconnect closes the WebSocket without resetting any other state, per
// spec §4.4's disconnect() (as opposed to Reconnect, which clears
// everything but persisted key material).
func (c *Client) Disconnect(ctx context.Context) error {
	return c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

// Reconnect clears the session's ephemeral state — login flag, keepalive
// scheduler, read counters, handshake — generates a fresh ephemeral key
// pair, and opens a fresh connection, re-running the full Noise handshake.
// The caller's long-lived key
// material (cfg.NoiseStatic etc.) and preKeysSent (spec.md §3: "persisted
// across sessions") are untouched, per spec §4.4: "keep persisted key
// material." Callers invoke this from a Listener.OnDisconnect handler when
// the cause is a recoverable *LoginFailure or *StreamError.
func (c *Client) Reconnect(ctx context.Context) error {
	c.loggedIn.Store(false)
	c.passiveActive.Store(false)
	c.missedKeepAlives.Store(0)
	c.gap = transport.GapDetector{}
	if c.keepaliveCancel != nil {
		c.keepaliveCancel()
	}
	ephemeral, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	c.cfg.Ephemeral = ephemeral
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "reconnecting")
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.Reconnects.Inc()
	}
	return c.Connect(ctx)
}

// LoggedIn reports whether the "success" node has been seen on this
// connection.
func (c *Client) LoggedIn() bool { return c.loggedIn.Load() }

func attrValue(n binary.Node, key string) string {
	for _, a := range n.Attrs {
		if a.Key == key {
			return a.Value()
		}
	}
	return ""
}

func attrInt(n binary.Node, key string) int {
	v := attrValue(n, key)
	out := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return out
		}
		out = out*10 + int(r-'0')
	}
	return out
}
