// Package pairing implements the device-linking state machine: QR text
// generation, ADV signed-device-identity HMAC and signature verification,
// and the re-signed pair-device-sign response. The state-machine shape —
// an explicit enum and a failure state that every failed check drives the
// machine into — follows the same discipline the teacher applies
// to its wire.Session atomic state field, generalized from a handshake's
// linear progression to a branching pair/fail machine.
package pairing

import (
	"encoding/base64"
	"fmt"

	"github.com/at1559/WhatsappWeb4j/crypto"
	"github.com/at1559/WhatsappWeb4j/wametrics"
)

// State is a pairing state-machine state. PAIRED and PAIRING_FAILED are the
// end states of an attempt. The transition methods do not check the
// current state: each sets its target state from whatever state the machine
// is in, so a call made after PAIRED or PAIRING_FAILED moves it out again.
type State int

const (
	UnpairedIdle State = iota
	AwaitingPairDevice
	QRDisplayed
	AwaitingPairSuccess
	Verifying
	Paired
	PairingFailed
)

func (s State) String() string {
	switch s {
	case UnpairedIdle:
		return "UNPAIRED_IDLE"
	case AwaitingPairDevice:
		return "AWAITING_PAIR_DEVICE"
	case QRDisplayed:
		return "QR_DISPLAYED"
	case AwaitingPairSuccess:
		return "AWAITING_PAIR_SUCCESS"
	case Verifying:
		return "VERIFYING"
	case Paired:
		return "PAIRED"
	case PairingFailed:
		return "PAIRING_FAILED"
	default:
		return "UNKNOWN"
	}
}

// IntegrityError marks an HMAC or signature check that failed during
// pairing. It is always fatal — spec §4.5 step 5/7 says a compromised
// pairing must never be retried — and drives the machine straight to
// PairingFailed.
type IntegrityError struct {
	Step string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("pairing: integrity check failed at %s", e.Step)
}

// ErrKeyIndexMismatch is returned when the key index the server
// acknowledges in a later exchange does not match the one this machine
// extracted from details2 during ADV verification (spec.md §9
// supplemented feature; the original source passes this value through
// without a recheck, which this module treats as worth verifying since a
// mismatch here means the two sides disagree about which signed pre-key
// is in effect).
var ErrKeyIndexMismatch = fmt.Errorf("pairing: key index mismatch between ADV details and server ack")

// ADVSignedDeviceIdentityHMAC is the outer envelope delivered in
// iq/pair-success: an HMAC over an opaque details blob.
type ADVSignedDeviceIdentityHMAC struct {
	Details []byte
	HMAC    []byte
}

// ADVSignedDeviceIdentity is the decoded details payload.
type ADVSignedDeviceIdentity struct {
	Details2            []byte // encodes ADVDeviceIdentity, including keyIndex
	AccountSignatureKey [32]byte
	AccountSignature    []byte
	DeviceSignature      []byte
}

// Identity is this device's long-lived keys used throughout pairing.
type Identity struct {
	NoiseStatic *crypto.KeyPair
	IdentityKey *crypto.KeyPair
}

// Machine drives one pairing attempt from UNPAIRED_IDLE to PAIRED or
// PairingFailed. It holds no network connection; session.Client feeds it
// inbound nodes and relays the nodes it needs to send.
type Machine struct {
	state        State
	identity     Identity
	companionKey []byte // shared secret printed into the QR and used for the HMAC check
	ref          string
	keyIndex     uint32
	companionJID string
	metrics      *wametrics.Metrics

	preKeyLowCount bool
}

// NewMachine starts a pairing attempt in UNPAIRED_IDLE. metrics may be nil,
// in which case the machine simply doesn't record anything.
func NewMachine(identity Identity, companionKey []byte, metrics *wametrics.Metrics) *Machine {
	return &Machine{state: UnpairedIdle, identity: identity, companionKey: companionKey, metrics: metrics}
}

// fail transitions the machine to PairingFailed, counts it, and returns the
// IntegrityError callers should propagate.
func (m *Machine) fail(step string) *IntegrityError {
	m.state = PairingFailed
	if m.metrics != nil {
		m.metrics.PairingFailures.Inc()
	}
	return &IntegrityError{Step: step}
}

func (m *Machine) State() State { return m.state }

// PendingKeyIndex returns the keyIndex VerifyPairSuccess extracted from the
// ADV details. Only meaningful once State() has reached Verifying or later.
func (m *Machine) PendingKeyIndex() uint32 { return m.keyIndex }

// CompanionJID returns the paired device's JID once State() == Paired.
func (m *Machine) CompanionJID() string { return m.companionJID }

// BeginPairDevice records the server-issued ref and transitions to
// AWAITING_PAIR_DEVICE; QRText then moves the machine to QR_DISPLAYED.
// Step 1-2 of spec §4.5.
func (m *Machine) BeginPairDevice(ref string) {
	m.state = AwaitingPairDevice
	m.ref = ref
	if m.metrics != nil {
		m.metrics.PairingAttempts.Inc()
	}
}

// QRText builds the pairing QR payload: the ref as received, then the
// base64 of the noise static pub, identity pub, and companion key, all
// comma-joined (spec §4.5 step
// 2). Rendering the text to a scannable matrix is out of scope here; the
// core only ever produces this string.
func (m *Machine) QRText() string {
	parts := []string{
		m.ref,
		base64.StdEncoding.EncodeToString(m.identity.NoiseStatic.Pub[:]),
		base64.StdEncoding.EncodeToString(m.identity.IdentityKey.Pub[:]),
		base64.StdEncoding.EncodeToString(m.companionKey),
	}
	m.state = QRDisplayed
	return joinComma(parts)
}

func joinComma(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "," + p
	}
	return out
}

// AckRef transitions to AWAITING_PAIR_SUCCESS after the caller has sent
// the iq/result acknowledging the ref (spec §4.5 step 3).
func (m *Machine) AckRef() {
	m.state = AwaitingPairSuccess
}

// VerifyPairSuccess implements spec §4.5 steps 5-9: checks the outer HMAC,
// decodes the inner ADV identity, verifies the account signature, computes
// this device's own device signature, and extracts keyIndex. It returns
// the signed identity (with DeviceSignature now populated) ready to be
// re-encoded into the pair-device-sign response. A failed HMAC, decode or
// account-signature check returns an *IntegrityError; a failure while
// producing the device signature returns the underlying error. Either way
// the machine moves to PairingFailed.
func (m *Machine) VerifyPairSuccess(env ADVSignedDeviceIdentityHMAC, decodeDetails func([]byte) (ADVSignedDeviceIdentity, uint32, error)) (ADVSignedDeviceIdentity, error) {
	m.state = Verifying

	expectedHMAC := crypto.HMACSHA256(m.companionKey, env.Details)
	if !crypto.EqualHMAC(expectedHMAC, env.HMAC) {
		return ADVSignedDeviceIdentity{}, m.fail("adv-hmac")
	}

	adv, keyIndex, err := decodeDetails(env.Details)
	if err != nil {
		return ADVSignedDeviceIdentity{}, m.fail("adv-decode")
	}

	accountMsg := make([]byte, 0, 2+len(adv.Details2)+len(m.identity.IdentityKey.Pub))
	accountMsg = append(accountMsg, 0x06, 0x00)
	accountMsg = append(accountMsg, adv.Details2...)
	accountMsg = append(accountMsg, m.identity.IdentityKey.Pub[:]...)

	ok, err := crypto.VerifyCurve25519(adv.AccountSignatureKey, accountMsg, adv.AccountSignature)
	if err != nil || !ok {
		return ADVSignedDeviceIdentity{}, m.fail("account-signature")
	}

	deviceMsg := make([]byte, 0, 2+len(adv.Details2)+len(m.identity.IdentityKey.Pub)+len(adv.AccountSignature))
	deviceMsg = append(deviceMsg, 0x06, 0x01)
	deviceMsg = append(deviceMsg, adv.Details2...)
	deviceMsg = append(deviceMsg, m.identity.IdentityKey.Pub[:]...)
	deviceMsg = append(deviceMsg, adv.AccountSignature...)

	random, err := crypto.NewSignRandom(crypto.Reader)
	if err != nil {
		m.fail("device-signature")
		return ADVSignedDeviceIdentity{}, err
	}
	deviceSig, err := crypto.SignCurve25519(m.identity.IdentityKey.Priv, deviceMsg, random)
	if err != nil {
		m.fail("device-signature")
		return ADVSignedDeviceIdentity{}, err
	}

	adv.DeviceSignature = deviceSig
	adv.AccountSignature = nil // cleared per spec §4.5 step 10
	m.keyIndex = keyIndex
	return adv, nil
}

// ConfirmPaired finalizes the machine once the server has acknowledged
// pair-device-sign, carrying the companion JID and the key index the
// server echoes back. A mismatch against the key index extracted in
// VerifyPairSuccess is treated as fatal rather than silently trusted,
// per the ErrKeyIndexMismatch supplemented check.
func (m *Machine) ConfirmPaired(companionJID string, ackedKeyIndex uint32) error {
	if ackedKeyIndex != m.keyIndex {
		m.fail("key-index-mismatch")
		return ErrKeyIndexMismatch
	}
	m.companionJID = companionJID
	m.state = Paired
	return nil
}

// HandlePreKeyCountNotice records a server-reported remaining pre-key
// count and reports whether it has dropped at or below the low-count
// threshold the supplemented replenishment feature uses to decide whether
// to upload a fresh batch (spec.md §9 supplemented feature: threshold 5).
func (m *Machine) HandlePreKeyCountNotice(count int) bool {
	m.preKeyLowCount = count <= 5
	return m.preKeyLowCount
}

// PreKeysLow reports the last value HandlePreKeyCountNotice computed.
func (m *Machine) PreKeysLow() bool { return m.preKeyLowCount }
