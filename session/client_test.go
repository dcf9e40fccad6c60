package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/at1559/WhatsappWeb4j/binary"
	"github.com/at1559/WhatsappWeb4j/crypto"
	"github.com/at1559/WhatsappWeb4j/pairing"
	"github.com/at1559/WhatsappWeb4j/wap"
)

// fakeListener records the pairing-outcome callbacks digestIQ drives, so
// tests can assert on them without a real WebSocket underneath.
type fakeListener struct {
	paired       string
	pairedCalled bool
	failErr      error
}

func (f *fakeListener) OnLoggedIn()            {}
func (f *fakeListener) OnDisconnect(err error) {}
func (f *fakeListener) OnPairDeviceQR(string)   {}
func (f *fakeListener) OnPaired(jid string) {
	f.paired = jid
	f.pairedCalled = true
}
func (f *fakeListener) OnPairingFailed(err error) { f.failErr = err }

func newTestIdentity(t *testing.T) pairing.Identity {
	noise, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	ident, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return pairing.Identity{NoiseStatic: noise, IdentityKey: ident}
}

func TestAttrValueAndAttrInt(t *testing.T) {
	n := binary.Node{
		Description: "failure",
		Attrs: []binary.Attr{
			binary.StrAttr("reason", "401"),
			binary.StrAttr("extra", "not-numeric"),
		},
	}
	require.Equal(t, "401", attrValue(n, "reason"))
	require.Equal(t, 401, attrInt(n, "reason"))
	require.Equal(t, 0, attrInt(n, "extra"))
	require.Equal(t, "", attrValue(n, "missing"))
}

func TestNextIDIsUniqueAndLowercaseHex(t *testing.T) {
	c := NewClient(Config{})
	a := c.NextID()
	b := c.NextID()
	require.NotEqual(t, a, b)
	for _, r := range a {
		isHexOrDash := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || r == '-'
		require.True(t, isHexOrDash, "unexpected character %q in id %q", r, a)
	}
}

func TestLoginFailureRecoverable(t *testing.T) {
	require.True(t, (&LoginFailure{Reason: 401}).Recoverable())
	require.False(t, (&LoginFailure{Reason: 500}).Recoverable())
}

func TestStreamErrorRecoverable(t *testing.T) {
	require.True(t, (&StreamError{Code: 515}).Recoverable())
	require.False(t, (&StreamError{Code: 409}).Recoverable())
}

func TestShouldUploadPreKeysOnlyOnce(t *testing.T) {
	c := NewClient(Config{})
	require.True(t, c.ShouldUploadPreKeys())
	require.False(t, c.ShouldUploadPreKeys())
}

func TestDigestStreamErrorPropagatesToPending(t *testing.T) {
	c := NewClient(Config{})
	require.NoError(t, c.pending.Register("req-1"))

	waitErr := make(chan error, 1)
	go func() {
		_, err := c.pending.Wait(context.Background(), "req-1")
		waitErr <- err
	}()

	n := binary.Node{
		Description: "stream:error",
		Attrs:       []binary.Attr{binary.StrAttr("code", "409")},
		HasChildren: true,
		Children: []binary.Node{
			{Description: "conflict", Attrs: []binary.Attr{binary.StrAttr("id", "req-1")}},
		},
	}
	c.digestStreamError(n)

	err := <-waitErr
	require.Error(t, err)
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	require.Equal(t, 409, streamErr.Code)
}

func TestHandlePairConfirmMatchingKeyIndexPairs(t *testing.T) {
	identity := newTestIdentity(t)
	machine := pairing.NewMachine(identity, []byte("companion-key"), nil)
	listener := &fakeListener{}
	c := NewClient(Config{Pairing: machine, Listener: listener})

	device := binary.Node{
		Description: "device",
		Attrs:       []binary.Attr{binary.StrAttr("jid", "15551234567.0:1@s.whatsapp.net")},
	}
	c.handlePairConfirm(device)

	require.True(t, listener.pairedCalled)
	require.Equal(t, "15551234567.0:1@s.whatsapp.net", listener.paired)
	require.Equal(t, pairing.Paired, machine.State())
}

func TestHandlePairConfirmMismatchedKeyIndexFails(t *testing.T) {
	identity := newTestIdentity(t)
	machine := pairing.NewMachine(identity, []byte("companion-key"), nil)
	listener := &fakeListener{}
	c := NewClient(Config{Pairing: machine, Listener: listener})

	device := binary.Node{
		Description: "device",
		Attrs: []binary.Attr{
			binary.StrAttr("jid", "15551234567.0:1@s.whatsapp.net"),
			binary.StrAttr("key-index", "5"),
		},
	}
	c.handlePairConfirm(device)

	require.False(t, listener.pairedCalled)
	require.Error(t, listener.failErr)
	require.ErrorIs(t, listener.failErr, pairing.ErrKeyIndexMismatch)
	require.Equal(t, pairing.PairingFailed, machine.State())
}

func TestDigestIQIgnoresPairingNodesWithoutConfiguredMachine(t *testing.T) {
	c := NewClient(Config{})
	n := binary.Node{
		Description: "iq",
		Attrs:       []binary.Attr{binary.StrAttr("id", "req-1")},
		HasChildren: true,
		Children: []binary.Node{
			{Description: "device", Attrs: []binary.Attr{binary.StrAttr("jid", "x@s.whatsapp.net")}},
		},
	}
	require.NotPanics(t, func() { c.digestIQ(context.Background(), n) })
}

func TestDecodeADVDetailsTranslatesToPairingShape(t *testing.T) {
	details2 := []byte{0x18, 0x07} // field 3 (key-index), varint value 7
	identityBytes := wap.EncodeADVSignedDeviceIdentity(wap.ADVSignedDeviceIdentity{
		Details:             details2,
		AccountSignatureKey: []byte("account-signature-key-32-bytes!"),
		AccountSignature:    []byte("account-sig"),
		DeviceSignature:     []byte("device-sig"),
	})

	adv, keyIndex, err := decodeADVDetails(identityBytes)
	require.NoError(t, err)
	require.Equal(t, uint32(7), keyIndex)
	require.Equal(t, details2, adv.Details2)
	var wantKey [32]byte
	copy(wantKey[:], []byte("account-signature-key-32-bytes!"))
	require.Equal(t, wantKey, adv.AccountSignatureKey)
	require.Equal(t, []byte("account-sig"), adv.AccountSignature)
	require.Equal(t, []byte("device-sig"), adv.DeviceSignature)
}
