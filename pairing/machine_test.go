package pairing

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/at1559/WhatsappWeb4j/crypto"
	"github.com/at1559/WhatsappWeb4j/wametrics"
)

func newTestIdentity(t *testing.T) Identity {
	noise, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	ident, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return Identity{NoiseStatic: noise, IdentityKey: ident}
}

func TestQRTextShapeAndTransition(t *testing.T) {
	identity := newTestIdentity(t)
	m := NewMachine(identity, []byte("companion-key-bytes-0123456789ab"), nil)
	m.BeginPairDevice("ref-token-xyz")
	require.Equal(t, AwaitingPairDevice, m.State())

	qr := m.QRText()
	require.Equal(t, QRDisplayed, m.State())
	parts := strings.Split(qr, ",")
	require.Len(t, parts, 4)
	require.Equal(t, "ref-token-xyz", parts[0])
}

func TestVerifyPairSuccessFullFlow(t *testing.T) {
	identity := newTestIdentity(t)
	companionKey := []byte("companion-key-bytes-0123456789ab")
	m := NewMachine(identity, companionKey, nil)
	m.BeginPairDevice("ref")
	m.QRText()
	m.AckRef()
	require.Equal(t, AwaitingPairSuccess, m.State())

	accountKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	details2 := []byte("adv-device-identity-details2-with-key-index")
	accountMsg := append([]byte{0x06, 0x00}, details2...)
	accountMsg = append(accountMsg, identity.IdentityKey.Pub[:]...)
	random, err := crypto.NewSignRandom(crypto.Reader)
	require.NoError(t, err)
	accountSig, err := crypto.SignCurve25519(accountKey.Priv, accountMsg, random)
	require.NoError(t, err)

	adv := ADVSignedDeviceIdentity{
		Details2:            details2,
		AccountSignatureKey: accountKey.Pub,
		AccountSignature:    accountSig,
	}
	detailsBytes := []byte("encoded-adv-signed-device-identity")
	hmac := crypto.HMACSHA256(companionKey, detailsBytes)
	env := ADVSignedDeviceIdentityHMAC{Details: detailsBytes, HMAC: hmac}

	decode := func(b []byte) (ADVSignedDeviceIdentity, uint32, error) {
		require.Equal(t, detailsBytes, b)
		return adv, 3, nil
	}

	result, err := m.VerifyPairSuccess(env, decode)
	require.NoError(t, err)
	require.Equal(t, Verifying, m.State())
	require.Nil(t, result.AccountSignature)
	require.NotEmpty(t, result.DeviceSignature)

	err = m.ConfirmPaired("15551234567.0:1@s.whatsapp.net", 3)
	require.NoError(t, err)
	require.Equal(t, Paired, m.State())
	require.Equal(t, "15551234567.0:1@s.whatsapp.net", m.CompanionJID())
}

func TestVerifyPairSuccessRejectsBadHMAC(t *testing.T) {
	identity := newTestIdentity(t)
	m := NewMachine(identity, []byte("companion-key"), nil)

	env := ADVSignedDeviceIdentityHMAC{Details: []byte("details"), HMAC: []byte("wrong-hmac-bytes")}
	_, err := m.VerifyPairSuccess(env, func(b []byte) (ADVSignedDeviceIdentity, uint32, error) {
		t.Fatal("decodeDetails must not be called when the HMAC check fails")
		return ADVSignedDeviceIdentity{}, 0, nil
	})
	require.Error(t, err)
	var integErr *IntegrityError
	require.ErrorAs(t, err, &integErr)
	require.Equal(t, PairingFailed, m.State())
}

func TestConfirmPairedRejectsKeyIndexMismatch(t *testing.T) {
	identity := newTestIdentity(t)
	m := NewMachine(identity, []byte("companion-key"), nil)
	m.keyIndex = 2

	err := m.ConfirmPaired("jid@s.whatsapp.net", 9)
	require.ErrorIs(t, err, ErrKeyIndexMismatch)
	require.Equal(t, PairingFailed, m.State())
}

func TestMetricsWiring(t *testing.T) {
	identity := newTestIdentity(t)
	metrics := wametrics.New()
	m := NewMachine(identity, []byte("companion-key"), metrics)

	m.BeginPairDevice("ref")
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.PairingAttempts))

	env := ADVSignedDeviceIdentityHMAC{Details: []byte("details"), HMAC: []byte("wrong-hmac-bytes")}
	_, err := m.VerifyPairSuccess(env, func(b []byte) (ADVSignedDeviceIdentity, uint32, error) {
		t.Fatal("decodeDetails must not be called when the HMAC check fails")
		return ADVSignedDeviceIdentity{}, 0, nil
	})
	require.Error(t, err)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.PairingFailures))
}

func TestHandlePreKeyCountNoticeThreshold(t *testing.T) {
	identity := newTestIdentity(t)
	m := NewMachine(identity, []byte("companion-key"), nil)

	require.False(t, m.HandlePreKeyCountNotice(20))
	require.False(t, m.PreKeysLow())
	require.True(t, m.HandlePreKeyCountNotice(5))
	require.True(t, m.PreKeysLow())
	require.True(t, m.HandlePreKeyCountNotice(0))
}
