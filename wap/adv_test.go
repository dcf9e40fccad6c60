package wap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeADVSignedDeviceIdentityHMAC(t *testing.T) {
	w := &protoWriter{}
	w.BytesField(advHMACFieldDetails, []byte("the-details-blob"))
	w.BytesField(advHMACFieldHMAC, []byte("the-hmac-bytes"))

	env, err := DecodeADVSignedDeviceIdentityHMAC(w.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("the-details-blob"), env.Details)
	require.Equal(t, []byte("the-hmac-bytes"), env.HMAC)
}

func encodeTestDeviceIdentity(keyIndex uint32) []byte {
	w := &protoWriter{}
	w.Uint32Field(advDeviceIdentityFieldKeyIndex, keyIndex)
	return w.Bytes()
}

func TestDecodeADVSignedDeviceIdentityExtractsKeyIndex(t *testing.T) {
	details2 := encodeTestDeviceIdentity(7)

	w := &protoWriter{}
	w.BytesField(advIdentityFieldDetails, details2)
	w.BytesField(advIdentityFieldAccountSignatureKey, []byte("account-signature-key-32-bytes!"))
	w.BytesField(advIdentityFieldAccountSignature, []byte("account-signature"))

	adv, keyIndex, err := DecodeADVSignedDeviceIdentity(w.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint32(7), keyIndex)
	require.Equal(t, details2, adv.Details)
	require.Equal(t, []byte("account-signature-key-32-bytes!"), adv.AccountSignatureKey)
	require.Equal(t, []byte("account-signature"), adv.AccountSignature)
	require.Nil(t, adv.DeviceSignature)
}

func TestEncodeADVSignedDeviceIdentityRoundTrips(t *testing.T) {
	details2 := encodeTestDeviceIdentity(3)
	adv := ADVSignedDeviceIdentity{
		Details:             details2,
		AccountSignatureKey: []byte("account-signature-key-32-bytes!"),
		AccountSignature:    nil, // cleared per spec §4.5 step 10
		DeviceSignature:     []byte("freshly-computed-device-signature"),
	}
	encoded := EncodeADVSignedDeviceIdentity(adv)

	decoded, keyIndex, err := DecodeADVSignedDeviceIdentity(encoded)
	require.NoError(t, err)
	require.Equal(t, uint32(3), keyIndex)
	require.Equal(t, adv.Details, decoded.Details)
	require.Equal(t, adv.AccountSignatureKey, decoded.AccountSignatureKey)
	require.Nil(t, decoded.AccountSignature)
	require.Equal(t, adv.DeviceSignature, decoded.DeviceSignature)
}
