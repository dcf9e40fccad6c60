package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func keys(t *testing.T) (writeKey, readKey [32]byte) {
	for i := range writeKey {
		writeKey[i] = byte(i)
		readKey[i] = byte(255 - i)
	}
	return
}

func TestSealOpenRoundTrip(t *testing.T) {
	wk, rk := keys(t)
	client, err := NewCipher(wk, rk)
	require.NoError(t, err)
	server, err := NewCipher(rk, wk)
	require.NoError(t, err)

	msg := []byte("pair-device iq stanza bytes")
	sealed := client.Seal(msg)
	opened, err := server.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, msg, opened)
}

func TestCounterMonotonicityAcrossFrames(t *testing.T) {
	wk, rk := keys(t)
	client, err := NewCipher(wk, rk)
	require.NoError(t, err)
	server, err := NewCipher(rk, wk)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		sealed := client.Seal([]byte("frame"))
		_, err := server.Open(sealed)
		require.NoError(t, err)
	}
	require.Equal(t, uint64(5), server.ReadCounter())
}

func TestOpenFailsOnTamperedCiphertext(t *testing.T) {
	wk, rk := keys(t)
	client, err := NewCipher(wk, rk)
	require.NoError(t, err)
	server, err := NewCipher(rk, wk)
	require.NoError(t, err)

	sealed := client.Seal([]byte("frame"))
	sealed[0] ^= 0xFF

	_, err = server.Open(sealed)
	require.Error(t, err)
	var decErr *DecryptError
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, uint64(0), server.ReadCounter())
}

func TestOpenFailureDoesNotAdvanceCounter(t *testing.T) {
	wk, rk := keys(t)
	client, err := NewCipher(wk, rk)
	require.NoError(t, err)
	server, err := NewCipher(rk, wk)
	require.NoError(t, err)

	good := client.Seal([]byte("first"))
	_, err = server.Open(good)
	require.NoError(t, err)

	bad := client.Seal([]byte("second"))
	bad[len(bad)-1] ^= 0x01
	_, err = server.Open(bad)
	require.Error(t, err)
	require.Equal(t, uint64(1), server.ReadCounter())
}

func TestEncodeDecodeFrameLength(t *testing.T) {
	ciphertext := make([]byte, 100)
	frame, err := EncodeFrame(ciphertext)
	require.NoError(t, err)
	require.Len(t, frame, 103)

	var prefix [3]byte
	copy(prefix[:], frame[:3])
	length, isDisconnect := DecodeFrameLength(prefix)
	require.False(t, isDisconnect)
	require.Equal(t, 100, length)
}

func TestDecodeFrameLengthRecognizesMagicDisconnect(t *testing.T) {
	var prefix [3]byte
	magic := MagicDisconnect
	prefix[0] = byte(magic >> 16)
	prefix[1] = byte(magic >> 8)
	prefix[2] = byte(magic)
	_, isDisconnect := DecodeFrameLength(prefix)
	require.True(t, isDisconnect)
}

func TestGapDetector(t *testing.T) {
	var g GapDetector
	gap, _ := g.Observe(0)
	require.False(t, gap)
	gap, _ = g.Observe(1)
	require.False(t, gap)
	gap, delta := g.Observe(3)
	require.True(t, gap)
	require.Equal(t, uint64(2), delta)
}
