package media

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/at1559/WhatsappWeb4j/crypto"
	"github.com/at1559/WhatsappWeb4j/wametrics"
)

func randomMediaKey(t *testing.T) [32]byte {
	var key [32]byte
	_, err := crypto.Reader.Read(key[:])
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := randomMediaKey(t)
	keys, err := DeriveKeys(key, Image)
	require.NoError(t, err)

	plaintext := []byte("this is a JPEG-shaped blob of plaintext bytes, padded or not")
	blob, err := Encrypt(keys, plaintext)
	require.NoError(t, err)

	decrypted, err := Decrypt(keys, blob)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestDecryptRejectsTamperedMAC(t *testing.T) {
	key := randomMediaKey(t)
	keys, err := DeriveKeys(key, Video)
	require.NoError(t, err)

	blob, err := Encrypt(keys, []byte("video bytes"))
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xFF

	_, err = Decrypt(keys, blob)
	require.Error(t, err)
	var integErr *IntegrityError
	require.ErrorAs(t, err, &integErr)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	key := randomMediaKey(t)
	keys, err := DeriveKeys(key, Document)
	require.NoError(t, err)

	blob, err := Encrypt(keys, []byte("a reasonably long document payload body"))
	require.NoError(t, err)
	blob[0] ^= 0xFF

	_, err = Decrypt(keys, blob)
	require.Error(t, err)
}

func TestDeriveKeysDeterministic(t *testing.T) {
	key := randomMediaKey(t)
	k1, err := DeriveKeys(key, Audio)
	require.NoError(t, err)
	k2, err := DeriveKeys(key, Audio)
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}

func TestDeriveKeysDiffersByType(t *testing.T) {
	key := randomMediaKey(t)
	kImg, err := DeriveKeys(key, Image)
	require.NoError(t, err)
	kVid, err := DeriveKeys(key, Video)
	require.NoError(t, err)
	require.NotEqual(t, kImg.CipherKey, kVid.CipherKey)
}

func TestSidecarBlockCount(t *testing.T) {
	key := randomMediaKey(t)
	keys, err := DeriveKeys(key, Video)
	require.NoError(t, err)

	plaintext := make([]byte, 80*3+17)
	sidecar := Sidecar(keys, plaintext)
	require.Len(t, sidecar, 4*macTagLen)
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			buf, _ := io.ReadAll(r.Body)
			received = buf
			_ = json.NewEncoder(w).Encode(UploadResponse{URL: "https://cdn.example/blob", DirectPath: "/blob"})
		case http.MethodGet:
			_, _ = w.Write(received)
		}
	}))
	defer srv.Close()

	key := randomMediaKey(t)
	keys, err := DeriveKeys(key, Image)
	require.NoError(t, err)
	blob, err := Encrypt(keys, []byte("uploaded media body"))
	require.NoError(t, err)

	resp, err := Upload(context.Background(), srv.Client(), srv.URL, "auth-token", blob, nil)
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example/blob", resp.URL)

	downloaded, err := Download(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, blob, downloaded)
}

func TestUploadFailureIncrementsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	metrics := wametrics.New()
	_, err := Upload(context.Background(), srv.Client(), srv.URL, "auth-token", []byte("blob"), metrics)
	require.Error(t, err)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.MediaUploadErrors))
}
