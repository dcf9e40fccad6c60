package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/at1559/WhatsappWeb4j/wametrics"
)

// UploadResponse is the JSON body the media CDN returns on a successful
// upload: a fetch URL and a relative path the server can reference later.
type UploadResponse struct {
	URL        string `json:"url"`
	DirectPath string `json:"direct_path"`
}

// uploadToken is base64url (no padding) of SHA-256(encryptedBlob), used as
// both the URL path element and the `token` query parameter.
func uploadToken(encryptedBlob []byte) string {
	sum := sha256.Sum256(encryptedBlob)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Upload POSTs an already-encrypted blob to baseURL per spec §6:
// `{baseURL}/{token}?auth={mediaConnAuth}&token={token}`. metrics may be
// nil; when set, every failure after the request is built (send error,
// any status other than 200, undecodable response) increments
// MediaUploadErrors.
func Upload(ctx context.Context, client *http.Client, baseURL, mediaConnAuth string, encryptedBlob []byte, metrics *wametrics.Metrics) (*UploadResponse, error) {
	token := uploadToken(encryptedBlob)
	url := fmt.Sprintf("%s/%s?auth=%s&token=%s", baseURL, token, mediaConnAuth, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encryptedBlob))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		if metrics != nil {
			metrics.MediaUploadErrors.Inc()
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if metrics != nil {
			metrics.MediaUploadErrors.Inc()
		}
		return nil, fmt.Errorf("media: upload failed with status %s", resp.Status)
	}

	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if metrics != nil {
			metrics.MediaUploadErrors.Inc()
		}
		return nil, fmt.Errorf("media: decoding upload response: %w", err)
	}
	return &out, nil
}

// Download fetches the encrypted blob at url and returns it unmodified;
// the caller is responsible for passing the bytes to Decrypt.
func Download(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media: download failed with status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
