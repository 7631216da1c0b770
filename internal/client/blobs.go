package client

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"
)

type uploadResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// BlobStore は画像アップロードAPIをmapstate.BlobStoreとして提供する。
type BlobStore struct {
	client *Client
}

// NewBlobStore はBlobStoreを生成する。
func NewBlobStore(c *Client) *BlobStore {
	return &BlobStore{client: c}
}

// Upload はPOST /api/uploadsにkeyとファイルをmultipartで送信する。
func (b *BlobStore) Upload(ctx context.Context, key, contentType string, data []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("key", key); err != nil {
		return fmt.Errorf("failed to write form field: %w", err)
	}

	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, path.Base(key)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.client.endpoint("/api/uploads", nil), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var resp uploadResponse
	if err := b.client.send(req, &resp); err != nil {
		return err
	}
	if resp.Key != "" && resp.Key != key {
		return fmt.Errorf("server stored the image under an unexpected key %q", resp.Key)
	}
	return nil
}

// RetrievalURL はGET /api/uploads/urlでkeyの公開URLを取得する。
func (b *BlobStore) RetrievalURL(ctx context.Context, key string) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	q := url.Values{}
	q.Set("key", key)
	if err := b.client.doJSON(ctx, http.MethodGet, "/api/uploads/url", q, nil, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.URL) == "" {
		return "", fmt.Errorf("server returned an empty URL for %q", key)
	}
	return resp.URL, nil
}
