package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/jddlt/sora2api/internal/models"
)

// UploadMedia uploads a media file as multipart form data and returns the
// opaque asset the service assigned to it.
func (c *Client) UploadMedia(ctx context.Context, account string, kind models.MediaKind, filename string, media io.Reader) (models.UploadAsset, error) {
	if filename == "" {
		return models.UploadAsset{}, fmt.Errorf("upload media: %w", errEmptyIdentifier)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("media_kind", string(kind)); err != nil {
		return models.UploadAsset{}, fmt.Errorf("write media kind field: %w", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return models.UploadAsset{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, media); err != nil {
		return models.UploadAsset{}, fmt.Errorf("copy media into form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return models.UploadAsset{}, fmt.Errorf("finalize form: %w", err)
	}

	payload, err := c.do(ctx, account, http.MethodPost, "/uploads", body.Bytes(), callOptions{
		contentType: writer.FormDataContentType(),
	})
	if err != nil {
		return models.UploadAsset{}, err
	}

	var decoded struct {
		ID      string `json:"id"`
		Pointer string `json:"url"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return models.UploadAsset{}, fmt.Errorf("decode upload response: %w", err)
	}
	if decoded.ID == "" {
		return models.UploadAsset{}, fmt.Errorf("upload response missing asset id")
	}

	return models.UploadAsset{ID: decoded.ID, Kind: kind, Pointer: decoded.Pointer}, nil
}

// FetchPointer downloads media from an opaque storage pointer. Pointers are
// served from a CDN and need no bearer token; the caller must close the
// returned reader.
func (c *Client) FetchPointer(ctx context.Context, pointer string) (io.ReadCloser, error) {
	if pointer == "" {
		return nil, fmt.Errorf("fetch pointer: %w", errEmptyIdentifier)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pointer, nil)
	if err != nil {
		return nil, fmt.Errorf("build pointer request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch pointer: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &Error{Status: resp.StatusCode, Message: "pointer fetch failed"}
	}

	return resp.Body, nil
}
