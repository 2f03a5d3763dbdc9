package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
)

// ErrUploadNotConfigured is returned when no ImageKit public key is set.
var ErrUploadNotConfigured = errors.New("image upload is not configured")

type uploadResponse struct {
	URL    string `json:"url"`
	FileID string `json:"fileId"`
}

// UploadImage uploads r to ImageKit under fileName and returns the file URL.
func (c *Client) UploadImage(ctx context.Context, fileName string, r io.Reader) (string, error) {
	if c.imagekit.PublicKey == "" {
		return "", ErrUploadNotConfigured
	}
	auth, err := c.ImageKitAuth(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch upload signature: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"fileName":          fileName,
		"publicKey":         c.imagekit.PublicKey,
		"token":             auth.Token,
		"expire":            strconv.FormatInt(auth.Expire, 10),
		"signature":         auth.Signature,
		"useUniqueFileName": "true",
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return "", fmt.Errorf("copy file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.imagekit.UploadURL, &buf)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.sendWith(c.uploadHTTP, req)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.URL == "" {
		return "", errors.New("upload response has no url")
	}
	return out.URL, nil
}
