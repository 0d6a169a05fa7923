// Package ocr talks to the external text-detection service and turns the
// detected text of a medication label into a suggested medication entry.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

var (
	// ErrNotConfigured is returned when no service URL is set.
	ErrNotConfigured = errors.New("ocr service not configured")
	// ErrUpstream wraps any failure reported by the OCR service.
	ErrUpstream = errors.New("ocr service error")
)

// TextDetector extracts the full text of an image.
type TextDetector interface {
	DetectText(ctx context.Context, img Image) (string, error)
}

// Image is an uploaded picture forwarded to the detector.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Client calls POST {baseURL}/detect-text with the image as the multipart
// field "image". The service answers {"text": "...", "error": "..."}.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type detectResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// maxResponseBytes bounds how much of the service response is read.
const maxResponseBytes = 4 << 20

func (c *Client) DetectText(ctx context.Context, img Image) (string, error) {
	if c.baseURL == "" {
		return "", ErrNotConfigured
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filenameOrDefault(img.Filename)))
	contentType := img.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return "", fmt.Errorf("write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect-text", body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}

	var out detectResponse
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && out.Error != "" {
			msg = out.Error
		}
		return "", fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUpstream, decodeErr)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrUpstream, out.Error)
	}
	return out.Text, nil
}

func filenameOrDefault(name string) string {
	if name == "" {
		return "label.jpg"
	}
	return name
}
