// Package upload sends file messages through the backend's multipart
// endpoint. Files travel out of band; the resulting message arrives on
// the multiplexed connection as a regular push event.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/opsdesk/chatd/internal/chat"
)

const requestTimeout = 2 * time.Minute

// Client posts multipart upload requests.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given API base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// Send uploads one file. The conversation and author references travel
// as JSON parts alongside the file body.
func (c *Client) Send(ctx context.Context, req chat.UploadRequest) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	chatRef, err := json.Marshal(map[string]string{"id": req.ChatID})
	if err != nil {
		return err
	}
	if err := w.WriteField("chat", string(chatRef)); err != nil {
		return err
	}

	authorRef, err := json.Marshal(map[string]string{"id": req.Author.ID, "name": req.Author.Name})
	if err != nil {
		return err
	}
	if err := w.WriteField("author", string(authorRef)); err != nil {
		return err
	}

	if req.Caption != "" {
		if err := w.WriteField("caption", req.Caption); err != nil {
			return err
		}
	}

	part, err := w.CreateFormFile("file", req.FileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, req.Content); err != nil {
		return fmt.Errorf("read file %s: %w", req.FileName, err)
	}
	if err := w.Close(); err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("upload request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload request: status %d", resp.StatusCode)
	}
	return nil
}
