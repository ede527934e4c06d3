// Package identity fetches this agent's identity from the backend's
// REST surface. The multiplexed connection carries no identity
// handshake, so the engine asks here before requesting directories.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opsdesk/chatd/internal/chat"
)

const requestTimeout = 10 * time.Second

// Client calls the backend REST API.
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

// Me returns the authenticated agent's identity.
func (c *Client) Me(ctx context.Context) (chat.Participant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/me", nil)
	if err != nil {
		return chat.Participant{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return chat.Participant{}, fmt.Errorf("identity request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return chat.Participant{}, fmt.Errorf("identity request: status %d", resp.StatusCode)
	}

	var body struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return chat.Participant{}, fmt.Errorf("identity response: %w", err)
	}
	if body.ID == "" {
		return chat.Participant{}, fmt.Errorf("identity response: missing id")
	}
	return chat.Participant{ID: body.ID, Name: body.Name}, nil
}
