// Package backend talks to the relay's collaborators: the credential
// authority and the metadata store, both exposed by the backend API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/telestore/relay/internal/remote"
)

// ErrUnauthorized reports a rejected or expired download token
var ErrUnauthorized = fmt.Errorf("download token rejected")

// Client calls the backend over HTTP
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a backend client
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// FetchCredentials asks the credential authority for the remote-store
// credentials of the user behind authToken
func (c *Client) FetchCredentials(ctx context.Context, authToken string) (*remote.Credentials, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/worker/credentials", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build credentials request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("credentials request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("credentials request returned status %d", resp.StatusCode)
	}

	var creds remote.Credentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return &creds, nil
}

// VerifyDownloadToken exchanges a previously-issued download token for
// the credentials needed to read the object. A non-200 answer means
// the token is invalid or expired.
func (c *Client) VerifyDownloadToken(ctx context.Context, token string) (*remote.Credentials, error) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/worker/verify-download-token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, ErrUnauthorized
	}

	var creds remote.Credentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("failed to decode verified credentials: %w", err)
	}
	return &creds, nil
}

// UploadNotification reports a finished transfer to the metadata store
type UploadNotification struct {
	UserID    string `json:"userId"`
	FileName  string `json:"fileName"`
	MessageID int64  `json:"messageId"`
	FileID    string `json:"fileId"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
}

// NotifyUpload posts a completed-transfer record to the metadata
// store. Best effort: the transfer already succeeded, so failures are
// logged rather than surfaced.
func (c *Client) NotifyUpload(ctx context.Context, n *UploadNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/webhook/upload", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification returned status %d", resp.StatusCode)
	}

	log.Debug().
		Str("file_name", n.FileName).
		Int64("message_id", n.MessageID).
		Msg("metadata store notified")

	return nil
}
