package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// StatelessClient uploads objects with a single multipart request.
// The remote store answers synchronously with the stored object's
// handles; it is only usable below the small-object size limit.
type StatelessClient struct {
	endpoint string
	client   *http.Client
}

// NewStatelessClient creates a stateless upload client
func NewStatelessClient(endpoint string, timeout time.Duration, requestsPerSecond float64) *StatelessClient {
	client := newHTTPClient(requestsPerSecond)
	client.Timeout = timeout
	return &StatelessClient{
		endpoint: endpoint,
		client:   client,
	}
}

// statelessResponse is the remote store's synchronous reply
type statelessResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Send uploads the whole object in one request
func (c *StatelessClient) Send(ctx context.Context, creds *Credentials, fileName string, content io.Reader, size int64) (*SendResult, error) {
	if creds.APIKey == "" {
		return nil, &RejectedError{Description: "missing api key"}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("document", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("failed to buffer object content: %w", err)
	}
	if err := writer.WriteField("chat_id", fmt.Sprintf("%d", creds.ChannelID)); err != nil {
		return nil, fmt.Errorf("failed to write destination field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/store%s/send", c.endpoint, creds.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	log.Debug().
		Str("file_name", fileName).
		Int64("size", size).
		Msg("sending object via stateless strategy")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read send response: %w", err)
	}

	var parsed statelessResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode send response: %w", err)
	}
	if !parsed.OK {
		desc := parsed.Description
		if desc == "" {
			desc = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, &RejectedError{Description: desc}
	}

	result, err := decodeSendResult(parsed.Result)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("file_name", fileName).
		Int64("message_id", result.MessageID).
		Str("object_id", result.ObjectID).
		Msg("stateless upload completed")

	return result, nil
}
