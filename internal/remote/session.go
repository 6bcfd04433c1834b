package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SessionClient opens authenticated streaming sessions against the
// remote store. Sessions are required for objects above the
// small-object limit and for byte-range reads.
type SessionClient struct {
	endpoint  string
	blockSize int64
	client    *http.Client
}

// NewSessionClient creates a session-strategy client
func NewSessionClient(endpoint string, blockSize int64, timeout time.Duration, requestsPerSecond float64) *SessionClient {
	client := newHTTPClient(requestsPerSecond)
	client.Timeout = timeout
	return &SessionClient{
		endpoint:  endpoint,
		blockSize: blockSize,
		client:    client,
	}
}

type openRequest struct {
	SessionToken string `json:"session_token"`
	AppID        int64  `json:"app_id"`
	AppKey       string `json:"app_key"`
	ChannelID    int64  `json:"channel_id"`
}

type openResponse struct {
	SessionID string `json:"session_id"`
}

// Open authenticates a session and resolves the destination channel
func (c *SessionClient) Open(ctx context.Context, creds *Credentials) (ObjectSession, error) {
	if missing := creds.MissingSessionFields(); len(missing) > 0 {
		return nil, &SessionError{Op: "open", Err: fmt.Errorf("missing required credentials: %v", missing)}
	}

	payload, err := json.Marshal(openRequest{
		SessionToken: creds.SessionToken,
		AppID:        creds.AppID,
		AppKey:       creds.AppKey,
		ChannelID:    creds.ChannelID,
	})
	if err != nil {
		return nil, &SessionError{Op: "open", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/sessions", bytes.NewReader(payload))
	if err != nil {
		return nil, &SessionError{Op: "open", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &SessionError{Op: "open", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &SessionError{Op: "open", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var opened openResponse
	if err := json.NewDecoder(resp.Body).Decode(&opened); err != nil {
		return nil, &SessionError{Op: "open", Err: err}
	}
	if opened.SessionID == "" {
		return nil, &SessionError{Op: "open", Err: fmt.Errorf("empty session id")}
	}

	log.Debug().Str("session_id", opened.SessionID).Msg("remote session opened")

	return &session{
		id:        opened.SessionID,
		endpoint:  c.endpoint,
		blockSize: c.blockSize,
		client:    c.client,
	}, nil
}

// session is one live authenticated session
type session struct {
	id        string
	endpoint  string
	blockSize int64
	client    *http.Client

	closeOnce sync.Once
	closeErr  error
}

// SendStream uploads the object in fixed-size blocks, invoking the
// progress callback after each block, then commits the stream and
// returns the stored object's handles
func (s *session) SendStream(ctx context.Context, fileName string, content io.Reader, size int64, progress ProgressFunc) (*SendResult, error) {
	var sent int64
	buf := make([]byte, s.blockSize)

	for sent < size {
		n, err := io.ReadFull(content, buf)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			if n == 0 {
				break
			}
		} else if err != nil {
			return nil, &SessionError{Op: "stream", Err: err}
		}

		if err := s.putBlock(ctx, buf[:n], sent, size); err != nil {
			return nil, err
		}

		sent += int64(n)
		if progress != nil {
			progress(sent, size)
		}
	}

	if sent != size {
		return nil, &SessionError{Op: "stream", Err: fmt.Errorf("short object: sent %d of %d bytes", sent, size)}
	}

	return s.commit(ctx, fileName, size)
}

// putBlock uploads one block with partial-content framing
func (s *session) putBlock(ctx context.Context, block []byte, offset, total int64) error {
	url := fmt.Sprintf("%s/sessions/%s/blocks", s.endpoint, s.id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(block))
	if err != nil {
		return &SessionError{Op: "stream", Err: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(block))-1, total))

	resp, err := s.client.Do(req)
	if err != nil {
		return &SessionError{Op: "stream", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		return &SessionError{Op: "stream", Err: fmt.Errorf("block upload status %d at offset %d", resp.StatusCode, offset)}
	}
	return nil
}

type commitRequest struct {
	FileName string `json:"file_name"`
	Size     int64  `json:"size"`
}

// commit finalizes the streamed object and decodes its handles
func (s *session) commit(ctx context.Context, fileName string, size int64) (*SendResult, error) {
	payload, _ := json.Marshal(commitRequest{FileName: fileName, Size: size})

	url := fmt.Sprintf("%s/sessions/%s/commit", s.endpoint, s.id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &SessionError{Op: "commit", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &SessionError{Op: "commit", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &SessionError{Op: "commit", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SessionError{Op: "commit", Err: err}
	}

	result, err := decodeSendResult(raw)
	if err != nil {
		return nil, &SessionError{Op: "commit", Err: err}
	}

	log.Info().
		Str("session_id", s.id).
		Str("file_name", fileName).
		Int64("message_id", result.MessageID).
		Msg("session upload committed")

	return result, nil
}

type objectInfo struct {
	Size int64 `json:"size"`
}

// ObjectSize resolves an object's total size from its message handle
func (s *session) ObjectSize(ctx context.Context, messageID int64) (int64, error) {
	url := fmt.Sprintf("%s/sessions/%s/objects/%d", s.endpoint, s.id, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &SessionError{Op: "stat", Err: err}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, &SessionError{Op: "stat", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, ErrObjectNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return 0, &SessionError{Op: "stat", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var info objectInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return 0, &SessionError{Op: "stat", Err: err}
	}
	return info.Size, nil
}

// ReadRange requests object bytes starting at offset. The returned
// reader streams blocks lazily; the caller owns closing it.
func (s *session) ReadRange(ctx context.Context, messageID int64, offset, length int64) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/sessions/%s/objects/%d/content", s.endpoint, s.id, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &SessionError{Op: "read", Err: err}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &SessionError{Op: "read", Err: err}
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrObjectNotFound
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &SessionError{Op: "read", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	return resp.Body, nil
}

// Close tears down the remote session. Safe to call more than once;
// only the first call talks to the remote side.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		url := fmt.Sprintf("%s/sessions/%s", s.endpoint, s.id)
		req, err := http.NewRequest(http.MethodDelete, url, nil)
		if err != nil {
			s.closeErr = err
			return
		}

		resp, err := s.client.Do(req)
		if err != nil {
			s.closeErr = err
			return
		}
		resp.Body.Close()

		log.Debug().Str("session_id", s.id).Msg("remote session closed")
	})
	return s.closeErr
}
