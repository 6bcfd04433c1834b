// Package remote implements the two transfer strategies against the
// remote object store: a stateless single-request path for small
// objects and an authenticated streaming session for everything else.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"
)

// Credentials is the opaque per-user key material issued by the
// credential authority. The relay never mints or inspects it beyond
// field presence checks.
type Credentials struct {
	APIKey       string `json:"api_key"`
	SessionToken string `json:"session_token"`
	AppID        int64  `json:"app_id"`
	AppKey       string `json:"app_key"`
	ChannelID    int64  `json:"channel_id"`
}

// MissingSessionFields lists the credential fields the session
// strategy requires but that are absent
func (c *Credentials) MissingSessionFields() []string {
	var missing []string
	if c.SessionToken == "" {
		missing = append(missing, "session_token")
	}
	if c.AppID == 0 {
		missing = append(missing, "app_id")
	}
	if c.AppKey == "" {
		missing = append(missing, "app_key")
	}
	if c.ChannelID == 0 {
		missing = append(missing, "channel_id")
	}
	return missing
}

// SendResult identifies a stored object on the remote side
type SendResult struct {
	MessageID int64
	ObjectID  string
}

// RejectedError reports that the remote store refused an object on the
// stateless path (bad credentials, malformed payload, policy refusal)
type RejectedError struct {
	Description string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("remote store rejected object: %s", e.Description)
}

// SessionError reports a session open or mid-stream failure
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("remote session %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// ProgressFunc is invoked after each transferred block with the byte
// counts so far
type ProgressFunc func(sent, total int64)

// Uploader sends one object to the remote store
type Uploader interface {
	Send(ctx context.Context, creds *Credentials, fileName string, content io.Reader, size int64) (*SendResult, error)
}

// SessionOpener establishes an authenticated streaming session
type SessionOpener interface {
	Open(ctx context.Context, creds *Credentials) (ObjectSession, error)
}

// ObjectSession is one authenticated session against the remote store.
// Close must be called on every exit path and is safe to call twice.
type ObjectSession interface {
	SendStream(ctx context.Context, fileName string, content io.Reader, size int64, progress ProgressFunc) (*SendResult, error)
	ObjectSize(ctx context.Context, messageID int64) (int64, error)
	ReadRange(ctx context.Context, messageID int64, offset, length int64) (io.ReadCloser, error)
	Close() error
}

// ErrObjectNotFound reports that a message handle resolves to nothing
// on the remote side
var ErrObjectNotFound = fmt.Errorf("remote object not found")

// objectEnvelope is the remote store's send response. Exactly one of
// the variants carries the handle for the stored object; anything else
// is a decode failure rather than a silent nil handle.
type objectEnvelope struct {
	MessageID int64          `json:"message_id"`
	Document  *objectVariant `json:"document,omitempty"`
	Video     *objectVariant `json:"video,omitempty"`
	Audio     *objectVariant `json:"audio,omitempty"`
	Photo     *objectVariant `json:"photo,omitempty"`
}

type objectVariant struct {
	ObjectID string `json:"file_id"`
	Size     int64  `json:"file_size,omitempty"`
}

// decodeSendResult extracts the object handle from a send response
func decodeSendResult(data []byte) (*SendResult, error) {
	var env objectEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode send response: %w", err)
	}

	var variant *objectVariant
	for _, v := range []*objectVariant{env.Document, env.Video, env.Audio, env.Photo} {
		if v != nil && v.ObjectID != "" {
			variant = v
			break
		}
	}
	if variant == nil {
		return nil, fmt.Errorf("send response carries no object variant")
	}
	if env.MessageID == 0 {
		return nil, fmt.Errorf("send response carries no message handle")
	}

	return &SendResult{MessageID: env.MessageID, ObjectID: variant.ObjectID}, nil
}

// rateLimitedTransport throttles outbound calls to the remote store
type rateLimitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// newHTTPClient builds the shared client for remote store calls
func newHTTPClient(requestsPerSecond float64) *http.Client {
	transport := http.DefaultTransport
	if requestsPerSecond > 0 {
		transport = &rateLimitedTransport{
			base:    http.DefaultTransport,
			limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1),
		}
	}
	return &http.Client{Transport: transport}
}
