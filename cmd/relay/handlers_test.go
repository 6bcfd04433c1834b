package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telestore/relay/internal/chunks"
	"github.com/telestore/relay/internal/credentials"
	"github.com/telestore/relay/internal/download"
	"github.com/telestore/relay/internal/remote"
	"github.com/telestore/relay/internal/transfer"
	"github.com/telestore/relay/pkg/config"
)

type stubBackend struct {
	creds     *remote.Credentials
	credsErr  error
	verifyErr error
}

func (s *stubBackend) FetchCredentials(ctx context.Context, authToken string) (*remote.Credentials, error) {
	if s.credsErr != nil {
		return nil, s.credsErr
	}
	return s.creds, nil
}

func (s *stubBackend) VerifyDownloadToken(ctx context.Context, token string) (*remote.Credentials, error) {
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return s.creds, nil
}

type capturingUploader struct {
	content []byte
}

func (u *capturingUploader) Send(ctx context.Context, creds *remote.Credentials, fileName string, content io.Reader, size int64) (*remote.SendResult, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	u.content = data
	return &remote.SendResult{MessageID: 42, ObjectID: "obj-42"}, nil
}

type stubObjectSession struct {
	object  []byte
	missing bool
}

func (s *stubObjectSession) SendStream(ctx context.Context, fileName string, content io.Reader, size int64, progress remote.ProgressFunc) (*remote.SendResult, error) {
	if _, err := io.Copy(io.Discard, content); err != nil {
		return nil, err
	}
	return &remote.SendResult{MessageID: 43, ObjectID: "obj-43"}, nil
}

func (s *stubObjectSession) ObjectSize(ctx context.Context, messageID int64) (int64, error) {
	if s.missing {
		return 0, remote.ErrObjectNotFound
	}
	return int64(len(s.object)), nil
}

func (s *stubObjectSession) ReadRange(ctx context.Context, messageID int64, offset, length int64) (io.ReadCloser, error) {
	end := offset + length
	if end > int64(len(s.object)) {
		end = int64(len(s.object))
	}
	return io.NopCloser(bytes.NewReader(s.object[offset:end])), nil
}

func (s *stubObjectSession) Close() error { return nil }

type stubSessionOpener struct {
	session *stubObjectSession
}

func (o *stubSessionOpener) Open(ctx context.Context, creds *remote.Credentials) (remote.ObjectSession, error) {
	return o.session, nil
}

func newTestApp(t *testing.T, be backendAPI, uploader remote.Uploader, opener remote.SessionOpener) (*application, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Transfer: config.TransferConfig{
			UploadDir:        t.TempDir(),
			SmallObjectLimit: 1 << 20,
			BlockSize:        4,
			Workers:          1,
			QueueSize:        4,
			ChunkSessionTTL:  time.Hour,
			ChunkSweepEvery:  time.Hour,
			CredentialTTL:    time.Hour,
		},
	}

	store := chunks.NewMemoryStore(time.Hour, time.Hour)
	t.Cleanup(func() { store.Close() })

	registry := transfer.NewRegistry()
	dispatcher := transfer.NewDispatcher(registry, uploader, opener, nil,
		cfg.Transfer.SmallObjectLimit, cfg.Transfer.Workers, cfg.Transfer.QueueSize)
	t.Cleanup(dispatcher.Shutdown)

	app := &application{
		cfg:         cfg,
		backend:     be,
		credCache:   credentials.NewCache(cfg.Transfer.CredentialTTL),
		chunkStore:  store,
		registry:    registry,
		dispatcher:  dispatcher,
		relay:       download.NewRelay(opener, cfg.Transfer.BlockSize),
		newUploadID: func() string { return "fixed-upload-id" },
	}
	return app, setupRouter(app)
}

func storedCredentials() *remote.Credentials {
	return &remote.Credentials{APIKey: "key", SessionToken: "sess", AppID: 7, AppKey: "hash", ChannelID: 12}
}

func multipartBody(t *testing.T, fields map[string]string, fileField, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if fileField != "" {
		part, err := writer.CreateFormFile(fileField, fileName)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return &body, writer.FormDataContentType()
}

func postJSON(router *gin.Engine, path string, payload interface{}) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	return performRequest(router, req, rec)
}

func performRequest(router *gin.Engine, req *http.Request, rec *httptest.ResponseRecorder) *httptest.ResponseRecorder {
	router.ServeHTTP(rec, req)
	return rec
}

func pollProgress(t *testing.T, router *gin.Engine, uploadID string) map[string]interface{} {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		req := httptest.NewRequest(http.MethodGet, "/upload-progress/"+uploadID, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var progress map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &progress))
		switch progress["status"] {
		case "completed", "failed":
			return progress
		}

		select {
		case <-deadline:
			t.Fatalf("upload %s never reached a terminal state: %v", uploadID, progress)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHealth(t *testing.T) {
	_, router := newTestApp(t, &stubBackend{creds: storedCredentials()}, &capturingUploader{}, &stubSessionOpener{session: &stubObjectSession{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestUpload_MissingAuthToken(t *testing.T) {
	_, router := newTestApp(t, &stubBackend{creds: storedCredentials()}, &capturingUploader{}, &stubSessionOpener{session: &stubObjectSession{}})

	body, contentType := multipartBody(t, nil, "file", "a.bin", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_MissingFile(t *testing.T) {
	_, router := newTestApp(t, &stubBackend{creds: storedCredentials()}, &capturingUploader{}, &stubSessionOpener{session: &stubObjectSession{}})

	body, contentType := multipartBody(t, map[string]string{"authToken": "tok"}, "", "", nil)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_CredentialFetchRejected(t *testing.T) {
	be := &stubBackend{credsErr: fmt.Errorf("token expired")}
	_, router := newTestApp(t, be, &capturingUploader{}, &stubSessionOpener{session: &stubObjectSession{}})

	body, contentType := multipartBody(t, map[string]string{"authToken": "bad"}, "file", "a.bin", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpload_ThenCompleteAndPoll(t *testing.T) {
	uploader := &capturingUploader{}
	_, router := newTestApp(t, &stubBackend{creds: storedCredentials()}, uploader, &stubSessionOpener{session: &stubObjectSession{}})

	content := []byte("small object payload")
	body, contentType := multipartBody(t, map[string]string{"authToken": "tok", "userId": "user-1"}, "file", "report.pdf", content)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var accepted map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, "fixed-upload-id", accepted["uploadId"])
	assert.Equal(t, float64(len(content)), accepted["size"])

	rec = postJSON(router, "/complete-upload", map[string]string{"uploadId": "fixed-upload-id"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"uploading"`)

	progress := pollProgress(t, router, "fixed-upload-id")
	assert.Equal(t, "completed", progress["status"])
	assert.Equal(t, float64(42), progress["messageId"])
	assert.Equal(t, "obj-42", progress["fileId"])
	assert.Equal(t, content, uploader.content)

	// replayed completion answers with the stored handles
	rec = postJSON(router, "/complete-upload", map[string]string{"uploadId": "fixed-upload-id"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"completed"`)
	assert.Contains(t, rec.Body.String(), `"messageId":42`)
}

func TestChunkedUpload_EndToEnd(t *testing.T) {
	uploader := &capturingUploader{}
	app, router := newTestApp(t, &stubBackend{creds: storedCredentials()}, uploader, &stubSessionOpener{session: &stubObjectSession{}})

	rec := postJSON(router, "/init-upload", map[string]interface{}{
		"uploadId": "chunked-1", "fileName": "archive.zip", "totalChunks": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// duplicate init is a conflict
	rec = postJSON(router, "/init-upload", map[string]interface{}{
		"uploadId": "chunked-1", "fileName": "archive.zip", "totalChunks": 3,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	parts := [][]byte{[]byte("first-"), []byte("second-"), []byte("third")}
	for _, i := range []int{2, 0, 1} {
		body, contentType := multipartBody(t, map[string]string{
			"uploadId": "chunked-1", "chunkIndex": fmt.Sprintf("%d", i),
		}, "chunk", "part", parts[i])
		req := httptest.NewRequest(http.MethodPost, "/upload-chunk", body)
		req.Header.Set("Content-Type", contentType)
		chunkRec := httptest.NewRecorder()
		router.ServeHTTP(chunkRec, req)
		require.Equal(t, http.StatusOK, chunkRec.Code)
	}

	rec = postJSON(router, "/complete-upload", map[string]string{
		"uploadId": "chunked-1", "authToken": "tok", "userId": "user-1",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	progress := pollProgress(t, router, "chunked-1")
	assert.Equal(t, "completed", progress["status"])
	assert.Equal(t, []byte("first-second-third"), uploader.content)

	// the chunk set is gone once assembled
	_, err := app.chunkStore.Meta(context.Background(), "chunked-1")
	assert.ErrorIs(t, err, chunks.ErrUnknownSession)
}

func TestCompleteUpload_MissingChunks(t *testing.T) {
	_, router := newTestApp(t, &stubBackend{creds: storedCredentials()}, &capturingUploader{}, &stubSessionOpener{session: &stubObjectSession{}})

	rec := postJSON(router, "/init-upload", map[string]interface{}{
		"uploadId": "gappy", "fileName": "a.bin", "totalChunks": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body, contentType := multipartBody(t, map[string]string{
		"uploadId": "gappy", "chunkIndex": "1",
	}, "chunk", "part", []byte("middle"))
	req := httptest.NewRequest(http.MethodPost, "/upload-chunk", body)
	req.Header.Set("Content-Type", contentType)
	chunkRec := httptest.NewRecorder()
	router.ServeHTTP(chunkRec, req)
	require.Equal(t, http.StatusOK, chunkRec.Code)

	rec = postJSON(router, "/complete-upload", map[string]string{
		"uploadId": "gappy", "authToken": "tok",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []interface{}{float64(0), float64(2)}, resp["missingChunks"])
}

func TestCompleteUpload_UnknownID(t *testing.T) {
	_, router := newTestApp(t, &stubBackend{creds: storedCredentials()}, &capturingUploader{}, &stubSessionOpener{session: &stubObjectSession{}})

	rec := postJSON(router, "/complete-upload", map[string]string{"uploadId": "never-seen"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadChunk_UnknownSession(t *testing.T) {
	_, router := newTestApp(t, &stubBackend{creds: storedCredentials()}, &capturingUploader{}, &stubSessionOpener{session: &stubObjectSession{}})

	body, contentType := multipartBody(t, map[string]string{
		"uploadId": "nope", "chunkIndex": "0",
	}, "chunk", "part", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/upload-chunk", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadProgress_Unknown(t *testing.T) {
	_, router := newTestApp(t, &stubBackend{creds: storedCredentials()}, &capturingUploader{}, &stubSessionOpener{session: &stubObjectSession{}})

	req := httptest.NewRequest(http.MethodGet, "/upload-progress/ghost", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownload_MissingParams(t *testing.T) {
	_, router := newTestApp(t, &stubBackend{creds: storedCredentials()}, &capturingUploader{}, &stubSessionOpener{session: &stubObjectSession{}})

	req := httptest.NewRequest(http.MethodGet, "/download?messageId=5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownload_InvalidToken(t *testing.T) {
	be := &stubBackend{verifyErr: fmt.Errorf("expired")}
	_, router := newTestApp(t, be, &capturingUploader{}, &stubSessionOpener{session: &stubObjectSession{}})

	req := httptest.NewRequest(http.MethodGet, "/download?messageId=5&token=bad", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDownload_FullObject(t *testing.T) {
	session := &stubObjectSession{object: []byte("abcdefghij")}
	_, router := newTestApp(t, &stubBackend{creds: storedCredentials()}, &capturingUploader{}, &stubSessionOpener{session: session})

	req := httptest.NewRequest(http.MethodGet, "/download?messageId=5&token=tok&fileName=report.pdf", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abcdefghij", rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
}

func TestDownload_RangedStream(t *testing.T) {
	session := &stubObjectSession{object: []byte("abcdefghij")}
	_, router := newTestApp(t, &stubBackend{creds: storedCredentials()}, &capturingUploader{}, &stubSessionOpener{session: session})

	req := httptest.NewRequest(http.MethodGet, "/download?messageId=5&token=tok&fileName=report.pdf", nil)
	req.Header.Set("Range", "bytes=2-6")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "cdefg", rec.Body.String())
	assert.Equal(t, "bytes 2-6/10", rec.Header().Get("Content-Range"))
}

func TestDownload_UnsatisfiableRange(t *testing.T) {
	session := &stubObjectSession{object: []byte("abcdefghij")}
	_, router := newTestApp(t, &stubBackend{creds: storedCredentials()}, &capturingUploader{}, &stubSessionOpener{session: session})

	req := httptest.NewRequest(http.MethodGet, "/download?messageId=5&token=tok", nil)
	req.Header.Set("Range", "bytes=500-")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
}

func TestDownload_ObjectNotFound(t *testing.T) {
	session := &stubObjectSession{missing: true}
	_, router := newTestApp(t, &stubBackend{creds: storedCredentials()}, &capturingUploader{}, &stubSessionOpener{session: session})

	req := httptest.NewRequest(http.MethodGet, "/download?messageId=5&token=tok", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
