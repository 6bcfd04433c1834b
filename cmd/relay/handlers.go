package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/telestore/relay/internal/chunks"
	"github.com/telestore/relay/internal/credentials"
	"github.com/telestore/relay/internal/download"
	"github.com/telestore/relay/internal/remote"
	"github.com/telestore/relay/internal/transfer"
	"github.com/telestore/relay/pkg/types"
)

// handleUpload receives raw object bytes, spills them to temp storage
// and registers an upload session awaiting dispatch
func handleUpload(app *application) gin.HandlerFunc {
	return func(c *gin.Context) {
		authToken := c.PostForm("authToken")
		if authToken == "" {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: "auth token required"})
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: "no file provided"})
			return
		}

		fileName := c.PostForm("fileName")
		if fileName == "" {
			fileName = fileHeader.Filename
		}
		if fileName == "" {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: "empty filename"})
			return
		}

		creds, err := app.fetchCredentials(c, authToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, types.APIResponse{Success: false, Error: "failed to fetch credentials"})
			return
		}

		uploadID := app.newUploadID()
		tempPath := filepath.Join(app.cfg.Transfer.UploadDir, uploadID)

		src, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{Success: false, Error: "failed to read upload"})
			return
		}
		defer src.Close()

		size, err := spillToFile(tempPath, src)
		if err != nil {
			log.Error().Err(err).Str("upload_id", uploadID).Msg("failed to spill upload to disk")
			c.JSON(http.StatusInternalServerError, types.APIResponse{Success: false, Error: "failed to store upload"})
			return
		}

		sess := transfer.NewUploadSession(uploadID, fileName, size, tempPath, c.PostForm("userId"), creds)
		app.registry.Register(sess)

		log.Info().
			Str("upload_id", uploadID).
			Str("file_name", fileName).
			Int64("size", size).
			Msg("upload received")

		c.JSON(http.StatusOK, types.UploadAccepted{UploadID: uploadID, Size: size})
	}
}

// handleInitUpload starts a chunked-upload session
func handleInitUpload(app *application) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.InitUploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: "invalid request format"})
			return
		}
		if req.TotalChunks <= 0 {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: "totalChunks must be positive"})
			return
		}

		err := app.chunkStore.Init(c.Request.Context(), req.UploadID, req.FileName, req.TotalChunks)
		if errors.Is(err, chunks.ErrDuplicateSession) {
			c.JSON(http.StatusConflict, types.APIResponse{Success: false, Error: "upload session already exists"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{Success: false, Error: err.Error()})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{Success: true, Data: gin.H{"uploadId": req.UploadID}})
	}
}

// handleUploadChunk stores a single chunk; a re-sent index overwrites
func handleUploadChunk(app *application) gin.HandlerFunc {
	return func(c *gin.Context) {
		uploadID := c.PostForm("uploadId")
		if uploadID == "" {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: "uploadId required"})
			return
		}

		index, err := strconv.Atoi(c.PostForm("chunkIndex"))
		if err != nil || index < 0 {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: "invalid chunkIndex"})
			return
		}

		fileHeader, err := c.FormFile("chunk")
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: "no chunk provided"})
			return
		}

		src, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{Success: false, Error: "failed to read chunk"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{Success: false, Error: "failed to read chunk"})
			return
		}

		received, err := app.chunkStore.Put(c.Request.Context(), uploadID, index, data)
		if errors.Is(err, chunks.ErrUnknownSession) {
			c.JSON(http.StatusNotFound, types.APIResponse{Success: false, Error: "upload session not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{Success: false, Error: err.Error()})
			return
		}

		c.JSON(http.StatusOK, types.ChunkUploaded{
			UploadID:       uploadID,
			ChunkIndex:     index,
			UploadedChunks: received,
		})
	}
}

// handleCompleteUpload triggers background dispatch. A chunked session
// is assembled onto disk first; either way the call returns before the
// remote transfer runs.
func handleCompleteUpload(app *application) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.CompleteUploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: "invalid upload ID"})
			return
		}

		if _, ok := app.registry.Get(req.UploadID); !ok {
			if status, resp := app.assembleChunked(c, &req); status != 0 {
				c.JSON(status, resp)
				return
			}
		}

		result, state, err := app.dispatcher.Complete(req.UploadID)
		switch {
		case errors.Is(err, transfer.ErrUnknownUpload):
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: "invalid upload ID"})
			return
		case errors.Is(err, transfer.ErrAlreadyInProgress):
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: "upload already in progress"})
			return
		case errors.Is(err, transfer.ErrQueueFull):
			c.JSON(http.StatusServiceUnavailable, types.APIResponse{Success: false, Error: "transfer queue is full, retry later"})
			return
		case errors.Is(err, transfer.ErrUploadFailed):
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: err.Error()})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, types.APIResponse{Success: false, Error: err.Error()})
			return
		}

		if state == transfer.StateCompleted {
			c.JSON(http.StatusOK, types.CompleteUploadResponse{
				Status:    "completed",
				MessageID: result.MessageID,
				FileID:    result.ObjectID,
			})
			return
		}

		c.JSON(http.StatusAccepted, types.CompleteUploadResponse{
			Status:   "uploading",
			UploadID: req.UploadID,
			Message:  "transfer to remote store started in background",
		})
	}
}

// assembleChunked turns a finished chunk set into a registered upload
// session. Returns a non-zero status plus response body on failure, or
// (0, nil) once the session is registered.
func (app *application) assembleChunked(c *gin.Context, req *types.CompleteUploadRequest) (int, interface{}) {
	ctx := c.Request.Context()

	meta, err := app.chunkStore.Meta(ctx, req.UploadID)
	if errors.Is(err, chunks.ErrUnknownSession) {
		// no chunk set either; let the dispatcher report unknown id
		return 0, nil
	}
	if err != nil {
		return http.StatusInternalServerError, types.APIResponse{Success: false, Error: err.Error()}
	}

	data, err := app.chunkStore.Assemble(ctx, req.UploadID)
	var incomplete *chunks.IncompleteError
	if errors.As(err, &incomplete) {
		return http.StatusBadRequest, gin.H{
			"error":         fmt.Sprintf("missing chunks: expected %d, missing %d", incomplete.Expected, len(incomplete.Missing)),
			"missingChunks": incomplete.Missing,
		}
	}
	if err != nil {
		return http.StatusInternalServerError, types.APIResponse{Success: false, Error: err.Error()}
	}

	creds, err := app.fetchCredentials(c, req.AuthToken)
	if err != nil {
		return http.StatusUnauthorized, types.APIResponse{Success: false, Error: "failed to fetch credentials"}
	}

	tempPath := filepath.Join(app.cfg.Transfer.UploadDir, req.UploadID)
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		log.Error().Err(err).Str("upload_id", req.UploadID).Msg("failed to spill assembled upload to disk")
		return http.StatusInternalServerError, types.APIResponse{Success: false, Error: "failed to store upload"}
	}

	sess := transfer.NewUploadSession(req.UploadID, meta.FileName, int64(len(data)), tempPath, req.UserID, creds)
	app.registry.Register(sess)

	if err := app.chunkStore.Delete(ctx, req.UploadID); err != nil {
		log.Warn().Err(err).Str("upload_id", req.UploadID).Msg("failed to delete chunk set")
	}

	log.Info().
		Str("upload_id", req.UploadID).
		Str("file_name", meta.FileName).
		Int("chunks", meta.TotalChunks).
		Int("size", len(data)).
		Msg("chunked upload assembled")

	return 0, nil
}

// handleUploadProgress is the polling view over an upload session
func handleUploadProgress(app *application) gin.HandlerFunc {
	return func(c *gin.Context) {
		progress, err := app.registry.Progress(c.Param("uploadId"))
		if err != nil {
			c.JSON(http.StatusNotFound, types.APIResponse{Success: false, Error: "upload ID not found"})
			return
		}

		c.JSON(http.StatusOK, types.ProgressResponse{
			Status:    string(progress.State),
			Progress:  progress.Percent,
			MessageID: progress.MessageID,
			FileID:    progress.FileID,
			Error:     progress.Error,
		})
	}
}

// handleDownload streams object bytes back to the client, honoring
// Range requests
func handleDownload(app *application) gin.HandlerFunc {
	return func(c *gin.Context) {
		messageIDParam := c.Query("messageId")
		token := c.Query("token")
		if messageIDParam == "" || token == "" {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: "missing messageId or token"})
			return
		}

		messageID, err := strconv.ParseInt(messageIDParam, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: "invalid messageId"})
			return
		}

		fileName := c.Query("fileName")
		if fileName == "" {
			fileName = "file"
		}

		creds, err := app.backend.VerifyDownloadToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, types.APIResponse{Success: false, Error: "invalid or expired token"})
			return
		}

		err = app.relay.Stream(c.Request.Context(), c.Writer, &download.Request{
			MessageID:   messageID,
			Credentials: creds,
			FileName:    fileName,
			RangeHeader: c.GetHeader("Range"),
		})

		switch {
		case err == nil:
			return
		case errors.Is(err, download.ErrInvalidRange):
			c.JSON(http.StatusRequestedRangeNotSatisfiable, types.APIResponse{Success: false, Error: "invalid Range header"})
		case errors.Is(err, remote.ErrObjectNotFound):
			c.JSON(http.StatusNotFound, types.APIResponse{Success: false, Error: "object not found"})
		default:
			log.Error().Err(err).Int64("message_id", messageID).Msg("download failed")
			c.JSON(http.StatusBadGateway, types.APIResponse{Success: false, Error: "remote store unavailable"})
		}
	}
}

// handleHealth is the liveness probe
func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// fetchCredentials resolves credentials for authToken through the
// short-TTL cache
func (app *application) fetchCredentials(c *gin.Context, authToken string) (*remote.Credentials, error) {
	if authToken == "" {
		return nil, credentials.ErrCredentialFetch
	}
	return app.credCache.Get(c.Request.Context(), authToken, func(ctx context.Context) (*remote.Credentials, error) {
		return app.backend.FetchCredentials(ctx, authToken)
	})
}

// spillToFile writes src to path and reports the byte count
func spillToFile(path string, src io.Reader) (int64, error) {
	dst, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer dst.Close()

	size, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("failed to write temp file: %w", err)
	}
	return size, nil
}
