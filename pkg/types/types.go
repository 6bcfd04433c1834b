package types

// APIResponse represents a standard API response envelope
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// UploadAccepted is returned once raw upload bytes are on local disk
type UploadAccepted struct {
	UploadID string `json:"uploadId"`
	Size     int64  `json:"size"`
}

// InitUploadRequest starts a chunked upload session
type InitUploadRequest struct {
	UploadID    string `json:"uploadId" binding:"required"`
	FileName    string `json:"fileName" binding:"required"`
	TotalChunks int    `json:"totalChunks" binding:"required"`
}

// ChunkUploaded acknowledges a stored chunk
type ChunkUploaded struct {
	UploadID       string `json:"uploadId"`
	ChunkIndex     int    `json:"chunkIndex"`
	UploadedChunks int    `json:"uploadedChunks"`
}

// CompleteUploadRequest triggers background dispatch of an upload
type CompleteUploadRequest struct {
	UploadID  string `json:"uploadId" binding:"required"`
	UserID    string `json:"userId"`
	AuthToken string `json:"authToken"`
}

// CompleteUploadResponse reports dispatch acceptance or a stored result
type CompleteUploadResponse struct {
	Status    string `json:"status"`
	UploadID  string `json:"uploadId,omitempty"`
	MessageID int64  `json:"messageId,omitempty"`
	FileID    string `json:"fileId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ProgressResponse is the polling view over an upload session
type ProgressResponse struct {
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	MessageID int64  `json:"messageId,omitempty"`
	FileID    string `json:"fileId,omitempty"`
	Error     string `json:"error,omitempty"`
}
