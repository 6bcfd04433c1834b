package utils

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// NewUploadID generates an opaque upload identifier
func NewUploadID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// ContentTypeFor infers a MIME type from the filename extension,
// falling back to a generic binary type when unknown
func ContentTypeFor(fileName string) string {
	if ct := mime.TypeByExtension(filepath.Ext(fileName)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// FormatBytes renders a byte count in human-readable form for logs
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}
