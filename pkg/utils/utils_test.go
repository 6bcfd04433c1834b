package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewUploadID(t *testing.T) {
	a := NewUploadID()
	b := NewUploadID()

	assert.Len(t, a, 32)
	assert.NotContains(t, a, "-")
	assert.NotEqual(t, a, b)
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/pdf", ContentTypeFor("report.pdf"))
	assert.Equal(t, "application/json", ContentTypeFor("data.json"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("blob"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("weird.zzz9"))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "0 B", FormatBytes(0))
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KiB", FormatBytes(1024))
	assert.Equal(t, "1.5 KiB", FormatBytes(1536))
	assert.Equal(t, "50.0 MiB", FormatBytes(50*1024*1024))
	assert.Equal(t, "2.0 GiB", FormatBytes(2*1024*1024*1024))
}
