// Package chunks accumulates client-submitted byte chunks for
// multi-part uploads and reassembles them in index order.
package chunks

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// ErrDuplicateSession reports an init for an upload id that already exists
var ErrDuplicateSession = fmt.Errorf("upload session already exists")

// ErrUnknownSession reports a chunk operation against an absent session
var ErrUnknownSession = fmt.Errorf("upload session not found")

// IncompleteError reports an assemble attempt with chunks still missing
type IncompleteError struct {
	Expected int
	Missing  []int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("upload incomplete: %d chunks expected, missing indices %v", e.Expected, e.Missing)
}

// Meta describes a chunked-upload session
type Meta struct {
	UploadID    string
	FileName    string
	TotalChunks int
	Received    int
	CreatedAt   time.Time
}

// Store accumulates chunks for in-flight uploads. Implementations own
// expiry of abandoned sessions.
type Store interface {
	// Init creates a session; ErrDuplicateSession if the id is taken
	Init(ctx context.Context, uploadID, fileName string, totalChunks int) error
	// Put stores one chunk, overwriting a re-sent index, and returns
	// the received-count; ErrUnknownSession if the session is absent
	Put(ctx context.Context, uploadID string, index int, data []byte) (int, error)
	// Meta returns session metadata; ErrUnknownSession if absent
	Meta(ctx context.Context, uploadID string) (*Meta, error)
	// Assemble concatenates all chunks in ascending index order. It
	// does not mutate the session; callers delete after use.
	Assemble(ctx context.Context, uploadID string) ([]byte, error)
	// Delete removes a session and its chunks
	Delete(ctx context.Context, uploadID string) error
}

// missingIndices computes which of 0..total-1 are absent from have
func missingIndices(have map[int][]byte, total int) []int {
	var missing []int
	for i := 0; i < total; i++ {
		if _, ok := have[i]; !ok {
			missing = append(missing, i)
		}
	}
	sort.Ints(missing)
	return missing
}
