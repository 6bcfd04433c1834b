package chunks

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MemoryStore keeps chunk sets in process memory. Entries live until
// completion deletes them or the sweeper expires them; loss on restart
// is accepted.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

type memorySession struct {
	mu        sync.Mutex
	fileName  string
	total     int
	chunks    map[int][]byte
	createdAt time.Time
	updatedAt time.Time
}

// NewMemoryStore creates an in-memory chunk store and starts its
// expiry sweeper
func NewMemoryStore(ttl, sweepEvery time.Duration) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*memorySession),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	go s.sweepRoutine(sweepEvery)
	return s
}

func (s *MemoryStore) Init(ctx context.Context, uploadID, fileName string, totalChunks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[uploadID]; exists {
		return ErrDuplicateSession
	}

	now := time.Now()
	s.sessions[uploadID] = &memorySession{
		fileName:  fileName,
		total:     totalChunks,
		chunks:    make(map[int][]byte),
		createdAt: now,
		updatedAt: now,
	}

	log.Info().
		Str("upload_id", uploadID).
		Str("file_name", fileName).
		Int("total_chunks", totalChunks).
		Msg("chunked upload session initialized")

	return nil
}

func (s *MemoryStore) get(uploadID string) (*memorySession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[uploadID]
	return sess, ok
}

func (s *MemoryStore) Put(ctx context.Context, uploadID string, index int, data []byte) (int, error) {
	sess, ok := s.get(uploadID)
	if !ok {
		return 0, ErrUnknownSession
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	// a re-sent index overwrites, never duplicates
	buf := make([]byte, len(data))
	copy(buf, data)
	sess.chunks[index] = buf
	sess.updatedAt = time.Now()

	return len(sess.chunks), nil
}

func (s *MemoryStore) Meta(ctx context.Context, uploadID string) (*Meta, error) {
	sess, ok := s.get(uploadID)
	if !ok {
		return nil, ErrUnknownSession
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	return &Meta{
		UploadID:    uploadID,
		FileName:    sess.fileName,
		TotalChunks: sess.total,
		Received:    len(sess.chunks),
		CreatedAt:   sess.createdAt,
	}, nil
}

func (s *MemoryStore) Assemble(ctx context.Context, uploadID string) ([]byte, error) {
	sess, ok := s.get(uploadID)
	if !ok {
		return nil, ErrUnknownSession
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if missing := missingIndices(sess.chunks, sess.total); len(missing) > 0 {
		return nil, &IncompleteError{Expected: sess.total, Missing: missing}
	}

	var size int
	for _, chunk := range sess.chunks {
		size += len(chunk)
	}

	out := make([]byte, 0, size)
	for i := 0; i < sess.total; i++ {
		out = append(out, sess.chunks[i]...)
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, uploadID)
	return nil
}

// Close stops the expiry sweeper
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

// sweepRoutine periodically drops sessions idle past the TTL
func (s *MemoryStore) sweepRoutine(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	cutoff := time.Now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, sess := range s.sessions {
		sess.mu.Lock()
		updated := sess.updatedAt
		sess.mu.Unlock()
		if updated.Before(cutoff) {
			expired = append(expired, id)
		}
	}

	for _, id := range expired {
		delete(s.sessions, id)
		log.Info().Str("upload_id", id).Msg("expired chunked upload session removed")
	}
}
