// Package transfer tracks upload sessions and dispatches them to the
// remote object store in the background.
package transfer

import (
	"sync"
	"time"

	"github.com/telestore/relay/internal/remote"
)

// State is the lifecycle position of an upload session
type State string

const (
	// StateReceived: bytes are on local disk, dispatch not requested
	StateReceived State = "uploaded"
	// StateDispatched: accepted into the transfer queue
	StateDispatched State = "dispatched"
	// StateInProgress: a worker is streaming to the remote store
	StateInProgress State = "uploading"
	// StateCompleted: remote handles recorded, temp storage gone
	StateCompleted State = "completed"
	// StateFailed: terminal failure, temp storage gone
	StateFailed State = "failed"
)

// UploadSession tracks one client-initiated transfer from receipt to
// its terminal outcome. All mutation goes through the methods below,
// under the per-session mutex, so readers never observe a
// half-written transition.
type UploadSession struct {
	ID          string
	FileName    string
	Size        int64
	TempPath    string
	UserID      string
	Credentials *remote.Credentials
	CreatedAt   time.Time

	mu       sync.Mutex
	state    State
	progress int
	result   *remote.SendResult
	lastErr  error
}

// NewUploadSession creates a session in the received state
func NewUploadSession(id, fileName string, size int64, tempPath, userID string, creds *remote.Credentials) *UploadSession {
	return &UploadSession{
		ID:          id,
		FileName:    fileName,
		Size:        size,
		TempPath:    tempPath,
		UserID:      userID,
		Credentials: creds,
		CreatedAt:   time.Now(),
		state:       StateReceived,
	}
}

// Snapshot is a consistent read of a session's mutable fields
type Snapshot struct {
	State    State
	Progress int
	Result   *remote.SendResult
	Err      error
}

// Snapshot reads the session state atomically
func (s *UploadSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:    s.state,
		Progress: s.progress,
		Result:   s.result,
		Err:      s.lastErr,
	}
}

// markInProgress moves Dispatched -> InProgress
func (s *UploadSession) markInProgress() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateInProgress
	s.progress = 0
}

// setProgress records remote transfer progress, 0-100
func (s *UploadSession) setProgress(percent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	s.progress = percent
}

// complete commits the terminal success state. The handle invariant
// holds: result is set exactly when the state is completed.
func (s *UploadSession) complete(result *remote.SendResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateCompleted
	s.progress = 100
	s.result = result
	s.lastErr = nil
}

// fail commits the terminal failure state
func (s *UploadSession) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateFailed
	s.result = nil
	s.lastErr = err
}

// Registry is the process-wide set of upload sessions, initialized
// empty at start and never shared across processes
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*UploadSession
}

// NewRegistry creates an empty session registry
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*UploadSession)}
}

// Register adds a session
func (r *Registry) Register(sess *UploadSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID] = sess
}

// Get looks up a session by upload id
func (r *Registry) Get(uploadID string) (*UploadSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[uploadID]
	return sess, ok
}
