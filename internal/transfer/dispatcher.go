package transfer

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/telestore/relay/internal/backend"
	"github.com/telestore/relay/internal/remote"
	"github.com/telestore/relay/pkg/utils"
)

// Notifier reports finished transfers to the metadata store
type Notifier interface {
	NotifyUpload(ctx context.Context, n *backend.UploadNotification) error
}

// Dispatcher runs background transfers over a bounded worker pool.
// Completion requests return immediately; clients observe progress by
// polling the registry.
type Dispatcher struct {
	registry *Registry
	uploader remote.Uploader
	opener   remote.SessionOpener
	notifier Notifier

	smallObjectLimit int64
	queue            chan *UploadSession
	wg               sync.WaitGroup
	cancel           context.CancelFunc
}

// NewDispatcher creates a dispatcher and starts its workers
func NewDispatcher(registry *Registry, uploader remote.Uploader, opener remote.SessionOpener, notifier Notifier, smallObjectLimit int64, workers, queueSize int) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		registry:         registry,
		uploader:         uploader,
		opener:           opener,
		notifier:         notifier,
		smallObjectLimit: smallObjectLimit,
		queue:            make(chan *UploadSession, queueSize),
		cancel:           cancel,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}

	log.Info().
		Int("workers", workers).
		Int("queue_size", queueSize).
		Int64("small_object_limit", smallObjectLimit).
		Msg("transfer dispatcher started")

	return d
}

// Complete requests background dispatch of an upload. On an already
// completed session it returns the stored result without touching the
// remote store again; a session in flight is rejected.
func (d *Dispatcher) Complete(uploadID string) (*remote.SendResult, State, error) {
	sess, ok := d.registry.Get(uploadID)
	if !ok {
		return nil, "", ErrUnknownUpload
	}

	sess.mu.Lock()
	switch sess.state {
	case StateCompleted:
		result := sess.result
		sess.mu.Unlock()
		return result, StateCompleted, nil
	case StateDispatched, StateInProgress:
		sess.mu.Unlock()
		return nil, "", ErrAlreadyInProgress
	case StateFailed:
		lastErr := sess.lastErr
		sess.mu.Unlock()
		return nil, "", fmt.Errorf("%w: %v", ErrUploadFailed, lastErr)
	}
	sess.state = StateDispatched
	sess.mu.Unlock()

	select {
	case d.queue <- sess:
		return nil, StateDispatched, nil
	default:
		// admission refused: revert so the client may retry
		sess.mu.Lock()
		sess.state = StateReceived
		sess.mu.Unlock()
		return nil, "", ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for in-flight transfers
func (d *Dispatcher) Shutdown() {
	d.cancel()
	close(d.queue)
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	for {
		select {
		case sess, ok := <-d.queue:
			if !ok {
				return
			}
			d.run(ctx, sess)
		case <-ctx.Done():
			return
		}
	}
}

// run executes one transfer to its terminal state. Temp storage is
// removed on every exit path, success or failure.
func (d *Dispatcher) run(ctx context.Context, sess *UploadSession) {
	sess.markInProgress()

	defer func() {
		if err := os.Remove(sess.TempPath); err != nil && !os.IsNotExist(err) {
			// never mask the transfer outcome over a cleanup failure
			log.Warn().Err(err).Str("upload_id", sess.ID).Str("path", sess.TempPath).Msg("failed to remove temp file")
		}
	}()

	log.Info().
		Str("upload_id", sess.ID).
		Str("file_name", sess.FileName).
		Str("size", utils.FormatBytes(sess.Size)).
		Msg("starting remote transfer")

	var result *remote.SendResult
	var err error
	if sess.Size <= d.smallObjectLimit {
		result, err = d.sendStateless(ctx, sess)
	} else {
		result, err = d.sendSession(ctx, sess)
	}

	if err != nil {
		sess.fail(err)
		log.Error().Err(err).Str("upload_id", sess.ID).Msg("remote transfer failed")
		return
	}

	sess.complete(result)
	log.Info().
		Str("upload_id", sess.ID).
		Int64("message_id", result.MessageID).
		Str("object_id", result.ObjectID).
		Msg("remote transfer completed")

	d.notify(ctx, sess, result)
}

// sendStateless uses the single-request strategy for small objects
func (d *Dispatcher) sendStateless(ctx context.Context, sess *UploadSession) (*remote.SendResult, error) {
	file, err := os.Open(sess.TempPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open temp file: %w", err)
	}
	defer file.Close()

	return d.uploader.Send(ctx, sess.Credentials, sess.FileName, file, sess.Size)
}

// sendSession streams large objects over an authenticated session
func (d *Dispatcher) sendSession(ctx context.Context, sess *UploadSession) (*remote.SendResult, error) {
	file, err := os.Open(sess.TempPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open temp file: %w", err)
	}
	defer file.Close()

	remoteSess, err := d.opener.Open(ctx, sess.Credentials)
	if err != nil {
		return nil, err
	}
	defer remoteSess.Close()

	return remoteSess.SendStream(ctx, sess.FileName, file, sess.Size, func(sent, total int64) {
		if total > 0 {
			sess.setProgress(int(sent * 100 / total))
		}
	})
}

// notify reports the finished transfer to the metadata store. The
// transfer already succeeded, so a notify failure is only logged.
func (d *Dispatcher) notify(ctx context.Context, sess *UploadSession, result *remote.SendResult) {
	if d.notifier == nil {
		return
	}

	err := d.notifier.NotifyUpload(ctx, &backend.UploadNotification{
		UserID:    sess.UserID,
		FileName:  sess.FileName,
		MessageID: result.MessageID,
		FileID:    result.ObjectID,
		Size:      sess.Size,
		MimeType:  utils.ContentTypeFor(sess.FileName),
	})
	if err != nil {
		log.Warn().Err(err).Str("upload_id", sess.ID).Msg("failed to notify metadata store")
	}
}
