// Package download streams remote objects to clients with byte-range
// support and cooperative cancellation on consumer disconnect.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/telestore/relay/internal/remote"
	"github.com/telestore/relay/pkg/utils"
)

// Request describes one download. It has no identity beyond the
// request lifetime.
type Request struct {
	MessageID   int64
	Credentials *remote.Credentials
	FileName    string
	RangeHeader string
}

// Relay pipes object bytes from a remote session to the consumer as
// they arrive, block by block, rather than buffering the object.
type Relay struct {
	opener    remote.SessionOpener
	blockSize int64
}

// NewRelay creates a download relay
func NewRelay(opener remote.SessionOpener, blockSize int64) *Relay {
	return &Relay{opener: opener, blockSize: blockSize}
}

// Stream serves one download onto w. Errors returned here happened
// before any response byte was written, so the caller can still frame
// a clean error response: remote.ErrObjectNotFound, ErrInvalidRange,
// or a session failure. Once headers are out, a mid-stream failure
// can only terminate the stream early; that is logged, not returned.
func (r *Relay) Stream(ctx context.Context, w http.ResponseWriter, req *Request) error {
	sess, err := r.opener.Open(ctx, req.Credentials)
	if err != nil {
		return err
	}
	defer sess.Close()

	totalSize, err := sess.ObjectSize(ctx, req.MessageID)
	if err != nil {
		return err
	}

	window := &ByteRange{Start: 0, End: totalSize - 1}
	ranged := req.RangeHeader != ""
	if ranged {
		window, err = ParseRange(req.RangeHeader, totalSize)
		if err != nil {
			return err
		}
	}

	reader, err := sess.ReadRange(ctx, req.MessageID, window.Start, window.Length())
	if err != nil {
		return err
	}
	defer reader.Close()

	header := w.Header()
	header.Set("Content-Type", utils.ContentTypeFor(req.FileName))
	header.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", req.FileName))
	header.Set("Accept-Ranges", "bytes")
	header.Set("Content-Length", strconv.FormatInt(window.Length(), 10))
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Accel-Buffering", "no")

	if ranged {
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", window.Start, window.End, totalSize))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	r.copyBlocks(ctx, w, reader, req, window.Length())
	return nil
}

// copyBlocks pipes the window to the consumer one block at a time,
// checking for disconnect at each block boundary so an abandoned
// download stops consuming remote bandwidth
func (r *Relay) copyBlocks(ctx context.Context, w http.ResponseWriter, reader io.Reader, req *Request, want int64) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, r.blockSize)
	var sent int64

	for sent < want {
		select {
		case <-ctx.Done():
			// consumer went away; not an error
			log.Debug().
				Int64("message_id", req.MessageID).
				Int64("sent", sent).
				Msg("consumer disconnected, stopping download stream")
			return
		default:
		}

		n, err := reader.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				log.Debug().
					Err(werr).
					Int64("message_id", req.MessageID).
					Int64("sent", sent).
					Msg("consumer write failed, stopping download stream")
				return
			}
			sent += int64(n)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			// headers are already out; the stream just ends early
			log.Error().
				Err(err).
				Int64("message_id", req.MessageID).
				Int64("sent", sent).
				Int64("want", want).
				Msg("remote read failed mid-stream")
			return
		}
	}

	log.Debug().
		Int64("message_id", req.MessageID).
		Int64("sent", sent).
		Msg("download stream finished")
}
