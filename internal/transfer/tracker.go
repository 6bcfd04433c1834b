package transfer

// Progress is the polling view over one upload session
type Progress struct {
	State     State
	Percent   int
	MessageID int64
	FileID    string
	Error     string
}

// Progress reads the committed state of an upload. It never exposes a
// partially-written transition: the snapshot is taken under the
// session mutex the dispatcher writes with.
func (r *Registry) Progress(uploadID string) (*Progress, error) {
	sess, ok := r.Get(uploadID)
	if !ok {
		return nil, ErrUnknownUpload
	}

	snap := sess.Snapshot()
	p := &Progress{
		State:   snap.State,
		Percent: snap.Progress,
	}
	if snap.Result != nil {
		p.MessageID = snap.Result.MessageID
		p.FileID = snap.Result.ObjectID
	}
	if snap.Err != nil {
		p.Error = snap.Err.Error()
	}
	return p, nil
}
