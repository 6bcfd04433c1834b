package transfer

import "fmt"

// ErrUnknownUpload reports an operation against an upload id the
// relay has never seen
var ErrUnknownUpload = fmt.Errorf("upload not found")

// ErrAlreadyInProgress reports a completion request for an upload that
// is already dispatched or mid-transfer
var ErrAlreadyInProgress = fmt.Errorf("upload already in progress")

// ErrQueueFull reports that the dispatch queue refused admission
var ErrQueueFull = fmt.Errorf("transfer queue is full")

// ErrUploadFailed reports a completion request for an upload whose
// background transfer already failed terminally
var ErrUploadFailed = fmt.Errorf("upload failed")
