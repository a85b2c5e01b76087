package avi

import (
	"errors"
	"fmt"

	"github.com/zsiec/avidemux/internal/riff"
)

// Sentinel errors. Structural problems are reported as *riff.FormatError
// and byte-stream failures as *riff.IOError; use riff.IsFormat and
// riff.IsIO to tell them apart.
var (
	ErrShortHeader = errors.New("avi: header too short")
	ErrNoStreams   = errors.New("avi: no stream declared")
	ErrNoVideo     = errors.New("avi: no usable video stream")
	ErrIndex       = errors.New("avi: index unusable")
	ErrIndexFull   = errors.New("avi: index full")
	ErrOutOfOrder  = errors.New("avi: index entry out of order")
	ErrEndOfStream = errors.New("avi: end of stream")
	ErrClosed      = errors.New("avi: demuxer closed")
)

func formatError(reason string, pos int64, err error) error {
	return &riff.FormatError{Reason: reason, Pos: pos, Err: err}
}

// StreamError attaches a stream number to an error.
type StreamError struct {
	Stream int
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("avi: stream %d: %v", e.Stream, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
