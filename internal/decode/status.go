// Package decode turns queued packets into cached units for one stream,
// interpreting the control sentinels the dispatcher interleaves with data.
package decode

import (
	"errors"
	"fmt"
	"time"

	"github.com/zsiec/reel/internal/packet"
)

// Status is the outcome of one Decode call.
type Status int

const (
	StatusOK Status = iota
	StatusMissingFrame
	StatusDone
	StatusError
	StatusMissingSamples
	StatusNoStream
	StatusLoopStart
	StatusLoopEnd
	StatusBufferFull
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusMissingFrame:
		return "missing-frame"
	case StatusDone:
		return "done"
	case StatusError:
		return "error"
	case StatusMissingSamples:
		return "missing-samples"
	case StatusNoStream:
		return "no-stream"
	case StatusLoopStart:
		return "loop-start"
	case StatusLoopEnd:
		return "loop-end"
	case StatusBufferFull:
		return "buffer-full"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// IsLoop reports whether s is a loop boundary.
func (s Status) IsLoop() bool {
	return s == StatusLoopStart || s == StatusLoopEnd
}

var (
	ErrMissingFrame   = errors.New("decode: missing frame")
	ErrMissingSamples = errors.New("decode: missing samples")
	ErrNoStream       = errors.New("decode: no stream")
	ErrCodec          = errors.New("decode: codec failure")
)

// Err maps the failure statuses to their sentinel errors.
func (s Status) Err() error {
	switch s {
	case StatusMissingFrame:
		return ErrMissingFrame
	case StatusMissingSamples:
		return ErrMissingSamples
	case StatusNoStream:
		return ErrNoStream
	case StatusError:
		return ErrCodec
	}
	return nil
}

// DecodeError is a codec failure on one packet. It matches ErrCodec with
// errors.Is as well as the underlying error.
type DecodeError struct {
	Stream packet.Stream
	Frame  int64
	PTS    time.Duration
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s frame %d (pts %v): %v", e.Stream, e.Frame, e.PTS, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrCodec, e.Err}
}
