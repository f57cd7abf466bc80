// Package packet defines coded packets and the per-stream queue that carries
// them, interleaved with control sentinels, from the dispatch goroutine to a
// stream decoder.
package packet

import (
	"fmt"
	"time"
)

// Stream identifies which elementary stream a packet belongs to.
type Stream uint8

const (
	StreamVideo Stream = iota
	StreamAudio
	StreamSubtitle
)

func (s Stream) String() string {
	switch s {
	case StreamVideo:
		return "video"
	case StreamAudio:
		return "audio"
	case StreamSubtitle:
		return "subtitle"
	default:
		return fmt.Sprintf("stream(%d)", uint8(s))
	}
}

// Kind tags a packet as coded data or as one of the in-band control
// sentinels. Sentinels carry a timestamp but never a payload.
type Kind uint8

const (
	KindData Kind = iota
	KindFlush
	KindSeekBegin
	KindSeekEnd
	KindPreroll
	KindLoopStart
	KindLoopEnd
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindFlush:
		return "flush"
	case KindSeekBegin:
		return "seek_begin"
	case KindSeekEnd:
		return "seek_end"
	case KindPreroll:
		return "preroll"
	case KindLoopStart:
		return "loop_start"
	case KindLoopEnd:
		return "loop_end"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsSentinel reports whether k is a control marker rather than coded data.
func (k Kind) IsSentinel() bool { return k != KindData }

// Packet is a coded unit or a control sentinel. PTS and DTS are expressed
// in timeline frames; Time is the presentation time the source derived them
// from.
type Packet struct {
	Stream   Stream
	Kind     Kind
	PTS      int64
	DTS      int64
	Time     time.Duration
	Duration int64
	Keyframe bool
	Payload  []byte
	Size     int
}

// Frame returns the timeline frame this packet presents at. Decoded units
// are cached under it.
func (p *Packet) Frame() int64 { return p.PTS }

// DecodeFrame returns the frame at which the packet enters decode order.
// Queues are consumed in this order; it trails Frame for pictures that are
// decoded ahead of the ones they are shown after.
func (p *Packet) DecodeFrame() int64 { return p.DTS }

// NewData builds a Data packet whose Size is the payload length.
func NewData(stream Stream, pts, dts int64, payload []byte) *Packet {
	return &Packet{
		Stream:  stream,
		Kind:    KindData,
		PTS:     pts,
		DTS:     dts,
		Payload: payload,
		Size:    len(payload),
	}
}

// NewSentinel builds a payload-free control packet stamped with ts.
func NewSentinel(stream Stream, kind Kind, ts int64) *Packet {
	return &Packet{
		Stream: stream,
		Kind:   kind,
		PTS:    ts,
		DTS:    ts,
	}
}

func (p *Packet) String() string {
	if p.Kind.IsSentinel() {
		return fmt.Sprintf("%s %s@%d", p.Stream, p.Kind, p.DTS)
	}
	return fmt.Sprintf("%s data pts=%d dts=%d size=%d", p.Stream, p.PTS, p.DTS, p.Size)
}
