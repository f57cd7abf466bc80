package playback

import (
	"time"

	"github.com/zsiec/reel/internal/media"
)

// EventKind classifies playback events.
type EventKind int

const (
	EventFrameShown EventKind = iota
	EventSubtitle
	EventSeek
	EventLoop
	EventStop
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventFrameShown:
		return "frame"
	case EventSubtitle:
		return "subtitle"
	case EventSeek:
		return "seek"
	case EventLoop:
		return "loop"
	case EventStop:
		return "stop"
	case EventError:
		return "error"
	}
	return "unknown"
}

// MarshalText renders the kind by name in JSON.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is a notable change in a playback session.
type Event struct {
	Kind      EventKind       `json:"kind"`
	Frame     int64           `json:"frame"`
	Direction media.Direction `json:"direction"`
	Time      time.Time       `json:"time"`
	Text      string          `json:"text,omitempty"`
	Err       string          `json:"error,omitempty"`
}

// Observer receives events from playback goroutines. OnEvent must not
// block; it is called inline with presentation.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// AudioSink plays decoded audio blocks.
type AudioSink interface {
	PlayAudio(frame *media.AudioFrame) error
}
