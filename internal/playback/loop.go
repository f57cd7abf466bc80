package playback

import (
	"fmt"
	"strings"

	"github.com/zsiec/reel/internal/media"
)

// LoopMode decides what happens when playback crosses a timeline boundary.
type LoopMode int

const (
	LoopNone LoopMode = iota
	Loop
	PingPong
)

func (m LoopMode) String() string {
	switch m {
	case LoopNone:
		return "none"
	case Loop:
		return "loop"
	case PingPong:
		return "pingpong"
	}
	return fmt.Sprintf("LoopMode(%d)", int(m))
}

// ParseLoopMode parses the names returned by LoopMode.String.
func ParseLoopMode(s string) (LoopMode, error) {
	switch strings.ToLower(s) {
	case "none", "stop", "":
		return LoopNone, nil
	case "loop":
		return Loop, nil
	case "pingpong", "ping-pong", "swing":
		return PingPong, nil
	}
	return LoopNone, fmt.Errorf("unknown loop mode %q", s)
}

// nextLoop is the boundary policy every participant applies after the loop
// rendezvous. atEnd is true past the last frame and false before the first.
// It returns the frame to continue from, the new step, and whether playback
// stops instead.
func nextLoop(mode LoopMode, atEnd bool, first, last int64, step media.Direction) (int64, media.Direction, bool) {
	switch mode {
	case Loop:
		if atEnd {
			return first, step, false
		}
		return last, step, false
	case PingPong:
		if atEnd {
			return last, -step, false
		}
		return first, -step, false
	default:
		if atEnd {
			return last, step, true
		}
		return first, step, true
	}
}
