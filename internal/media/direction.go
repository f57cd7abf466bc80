package media

import (
	"fmt"
	"strings"
)

// Direction is the playback direction along the timeline. Its value is the
// per-frame step.
type Direction int

const (
	Backward Direction = -1
	Stopped  Direction = 0
	Forward  Direction = 1
)

func (d Direction) String() string {
	switch {
	case d > 0:
		return "forward"
	case d < 0:
		return "backward"
	default:
		return "stopped"
	}
}

// MarshalText renders the direction by name in JSON.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ParseDirection accepts forward, backward and their one-letter forms.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "forward", "f", "":
		return Forward, nil
	case "backward", "b", "reverse":
		return Backward, nil
	}
	return Stopped, fmt.Errorf("unknown direction %q", s)
}
