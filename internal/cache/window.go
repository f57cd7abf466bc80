package cache

import "github.com/zsiec/reel/internal/media"

// Window is the retention policy of a store. Size is the number of frames
// kept ahead of the playhead; First and Last bound the timeline and only
// clamp the stopped window.
type Window struct {
	Size  int64
	First int64
	Last  int64
}

// VideoWindow and AudioWindow return the default windows for a source
// running at fps frames per second.
func VideoWindow(fps float64, first, last int64) Window {
	return Window{Size: windowFrames(2 * fps), First: first, Last: last}
}

func AudioWindow(fps float64, first, last int64) Window {
	return Window{Size: windowFrames(fps), First: first, Last: last}
}

func windowFrames(v float64) int64 {
	n := int64(v + 0.5)
	if n < 1 {
		n = 1
	}
	return n
}

// Range returns the inclusive frame interval retained around f. Forward
// playback keeps [f, f+Size] and backward keeps [f-Size, f]; both stretch
// toward dts when it trails the playhead. Stopped keeps Size/2 on each side,
// clamped to the timeline but never excluding f.
func (w Window) Range(f, dts int64, dir media.Direction) (lo, hi int64) {
	switch {
	case dir > 0:
		lo, hi = f, f+w.Size
		if dts < lo {
			lo = dts
		}
	case dir < 0:
		lo, hi = f-w.Size, f
		if dts > hi {
			hi = dts
		}
	default:
		half := w.Size / 2
		lo, hi = f-half, f+half
		if w.Last > w.First {
			lo = max(lo, min(w.First, f))
			hi = min(hi, max(w.Last, f))
		}
	}
	return lo, hi
}
