package ts

import (
	"slices"

	"github.com/zsiec/reel/internal/source"
)

const (
	clockRate = 90000
	ptsWrap   = int64(1) << 33
)

// estimateFPS derives a frame rate from presentation timestamps in any
// order: the median gap between distinct sorted timestamps, snapped to a
// common rate. It returns 0 with fewer than two distinct timestamps.
func estimateFPS(pts []int64) float64 {
	sorted := slices.Clone(pts)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	if len(sorted) < 2 {
		return 0
	}
	gaps := make([]int64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, sorted[i]-sorted[i-1])
	}
	slices.Sort(gaps)
	fps := clockRate / float64(gaps[len(gaps)/2])
	return source.SnapFPS(fps)
}

// unwrap extends a 33-bit timestamp past a rollover relative to ref.
func unwrap(ts, ref int64) int64 {
	if ts < ref-ptsWrap/2 {
		return ts + ptsWrap
	}
	return ts
}

// indexEntry locates one access unit of the seekable stream.
type indexEntry struct {
	frame    int64
	offset   int64
	keyframe bool
}

// index records the access units of the primary stream in file order. It
// grows as the stream is read, so it only covers what has been read unless
// complete is set.
type index struct {
	entries  []indexEntry
	complete bool
}

func (x *index) add(e indexEntry) {
	if n := len(x.entries); n > 0 && e.offset <= x.entries[n-1].offset {
		return // already indexed
	}
	x.entries = append(x.entries, e)
}

// resume returns the offset to continue indexing from.
func (x *index) resume() int64 {
	if len(x.entries) == 0 {
		return 0
	}
	return x.entries[len(x.entries)-1].offset
}

// covers reports whether a seek to frame can be resolved from the index:
// a landing unit past frame is indexed or the index is complete.
// Keyframes are indexed in presentation order.
func (x *index) covers(frame int64, anyUnit bool) bool {
	if x.complete {
		return true
	}
	for i := len(x.entries) - 1; i >= 0; i-- {
		if e := x.entries[i]; (anyUnit || e.keyframe) && e.frame > frame {
			return true
		}
	}
	return false
}

// find returns the entry to resume reading at for frame: the last keyframe
// (or any unit when anyUnit is set) at or before it. ok is false when there is
// none, in which case the first entry is returned.
func (x *index) find(frame int64, anyUnit bool) (indexEntry, bool) {
	if len(x.entries) == 0 {
		return indexEntry{}, false
	}
	for i := len(x.entries) - 1; i >= 0; i-- {
		if e := x.entries[i]; (anyUnit || e.keyframe) && e.frame <= frame {
			return e, true
		}
	}
	return x.entries[0], false
}
