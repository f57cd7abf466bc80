// Package media defines the decoded units that flow from a stream source's
// decoder into the playback caches: video pictures, audio sample blocks and
// subtitle cues, each keyed by timeline frame.
package media

import "time"

// Default per-stream queue budgets, in bytes of queued coded data. The
// dispatch goroutine stops reading once a stream crosses its budget.
const (
	VideoQueueBytes    = 5 * 2048 * 1024
	AudioQueueBytes    = 5 * 60 * 1024
	SubtitleQueueBytes = 5 * 30 * 1024
)

// VideoFrame is one decoded picture. Image holds whatever the source's
// decoder produced; for pass-through sources it is the Annex B access unit.
type VideoFrame struct {
	Frame    int64
	PTS      time.Duration
	Image    []byte
	Width    int
	Height   int
	Codec    string
	Keyframe bool
	// Repeat is how many timeline frames this picture covers (telecine or
	// repeated fields). Zero and one both mean a single frame.
	Repeat int
}

// FrameNumber implements cache.Entry.
func (f *VideoFrame) FrameNumber() int64 { return f.Frame }

// AudioFrame is the block of samples presented during one timeline frame.
type AudioFrame struct {
	Frame     int64
	PTS       time.Duration
	Samples   []byte
	Channels  int
	Frequency int
	Codec     string
}

// FrameNumber implements cache.Entry.
func (f *AudioFrame) FrameNumber() int64 { return f.Frame }

// Subtitle is a caption cue shown from Frame for Duration frames.
type Subtitle struct {
	Frame    int64
	Duration int64
	Text     string
	Channel  int
}

// FrameNumber implements cache.Entry.
func (s *Subtitle) FrameNumber() int64 { return s.Frame }

// Covers reports whether the cue is on screen at frame f.
func (s *Subtitle) Covers(f int64) bool {
	d := s.Duration
	if d < 1 {
		d = 1
	}
	return f >= s.Frame && f < s.Frame+d
}

// Unit is the result of decoding one packet. Exactly one field is set.
type Unit struct {
	Video    *VideoFrame
	Audio    *AudioFrame
	Subtitle *Subtitle
}

// Empty reports whether the decoder produced nothing for the packet.
func (u Unit) Empty() bool {
	return u.Video == nil && u.Audio == nil && u.Subtitle == nil
}

// Frame returns the timeline frame of whichever field is set.
func (u Unit) Frame() (int64, bool) {
	switch {
	case u.Video != nil:
		return u.Video.Frame, true
	case u.Audio != nil:
		return u.Audio.Frame, true
	case u.Subtitle != nil:
		return u.Subtitle.Frame, true
	}
	return 0, false
}
