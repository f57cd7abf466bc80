package playback

import (
	"github.com/zsiec/reel/internal/cache"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/packet"
)

// nearest returns the cached entry closest to f. Ties go to the entry
// behind f in the playback direction.
func nearest[T cache.Entry](s *cache.Store[T], f int64, dir media.Direction) (T, bool) {
	lo, lok := s.Floor(f)
	hi, hok := s.Ceil(f)
	switch {
	case !lok:
		return hi, hok
	case !hok:
		return lo, true
	}
	dl, dh := f-lo.FrameNumber(), hi.FrameNumber()-f
	if dl < dh || (dl == dh && dir >= 0) {
		return lo, true
	}
	return hi, true
}

// FindImage returns the picture for frame f, or the nearest cached one.
func (c *Controller) FindImage(f int64) (*media.VideoFrame, bool) {
	if img, ok := c.video.Lookup(f); ok {
		return img, true
	}
	img, ok := nearest(c.video, f, c.Direction())
	if ok {
		c.log.Warn("frame not cached, using nearest", "frame", f, "nearest", img.Frame)
	}
	return img, ok
}

// FindAudio hands the samples for frame f, or the nearest cached block, to
// the audio sink. It reports whether any block was found.
func (c *Controller) FindAudio(f int64) bool {
	a, ok := c.audio.Lookup(f)
	if !ok {
		if a, ok = nearest(c.audio, f, c.Direction()); !ok {
			return false
		}
		c.log.Warn("audio not cached, using nearest", "frame", f, "nearest", a.Frame)
	}
	if sink := c.audioSink(); sink != nil {
		if err := sink.PlayAudio(a); err != nil {
			c.log.Warn("audio sink failed", "frame", f, "error", err)
		}
	}
	return true
}

// FindSubtitle returns the cue on screen at frame f.
func (c *Controller) FindSubtitle(f int64) (*media.Subtitle, bool) {
	sub, ok := c.subs.Floor(f)
	if !ok || !sub.Covers(f) {
		return nil, false
	}
	return sub, true
}

// IsCacheFilled reports whether every picture and audio stream has frame f
// cached. Subtitles are sparse and never block playback.
func (c *Controller) IsCacheFilled(f int64) bool {
	if c.byKind[packet.StreamVideo] != nil && !c.video.Contains(f) {
		return false
	}
	if c.byKind[packet.StreamAudio] != nil && !c.audio.Contains(f) {
		return false
	}
	return true
}
