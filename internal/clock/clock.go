// Package clock keeps the presentation clocks used to keep video, audio and
// an external reference in step, and the frame pacer that drives display.
package clock

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"
)

const (
	// SyncThreshold is the minimum drift, in seconds, that triggers a
	// correction.
	SyncThreshold = 0.04
	// NoSyncThreshold is the drift beyond which clocks are considered
	// unrelated and no correction is attempted.
	NoSyncThreshold = 10.0
)

var epoch = time.Now()

func monotonic() float64 {
	return time.Since(epoch).Seconds()
}

type clockState struct {
	pts         float64
	ptsDrift    float64
	lastUpdated float64
	speed       float64
	serial      uint64
}

// Clock is a presentation clock in seconds that keeps running between
// updates at its speed. Reads and writes are lock-free.
type Clock struct {
	state atomic.Pointer[clockState]
	now   func() float64
}

// New returns a clock reading 0 at speed 1.
func New() *Clock {
	return newWithNow(monotonic)
}

func newWithNow(now func() float64) *Clock {
	c := &Clock{now: now}
	t := now()
	c.state.Store(&clockState{speed: 1, lastUpdated: t, ptsDrift: -t})
	return c
}

// Get returns the current clock value.
func (c *Clock) Get() float64 {
	return c.getAt(c.now())
}

func (c *Clock) getAt(t float64) float64 {
	s := c.state.Load()
	return s.ptsDrift + t - (t-s.lastUpdated)*(1-s.speed)
}

// Set sets the clock to pts as of now.
func (c *Clock) Set(pts float64) {
	c.SetAt(pts, c.now())
}

// SetAt sets the clock to pts as of time t on the clock's time base.
func (c *Clock) SetAt(pts, t float64) {
	s := c.state.Load()
	c.state.Store(&clockState{pts: pts, ptsDrift: pts - t, lastUpdated: t, speed: s.speed, serial: s.serial})
}

// Restart sets the clock to pts and moves it to serial. Values recorded
// under an older serial belong to packets queued before a seek.
func (c *Clock) Restart(pts float64, serial uint64) {
	t := c.now()
	s := c.state.Load()
	c.state.Store(&clockState{pts: pts, ptsDrift: pts - t, lastUpdated: t, speed: s.speed, serial: serial})
}

// Update sets the clock to pts for a frame queued under serial. A frame
// from an older serial is stale and leaves the clock alone; Update reports
// whether the value was taken.
func (c *Clock) Update(pts float64, serial uint64) bool {
	s := c.state.Load()
	if serial < s.serial {
		return false
	}
	t := c.now()
	c.state.Store(&clockState{pts: pts, ptsDrift: pts - t, lastUpdated: t, speed: s.speed, serial: serial})
	return true
}

// Serial returns the generation of the last Restart or Update.
func (c *Clock) Serial() uint64 {
	return c.state.Load().serial
}

// PTS returns the value of the last Set.
func (c *Clock) PTS() float64 {
	return c.state.Load().pts
}

// Speed returns the clock speed.
func (c *Clock) Speed() float64 {
	return c.state.Load().speed
}

// SetSpeed changes the rate at which the clock advances without a jump in
// its current value.
func (c *Clock) SetSpeed(speed float64) {
	t := c.now()
	s := c.state.Load()
	v := c.getAt(t)
	c.state.Store(&clockState{pts: v, ptsDrift: v - t, lastUpdated: t, speed: speed, serial: s.serial})
}

// SyncToSlave snaps c to slave when they have drifted further apart than
// NoSyncThreshold.
func (c *Clock) SyncToSlave(slave *Clock) {
	t := c.now()
	v, sv := c.getAt(t), slave.getAt(t)
	if math.IsNaN(sv) {
		return
	}
	if math.IsNaN(v) || math.Abs(v-sv) > NoSyncThreshold {
		ss := slave.state.Load()
		c.state.Store(&clockState{pts: sv, ptsDrift: sv - t, lastUpdated: t, speed: c.Speed(), serial: ss.serial})
	}
}

// SyncType selects which clock is the master.
type SyncType int

const (
	SyncAudio SyncType = iota
	SyncVideo
	SyncExternal
)

func (s SyncType) String() string {
	switch s {
	case SyncAudio:
		return "audio"
	case SyncVideo:
		return "video"
	case SyncExternal:
		return "external"
	default:
		return fmt.Sprintf("SyncType(%d)", int(s))
	}
}

// ParseSyncType parses the names returned by SyncType.String.
func ParseSyncType(s string) (SyncType, error) {
	switch strings.ToLower(s) {
	case "audio", "":
		return SyncAudio, nil
	case "video":
		return SyncVideo, nil
	case "external":
		return SyncExternal, nil
	}
	return SyncAudio, fmt.Errorf("unknown sync type %q", s)
}

// Clocks groups the per-stream clocks of one playback.
type Clocks struct {
	Video    *Clock
	Audio    *Clock
	External *Clock
	Sync     SyncType
}

// NewClocks returns a set of running clocks with the preferred master.
func NewClocks(sync SyncType) *Clocks {
	return &Clocks{Video: New(), Audio: New(), External: New(), Sync: sync}
}

// MasterType resolves the preferred master against the streams present:
// a video master without video falls back to audio, and an audio master
// without audio falls back to the external clock.
func (c *Clocks) MasterType(hasVideo, hasAudio bool) SyncType {
	switch c.Sync {
	case SyncVideo:
		if hasVideo {
			return SyncVideo
		}
		return SyncAudio
	case SyncAudio:
		if hasAudio {
			return SyncAudio
		}
		return SyncExternal
	default:
		return SyncExternal
	}
}

// MasterClock returns the resolved master clock.
func (c *Clocks) MasterClock(hasVideo, hasAudio bool) *Clock {
	switch c.MasterType(hasVideo, hasAudio) {
	case SyncVideo:
		return c.Video
	case SyncAudio:
		return c.Audio
	default:
		return c.External
	}
}

// Master returns the value of the resolved master clock.
func (c *Clocks) Master(hasVideo, hasAudio bool) float64 {
	return c.MasterClock(hasVideo, hasAudio).Get()
}

// UpdateVideo records a displayed video pts queued under serial and drags
// the external clock along when it has wandered off. Stale frames are
// ignored.
func (c *Clocks) UpdateVideo(pts float64, serial uint64) {
	if c.Video.Update(pts, serial) {
		c.External.SyncToSlave(c.Video)
	}
}

// UpdateAudio records a played audio pts queued under serial.
func (c *Clocks) UpdateAudio(pts float64, serial uint64) {
	if c.Audio.Update(pts, serial) {
		c.External.SyncToSlave(c.Audio)
	}
}

// SetSpeed changes the speed of every clock.
func (c *Clocks) SetSpeed(speed float64) {
	c.Video.SetSpeed(speed)
	c.Audio.SetSpeed(speed)
	c.External.SetSpeed(speed)
}

// Reset restarts every clock at pts under serial.
func (c *Clocks) Reset(pts float64, serial uint64) {
	c.Video.Restart(pts, serial)
	c.Audio.Restart(pts, serial)
	c.External.Restart(pts, serial)
}

// Correction is the adjustment applied to the next video frame.
type Correction struct {
	// FPS is the pacing rate for this frame.
	FPS float64
	// SkipSleep drops the pacer wait so video can catch up.
	SkipSleep bool
}

// Correct computes the drift correction for a video frame that is diff
// seconds ahead of the master clock, already multiplied by the playback
// direction. Positive diff slows video down and negative diff lets it skip
// the wait. A slowdown that would stop the pacer is not applied.
func Correct(fps, diff float64) Correction {
	c := Correction{FPS: fps}
	if fps <= 0 || math.IsNaN(diff) || math.Abs(diff) >= NoSyncThreshold {
		return c
	}
	threshold := max(SyncThreshold, 1/fps)
	switch {
	case diff <= -threshold:
		c.SkipSleep = true
	case diff >= threshold:
		if slowed := fps - diff/fps; slowed > 0 {
			c.FPS = slowed
		}
	}
	return c
}
