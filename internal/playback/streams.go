package playback

import (
	"math"
	"time"

	"github.com/zsiec/reel/internal/clock"
	"github.com/zsiec/reel/internal/decode"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/packet"
)

// runPrimary decodes and presents the stream that owns the playhead: video
// when there is any, audio otherwise. It paces itself with the frame timer
// and never moves past a frame it could not resolve.
func (c *Controller) runPrimary(r *run, s *stream, frame int64, step media.Direction, serial uint64) error {
	for {
		if c.halted(r) {
			return nil
		}
		if cur := c.seekSerial.Load(); cur != serial {
			serial = cur
			frame = c.seekFrame.Load()
			c.timer.Reset()
		}
		c.playhead.Store(frame)
		c.tick.broadcast()

		st := s.dec.Decode(r.ctx, frame, step)
		switch st {
		case decode.StatusLoopStart, decode.StatusLoopEnd:
			nf, ns, ok := c.afterLoop(r, st, step)
			if !ok {
				return nil
			}
			frame, step = nf, ns
			c.playhead.Store(frame)
			c.loops.Add(1)
			c.timer.Reset()
			continue
		case decode.StatusNoStream:
			return nil
		case decode.StatusMissingFrame, decode.StatusDone:
			if s.queue.Empty() {
				s.queue.Wait(c.frameDuration())
				continue
			}
			// A gap in the timeline: show the nearest frame and move on.
		case decode.StatusError:
			c.log.Debug("showing nearest frame after decode error", "frame", frame)
		}

		if !c.inRange(frame) {
			// Past the boundary: wait for the loop marker.
			s.queue.Wait(c.frameDuration())
			continue
		}
		c.present(r, s, frame, step, serial)
		c.evict(s.kind, frame, step)
		frame += int64(step)
	}
}

// runSecondary decodes a stream that follows the playhead. It processes a
// frame only once the primary stream has reached it, and drops frames it
// cannot resolve once the primary has moved past them.
func (c *Controller) runSecondary(r *run, s *stream, frame int64, step media.Direction, serial uint64) error {
	lastCue := int64(-1 << 62)
	loops := c.loops.Load()
	for {
		if c.halted(r) {
			return nil
		}
		if cur := c.seekSerial.Load(); cur != serial {
			serial = cur
			frame = c.seekFrame.Load()
		}

		moved := c.tick.wait()
		caughtUp := c.loops.Load() == loops
		ph := c.playhead.Load()
		ahead := (ph - frame) * int64(step)
		if !caughtUp || ahead < 0 {
			select {
			case <-r.ctx.Done():
				return nil
			case <-moved:
			case <-time.After(c.frameDuration()):
			}
			continue
		}
		if ahead > s.window {
			frame, ahead = ph, 0
		}

		st := s.dec.Decode(r.ctx, frame, step)
		switch st {
		case decode.StatusLoopStart, decode.StatusLoopEnd:
			nf, ns, ok := c.afterLoop(r, st, step)
			if !ok {
				return nil
			}
			frame, step = nf, ns
			loops++
			continue
		case decode.StatusNoStream:
			return nil
		case decode.StatusMissingFrame, decode.StatusDone:
			if ahead == 0 && s.queue.Empty() {
				s.queue.Wait(c.frameDuration())
				continue
			}
		}

		if !c.inRange(frame) {
			s.queue.Wait(c.frameDuration())
			continue
		}
		if st != decode.StatusMissingSamples {
			switch s.kind {
			case packet.StreamAudio:
				if r.foreground {
					c.FindAudio(frame)
				}
				c.clocks.UpdateAudio(c.seconds(frame), serial)
			case packet.StreamSubtitle:
				if sub, ok := c.FindSubtitle(frame); ok && sub.Frame != lastCue {
					lastCue = sub.Frame
					if r.foreground {
						c.emit(Event{Kind: EventSubtitle, Frame: frame, Direction: step, Text: sub.Text})
					}
				}
			}
		}
		c.evict(s.kind, frame, step)
		frame += int64(step)
	}
}

// afterLoop joins the loop rendezvous and applies the boundary policy the
// dispatcher published for it.
func (c *Controller) afterLoop(r *run, st decode.Status, step media.Direction) (int64, media.Direction, bool) {
	if !c.rendezvous(r) {
		return 0, 0, false
	}
	p := r.policy.Load()
	if p == nil {
		return 0, 0, false
	}
	nf, ns, stop := nextLoop(p.mode, st == decode.StatusLoopEnd, p.first, p.last, step)
	if stop {
		return 0, 0, false
	}
	return nf, ns, true
}

// present paces and shows one frame of the primary stream, queued under
// serial. A master clock still on another serial has not been set since
// the last seek and is not used for drift correction.
func (c *Controller) present(r *run, s *stream, frame int64, step media.Direction, serial uint64) {
	pts := c.seconds(frame)
	fps := c.fps * c.Speed()

	if s.kind == packet.StreamVideo {
		hasAudio := c.byKind[packet.StreamAudio] != nil
		diff := math.NaN()
		if master := c.clocks.MasterClock(true, hasAudio); master.Serial() == serial {
			diff = float64(step) * (pts - master.Get())
		}
		corr := clock.Correct(fps, diff)
		c.timer.SetFPS(corr.FPS)
		if !corr.SkipSleep {
			if err := c.timer.Wait(r.ctx); err != nil {
				return
			}
		}
		c.clocks.UpdateVideo(pts, serial)
		c.frame.Store(frame)
		if r.foreground {
			// A substitute picture is reported under its own frame.
			if img, ok := c.FindImage(frame); ok {
				c.emit(Event{Kind: EventFrameShown, Frame: img.Frame, Direction: step})
			}
		}
		return
	}

	c.timer.SetFPS(fps)
	if err := c.timer.Wait(r.ctx); err != nil {
		return
	}
	c.clocks.UpdateAudio(pts, serial)
	c.frame.Store(frame)
	if r.foreground {
		c.FindAudio(frame)
		c.emit(Event{Kind: EventFrameShown, Frame: frame, Direction: step})
	}
}

func (c *Controller) evict(kind packet.Stream, frame int64, dir media.Direction) {
	dts := c.dts.Load()
	switch kind {
	case packet.StreamVideo:
		c.video.EvictOutsideWindowDTS(frame, dts, dir)
	case packet.StreamAudio:
		c.audio.EvictOutsideWindowDTS(frame, dts, dir)
	case packet.StreamSubtitle:
		// Cues are kept behind the playhead while they may still be on
		// screen.
		if dir > 0 {
			c.subs.EvictOutsideWindowDTS(frame, frame-c.subs.Window().Size, dir)
		} else {
			c.subs.EvictOutsideWindowDTS(frame, dts, dir)
		}
	}
}
