package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/zsiec/reel/internal/decode"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/packet"
	"github.com/zsiec/reel/internal/source"
)

// dispatch reads packets for frame next onward, keeping the queues ahead of
// the playhead by at most one cache window.
func (c *Controller) dispatch(r *run, next int64, step media.Direction) error {
	for {
		if c.halted(r) {
			return nil
		}

		if c.seekReq.Swap(false) {
			target := c.clamp(c.seekTarget.Load())
			if err := c.doSeek(r.ctx, target, step); err != nil {
				if r.ctx.Err() != nil {
					return nil
				}
				return c.fail(r, err)
			}
			next = target + int64(step)
			continue
		}

		if !c.live && (next > c.last.Load() || next < c.first) {
			nf, ns, stop, ok := c.loopBoundary(r, next > c.last.Load(), step)
			if !ok {
				return nil
			}
			if stop {
				c.finish(r)
				return nil
			}
			c.resetReadState()
			next, step = nf, ns
			continue
		}

		if !c.throttle(r, next, step) {
			continue
		}

		c.dts.Store(next)
		err := c.fetch(r.ctx, next, step)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			if !c.endOfSource() {
				c.finish(r)
				return nil
			}
		case r.ctx.Err() != nil:
			return nil
		default:
			return c.fail(r, err)
		}
		next += int64(step)
	}
}

// loopBoundary marks the boundary in every queue, joins the rendezvous and
// applies the loop policy.
func (c *Controller) loopBoundary(r *run, atEnd bool, step media.Direction) (int64, media.Direction, bool, bool) {
	p := &loopPolicy{mode: c.LoopMode(), first: c.first, last: c.last.Load()}
	r.policy.Store(p)
	for _, s := range c.streams {
		if atEnd {
			s.queue.LoopAtEnd(p.last + 1)
		} else {
			s.queue.LoopAtStart(p.first - 1)
		}
	}
	r.barrier.SetCount(uint(1 + len(c.streams)))
	if !c.rendezvous(r) {
		return 0, 0, false, false
	}

	nf, ns, stop := nextLoop(p.mode, atEnd, p.first, p.last, step)
	if !stop {
		// The next pass is throttled against the new playhead, and
		// pictures left over from this pass must not count as cached.
		c.playhead.Store(nf)
		c.dts.Store(nf)
		c.video.EvictOutsideWindowDTS(nf, nf, ns)
		c.audio.EvictOutsideWindowDTS(nf, nf, ns)
		c.setDirection(ns)
		c.log.Debug("loop", "frame", nf, "direction", ns.String(), "mode", p.mode.String())
		c.emit(Event{Kind: EventLoop, Frame: nf, Direction: ns})
	}
	return nf, ns, stop, true
}

// throttle blocks while dispatch is too far ahead of the playhead or a
// queue is over budget. It reports false if a seek or stop interrupted it.
func (c *Controller) throttle(r *run, next int64, step media.Direction) bool {
	logged := false
	for {
		if c.halted(r) || c.seekReq.Load() {
			return false
		}
		lead := (next - c.playhead.Load()) * int64(step)
		full := c.buffersFull()
		if lead <= c.lead && !full {
			return true
		}
		if full && !logged {
			c.log.Debug("queue budget reached", "frame", next, "status", decode.StatusBufferFull.String())
			logged = true
		}
		select {
		case <-r.ctx.Done():
			return false
		case <-c.tick.wait():
		case <-time.After(bufferFullWait):
		}
	}
}

// buffersFull reports whether any queue is over budget. A starving primary
// stream overrides the budget of the others.
func (c *Controller) buffersFull() bool {
	if c.primary.queue.Empty() {
		return false
	}
	for _, s := range c.streams {
		if errors.Is(s.queue.Admit(), packet.ErrBufferFull) {
			return true
		}
	}
	return false
}

func (c *Controller) allCached(f int64) bool {
	return c.IsCacheFilled(f)
}

// fetch makes the packets for frame f available to the decoders: nothing
// to do if it is cached or already queued, a sequential read if it is at
// most one window past the read position, and a seek otherwise. Positions
// are in decode order.
func (c *Controller) fetch(ctx context.Context, f int64, step media.Direction) error {
	if c.allCached(f) {
		return nil
	}
	if step > 0 && f >= c.readFrom && f < c.expected {
		return nil
	}
	if step > 0 && c.expected > math.MinInt64 && f >= c.expected && f <= c.expected+c.lead {
		return c.queuePackets(ctx, f)
	}
	return c.seekToPosition(ctx, f, step < 0)
}

func (c *Controller) resetReadState() {
	c.readFrom = math.MaxInt64
	c.expected = math.MinInt64
	c.maxRead = math.MinInt64
}

// route queues p for its stream. Data shown outside the timeline is
// dropped so that nothing sits in front of a loop marker.
func (c *Controller) route(p *packet.Packet) {
	if p.Kind == packet.KindData && !c.live && !c.inRange(p.Frame()) {
		return
	}
	if s := c.byKind[p.Stream]; s != nil {
		s.queue.Push(p)
	}
}

// readUntil pushes packets until the primary stream reaches target in
// decode order, at which point every picture shown at or before target has
// been read. It returns io.EOF at the end of the source.
func (c *Controller) readUntil(ctx context.Context, target int64) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := c.src.ReadPacket(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.exhausted.Store(true)
				return io.EOF
			}
			return fmt.Errorf("read packet: %w", err)
		}
		c.route(p)
		if p.Stream != c.primary.kind || p.Kind != packet.KindData {
			continue
		}
		f := p.DecodeFrame()
		c.readFrom = min(c.readFrom, f)
		c.maxRead = max(c.maxRead, p.Frame())
		c.expected = max(c.expected, f+1)
		if f >= target {
			return nil
		}
	}
}

func (c *Controller) queuePackets(ctx context.Context, f int64) error {
	return c.readUntil(ctx, f)
}

// seekToPosition repositions the source at the keyframe before f and
// queues a seek (or, for backward playback, a preroll) window ending at f.
func (c *Controller) seekToPosition(ctx context.Context, f int64, preroll bool) error {
	for _, s := range c.streams {
		s.queue.Clear()
	}
	c.exhausted.Store(false)
	c.resetReadState()

	if err := c.src.Seek(ctx, c.primary.kind, f, source.SeekBackward); err != nil {
		if !errors.Is(err, source.ErrSeekNotFound) && !errors.Is(err, source.ErrNotSeekable) {
			return fmt.Errorf("seek source to %d: %w", f, err)
		}
		c.log.Warn("seek landed off target", "frame", f, "error", err)
	}

	for _, s := range c.streams {
		if preroll {
			s.queue.Preroll(f)
		} else {
			s.queue.SeekBegin(f)
		}
	}
	err := c.readUntil(ctx, f)
	for _, s := range c.streams {
		s.queue.SeekEnd(f)
	}
	return err
}

// doSeek moves every participant to target. Queues are only rebuilt when
// the target is not already cached.
func (c *Controller) doSeek(ctx context.Context, target int64, step media.Direction) error {
	if !c.allCached(target) {
		if err := c.seekToPosition(ctx, target, step < 0); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	} else {
		// Only what is still queued remains readable without a seek.
		front, err := c.primary.queue.Front()
		if err == nil && front.Kind == packet.KindData {
			c.readFrom = max(c.readFrom, front.DecodeFrame())
		} else {
			c.readFrom = c.expected
		}
	}
	c.seekFrame.Store(target)
	serial := c.seekSerial.Add(1)
	c.frame.Store(target)
	c.playhead.Store(target)
	c.dts.Store(target)
	c.clocks.Reset(c.seconds(target), serial)
	c.timer.Reset()
	c.tick.broadcast()
	c.emit(Event{Kind: EventSeek, Frame: target, Direction: c.Direction()})
	return nil
}

// endOfSource handles io.EOF from the source. It trims the timeline to the
// last picture actually read and reports whether playback can go on to the
// frames already queued.
func (c *Controller) endOfSource() bool {
	c.exhausted.Store(true)
	if c.live || c.maxRead < c.first {
		return false
	}
	if c.maxRead < c.last.Load() {
		c.log.Info("source ended before its last frame", "frame", c.maxRead, "last", c.last.Load())
		c.last.Store(c.maxRead)
	}
	return true
}
