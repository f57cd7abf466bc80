package decode

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zsiec/reel/internal/cache"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/packet"
)

// DefaultSeekTimeout bounds how long a seek drain waits for the dispatcher
// to deliver the next packet.
const DefaultSeekTimeout = 2 * time.Second

// Codec is the decode half of a stream source.
type Codec interface {
	Decode(p *packet.Packet) (media.Unit, error)
	Flush(s packet.Stream)
}

// Cache is the per-stream store a decoder fills.
type Cache interface {
	// Put stores the unit if it belongs to this stream.
	Put(u media.Unit) bool
	Contains(frame int64) bool
}

// State is the decoder's position in its sentinel protocol.
type State int

const (
	StateIdle State = iota
	StateDraining
	StateDecoding
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateDecoding:
		return "decoding"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Config wires a Decoder to its stream.
type Config struct {
	Stream packet.Stream
	// Queue is nil when the source has no such stream.
	Queue *packet.Queue
	Codec Codec
	Cache Cache
	// Window is how far ahead of the playhead a packet may be decoded.
	Window int64
	// SeekTimeout bounds the wait for each packet during a seek drain.
	SeekTimeout time.Duration
	// Exhausted reports whether the dispatcher has read the whole source.
	Exhausted func() bool
	Log       *slog.Logger
}

// Decoder consumes one stream's queue. It is not safe for concurrent use;
// each stream goroutine owns its decoder.
type Decoder struct {
	cfg   Config
	log   *slog.Logger
	state State
}

// New creates a decoder. If cfg.Log is nil, slog.Default() is used.
func New(cfg Config) *Decoder {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.SeekTimeout <= 0 {
		cfg.SeekTimeout = DefaultSeekTimeout
	}
	if cfg.Exhausted == nil {
		cfg.Exhausted = func() bool { return false }
	}
	return &Decoder{
		cfg: cfg,
		log: cfg.Log.With("component", "decoder", "stream", cfg.Stream.String()),
	}
}

// State returns the decoder state after the last call.
func (d *Decoder) State() State { return d.state }

// Decode advances the queue until frame is available in the cache or the
// queue cannot make progress. dir is the current playback direction.
func (d *Decoder) Decode(ctx context.Context, frame int64, dir media.Direction) Status {
	q := d.cfg.Queue
	if q == nil {
		return StatusNoStream
	}

	for {
		if ctx.Err() != nil {
			d.state = StateIdle
			return d.emptyStatus(frame)
		}
		p, err := q.Front()
		if err != nil {
			d.state = StateIdle
			return d.emptyStatus(frame)
		}

		switch p.Kind {
		case packet.KindFlush:
			d.cfg.Codec.Flush(d.cfg.Stream)
			q.Pop()

		case packet.KindSeekBegin, packet.KindPreroll:
			q.Pop()
			return d.drain(ctx, p.Frame(), p.Kind == packet.KindPreroll)

		case packet.KindSeekEnd:
			// Left over from an abandoned drain.
			q.Pop()

		case packet.KindLoopEnd:
			d.state = StateIdle
			if frame >= p.Frame() {
				q.Pop()
				return StatusLoopEnd
			}
			return d.cachedStatus(frame)

		case packet.KindLoopStart:
			d.state = StateIdle
			if frame <= p.Frame() {
				q.Pop()
				return StatusLoopStart
			}
			return d.cachedStatus(frame)

		default:
			// Packets come in decode order. Everything up to frame in that
			// order must be decoded before frame can be shown.
			df := p.DecodeFrame()
			if dir > 0 && df > frame {
				d.state = StateIdle
				if d.cfg.Cache.Contains(frame) || df <= frame+d.cfg.Window {
					return StatusOK
				}
				return StatusMissingFrame
			}

			d.state = StateDecoding
			q.Pop()
			st, ok := d.decodeOne(p)
			if p.Frame() == frame {
				d.state = StateIdle
				if !ok {
					return StatusError
				}
				return st
			}
			if st == StatusMissingSamples {
				d.log.Debug("audio unit without samples", "frame", p.Frame())
			}
		}
	}
}

// cachedStatus is the result for a frame that is still short of a loop
// marker: only a cached frame can be shown before the boundary.
func (d *Decoder) cachedStatus(frame int64) Status {
	if d.cfg.Cache.Contains(frame) {
		return StatusOK
	}
	return StatusMissingFrame
}

func (d *Decoder) emptyStatus(frame int64) Status {
	if d.cfg.Cache.Contains(frame) {
		return StatusOK
	}
	if d.cfg.Exhausted() {
		return StatusDone
	}
	return StatusMissingFrame
}

// decodeOne decodes p and stores the unit. It reports false on a codec
// failure.
func (d *Decoder) decodeOne(p *packet.Packet) (Status, bool) {
	u, err := d.cfg.Codec.Decode(p)
	if err != nil {
		var de *DecodeError
		if !errors.As(err, &de) {
			de = &DecodeError{Stream: d.cfg.Stream, Frame: p.Frame(), PTS: p.Time, Err: err}
		}
		d.log.Warn("decode failed", "frame", de.Frame, "pts", de.PTS, "error", de.Err)
		return StatusError, false
	}
	if u.Audio != nil && len(u.Audio.Samples) == 0 {
		return StatusMissingSamples, true
	}
	if !u.Empty() {
		d.cfg.Cache.Put(u)
	}
	return StatusOK, true
}

// drain consumes a seek or preroll window up to its SeekEnd. A seek keeps
// only units at or after target; a preroll keeps everything it decodes.
func (d *Decoder) drain(ctx context.Context, target int64, preroll bool) Status {
	q := d.cfg.Queue
	d.state = StateDraining
	for {
		p, err := q.Front()
		if err != nil {
			if ctx.Err() != nil {
				d.state = StateIdle
				return StatusError
			}
			if !q.Wait(d.cfg.SeekTimeout) {
				if ctx.Err() == nil {
					d.log.Warn("seek drain timed out", "frame", target, "timeout", d.cfg.SeekTimeout)
				}
				d.state = StateError
				return StatusError
			}
			continue
		}

		switch p.Kind {
		case packet.KindSeekEnd:
			q.Pop()
			d.state = StateIdle
			return StatusOK
		case packet.KindFlush:
			d.cfg.Codec.Flush(d.cfg.Stream)
			q.Pop()
		case packet.KindData:
			q.Pop()
			u, err := d.cfg.Codec.Decode(p)
			if err != nil {
				d.log.Warn("decode failed during seek", "frame", p.Frame(), "pts", p.Time, "error", err)
				continue
			}
			f, ok := u.Frame()
			if !ok || (u.Audio != nil && len(u.Audio.Samples) == 0) {
				continue
			}
			if preroll || f >= target {
				d.cfg.Cache.Put(u)
			}
		default:
			// A new window or loop marker supersedes this one.
			d.log.Debug("seek window interrupted", "frame", target, "kind", p.Kind.String())
			d.state = StateIdle
			return StatusOK
		}
	}
}

type videoCache struct{ c *cache.FrameCache }

func (v videoCache) Put(u media.Unit) bool {
	if u.Video == nil {
		return false
	}
	v.c.Store(u.Video)
	return true
}

func (v videoCache) Contains(f int64) bool { return v.c.Contains(f) }

type audioCache struct{ c *cache.AudioCache }

func (a audioCache) Put(u media.Unit) bool {
	if u.Audio == nil {
		return false
	}
	a.c.Store(u.Audio)
	return true
}

func (a audioCache) Contains(f int64) bool { return a.c.Contains(f) }

type subtitleCache struct{ c *cache.SubtitleCache }

func (s subtitleCache) Put(u media.Unit) bool {
	if u.Subtitle == nil {
		return false
	}
	s.c.Store(u.Subtitle)
	return true
}

// Contains also matches a cue that is still on screen at f.
func (s subtitleCache) Contains(f int64) bool {
	sub, ok := s.c.Floor(f)
	return ok && sub.Covers(f)
}

// VideoCache, AudioCache and SubtitleCache adapt the typed stores.
func VideoCache(c *cache.FrameCache) Cache       { return videoCache{c} }
func AudioCache(c *cache.AudioCache) Cache       { return audioCache{c} }
func SubtitleCache(c *cache.SubtitleCache) Cache { return subtitleCache{c} }
