// Package playback drives a StreamSource through per-stream decoders and
// caches: one dispatch goroutine reads packets ahead of the playhead and
// one goroutine per stream decodes and presents them, meeting at a barrier
// whenever playback crosses a timeline boundary.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/reel/internal/barrier"
	"github.com/zsiec/reel/internal/cache"
	"github.com/zsiec/reel/internal/clock"
	"github.com/zsiec/reel/internal/decode"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/packet"
	"github.com/zsiec/reel/internal/source"
)

// bufferFullWait is how long dispatch sleeps while a queue is over budget
// or the playhead has fallen too far behind.
const bufferFullWait = 10 * time.Millisecond

// subtitleHold is how long, in seconds, a cue is kept behind the playhead.
// Sources cap cue durations at the same hold.
const subtitleHold = 4

// Config tunes a Controller.
type Config struct {
	// VideoCacheSize and AudioCacheSize are eviction windows in frames.
	// Zero picks 2*fps for video and fps for audio.
	VideoCacheSize int64
	AudioCacheSize int64
	LoopMode       LoopMode
	Sync           clock.SyncType
	// FPS overrides the source frame rate when positive.
	FPS         float64
	Speed       float64
	SeekTimeout time.Duration

	VideoQueueBytes    int64
	AudioQueueBytes    int64
	SubtitleQueueBytes int64
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		LoopMode:           Loop,
		Sync:               clock.SyncAudio,
		Speed:              1,
		SeekTimeout:        decode.DefaultSeekTimeout,
		VideoQueueBytes:    media.VideoQueueBytes,
		AudioQueueBytes:    media.AudioQueueBytes,
		SubtitleQueueBytes: media.SubtitleQueueBytes,
	}
}

type stream struct {
	kind   packet.Stream
	queue  *packet.Queue
	dec    *decode.Decoder
	window int64
}

// loopPolicy is the boundary snapshot every participant applies after the
// loop rendezvous.
type loopPolicy struct {
	mode  LoopMode
	first int64
	last  int64
}

// run is one Play..Stop lifetime.
type run struct {
	ctx        context.Context
	cancel     context.CancelFunc
	group      *errgroup.Group
	barrier    *barrier.Barrier
	foreground bool
	policy     atomic.Pointer[loopPolicy]
}

// State is a snapshot of a controller for status reporting.
type State struct {
	Frame       int64           `json:"frame"`
	Direction   media.Direction `json:"direction"`
	Running     bool            `json:"running"`
	LoopMode    string          `json:"loopMode"`
	Sync        string          `json:"sync"`
	First       int64           `json:"first"`
	Last        int64           `json:"last"`
	FPS         float64         `json:"fps"`
	ActualFPS   float64         `json:"actualFps"`
	Speed       float64         `json:"speed"`
	VideoCached int             `json:"videoCached"`
	AudioCached int             `json:"audioCached"`
	Error       string          `json:"error,omitempty"`
}

// Controller plays one StreamSource. Its exported methods are safe for
// concurrent use.
type Controller struct {
	src     source.StreamSource
	info    source.Info
	cfg     Config
	log     *slog.Logger
	fps     float64
	live    bool
	first   int64
	lead    int64
	primary *stream

	streams []*stream
	byKind  map[packet.Stream]*stream

	video *cache.FrameCache
	audio *cache.AudioCache
	subs  *cache.SubtitleCache

	clocks *clock.Clocks
	timer  *clock.Timer
	tick   notifier

	hooksMu  sync.RWMutex
	observer Observer
	sink     AudioSink

	mu  sync.Mutex
	run *run

	last      atomic.Int64
	frame     atomic.Int64
	playhead  atomic.Int64
	dts       atomic.Int64
	direction atomic.Int64
	loopMode  atomic.Int64
	speed     atomic.Uint64
	stopped   atomic.Bool
	exhausted atomic.Bool

	seekReq    atomic.Bool
	seekTarget atomic.Int64
	seekFrame  atomic.Int64
	seekSerial atomic.Uint64

	// loops counts boundary crossings of the primary stream. It is bumped
	// after the playhead moves to the far side of a boundary.
	loops atomic.Uint64

	// Read position, owned by the dispatch goroutine while running.
	readFrom int64
	expected int64
	maxRead  int64

	errMu sync.Mutex
	err   error
}

// New creates a stopped controller positioned at the source's first frame.
// If log is nil, slog.Default() is used.
func New(src source.StreamSource, cfg Config, log *slog.Logger) (*Controller, error) {
	if log == nil {
		log = slog.Default()
	}
	info := src.Info()
	kinds := info.Streams()
	if len(kinds) == 0 {
		return nil, fmt.Errorf("new controller: %w", decode.ErrNoStream)
	}

	fps := cfg.FPS
	if fps <= 0 {
		fps = info.FPS
	}
	if fps <= 0 {
		fps = 24
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}

	c := &Controller{
		src:    src,
		info:   info,
		cfg:    cfg,
		log:    log.With("component", "playback"),
		fps:    fps,
		live:   info.Live || info.Last < info.First,
		first:  info.First,
		byKind: make(map[packet.Stream]*stream),
		clocks: clock.NewClocks(cfg.Sync),
		timer:  clock.NewTimer(fps * cfg.Speed),
	}
	last := info.Last
	if c.live {
		last = math.MaxInt64 - 1
	}
	c.last.Store(last)

	vw := cache.VideoWindow(fps, info.First, last)
	if cfg.VideoCacheSize > 0 {
		vw.Size = cfg.VideoCacheSize
	}
	aw := cache.AudioWindow(fps, info.First, last)
	if cfg.AudioCacheSize > 0 {
		aw.Size = cfg.AudioCacheSize
	}
	sw := cache.Window{Size: max(vw.Size, int64(subtitleHold*fps)), First: info.First, Last: last}
	c.video = cache.New[*media.VideoFrame](vw)
	c.audio = cache.New[*media.AudioFrame](aw)
	c.subs = cache.New[*media.Subtitle](sw)

	for _, k := range kinds {
		s := &stream{kind: k}
		var store decode.Cache
		var budget int64
		switch k {
		case packet.StreamVideo:
			store, budget, s.window = decode.VideoCache(c.video), cfg.VideoQueueBytes, vw.Size
		case packet.StreamAudio:
			store, budget, s.window = decode.AudioCache(c.audio), cfg.AudioQueueBytes, aw.Size
		case packet.StreamSubtitle:
			store, budget, s.window = decode.SubtitleCache(c.subs), cfg.SubtitleQueueBytes, sw.Size
		}
		s.queue = packet.NewQueue(k, budget)
		s.dec = decode.New(decode.Config{
			Stream:      k,
			Queue:       s.queue,
			Codec:       src,
			Cache:       store,
			Window:      s.window,
			SeekTimeout: cfg.SeekTimeout,
			Exhausted:   c.exhausted.Load,
			Log:         log,
		})
		c.streams = append(c.streams, s)
		c.byKind[k] = s
	}
	c.primary = c.streams[0]
	c.lead = c.primary.window

	c.loopMode.Store(int64(cfg.LoopMode))
	c.speed.Store(math.Float64bits(cfg.Speed))
	c.stopped.Store(true)
	c.frame.Store(info.First)
	c.playhead.Store(info.First)
	c.dts.Store(info.First)
	c.resetReadState()
	return c, nil
}

// SetObserver registers the event observer. It replaces any previous one.
func (c *Controller) SetObserver(o Observer) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.observer = o
}

// SetAudioSink registers where FindAudio delivers samples.
func (c *Controller) SetAudioSink(s AudioSink) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.sink = s
}

func (c *Controller) audioSink() AudioSink {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()
	return c.sink
}

func (c *Controller) emit(e Event) {
	c.hooksMu.RLock()
	o := c.observer
	c.hooksMu.RUnlock()
	if o == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	o.OnEvent(e)
}

// Info returns the source description, with Last trimmed if the source
// ended early.
func (c *Controller) Info() source.Info {
	info := c.info
	if !c.live {
		info.Last = c.last.Load()
	}
	return info
}

// Frame returns the frame last presented.
func (c *Controller) Frame() int64 { return c.frame.Load() }

// Direction returns the playback direction, Stopped when not running.
func (c *Controller) Direction() media.Direction {
	if c.stopped.Load() {
		return media.Stopped
	}
	return media.Direction(c.direction.Load())
}

// LoopMode returns the boundary policy.
func (c *Controller) LoopMode() LoopMode { return LoopMode(c.loopMode.Load()) }

// SetLoopMode changes the boundary policy. It applies from the next
// boundary.
func (c *Controller) SetLoopMode(m LoopMode) { c.loopMode.Store(int64(m)) }

// Speed returns the playback speed multiplier.
func (c *Controller) Speed() float64 { return math.Float64frombits(c.speed.Load()) }

// SetSpeed changes the playback speed multiplier.
func (c *Controller) SetSpeed(s float64) {
	if s <= 0 {
		return
	}
	c.speed.Store(math.Float64bits(s))
	dir := c.Direction()
	if dir == media.Stopped {
		dir = media.Forward
	}
	c.clocks.SetSpeed(s * float64(dir))
	c.timer.SetFPS(c.fps * s)
}

// Err returns the fatal error that ended the last run, if any.
func (c *Controller) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Controller) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	c.err = err
}

// State returns a status snapshot.
func (c *Controller) State() State {
	st := State{
		Frame:       c.Frame(),
		Direction:   c.Direction(),
		Running:     !c.stopped.Load(),
		LoopMode:    c.LoopMode().String(),
		Sync:        c.clocks.MasterType(c.byKind[packet.StreamVideo] != nil, c.byKind[packet.StreamAudio] != nil).String(),
		First:       c.first,
		Last:        c.Info().Last,
		FPS:         c.fps,
		ActualFPS:   c.timer.ActualFPS(),
		Speed:       c.Speed(),
		VideoCached: c.video.Len(),
		AudioCached: c.audio.Len(),
	}
	if err := c.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

func (c *Controller) clamp(f int64) int64 {
	return min(max(f, c.first), c.last.Load())
}

func (c *Controller) inRange(f int64) bool {
	return f >= c.first && f <= c.last.Load()
}

func (c *Controller) seconds(f int64) float64 {
	return float64(f-c.first) / c.fps
}

func (c *Controller) frameDuration() time.Duration {
	return time.Duration(float64(time.Second) / (c.fps * c.Speed()))
}

func (c *Controller) setDirection(d media.Direction) {
	c.direction.Store(int64(d))
	c.clocks.SetSpeed(c.Speed() * float64(d))
}

// Play starts playback in dir from the current frame. A running playback
// is stopped first. When foreground is false frames are decoded and cached
// but neither announced nor sent to the audio sink.
func (c *Controller) Play(dir media.Direction, foreground bool) error {
	if dir == media.Stopped {
		dir = media.Forward
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()

	// Caches and the read position survive so that frames decoded by an
	// earlier Seek or run are not read again.
	start := c.clamp(c.frame.Load())
	for _, s := range c.streams {
		s.queue.Clear()
	}
	c.setErr(nil)
	c.seekReq.Store(false)
	c.exhausted.Store(false)
	c.setDirection(dir)
	c.timer.SetFPS(c.fps * c.Speed())

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.doSeek(ctx, start, dir); err != nil {
		cancel()
		return fmt.Errorf("play from %d: %w", start, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	r := &run{
		ctx:        gctx,
		cancel:     cancel,
		group:      g,
		barrier:    barrier.New(uint(1 + len(c.streams))),
		foreground: foreground,
	}
	c.run = r
	c.stopped.Store(false)

	serial := c.seekSerial.Load()
	g.Go(func() error { return c.dispatch(r, start+int64(dir), dir) })
	g.Go(func() error { return c.runPrimary(r, c.primary, start, dir, serial) })
	for _, s := range c.streams[1:] {
		g.Go(func() error { return c.runSecondary(r, s, start, dir, serial) })
	}
	c.log.Info("playback started", "frame", start, "direction", dir.String(), "streams", len(c.streams))
	return nil
}

// Stop halts playback and joins every playback goroutine. Cached frames are
// kept; queued packets are dropped.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	r := c.run
	if r == nil {
		return
	}
	c.run = nil
	wasRunning := !c.stopped.Swap(true)
	r.cancel()
	c.wake(r)

	done := make(chan error, 1)
	go func() { done <- r.group.Wait() }()
	tick := time.NewTicker(bufferFullWait)
	defer tick.Stop()
	for joined := false; !joined; {
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				c.log.Debug("playback goroutine ended with error", "error", err)
			}
			joined = true
		case <-tick.C:
			// A goroutine may have parked after the first wake.
			c.wake(r)
		}
	}

	for _, s := range c.streams {
		s.queue.Clear()
	}
	c.timer.Reset()
	if wasRunning {
		c.log.Info("playback stopped", "frame", c.Frame())
		c.emit(Event{Kind: EventStop, Frame: c.Frame()})
	}
}

// Close stops playback and closes the source.
func (c *Controller) Close() error {
	c.Stop()
	return c.src.Close()
}

// Seek moves the playhead to f. While running, the dispatch goroutine
// performs the seek on its next iteration; otherwise it completes before
// Seek returns, with the target decoded into the caches.
func (c *Controller) Seek(f int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f = c.clamp(f)
	if c.run != nil && !c.stopped.Load() {
		c.seekTarget.Store(f)
		c.seekReq.Store(true)
		return nil
	}
	c.stopLocked()

	ctx := context.Background()
	if err := c.doSeek(ctx, f, media.Stopped); err != nil {
		return fmt.Errorf("seek to %d: %w", f, err)
	}
	for _, s := range c.streams {
		if st := s.dec.Decode(ctx, f, media.Stopped); st != decode.StatusOK && st != decode.StatusMissingFrame {
			c.log.Debug("seek decode", "frame", f, "stream", s.kind.String(), "status", st.String())
		}
		c.evict(s.kind, f, media.Stopped)
	}
	return nil
}

func (c *Controller) halted(r *run) bool {
	return c.stopped.Load() || r.ctx.Err() != nil
}

// wake releases every goroutine parked on the barrier, a queue or the
// playhead.
func (c *Controller) wake(r *run) {
	r.barrier.NotifyAll()
	for _, s := range c.streams {
		s.queue.WakeAll()
	}
	c.tick.broadcast()
}

// fail ends the run on a fatal source error.
func (c *Controller) fail(r *run, err error) error {
	c.setErr(err)
	c.stopped.Store(true)
	c.wake(r)
	c.log.Error("playback failed", "frame", c.Frame(), "error", err)
	c.emit(Event{Kind: EventError, Frame: c.Frame(), Err: err.Error()})
	return err
}

// finish ends the run at a boundary or the end of a live source.
func (c *Controller) finish(r *run) {
	if c.stopped.Swap(true) {
		return
	}
	c.wake(r)
	c.log.Info("playback finished", "frame", c.Frame())
	c.emit(Event{Kind: EventStop, Frame: c.Frame()})
}

// rendezvous waits at the loop barrier. It reports false if playback was
// stopped meanwhile.
func (c *Controller) rendezvous(r *run) bool {
	if c.halted(r) {
		return false
	}
	r.barrier.Wait()
	return !c.halted(r)
}

// notifier is a broadcast signal that goroutines can select on.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func (n *notifier) wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ch == nil {
		n.ch = make(chan struct{})
	}
	return n.ch
}

func (n *notifier) broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ch != nil {
		close(n.ch)
		n.ch = nil
	}
}
