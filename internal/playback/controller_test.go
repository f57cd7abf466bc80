package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zsiec/reel/internal/barrier"
	"github.com/zsiec/reel/internal/decode"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/packet"
	"github.com/zsiec/reel/internal/source"
)

var errDiskGone = errors.New("disk gone")

// fakeSource serves frames first..last in file order: audio, video and,
// every tenth frame, a subtitle cue. Video keyframes fall every gop frames.
type fakeSource struct {
	info    source.Info
	packets []*packet.Packet
	failAt  int64
	gop     int64

	mu    sync.Mutex
	pos   int
	seeks atomic.Int32

	decodeMu sync.Mutex
	decodes  map[int64]int
	onDecode func(p *packet.Packet)
}

func newFakeSource(n int64) *fakeSource {
	s := &fakeSource{
		info: source.Info{
			Format:      "fake",
			FPS:         1000,
			First:       0,
			Last:        n - 1,
			HasVideo:    true,
			HasAudio:    true,
			HasSubtitle: true,
		},
		failAt: -1,
		gop:    5,
	}
	for f := range n {
		s.packets = append(s.packets, packet.NewData(packet.StreamAudio, f, f, []byte{1, 2}))
		v := packet.NewData(packet.StreamVideo, f, f, []byte{3, 4, 5})
		v.Keyframe = f%5 == 0
		s.packets = append(s.packets, v)
		if f%10 == 0 {
			sub := packet.NewData(packet.StreamSubtitle, f, f, []byte(fmt.Sprintf("cue %d", f)))
			sub.Duration = 10
			s.packets = append(s.packets, sub)
		}
	}
	return s
}

// newReorderedSource serves n video pictures in decode order I0 P3 B1 B2
// P6 B4 B5 and so on, with DTS one frame behind the decode position.
func newReorderedSource(n int64) *fakeSource {
	s := &fakeSource{
		info:   source.Info{Format: "fake", FPS: 1000, First: 0, Last: n - 1, HasVideo: true},
		failAt: -1,
		gop:    n,
	}
	order := []int64{0}
	for p := int64(3); p < n; p += 3 {
		order = append(order, p, p-2, p-1)
	}
	for i, f := range order {
		v := packet.NewData(packet.StreamVideo, f, int64(i)-1, []byte{byte(f)})
		v.Keyframe = i == 0
		s.packets = append(s.packets, v)
	}
	return s
}

// decoded returns how many times the picture for frame f was decoded.
func (s *fakeSource) decoded(f int64) int {
	s.decodeMu.Lock()
	defer s.decodeMu.Unlock()
	return s.decodes[f]
}

func (s *fakeSource) Info() source.Info { return s.info }
func (s *fakeSource) Close() error      { return nil }

func (s *fakeSource) Flush(packet.Stream) {}

func (s *fakeSource) ReadPacket(ctx context.Context) (*packet.Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.packets) {
		return nil, io.EOF
	}
	p := s.packets[s.pos]
	if p.Frame() == s.failAt {
		return nil, errDiskGone
	}
	s.pos++
	cp := *p
	return &cp, nil
}

func (s *fakeSource) Seek(_ context.Context, stream packet.Stream, frame int64, _ source.SeekFlags) error {
	s.seeks.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	key := frame - frame%s.gop
	for i, p := range s.packets {
		if p.Frame() == key {
			s.pos = i
			return nil
		}
	}
	return source.ErrSeekNotFound
}

func (s *fakeSource) Decode(p *packet.Packet) (media.Unit, error) {
	if s.onDecode != nil {
		s.onDecode(p)
	}
	if p.Stream == packet.StreamVideo {
		s.decodeMu.Lock()
		if s.decodes == nil {
			s.decodes = make(map[int64]int)
		}
		s.decodes[p.Frame()]++
		s.decodeMu.Unlock()
	}
	switch p.Stream {
	case packet.StreamVideo:
		return media.Unit{Video: &media.VideoFrame{Frame: p.Frame(), Image: p.Payload, Keyframe: p.Keyframe}}, nil
	case packet.StreamAudio:
		return media.Unit{Audio: &media.AudioFrame{Frame: p.Frame(), Samples: p.Payload}}, nil
	case packet.StreamSubtitle:
		return media.Unit{Subtitle: &media.Subtitle{Frame: p.Frame(), Duration: p.Duration, Text: string(p.Payload)}}, nil
	}
	return media.Unit{}, decode.ErrNoStream
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds(k EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) shown() []int64 {
	var out []int64
	for _, e := range r.kinds(EventFrameShown) {
		out = append(out, e.Frame)
	}
	return out
}

type sinkRecorder struct {
	mu     sync.Mutex
	frames []int64
}

func (s *sinkRecorder) PlayAudio(f *media.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f.Frame)
	return nil
}

func (s *sinkRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func testConfig(mode LoopMode) Config {
	cfg := DefaultConfig()
	cfg.LoopMode = mode
	cfg.VideoCacheSize = 8
	cfg.AudioCacheSize = 8
	cfg.SeekTimeout = time.Second
	return cfg
}

func newTestController(t *testing.T, src *fakeSource, mode LoopMode) (*Controller, *recorder) {
	t.Helper()
	c, err := New(src, testConfig(mode), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := &recorder{}
	c.SetObserver(rec)
	t.Cleanup(func() { c.Close() })
	return c, rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func frameRange(from, to int64) []int64 {
	var out []int64
	step := int64(1)
	if to < from {
		step = -1
	}
	for f := from; ; f += step {
		out = append(out, f)
		if f == to {
			return out
		}
	}
}

func TestNewRequiresAStream(t *testing.T) {
	t.Parallel()
	src := newFakeSource(5)
	src.info.HasVideo, src.info.HasAudio, src.info.HasSubtitle = false, false, false
	_, err := New(src, DefaultConfig(), nil)
	if !errors.Is(err, decode.ErrNoStream) {
		t.Errorf("New: got %v, want %v", err, decode.ErrNoStream)
	}
}

func TestPlayStopsAfterLastFrame(t *testing.T) {
	t.Parallel()
	c, rec := newTestController(t, newFakeSource(20), LoopNone)

	if err := c.Play(media.Forward, true); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitFor(t, "stop event", func() bool { return len(rec.kinds(EventStop)) > 0 })

	if got, want := rec.shown(), frameRange(0, 19); !slices.Equal(got, want) {
		t.Errorf("shown: got %v, want %v", got, want)
	}
	if got := c.Frame(); got != 19 {
		t.Errorf("Frame: got %d, want 19", got)
	}
	if got := c.Direction(); got != media.Stopped {
		t.Errorf("Direction: got %v, want %v", got, media.Stopped)
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err: got %v, want nil", err)
	}

	c.Stop()
	if got := len(rec.kinds(EventStop)); got != 1 {
		t.Errorf("stop events: got %d, want 1", got)
	}
}

func TestPlayBackwardStopsAtFirstFrame(t *testing.T) {
	t.Parallel()
	c, rec := newTestController(t, newFakeSource(20), LoopNone)

	if err := c.Seek(19); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if err := c.Play(media.Backward, true); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitFor(t, "stop event", func() bool { return len(rec.kinds(EventStop)) > 0 })

	if got, want := rec.shown(), frameRange(19, 0); !slices.Equal(got, want) {
		t.Errorf("shown: got %v, want %v", got, want)
	}
}

func TestLoopModes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		mode LoopMode
		want []int64
	}{
		{Loop, slices.Concat(frameRange(0, 19), frameRange(0, 19))},
		{PingPong, slices.Concat(frameRange(0, 19), frameRange(19, 0))},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			t.Parallel()
			c, rec := newTestController(t, newFakeSource(20), tt.mode)

			if err := c.Play(media.Forward, true); err != nil {
				t.Fatalf("Play: %v", err)
			}
			waitFor(t, "two passes", func() bool { return len(rec.shown()) >= len(tt.want)+2 })
			c.Stop()

			got := rec.shown()[:len(tt.want)]
			if !slices.Equal(got, tt.want) {
				t.Errorf("shown: got %v, want %v", got, tt.want)
			}
			loops := rec.kinds(EventLoop)
			if len(loops) == 0 {
				t.Fatal("no loop event")
			}
			if got, want := loops[0].Frame, tt.want[20]; got != want {
				t.Errorf("loop frame: got %d, want %d", got, want)
			}
		})
	}
}

func TestLoopDecodesEveryPicturePerPass(t *testing.T) {
	t.Parallel()
	src := newFakeSource(20)
	c, rec := newTestController(t, src, Loop)

	if err := c.Play(media.Forward, true); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitFor(t, "three passes", func() bool { return len(rec.shown()) >= 60 })
	c.Stop()

	want := slices.Concat(frameRange(0, 19), frameRange(0, 19), frameRange(0, 19))
	if got := rec.shown()[:60]; !slices.Equal(got, want) {
		t.Errorf("shown: got %v, want %v", got, want)
	}
	// A fourth pass may have started before Stop.
	for f := range int64(20) {
		if n := src.decoded(f); n < 3 || n > 4 {
			t.Errorf("frame %d: decoded %d times, want 3 or 4", f, n)
		}
	}
}

func TestLoopRendezvousHoldsEveryStream(t *testing.T) {
	t.Parallel()
	src := newFakeSource(20)
	var (
		bar    atomic.Pointer[barrier.Barrier]
		mu     sync.Mutex
		last   = make(map[packet.Stream]int64)
		passes = make(map[packet.Stream]uint64)
		early  []string
	)
	// A stream going back to an earlier frame has started the next pass,
	// which it may only do once the barrier has released that many times.
	src.onDecode = func(p *packet.Packet) {
		mu.Lock()
		defer mu.Unlock()
		prev, seen := last[p.Stream]
		last[p.Stream] = p.Frame()
		if !seen || p.Frame() >= prev {
			return
		}
		passes[p.Stream]++
		var gen uint64
		if b := bar.Load(); b != nil {
			gen = b.Generation()
		}
		if gen < passes[p.Stream] {
			early = append(early, fmt.Sprintf("%s frame %d at generation %d", p.Stream, p.Frame(), gen))
		}
	}
	c, rec := newTestController(t, src, Loop)

	if err := c.Play(media.Forward, true); err != nil {
		t.Fatalf("Play: %v", err)
	}
	bar.Store(c.run.barrier)
	waitFor(t, "two loops", func() bool { return len(rec.kinds(EventLoop)) >= 2 })
	c.Stop()

	mu.Lock()
	defer mu.Unlock()
	for _, st := range []packet.Stream{packet.StreamVideo, packet.StreamAudio, packet.StreamSubtitle} {
		if passes[st] == 0 {
			t.Errorf("%s: no second pass decoded", st)
		}
	}
	if len(early) > 0 {
		t.Errorf("decoded before the rendezvous: %v", early)
	}
}

func TestPlayReorderedPictures(t *testing.T) {
	t.Parallel()
	src := newReorderedSource(31)
	c, rec := newTestController(t, src, LoopNone)

	if err := c.Play(media.Forward, true); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitFor(t, "stop event", func() bool { return len(rec.kinds(EventStop)) > 0 })

	if got, want := rec.shown(), frameRange(0, 30); !slices.Equal(got, want) {
		t.Errorf("shown: got %v, want %v", got, want)
	}
	for f := range int64(31) {
		if n := src.decoded(f); n != 1 {
			t.Errorf("frame %d: decoded %d times, want 1", f, n)
		}
	}
}

func TestPlayAfterSeekReusesCache(t *testing.T) {
	t.Parallel()
	src := newFakeSource(60)
	c, rec := newTestController(t, src, LoopNone)

	if err := c.Seek(30); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if err := c.Play(media.Forward, true); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitFor(t, "stop event", func() bool { return len(rec.kinds(EventStop)) > 0 })

	if got := src.seeks.Load(); got != 1 {
		t.Errorf("source seeks: got %d, want 1", got)
	}
	if got, want := rec.shown(), frameRange(30, 59); !slices.Equal(got, want) {
		t.Errorf("shown: got %v, want %v", got, want)
	}
}

// doSeek is what the dispatch goroutine runs for a seek requested while
// playing.
func TestRunningSeekToCachedFrameKeepsQueues(t *testing.T) {
	t.Parallel()
	src := newFakeSource(40)
	c, rec := newTestController(t, src, LoopNone)
	c.video.Store(&media.VideoFrame{Frame: 12})
	c.audio.Store(&media.AudioFrame{Frame: 12, Samples: []byte{1}})
	for _, s := range c.streams {
		s.queue.Push(packet.NewData(s.kind, 13, 13, []byte{1}))
	}

	ctx := context.Background()
	if err := c.doSeek(ctx, 12, media.Forward); err != nil {
		t.Fatalf("doSeek(12): %v", err)
	}
	for _, s := range c.streams {
		if got := s.queue.Len(); got != 1 {
			t.Errorf("%s queue length: got %d, want 1", s.kind, got)
		}
		if p, err := s.queue.Front(); err != nil || p.Kind != packet.KindData {
			t.Errorf("%s front: got %v, %v, want data", s.kind, p, err)
		}
	}
	if got := src.seeks.Load(); got != 0 {
		t.Errorf("source seeks: got %d, want 0", got)
	}
	if got := c.Frame(); got != 12 {
		t.Errorf("Frame: got %d, want 12", got)
	}
	if got := len(rec.kinds(EventSeek)); got != 1 {
		t.Errorf("seek events: got %d, want 1", got)
	}

	// An uncached target rebuilds the queues behind seek sentinels.
	if err := c.doSeek(ctx, 27, media.Forward); err != nil {
		t.Fatalf("doSeek(27): %v", err)
	}
	if got := src.seeks.Load(); got != 1 {
		t.Errorf("source seeks: got %d, want 1", got)
	}
	if p, err := c.primary.queue.Front(); err != nil || p.Kind != packet.KindFlush {
		t.Errorf("front after uncached seek: got %v, %v, want flush", p, err)
	}
}

func TestPresentReportsShownPicture(t *testing.T) {
	t.Parallel()
	c, rec := newTestController(t, newFakeSource(20), LoopNone)
	c.video.Store(&media.VideoFrame{Frame: 10})
	r := &run{ctx: context.Background(), foreground: true}

	serial := c.seekSerial.Load()
	c.present(r, c.primary, 10, media.Forward, serial)
	c.present(r, c.primary, 11, media.Forward, serial)
	if got, want := rec.shown(), []int64{10, 10}; !slices.Equal(got, want) {
		t.Errorf("shown: got %v, want %v", got, want)
	}
}

func TestPresentIgnoresStaleSerial(t *testing.T) {
	t.Parallel()
	c, _ := newTestController(t, newFakeSource(20), LoopNone)
	c.clocks.Reset(0.5, 7)
	r := &run{ctx: context.Background()}

	c.present(r, c.primary, 12, media.Forward, 6)
	if got := c.clocks.Video.PTS(); got != 0.5 {
		t.Errorf("video clock after a stale frame: got %v, want 0.5", got)
	}
	c.present(r, c.primary, 12, media.Forward, 7)
	if got, want := c.clocks.Video.PTS(), c.seconds(12); got != want {
		t.Errorf("video clock: got %v, want %v", got, want)
	}
}

func TestStopIsPrompt(t *testing.T) {
	t.Parallel()
	c, rec := newTestController(t, newFakeSource(20), Loop)

	if err := c.Play(media.Forward, true); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitFor(t, "first frames", func() bool { return len(rec.shown()) >= 5 })

	start := time.Now()
	c.Stop()
	if d := time.Since(start); d > time.Second {
		t.Errorf("Stop took %v", d)
	}
	if got := c.Direction(); got != media.Stopped {
		t.Errorf("Direction: got %v, want %v", got, media.Stopped)
	}
	n := len(rec.shown())
	time.Sleep(20 * time.Millisecond)
	if got := len(rec.shown()); got != n {
		t.Errorf("frames after Stop: got %d, want %d", got, n)
	}
	if got := len(rec.kinds(EventStop)); got != 1 {
		t.Errorf("stop events: got %d, want 1", got)
	}
}

func TestSeekWhileStopped(t *testing.T) {
	t.Parallel()
	src := newFakeSource(20)
	c, rec := newTestController(t, src, LoopNone)

	if err := c.Seek(12); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got := c.Frame(); got != 12 {
		t.Errorf("Frame: got %d, want 12", got)
	}
	if _, ok := c.FindImage(12); !ok {
		t.Error("frame 12 not cached after seek")
	}
	if !c.IsCacheFilled(12) {
		t.Error("IsCacheFilled(12): got false, want true")
	}
	if got := src.seeks.Load(); got != 1 {
		t.Errorf("source seeks: got %d, want 1", got)
	}

	// A second seek to a cached frame does not touch the source.
	if err := c.Seek(12); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got := src.seeks.Load(); got != 1 {
		t.Errorf("source seeks after repeat: got %d, want 1", got)
	}
	if got := len(rec.kinds(EventSeek)); got != 2 {
		t.Errorf("seek events: got %d, want 2", got)
	}

	if err := c.Seek(500); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got := c.Frame(); got != 19 {
		t.Errorf("Frame after clamped seek: got %d, want 19", got)
	}
}

func TestSeekWhilePlaying(t *testing.T) {
	t.Parallel()
	c, rec := newTestController(t, newFakeSource(200), LoopNone)

	if err := c.Play(media.Forward, true); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitFor(t, "first frames", func() bool { return len(rec.shown()) >= 3 })
	if err := c.Seek(150); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	waitFor(t, "stop event", func() bool { return len(rec.kinds(EventStop)) > 0 })

	shown := rec.shown()
	i := slices.Index(shown, 150)
	if i < 0 {
		t.Fatalf("frame 150 never shown: %v", shown)
	}
	if got, want := shown[i:], frameRange(150, 199); !slices.Equal(got, want) {
		t.Errorf("after seek: got %v, want %v", got, want)
	}
}

func TestReadErrorStopsPlayback(t *testing.T) {
	t.Parallel()
	src := newFakeSource(20)
	src.failAt = 7
	c, rec := newTestController(t, src, Loop)

	if err := c.Play(media.Forward, true); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitFor(t, "error event", func() bool { return len(rec.kinds(EventError)) > 0 })

	if err := c.Err(); !errors.Is(err, errDiskGone) {
		t.Errorf("Err: got %v, want %v", err, errDiskGone)
	}
	if got := c.Direction(); got != media.Stopped {
		t.Errorf("Direction: got %v, want %v", got, media.Stopped)
	}
	if st := c.State(); st.Running || st.Error == "" {
		t.Errorf("State: got running=%v error=%q", st.Running, st.Error)
	}
}

func TestForegroundFeedsAudioAndSubtitles(t *testing.T) {
	t.Parallel()
	c, rec := newTestController(t, newFakeSource(20), LoopNone)
	sink := &sinkRecorder{}
	c.SetAudioSink(sink)

	if err := c.Play(media.Forward, true); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitFor(t, "stop event", func() bool { return len(rec.kinds(EventStop)) > 0 })

	if sink.count() == 0 {
		t.Error("no audio delivered to the sink")
	}
	var texts []string
	for _, e := range rec.kinds(EventSubtitle) {
		texts = append(texts, e.Text)
	}
	if len(texts) == 0 || texts[0] != "cue 0" {
		t.Errorf("subtitles: got %q, want to start with %q", texts, "cue 0")
	}
}

func TestBackgroundPlayIsSilent(t *testing.T) {
	t.Parallel()
	c, rec := newTestController(t, newFakeSource(20), LoopNone)
	sink := &sinkRecorder{}
	c.SetAudioSink(sink)

	if err := c.Play(media.Forward, false); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitFor(t, "stop event", func() bool { return len(rec.kinds(EventStop)) > 0 })

	if got := len(rec.shown()); got != 0 {
		t.Errorf("frame events: got %d, want 0", got)
	}
	if got := sink.count(); got != 0 {
		t.Errorf("audio blocks: got %d, want 0", got)
	}
	if got := c.Frame(); got != 19 {
		t.Errorf("Frame: got %d, want 19", got)
	}
}

func TestFindNearest(t *testing.T) {
	t.Parallel()
	c, _ := newTestController(t, newFakeSource(20), LoopNone)
	c.video.Store(&media.VideoFrame{Frame: 10})
	c.video.Store(&media.VideoFrame{Frame: 14})
	c.subs.Store(&media.Subtitle{Frame: 10, Duration: 3, Text: "hi"})

	tests := []struct {
		frame int64
		want  int64
	}{
		{10, 10},
		{11, 10},
		{12, 10},
		{13, 14},
		{20, 14},
		{0, 10},
	}
	for _, tt := range tests {
		img, ok := c.FindImage(tt.frame)
		if !ok || img.Frame != tt.want {
			t.Errorf("FindImage(%d): got %v, want %d", tt.frame, img, tt.want)
		}
	}

	if sub, ok := c.FindSubtitle(12); !ok || sub.Text != "hi" {
		t.Errorf("FindSubtitle(12): got %v, %v", sub, ok)
	}
	if _, ok := c.FindSubtitle(13); ok {
		t.Error("FindSubtitle(13): cue should have ended")
	}
	if c.FindAudio(5) {
		t.Error("FindAudio on an empty cache: got true")
	}
}

func TestNextLoop(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		mode     LoopMode
		atEnd    bool
		step     media.Direction
		frame    int64
		newStep  media.Direction
		wantStop bool
	}{
		{"loop at end", Loop, true, media.Forward, 0, media.Forward, false},
		{"loop at start", Loop, false, media.Backward, 19, media.Backward, false},
		{"pingpong at end", PingPong, true, media.Forward, 19, media.Backward, false},
		{"pingpong at start", PingPong, false, media.Backward, 0, media.Forward, false},
		{"none at end", LoopNone, true, media.Forward, 19, media.Forward, true},
		{"none at start", LoopNone, false, media.Backward, 0, media.Backward, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, s, stop := nextLoop(tt.mode, tt.atEnd, 0, 19, tt.step)
			if f != tt.frame || s != tt.newStep || stop != tt.wantStop {
				t.Errorf("got (%d, %v, %v), want (%d, %v, %v)", f, s, stop, tt.frame, tt.newStep, tt.wantStop)
			}
		})
	}
}

func TestParseLoopMode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    LoopMode
		wantErr bool
	}{
		{"", LoopNone, false},
		{"none", LoopNone, false},
		{"Loop", Loop, false},
		{"ping-pong", PingPong, false},
		{"swing", PingPong, false},
		{"bounce", LoopNone, true},
	}
	for _, tt := range tests {
		got, err := ParseLoopMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLoopMode(%q): got %v, %v", tt.in, got, err)
		}
	}
}
