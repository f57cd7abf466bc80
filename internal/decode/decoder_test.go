package decode

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/zsiec/reel/internal/cache"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/packet"
)

var errBadPacket = errors.New("bad packet")

// fakeCodec turns each packet into a video unit at the packet's frame.
type fakeCodec struct {
	fail    map[int64]bool
	silent  map[int64]bool
	audio   bool
	flushes int
	decoded []int64
}

func (c *fakeCodec) Decode(p *packet.Packet) (media.Unit, error) {
	f := p.Frame()
	c.decoded = append(c.decoded, f)
	if c.fail[f] {
		return media.Unit{}, errBadPacket
	}
	if c.audio {
		samples := []byte{1, 2, 3, 4}
		if c.silent[f] {
			samples = nil
		}
		return media.Unit{Audio: &media.AudioFrame{Frame: f, Samples: samples}}, nil
	}
	return media.Unit{Video: &media.VideoFrame{Frame: f, Image: p.Payload}}, nil
}

func (c *fakeCodec) Flush(packet.Stream) { c.flushes++ }

type fixture struct {
	q         *packet.Queue
	codec     *fakeCodec
	frames    *cache.FrameCache
	dec       *Decoder
	exhausted bool
}

func newFixture(window int64) *fixture {
	f := &fixture{
		q:      packet.NewQueue(packet.StreamVideo, 0),
		codec:  &fakeCodec{},
		frames: cache.New[*media.VideoFrame](cache.Window{Size: 100}),
	}
	f.dec = New(Config{
		Stream:      packet.StreamVideo,
		Queue:       f.q,
		Codec:       f.codec,
		Cache:       VideoCache(f.frames),
		Window:      window,
		SeekTimeout: 50 * time.Millisecond,
		Exhausted:   func() bool { return f.exhausted },
	})
	return f
}

func (f *fixture) push(frames ...int64) {
	for _, n := range frames {
		f.q.Push(packet.NewData(packet.StreamVideo, n, n, []byte(fmt.Sprint(n))))
	}
}

func TestDecodeSeekKeepsFromTarget(t *testing.T) {
	t.Parallel()
	f := newFixture(10)
	f.q.SeekBegin(12)
	f.push(10, 11, 12, 13)
	f.q.SeekEnd(12)

	if st := f.dec.Decode(context.Background(), 12, media.Forward); st != StatusOK {
		t.Fatalf("status: got %v, want ok", st)
	}
	if got, want := f.frames.Frames(), []int64{12, 13}; !slices.Equal(got, want) {
		t.Errorf("cached: got %v, want %v", got, want)
	}
	if got, want := f.codec.decoded, []int64{10, 11, 12, 13}; !slices.Equal(got, want) {
		t.Errorf("decoded: got %v, want %v", got, want)
	}
	if f.codec.flushes != 1 {
		t.Errorf("flushes: got %d, want 1", f.codec.flushes)
	}
	if !f.q.Empty() {
		t.Errorf("queue should be drained, %d left", f.q.Len())
	}
	if f.dec.State() != StateIdle {
		t.Errorf("state: got %v, want idle", f.dec.State())
	}
}

func TestDecodePrerollKeepsEverything(t *testing.T) {
	t.Parallel()
	f := newFixture(10)
	f.q.Preroll(12)
	f.push(10, 11, 12)
	f.q.SeekEnd(12)

	if st := f.dec.Decode(context.Background(), 12, media.Backward); st != StatusOK {
		t.Fatalf("status: got %v, want ok", st)
	}
	if got, want := f.frames.Frames(), []int64{10, 11, 12}; !slices.Equal(got, want) {
		t.Errorf("cached: got %v, want %v", got, want)
	}
}

func TestDecodeSeekWaitsForLatePackets(t *testing.T) {
	t.Parallel()
	f := newFixture(10)
	f.dec.cfg.SeekTimeout = 2 * time.Second
	f.q.SeekBegin(5)

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.push(5)
		time.Sleep(10 * time.Millisecond)
		f.q.SeekEnd(5)
	}()

	if st := f.dec.Decode(context.Background(), 5, media.Forward); st != StatusOK {
		t.Fatalf("status: got %v, want ok", st)
	}
	if !f.frames.Contains(5) {
		t.Error("frame 5 should be cached")
	}
}

func TestDecodeSeekTimeout(t *testing.T) {
	t.Parallel()
	f := newFixture(10)
	f.q.SeekBegin(5)
	f.push(5)

	if st := f.dec.Decode(context.Background(), 5, media.Forward); st != StatusError {
		t.Fatalf("status: got %v, want error", st)
	}
	if f.dec.State() != StateError {
		t.Errorf("state: got %v, want error", f.dec.State())
	}

	// The stray SeekEnd of the abandoned window is skipped later.
	f.q.SeekEnd(5)
	f.push(6)
	if st := f.dec.Decode(context.Background(), 6, media.Forward); st != StatusOK {
		t.Errorf("status after recovery: got %v, want ok", st)
	}
}

func TestDecodeLoopEnd(t *testing.T) {
	t.Parallel()
	f := newFixture(10)
	f.push(8, 9)
	f.q.LoopAtEnd(10)

	if st := f.dec.Decode(context.Background(), 9, media.Forward); st != StatusOK {
		t.Fatalf("frame 9: got %v, want ok", st)
	}
	if st := f.dec.Decode(context.Background(), 9, media.Forward); st != StatusOK {
		t.Fatalf("frame 9 before boundary: got %v, want ok", st)
	}
	if !f.q.IsLoopEnd() {
		t.Fatal("loop sentinel must stay queued until the boundary is reached")
	}
	if st := f.dec.Decode(context.Background(), 10, media.Forward); st != StatusLoopEnd {
		t.Fatalf("frame 10: got %v, want loop-end", st)
	}
	if !f.q.Empty() {
		t.Error("loop sentinel should be popped")
	}
}

func TestDecodeLoopMarkerNeedsCachedFrame(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		marker func(q *packet.Queue)
		frame  int64
		dir    media.Direction
	}{
		{"end", func(q *packet.Queue) { q.LoopAtEnd(10) }, 9, media.Forward},
		{"start", func(q *packet.Queue) { q.LoopAtStart(-1) }, 0, media.Backward},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(10)
			tt.marker(f.q)
			if st := f.dec.Decode(context.Background(), tt.frame, tt.dir); st != StatusMissingFrame {
				t.Errorf("uncached frame %d: got %v, want missing-frame", tt.frame, st)
			}
			if f.q.Len() != 1 {
				t.Error("loop sentinel must stay queued")
			}
			f.frames.Store(&media.VideoFrame{Frame: tt.frame})
			if st := f.dec.Decode(context.Background(), tt.frame, tt.dir); st != StatusOK {
				t.Errorf("cached frame %d: got %v, want ok", tt.frame, st)
			}
		})
	}
}

func TestDecodeLoopStart(t *testing.T) {
	t.Parallel()
	f := newFixture(10)
	f.q.LoopAtStart(-1)
	f.frames.Store(&media.VideoFrame{Frame: 0})

	if st := f.dec.Decode(context.Background(), 0, media.Backward); st != StatusOK {
		t.Fatalf("frame 0: got %v, want ok", st)
	}
	if st := f.dec.Decode(context.Background(), -1, media.Backward); st != StatusLoopStart {
		t.Fatalf("frame -1: got %v, want loop-start", st)
	}
}

func TestDecodeForwardAhead(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		window int64
		cached bool
		want   Status
	}{
		{"beyond window", 5, false, StatusMissingFrame},
		{"beyond window cached", 5, true, StatusOK},
		{"within window", 15, false, StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(tt.window)
			f.push(20)
			if tt.cached {
				f.frames.Store(&media.VideoFrame{Frame: 10})
			}
			if st := f.dec.Decode(context.Background(), 10, media.Forward); st != tt.want {
				t.Errorf("status: got %v, want %v", st, tt.want)
			}
			if f.q.Len() != 1 {
				t.Error("packet ahead of the playhead must stay queued")
			}
		})
	}
}

// pushReordered queues pictures in decode order I0 P3 B1 B2 P6 B4 B5.
func (f *fixture) pushReordered() {
	for i, n := range []int64{0, 3, 1, 2, 6, 4, 5} {
		f.q.Push(packet.NewData(packet.StreamVideo, n, int64(i)-1, []byte(fmt.Sprint(n))))
	}
}

func TestDecodeFollowsDecodeOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(10)
	f.pushReordered()

	for frame := range int64(6) {
		if st := f.dec.Decode(context.Background(), frame, media.Forward); st != StatusOK {
			t.Fatalf("frame %d: got %v, want ok", frame, st)
		}
		if !f.frames.Contains(frame) {
			t.Fatalf("frame %d: not cached after decode", frame)
		}
	}
	if got, want := f.codec.decoded, []int64{0, 3, 1, 2, 6, 4, 5}; !slices.Equal(got, want) {
		t.Errorf("decoded: got %v, want %v", got, want)
	}
	if got, want := f.frames.Frames(), []int64{0, 1, 2, 3, 4, 5, 6}; !slices.Equal(got, want) {
		t.Errorf("cached: got %v, want %v", got, want)
	}
	if !f.q.Empty() {
		t.Errorf("queue: %d packets left, want none", f.q.Len())
	}
}

func TestDecodeBackwardDecodesAhead(t *testing.T) {
	t.Parallel()
	f := newFixture(5)
	f.push(20)
	if st := f.dec.Decode(context.Background(), 10, media.Backward); st != StatusMissingFrame {
		t.Errorf("status: got %v, want missing-frame", st)
	}
	if !f.frames.Contains(20) || !f.q.Empty() {
		t.Error("backward playback should decode and store queued packets")
	}
}

func TestDecodeEmptyQueue(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		cached    bool
		exhausted bool
		want      Status
	}{
		{"cached", true, false, StatusOK},
		{"exhausted", false, true, StatusDone},
		{"waiting", false, false, StatusMissingFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(5)
			f.exhausted = tt.exhausted
			if tt.cached {
				f.frames.Store(&media.VideoFrame{Frame: 3})
			}
			if st := f.dec.Decode(context.Background(), 3, media.Forward); st != tt.want {
				t.Errorf("status: got %v, want %v", st, tt.want)
			}
		})
	}
}

func TestDecodeNoStream(t *testing.T) {
	t.Parallel()
	d := New(Config{Stream: packet.StreamSubtitle})
	if st := d.Decode(context.Background(), 0, media.Forward); st != StatusNoStream {
		t.Errorf("status: got %v, want no-stream", st)
	}
}

func TestDecodeCodecErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(5)
	f.codec.fail = map[int64]bool{1: true, 3: true}
	f.push(1, 2, 3)

	if st := f.dec.Decode(context.Background(), 2, media.Forward); st != StatusOK {
		t.Errorf("frame 2 after bad frame 1: got %v, want ok", st)
	}
	if st := f.dec.Decode(context.Background(), 3, media.Forward); st != StatusError {
		t.Errorf("bad frame 3: got %v, want error", st)
	}
	if !f.q.Empty() {
		t.Error("failed packets must be popped")
	}
	if got, want := f.frames.Frames(), []int64{2}; !slices.Equal(got, want) {
		t.Errorf("cached: got %v, want %v", got, want)
	}
}

func TestDecodeMissingSamples(t *testing.T) {
	t.Parallel()
	q := packet.NewQueue(packet.StreamAudio, 0)
	codec := &fakeCodec{audio: true, silent: map[int64]bool{4: true}}
	store := cache.New[*media.AudioFrame](cache.Window{Size: 10})
	d := New(Config{Stream: packet.StreamAudio, Queue: q, Codec: codec, Cache: AudioCache(store)})

	q.Push(packet.NewData(packet.StreamAudio, 3, 3, []byte{1}))
	q.Push(packet.NewData(packet.StreamAudio, 4, 4, []byte{1}))

	if st := d.Decode(context.Background(), 3, media.Forward); st != StatusOK {
		t.Errorf("frame 3: got %v, want ok", st)
	}
	if st := d.Decode(context.Background(), 4, media.Forward); st != StatusMissingSamples {
		t.Errorf("frame 4: got %v, want missing-samples", st)
	}
	if store.Contains(4) {
		t.Error("an empty audio unit must not be cached")
	}
}

func TestSubtitleCacheCoversDuration(t *testing.T) {
	t.Parallel()
	store := cache.New[*media.Subtitle](cache.Window{Size: 10})
	c := SubtitleCache(store)
	c.Put(media.Unit{Subtitle: &media.Subtitle{Frame: 10, Duration: 5, Text: "hi"}})
	for f, want := range map[int64]bool{9: false, 10: true, 14: true, 15: false} {
		if got := c.Contains(f); got != want {
			t.Errorf("contains(%d): got %v, want %v", f, got, want)
		}
	}
	if c.Put(media.Unit{Video: &media.VideoFrame{}}) {
		t.Error("subtitle cache must reject video units")
	}
}

func TestStatusErrors(t *testing.T) {
	t.Parallel()
	if !errors.Is(StatusMissingFrame.Err(), ErrMissingFrame) {
		t.Error("missing-frame should map to ErrMissingFrame")
	}
	if StatusOK.Err() != nil {
		t.Error("ok has no error")
	}
	err := fmt.Errorf("play: %w", &DecodeError{Stream: packet.StreamVideo, Frame: 7, Err: errBadPacket})
	if !errors.Is(err, ErrCodec) || !errors.Is(err, errBadPacket) {
		t.Errorf("decode error should match both ErrCodec and its cause: %v", err)
	}
	var de *DecodeError
	if !errors.As(err, &de) || de.Frame != 7 {
		t.Errorf("errors.As: got %+v", de)
	}
}
