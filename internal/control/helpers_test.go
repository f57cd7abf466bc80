package control

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/zsiec/reel/internal/decode"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/packet"
	"github.com/zsiec/reel/internal/playback"
	"github.com/zsiec/reel/internal/session"
	"github.com/zsiec/reel/internal/source"
)

// clipSource plays n video frames with a keyframe every fifth.
type clipSource struct {
	n   int64
	mu  sync.Mutex
	pos int64
}

func (s *clipSource) Info() source.Info {
	return source.Info{Format: "clip", FPS: 250, First: 0, Last: s.n - 1, HasVideo: true}
}

func (s *clipSource) ReadPacket(ctx context.Context) (*packet.Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= s.n {
		return nil, io.EOF
	}
	p := packet.NewData(packet.StreamVideo, s.pos, s.pos, []byte{1})
	p.Keyframe = s.pos%5 == 0
	s.pos++
	return p, nil
}

func (s *clipSource) Seek(_ context.Context, _ packet.Stream, frame int64, _ source.SeekFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = max(frame-frame%5, 0)
	return nil
}

func (s *clipSource) Decode(p *packet.Packet) (media.Unit, error) {
	if p.Stream != packet.StreamVideo {
		return media.Unit{}, decode.ErrNoStream
	}
	return media.Unit{Video: &media.VideoFrame{Frame: p.Frame(), Image: p.Payload, Keyframe: p.Keyframe}}, nil
}

func (s *clipSource) Flush(packet.Stream) {}
func (s *clipSource) Close() error       { return nil }

// newSessions returns a manager that opens clips of 40 frames for any
// location and has one session already attached.
func newSessions(t *testing.T, relay *Relay) (*session.Manager, *session.Session) {
	t.Helper()
	reg := source.NewRegistry()
	reg.Register("clip", func(context.Context, string, source.Options) (source.StreamSource, error) {
		return &clipSource{n: 40}, nil
	})
	cfg := playback.DefaultConfig()
	cfg.LoopMode = playback.LoopNone
	m := session.NewManager(reg, cfg, nil)
	if relay != nil {
		m.SetObserver(relay.Observer())
	}
	s, err := m.Create(context.Background(), "clip", "a.clip")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, s
}
