// Package ts reads MPEG transport streams as a playback source. Video
// (H.264 or H.265) and AAC audio are passed through undecoded, and
// CEA-608/708 captions carried in the video SEI become the subtitle
// stream. Files are seekable through an index of keyframe offsets that is
// built as the file is read; live feeds are read once.
package ts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/zsiec/reel/internal/decode"
	"github.com/zsiec/reel/internal/demux"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/mpegts"
	"github.com/zsiec/reel/internal/packet"
	"github.com/zsiec/reel/internal/source"
)

const (
	// probeUnits is how many units of the primary stream are read before
	// the frame rate is estimated.
	probeUnits = 48
	// probeLimit bounds the units read while probing.
	probeLimit = 2048
	// tailBytes is how much of the end of a file is read to find its last
	// frame.
	tailBytes = 4 << 20
	// captionHold is how long a caption stays up without a replacement.
	captionHold = 4 * time.Second
)

// ErrNoStreams is returned when the transport stream carries neither video
// nor AAC audio.
var ErrNoStreams = errors.New("ts: no playable video or audio stream")

// esUnit is one demuxed PES unit of a stream the source plays.
type esUnit struct {
	stream packet.Stream
	pts    int64
	dts    int64
	offset int64
	data   []byte
}

type audioGroup struct {
	frame int64
	pts   int64
	data  []byte
}

// Source is a transport stream source. ReadPacket and Seek must be called
// from one goroutine; Decode may be called concurrently with them.
type Source struct {
	log    *slog.Logger
	rs     io.ReadSeeker // nil for live input
	closer io.Closer
	size   int64

	dmx       *mpegts.Demuxer
	videoPID  uint16
	videoType uint8
	audioPID  uint16
	primary   packet.Stream

	info    source.Info
	fps     float64
	pts0    int64
	ptsRef  int64
	haveRef bool
	hold    int64

	idx      index
	backlog  []*esUnit
	pending  []*packet.Packet
	group    *audioGroup
	captions *demux.CaptionDecoder
	channel  atomic.Int32
}

// Open opens the transport stream file at path. It is a source.Opener.
func Open(ctx context.Context, path string, opts source.Options) (source.StreamSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := NewFile(ctx, f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.closer = f
	return s, nil
}

// NewFile creates a seekable source reading rs from its start.
func NewFile(ctx context.Context, rs io.ReadSeeker, opts source.Options) (*Source, error) {
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("ts: size: %w", err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("ts: rewind: %w", err)
	}
	s := newSource(rs, opts)
	s.rs = rs
	s.size = size
	if err := s.probe(ctx); err != nil {
		return nil, err
	}

	last, err := s.findLast(ctx)
	if err != nil {
		return nil, err
	}
	s.info.Last = last
	s.backlog = nil
	if err := s.reposition(0); err != nil {
		return nil, err
	}
	s.log.Info("opened transport stream", "fps", s.fps, "last", last,
		"video", s.info.VideoCodec, "audio", s.info.AudioCodec, "captions", s.info.HasSubtitle)
	return s, nil
}

// NewLive creates a source reading a live feed from r. The frames it
// reports start at 0 and its end is unknown.
func NewLive(ctx context.Context, r io.Reader, opts source.Options) (*Source, error) {
	s := newSource(r, opts)
	if err := s.probe(ctx); err != nil {
		return nil, err
	}
	s.info.Live = true
	s.info.Last = -1
	// Captions can start at any time in a live feed.
	s.info.HasSubtitle = s.info.HasVideo
	s.log.Info("opened live transport stream", "fps", s.fps,
		"video", s.info.VideoCodec, "audio", s.info.AudioCodec)
	return s, nil
}

func newSource(r io.Reader, opts source.Options) *Source {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Source{
		log:      log.With("component", "ts-source"),
		dmx:      mpegts.NewDemuxer(r),
		captions: demux.NewCaptionDecoder(),
		fps:      opts.FPS,
		info:     source.Info{Format: "ts"},
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// probe reads the start of the stream to learn its programs, codecs and
// frame rate. The units it reads are kept in the backlog.
func (s *Source) probe(ctx context.Context) error {
	var pts []int64
	var vuiFPS float64
	havePTS := false
	for n := 0; n < probeLimit && len(pts) < probeUnits; n++ {
		u, err := s.readUnit(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("ts: probe: %w", err)
		}
		s.backlog = append(s.backlog, u)

		switch u.stream {
		case packet.StreamVideo:
			au := s.inspect(u.data)
			if au.Codec != "" && s.info.VideoCodec == "" {
				s.info.VideoCodec = au.Codec
				s.info.Width, s.info.Height = au.Width, au.Height
				vuiFPS = au.FrameRate
			}
			if demux.HasCaptions(au.SEI) {
				s.info.HasSubtitle = true
			}
		case packet.StreamAudio:
			if s.info.SampleRate == 0 {
				if frames, err := demux.ParseADTS(u.data); err == nil && len(frames) > 0 {
					s.info.SampleRate = frames[0].SampleRate
					s.info.Channels = frames[0].Channels
				}
			}
		}
		if u.stream == s.primaryStream() {
			pts = append(pts, u.pts)
			if !havePTS || u.pts < s.pts0 {
				s.pts0 = u.pts
				havePTS = true
			}
		}
	}
	if s.videoPID == 0 && s.audioPID == 0 {
		return ErrNoStreams
	}
	s.primary = s.primaryStream()
	s.info.HasVideo = s.videoPID != 0
	s.info.HasAudio = s.audioPID != 0
	if s.info.HasVideo && s.info.VideoCodec == "" {
		s.info.VideoCodec = "avc1"
		if s.videoType == mpegts.StreamTypeH265 {
			s.info.VideoCodec = "hev1"
		}
	}
	if s.info.HasAudio {
		s.info.AudioCodec = "mp4a.40.2"
	}

	configured := s.fps
	cadence := 0.0
	if s.primary == packet.StreamVideo {
		cadence = estimateFPS(pts)
	}
	switch {
	case cadence > 0:
		s.fps = cadence
	case vuiFPS > 0:
		s.fps = source.SnapFPS(vuiFPS)
	case configured > 0:
	default:
		s.fps = source.DefaultFPS
	}
	if configured > 0 && math.Abs(configured-s.fps) > 0.01 {
		s.log.Debug("stream frame rate overrides configured rate", "fps", s.fps, "configured", configured)
	}
	s.info.FPS = s.fps
	s.hold = max(1, int64(math.Round(captionHold.Seconds()*s.fps)))
	return nil
}

func (s *Source) primaryStream() packet.Stream {
	if s.videoPID != 0 {
		return packet.StreamVideo
	}
	return packet.StreamAudio
}

// findLast reads the tail of the file for the latest timestamp of the
// primary stream and converts it to a frame. If the tail holds no such
// unit the whole file is read.
func (s *Source) findLast(ctx context.Context) (int64, error) {
	start := max(0, s.size-tailBytes)
	start -= start % mpegts.PacketSize
	for {
		if err := s.reposition(start); err != nil {
			return 0, err
		}
		last, found := int64(math.MinInt64), false
		for {
			u, err := s.readUnit(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return 0, fmt.Errorf("ts: scan tail: %w", err)
			}
			if u.stream == s.primary {
				last, found = max(last, u.pts), true
			}
		}
		if found {
			return s.frameOf(last), nil
		}
		if start == 0 {
			return 0, ErrNoStreams
		}
		start = 0
	}
}

// readUnit returns the next PES unit of a played stream, tracking the
// program map on the way.
func (s *Source) readUnit(ctx context.Context) (*esUnit, error) {
	for {
		d, err := s.dmx.NextData(ctx)
		if err != nil {
			return nil, err
		}
		if d.PMT != nil {
			s.learnPMT(d.PMT)
			continue
		}
		if d.PES == nil {
			continue
		}

		var st packet.Stream
		switch pid := d.PID(); {
		case s.videoPID != 0 && pid == s.videoPID:
			st = packet.StreamVideo
		case s.audioPID != 0 && pid == s.audioPID:
			st = packet.StreamAudio
		default:
			continue
		}
		pts, ok := d.PES.Timestamp()
		if !ok {
			continue
		}
		dts, _ := d.PES.DecodeTimestamp()
		if !s.haveRef {
			s.ptsRef, s.haveRef = pts, true
		}
		return &esUnit{
			stream: st,
			pts:    unwrap(pts, s.ptsRef),
			dts:    unwrap(dts, s.ptsRef),
			offset: d.Offset(),
			data:   d.PES.Data,
		}, nil
	}
}

// learnPMT picks the first H.264/H.265 stream and the first AAC stream.
func (s *Source) learnPMT(pmt *mpegts.PMTData) {
	for _, es := range pmt.Streams {
		switch es.StreamType {
		case mpegts.StreamTypeH264, mpegts.StreamTypeH265:
			if s.videoPID == 0 {
				s.videoPID, s.videoType = es.PID, es.StreamType
			}
		case mpegts.StreamTypeAAC:
			if s.audioPID == 0 {
				s.audioPID = es.PID
			}
		}
	}
}

func (s *Source) inspect(data []byte) demux.AccessUnit {
	if s.videoType == mpegts.StreamTypeH265 {
		return demux.InspectH265(data)
	}
	return demux.InspectH264(data)
}

// frameOf maps a 90 kHz timestamp to a timeline frame.
func (s *Source) frameOf(pts int64) int64 {
	return int64(math.Round(float64(pts-s.pts0)*s.fps/clockRate)) + s.info.First
}

func (s *Source) timeOf(pts int64) time.Duration {
	return time.Duration(pts-s.pts0) * time.Second / clockRate
}

// Info implements source.StreamSource.
func (s *Source) Info() source.Info { return s.info }

// ReadPacket implements source.StreamSource. Audio arrives grouped per
// timeline frame; captions follow the video packet that carried them.
func (s *Source) ReadPacket(ctx context.Context) (*packet.Packet, error) {
	for len(s.pending) == 0 {
		u, err := s.next(ctx)
		if errors.Is(err, io.EOF) {
			s.flushAudio()
			if len(s.pending) == 0 {
				return nil, io.EOF
			}
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ts: read: %w", err)
		}
		s.packetize(u, true)
	}
	p := s.pending[0]
	s.pending = s.pending[1:]
	return p, nil
}

func (s *Source) next(ctx context.Context) (*esUnit, error) {
	if len(s.backlog) > 0 {
		u := s.backlog[0]
		s.backlog = s.backlog[1:]
		return u, nil
	}
	u, err := s.readUnit(ctx)
	if errors.Is(err, io.EOF) && s.rs != nil {
		s.idx.complete = true
	}
	return u, err
}

// packetize indexes u and, when emit is set, queues its packets.
func (s *Source) packetize(u *esUnit, emit bool) {
	switch u.stream {
	case packet.StreamVideo:
		au := s.inspect(u.data)
		f := s.frameOf(u.pts)
		if s.rs != nil {
			s.idx.add(indexEntry{frame: f, offset: u.offset, keyframe: au.Keyframe})
		}
		if !emit {
			return
		}
		p := packet.NewData(packet.StreamVideo, f, s.frameOf(u.dts), u.data)
		p.Time = s.timeOf(u.pts)
		p.Duration = 1
		p.Keyframe = au.Keyframe
		s.pending = append(s.pending, p)
		if len(au.SEI) > 0 {
			s.queueCaptions(au.SEI, u.pts)
		}

	case packet.StreamAudio:
		if s.rs != nil && s.primary == packet.StreamAudio {
			s.idx.add(indexEntry{frame: s.frameOf(u.pts), offset: u.offset, keyframe: true})
		}
		if !emit {
			return
		}
		frames, err := demux.ParseADTS(u.data)
		if err != nil {
			s.log.Debug("bad ADTS in audio unit", "pts", u.pts, "error", err)
		}
		pts := u.pts
		for _, fr := range frames {
			s.addAudio(pts, fr.Data)
			if fr.SampleRate > 0 {
				pts += demux.AACSamplesPerFrame * clockRate / int64(fr.SampleRate)
			}
		}
	}
}

// addAudio appends one ADTS frame to the group of its timeline frame.
func (s *Source) addAudio(pts int64, data []byte) {
	f := s.frameOf(pts)
	if s.group != nil && s.group.frame != f {
		s.flushAudio()
	}
	if s.group == nil {
		s.group = &audioGroup{frame: f, pts: pts}
	}
	s.group.data = append(s.group.data, data...)
}

func (s *Source) flushAudio() {
	g := s.group
	if g == nil {
		return
	}
	s.group = nil
	p := packet.NewData(packet.StreamAudio, g.frame, g.frame, g.data)
	p.Time = s.timeOf(g.pts)
	p.Duration = 1
	p.Keyframe = true
	s.pending = append(s.pending, p)
}

// queueCaptions decodes caption data and queues a subtitle packet for each
// change of the displayed text. Only the first channel that shows text is
// played.
func (s *Source) queueCaptions(sei [][]byte, pts int64) {
	for _, c := range s.captions.Decode(sei, pts) {
		ch := s.channel.Load()
		if ch == 0 {
			ch = int32(c.Channel)
			s.channel.Store(ch)
		}
		if int32(c.Channel) != ch {
			continue
		}
		f := s.frameOf(c.PTS)
		p := packet.NewData(packet.StreamSubtitle, f, f, []byte(c.Text))
		p.Time = s.timeOf(c.PTS)
		p.Duration = s.hold
		p.Keyframe = true
		s.pending = append(s.pending, p)
	}
}

// Seek implements source.StreamSource. Reading resumes at the keyframe at
// or before frame; if the index does not reach that far yet, the file is
// read ahead to extend it.
func (s *Source) Seek(ctx context.Context, stream packet.Stream, frame int64, flags source.SeekFlags) error {
	if s.rs == nil {
		return source.ErrNotSeekable
	}
	anyUnit := flags&source.SeekAny != 0
	if !s.idx.covers(frame, anyUnit) {
		if err := s.extendIndex(ctx, frame, anyUnit); err != nil {
			return err
		}
	}

	e, ok := s.idx.find(frame, anyUnit)
	if err := s.reposition(e.offset); err != nil {
		return err
	}
	s.log.Debug("seek", "stream", stream.String(), "frame", frame, "landing", e.frame, "offset", e.offset)
	if !ok {
		return fmt.Errorf("ts: seek to frame %d: %w", frame, source.ErrSeekNotFound)
	}
	return nil
}

// extendIndex reads on from the last indexed unit until frame is covered
// or the file ends.
func (s *Source) extendIndex(ctx context.Context, frame int64, anyUnit bool) error {
	if err := s.reposition(s.idx.resume()); err != nil {
		return err
	}
	for !s.idx.covers(frame, anyUnit) {
		u, err := s.readUnit(ctx)
		if errors.Is(err, io.EOF) {
			s.idx.complete = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("ts: index: %w", err)
		}
		if u.stream == s.primary {
			s.packetize(u, false)
		}
	}
	return nil
}

// reposition moves the read cursor of a file source to offset and drops
// everything read ahead.
func (s *Source) reposition(offset int64) error {
	if _, err := s.rs.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("ts: seek to offset %d: %w", offset, err)
	}
	s.dmx.Reset(s.rs, offset)
	s.backlog = nil
	s.pending = nil
	s.group = nil
	s.captions.Reset()
	return nil
}

// Decode implements source.StreamSource. Units are passed through: video
// keeps its Annex B access unit, audio its ADTS frames.
func (s *Source) Decode(p *packet.Packet) (media.Unit, error) {
	switch p.Stream {
	case packet.StreamVideo:
		v := &media.VideoFrame{
			Frame:    p.PTS,
			PTS:      p.Time,
			Image:    p.Payload,
			Width:    s.info.Width,
			Height:   s.info.Height,
			Codec:    s.info.VideoCodec,
			Keyframe: p.Keyframe,
		}
		if p.Keyframe {
			if au := s.inspect(p.Payload); au.Width > 0 {
				v.Width, v.Height = au.Width, au.Height
			}
		}
		return media.Unit{Video: v}, nil

	case packet.StreamAudio:
		frames, err := demux.ParseADTS(p.Payload)
		if err == nil && len(frames) == 0 {
			err = demux.ErrInvalidADTS
		}
		if err != nil {
			return media.Unit{}, &decode.DecodeError{Stream: p.Stream, Frame: p.PTS, PTS: p.Time, Err: err}
		}
		return media.Unit{Audio: &media.AudioFrame{
			Frame:     p.PTS,
			PTS:       p.Time,
			Samples:   p.Payload,
			Channels:  frames[0].Channels,
			Frequency: frames[0].SampleRate,
			Codec:     s.info.AudioCodec,
		}}, nil

	case packet.StreamSubtitle:
		return media.Unit{Subtitle: &media.Subtitle{
			Frame:    p.PTS,
			Duration: p.Duration,
			Text:     string(p.Payload),
			Channel:  int(s.channel.Load()),
		}}, nil
	}
	return media.Unit{}, &decode.DecodeError{Stream: p.Stream, Frame: p.PTS, PTS: p.Time, Err: decode.ErrNoStream}
}

// Flush implements source.StreamSource. Pass-through decoding keeps no
// per-stream state.
func (s *Source) Flush(packet.Stream) {}

// Close implements source.StreamSource.
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
