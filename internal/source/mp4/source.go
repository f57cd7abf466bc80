// Package mp4 reads ISO BMFF files (progressive or fragmented) as a
// playback source. The first video and the first AAC audio track are
// played. Video samples are converted to Annex B with the parameter sets
// in front of every sync sample; audio samples are wrapped in ADTS.
package mp4

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"time"

	mp4ff "github.com/Eyevinn/mp4ff/mp4"

	"github.com/zsiec/reel/internal/decode"
	"github.com/zsiec/reel/internal/demux"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/packet"
	"github.com/zsiec/reel/internal/source"
)

var (
	// ErrNoTracks is returned when the file has neither a video nor an AAC
	// audio track.
	ErrNoTracks = errors.New("mp4: no playable video or audio track")
	// ErrNoMoov is returned for files without a movie box.
	ErrNoMoov = errors.New("mp4: no moov box")
)

// sample is one media sample of a played track.
type sample struct {
	stream packet.Stream
	decode float64 // decode time in seconds
	pts    float64 // presentation time in seconds
	offset int64   // progressive files: position in the file
	size   int
	data   []byte // fragmented files: the sample bytes
	sync   bool
}

// track is a played track as found in the moov box.
type track struct {
	id        uint32
	stream    packet.Stream
	timescale uint32
	trak      *mp4ff.TrakBox
}

// Source is an MP4 source. ReadPacket and Seek must be called from one
// goroutine.
type Source struct {
	log    *slog.Logger
	rs     io.ReadSeeker
	closer io.Closer

	info   source.Info
	fps    float64
	origin float64 // presentation time of the first primary sample

	primary packet.Stream
	params  []byte // Annex B parameter sets
	rate    int
	chans   int

	samples []sample // every played sample in decode order
	cursor  int
	pending []*packet.Packet
	group   *audioGroup
}

type audioGroup struct {
	frame int64
	pts   float64
	data  []byte
}

// Open opens the MP4 file at path. It is a source.Opener.
func Open(ctx context.Context, path string, opts source.Options) (source.StreamSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.closer = f
	return s, nil
}

// New reads the box structure of rs and builds its sample index. Media
// data of progressive files is read on demand.
func New(ctx context.Context, rs io.ReadSeeker, opts source.Options) (*Source, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Source{
		log:  log.With("component", "mp4-source"),
		rs:   rs,
		fps:  opts.FPS,
		info: source.Info{Format: "mp4"},
	}

	f, err := mp4ff.DecodeFile(rs, mp4ff.WithDecodeMode(mp4ff.DecModeLazyMdat))
	if err != nil {
		return nil, fmt.Errorf("mp4: decode: %w", err)
	}
	if f.IsFragmented() {
		// Fragment samples are read from their mdat boxes.
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("mp4: rewind: %w", err)
		}
		if f, err = mp4ff.DecodeFile(rs); err != nil {
			return nil, fmt.Errorf("mp4: decode fragments: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	moov := f.Moov
	if f.IsFragmented() && f.Init != nil {
		moov = f.Init.Moov
	}
	if moov == nil {
		return nil, ErrNoMoov
	}
	tracks := s.selectTracks(moov)
	if len(tracks) == 0 {
		return nil, ErrNoTracks
	}

	for _, t := range tracks {
		var err error
		if f.IsFragmented() {
			err = s.indexFragments(f, moov, t)
		} else {
			err = s.indexTrack(t)
		}
		if err != nil {
			return nil, err
		}
	}
	s.finish()
	s.log.Info("opened mp4", "fps", s.fps, "last", s.info.Last, "samples", len(s.samples),
		"fragmented", f.IsFragmented(), "video", s.info.VideoCodec, "audio", s.info.AudioCodec)
	return s, nil
}

// selectTracks picks the first video and the first AAC track and reads
// their sample descriptions.
func (s *Source) selectTracks(moov *mp4ff.MoovBox) []track {
	var out []track
	for _, trak := range moov.Traks {
		if trak.Mdia == nil || trak.Mdia.Hdlr == nil || trak.Mdia.Mdhd == nil ||
			trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil || trak.Mdia.Minf.Stbl.Stsd == nil {
			continue
		}
		t := track{id: trak.Tkhd.TrackID, timescale: trak.Mdia.Mdhd.Timescale, trak: trak}
		if t.timescale == 0 {
			continue
		}
		switch trak.Mdia.Hdlr.HandlerType {
		case "vide":
			if s.info.HasVideo || !s.describeVideo(trak) {
				continue
			}
			t.stream = packet.StreamVideo
			s.info.HasVideo = true
		case "soun":
			if s.info.HasAudio || !s.describeAudio(trak) {
				continue
			}
			t.stream = packet.StreamAudio
			s.info.HasAudio = true
		default:
			continue
		}
		out = append(out, t)
	}
	s.primary = packet.StreamAudio
	if s.info.HasVideo {
		s.primary = packet.StreamVideo
	}
	return out
}

func (s *Source) describeVideo(trak *mp4ff.TrakBox) bool {
	for _, child := range trak.Mdia.Minf.Stbl.Stsd.Children {
		vse, ok := child.(*mp4ff.VisualSampleEntryBox)
		if !ok {
			continue
		}
		s.info.Width, s.info.Height = int(vse.Width), int(vse.Height)
		switch {
		case vse.AvcC != nil:
			for _, nalu := range slices.Concat(vse.AvcC.SPSnalus, vse.AvcC.PPSnalus) {
				s.params = append(s.params, 0, 0, 0, 1)
				s.params = append(s.params, nalu...)
			}
			s.info.VideoCodec = "avc1"
			if len(vse.AvcC.SPSnalus) > 0 {
				if p, err := demux.H264Params(vse.AvcC.SPSnalus[0]); err == nil {
					s.info.VideoCodec = p.Codec
				}
			}
			return true
		case vse.HvcC != nil:
			s.info.VideoCodec = "hvc1"
			for _, arr := range vse.HvcC.NaluArrays {
				for _, nalu := range arr.Nalus {
					s.params = append(s.params, 0, 0, 0, 1)
					s.params = append(s.params, nalu...)
					if demux.IsH265SPS(nalu) {
						if p, err := demux.H265Params(nalu); err == nil {
							s.info.VideoCodec = p.Codec
						}
					}
				}
			}
			return true
		}
	}
	return false
}

func (s *Source) describeAudio(trak *mp4ff.TrakBox) bool {
	for _, child := range trak.Mdia.Minf.Stbl.Stsd.Children {
		ase, ok := child.(*mp4ff.AudioSampleEntryBox)
		if !ok || ase.Type() != "mp4a" {
			continue
		}
		s.rate = int(ase.SampleRate)
		if s.rate == 0 {
			s.rate = int(trak.Mdia.Mdhd.Timescale)
		}
		s.chans = int(ase.ChannelCount)
		if _, err := demux.ADTSHeader(s.rate, s.chans, 0); err != nil {
			s.log.Warn("unsupported AAC configuration", "rate", s.rate, "channels", s.chans)
			return false
		}
		s.info.SampleRate, s.info.Channels = s.rate, s.chans
		s.info.AudioCodec = "mp4a.40.2"
		return true
	}
	return false
}

// indexTrack adds the samples of a progressive track, locating each one
// through the chunk tables.
func (s *Source) indexTrack(t track) error {
	stbl := t.trak.Mdia.Minf.Stbl
	if stbl.Stsz == nil || stbl.Stsc == nil || stbl.Stts == nil {
		return fmt.Errorf("mp4: track %d: incomplete sample table", t.id)
	}
	sync := make(map[uint32]bool)
	if stbl.Stss != nil {
		for _, nr := range stbl.Stss.SampleNumber {
			sync[nr] = true
		}
	}
	allSync := stbl.Stss == nil || t.stream == packet.StreamAudio

	var offset int64
	chunk := -1
	for nr := uint32(1); nr <= stbl.Stsz.SampleNumber; nr++ {
		chunkNr, first, err := stbl.Stsc.ChunkNrFromSampleNr(int(nr))
		if err != nil {
			return fmt.Errorf("mp4: track %d sample %d: %w", t.id, nr, err)
		}
		size := int64(stbl.Stsz.GetSampleSize(int(nr)))
		if chunkNr != chunk {
			chunk = chunkNr
			base, err := chunkOffset(stbl, chunkNr)
			if err != nil {
				return fmt.Errorf("mp4: track %d sample %d: %w", t.id, nr, err)
			}
			offset = base
			for p := uint32(first); p < nr; p++ {
				offset += int64(stbl.Stsz.GetSampleSize(int(p)))
			}
		}

		dts, _ := stbl.Stts.GetDecodeTime(nr)
		pts := int64(dts)
		if stbl.Ctts != nil {
			pts += int64(stbl.Ctts.GetCompositionTimeOffset(nr))
		}
		s.samples = append(s.samples, sample{
			stream: t.stream,
			decode: float64(dts) / float64(t.timescale),
			pts:    float64(pts) / float64(t.timescale),
			offset: offset,
			size:   int(size),
			sync:   allSync || sync[nr],
		})
		offset += size
	}
	return nil
}

func chunkOffset(stbl *mp4ff.StblBox, chunkNr int) (int64, error) {
	switch {
	case stbl.Stco != nil:
		off, err := stbl.Stco.GetOffset(chunkNr)
		return int64(off), err
	case stbl.Co64 != nil:
		if chunkNr < 1 || chunkNr > len(stbl.Co64.ChunkOffset) {
			return 0, fmt.Errorf("chunk %d out of range", chunkNr)
		}
		return int64(stbl.Co64.ChunkOffset[chunkNr-1]), nil
	}
	return 0, errors.New("no chunk offset box")
}

// indexFragments adds the samples of a track from every fragment that
// carries it. Fragments are expected to hold one track each.
func (s *Source) indexFragments(f *mp4ff.File, moov *mp4ff.MoovBox, t track) error {
	var trex *mp4ff.TrexBox
	if moov.Mvex != nil {
		for _, tx := range moov.Mvex.Trexs {
			if tx.TrackID == t.id {
				trex = tx
			}
		}
	}
	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil || len(frag.Moof.Trafs) == 0 || frag.Moof.Trafs[0].Tfhd.TrackID != t.id {
				continue
			}
			if len(frag.Moof.Trafs) > 1 {
				s.log.Warn("skipping multi-track fragment", "track", t.id, "sequence", frag.Moof.Mfhd.SequenceNumber)
				continue
			}
			full, err := frag.GetFullSamples(trex)
			if err != nil {
				return fmt.Errorf("mp4: track %d fragment %d: %w", t.id, frag.Moof.Mfhd.SequenceNumber, err)
			}
			for _, fs := range full {
				pts := int64(fs.DecodeTime) + int64(fs.CompositionTimeOffset)
				s.samples = append(s.samples, sample{
					stream: t.stream,
					decode: float64(fs.DecodeTime) / float64(t.timescale),
					pts:    float64(pts) / float64(t.timescale),
					size:   len(fs.Data),
					data:   fs.Data,
					sync:   t.stream == packet.StreamAudio || fs.IsSync(),
				})
			}
		}
	}
	return nil
}

// finish orders the samples, derives the frame rate and the timeline.
func (s *Source) finish() {
	slices.SortStableFunc(s.samples, func(a, b sample) int {
		switch {
		case a.decode < b.decode:
			return -1
		case a.decode > b.decode:
			return 1
		}
		return 0
	})

	var primary []float64
	s.origin = math.Inf(1)
	for _, sm := range s.samples {
		if sm.stream == s.primary {
			primary = append(primary, sm.pts)
			s.origin = min(s.origin, sm.pts)
		}
	}
	if len(primary) == 0 {
		s.origin = 0
	}

	configured := s.fps
	if rate := sampleRate(primary); s.primary == packet.StreamVideo && rate > 0 {
		s.fps = source.SnapFPS(rate)
	} else if configured <= 0 {
		s.fps = source.DefaultFPS
	}
	s.info.FPS = s.fps

	s.info.Last = -1
	for _, sm := range s.samples {
		if sm.stream == s.primary {
			s.info.Last = max(s.info.Last, s.frameOf(sm.pts))
		}
	}
}

// sampleRate returns the frame rate implied by the median gap between
// distinct presentation times.
func sampleRate(pts []float64) float64 {
	sorted := slices.Clone(pts)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	if len(sorted) < 2 {
		return 0
	}
	gaps := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, sorted[i]-sorted[i-1])
	}
	slices.Sort(gaps)
	return 1 / gaps[len(gaps)/2]
}

func (s *Source) frameOf(pts float64) int64 {
	return int64(math.Round((pts-s.origin)*s.fps)) + s.info.First
}

// Info implements source.StreamSource.
func (s *Source) Info() source.Info { return s.info }

// ReadPacket implements source.StreamSource. Audio arrives grouped per
// timeline frame.
func (s *Source) ReadPacket(ctx context.Context) (*packet.Packet, error) {
	for len(s.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.cursor >= len(s.samples) {
			s.flushAudio()
			if len(s.pending) == 0 {
				return nil, io.EOF
			}
			break
		}
		sm := s.samples[s.cursor]
		s.cursor++
		data, err := s.read(sm)
		if err != nil {
			return nil, err
		}
		s.packetize(sm, data)
	}
	p := s.pending[0]
	s.pending = s.pending[1:]
	return p, nil
}

func (s *Source) read(sm sample) ([]byte, error) {
	if sm.data != nil {
		return sm.data, nil
	}
	if _, err := s.rs.Seek(sm.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("mp4: seek to sample at %d: %w", sm.offset, err)
	}
	data := make([]byte, sm.size)
	if _, err := io.ReadFull(s.rs, data); err != nil {
		return nil, fmt.Errorf("mp4: read sample at %d: %w", sm.offset, err)
	}
	return data, nil
}

func (s *Source) packetize(sm sample, data []byte) {
	f := s.frameOf(sm.pts)
	switch sm.stream {
	case packet.StreamVideo:
		au := lengthPrefixedToAnnexB(data)
		if sm.sync && len(s.params) > 0 {
			au = append(slices.Clip(s.params), au...)
		}
		p := packet.NewData(packet.StreamVideo, f, s.frameOf(sm.decode), au)
		p.Time = s.timeOf(sm.pts)
		p.Duration = 1
		p.Keyframe = sm.sync
		s.pending = append(s.pending, p)

	case packet.StreamAudio:
		hdr, err := demux.ADTSHeader(s.rate, s.chans, len(data))
		if err != nil {
			s.log.Debug("dropping oversized audio sample", "pts", sm.pts, "size", len(data))
			return
		}
		if s.group != nil && s.group.frame != f {
			s.flushAudio()
		}
		if s.group == nil {
			s.group = &audioGroup{frame: f, pts: sm.pts}
		}
		s.group.data = append(s.group.data, hdr...)
		s.group.data = append(s.group.data, data...)
	}
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

func (s *Source) timeOf(pts float64) time.Duration {
	return time.Duration((pts - s.origin) * float64(time.Second))
}

// lengthPrefixedToAnnexB replaces the 4-byte NAL unit lengths of a sample
// with start codes.
func lengthPrefixedToAnnexB(data []byte) []byte {
	out := make([]byte, 0, len(data)+8)
	for off := 0; off+4 <= len(data); {
		n := int(binary.BigEndian.Uint32(data[off:]))
		off += 4
		if n > len(data)-off {
			break
		}
		out = append(out, 0, 0, 0, 1)
		out = append(out, data[off:off+n]...)
		off += n
	}
	return out
}

// Seek implements source.StreamSource. Reading resumes at the sync sample
// of the primary track at or before frame.
func (s *Source) Seek(ctx context.Context, stream packet.Stream, frame int64, flags source.SeekFlags) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	anyUnit := flags&source.SeekAny != 0
	s.pending = nil
	s.group = nil

	landing := -1
	for i, sm := range s.samples {
		if sm.stream != s.primary || !(anyUnit || sm.sync) || s.frameOf(sm.pts) > frame {
			continue
		}
		if landing < 0 || sm.pts > s.samples[landing].pts {
			landing = i
		}
	}
	if landing < 0 {
		s.cursor = 0
		return fmt.Errorf("mp4: seek to frame %d: %w", frame, source.ErrSeekNotFound)
	}
	// Start at the first sample decoded no earlier than the landing sample.
	s.cursor = landing
	for s.cursor > 0 && s.samples[s.cursor-1].decode == s.samples[landing].decode {
		s.cursor--
	}
	s.log.Debug("seek", "stream", stream.String(), "frame", frame, "landing", s.frameOf(s.samples[landing].pts))
	return nil
}

// Decode implements source.StreamSource. Units are passed through.
func (s *Source) Decode(p *packet.Packet) (media.Unit, error) {
	switch p.Stream {
	case packet.StreamVideo:
		return media.Unit{Video: &media.VideoFrame{
			Frame:    p.PTS,
			PTS:      p.Time,
			Image:    p.Payload,
			Width:    s.info.Width,
			Height:   s.info.Height,
			Codec:    s.info.VideoCodec,
			Keyframe: p.Keyframe,
		}}, nil
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
	}
	return media.Unit{}, &decode.DecodeError{Stream: p.Stream, Frame: p.PTS, PTS: p.Time, Err: decode.ErrNoStream}
}

// Flush implements source.StreamSource.
func (s *Source) Flush(packet.Stream) {}

// Close implements source.StreamSource.
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
