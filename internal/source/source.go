// Package source defines the StreamSource contract that playback reads
// packets from, and a registry that opens sources by container format.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/packet"
)

var (
	// ErrSeekNotFound is returned by Seek when no keyframe precedes the
	// target.
	ErrSeekNotFound = errors.New("source: seek target not found")
	// ErrUnknownFormat is returned for a format with no registered opener.
	ErrUnknownFormat = errors.New("source: unknown format")
	// ErrNotSeekable is returned by Seek on live sources.
	ErrNotSeekable = errors.New("source: not seekable")
)

// SeekFlags modify how Seek picks its landing point.
type SeekFlags int

const (
	// SeekBackward lands on the nearest keyframe at or before the target.
	SeekBackward SeekFlags = 1 << iota
	// SeekAny lands on any packet, keyframe or not.
	SeekAny
)

// Info describes an opened source.
type Info struct {
	Format string  `json:"format"`
	FPS    float64 `json:"fps"`
	First  int64   `json:"first"`
	// Last is the final frame, or -1 while a live source is still growing.
	Last int64 `json:"last"`

	HasVideo    bool `json:"hasVideo"`
	HasAudio    bool `json:"hasAudio"`
	HasSubtitle bool `json:"hasSubtitle"`

	VideoCodec string `json:"videoCodec,omitempty"`
	AudioCodec string `json:"audioCodec,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Live       bool   `json:"live,omitempty"`
}

// Has reports whether the source carries stream s.
func (i Info) Has(s packet.Stream) bool {
	switch s {
	case packet.StreamVideo:
		return i.HasVideo
	case packet.StreamAudio:
		return i.HasAudio
	case packet.StreamSubtitle:
		return i.HasSubtitle
	}
	return false
}

// Streams returns the streams the source carries, video first.
func (i Info) Streams() []packet.Stream {
	var out []packet.Stream
	for _, s := range []packet.Stream{packet.StreamVideo, packet.StreamAudio, packet.StreamSubtitle} {
		if i.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

// StreamSource is a demuxer plus decoder for one media file or feed.
// ReadPacket and Seek are only called from the dispatch goroutine; Decode
// and Flush are called from the goroutine owning that stream.
type StreamSource interface {
	Info() Info
	// ReadPacket returns the next packet in file order, or io.EOF.
	ReadPacket(ctx context.Context) (*packet.Packet, error)
	// Seek repositions reading at the keyframe at or before frame.
	Seek(ctx context.Context, stream packet.Stream, frame int64, flags SeekFlags) error
	// Decode turns a Data packet into a unit. Failures are *decode.DecodeError
	// compatible: they carry the stream and frame of the packet.
	Decode(p *packet.Packet) (media.Unit, error)
	// Flush resets the decoder state of one stream.
	Flush(stream packet.Stream)
	Close() error
}

// Options are passed to every opener.
type Options struct {
	// FPS is used when the container does not reveal a frame rate.
	FPS float64
	Log *slog.Logger
}

// Opener opens a source at location.
type Opener func(ctx context.Context, location string, opts Options) (StreamSource, error)

// Registry maps format names to openers.
type Registry struct {
	mu      sync.RWMutex
	openers map[string]Opener
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{openers: make(map[string]Opener)}
}

// Register adds or replaces the opener for format.
func (r *Registry) Register(format string, open Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openers[format] = open
}

// Formats lists the registered formats in sorted order.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.openers))
	for f := range r.openers {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Open opens location with the opener for format. An empty format is
// detected from the location.
func (r *Registry) Open(ctx context.Context, format, location string, opts Options) (StreamSource, error) {
	if format == "" {
		var err error
		if format, err = Detect(location); err != nil {
			return nil, err
		}
	}
	r.mu.RLock()
	open, ok := r.openers[format]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("open %s: %w: %q", location, ErrUnknownFormat, format)
	}
	src, err := open(ctx, location, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", location, err)
	}
	return src, nil
}

// Detect guesses the format of location from its scheme or extension.
func Detect(location string) (string, error) {
	if strings.HasPrefix(location, "srt://") {
		return "srt", nil
	}
	switch strings.ToLower(filepath.Ext(location)) {
	case ".ts", ".m2ts", ".mts", ".trp":
		return "ts", nil
	case ".mp4", ".m4v", ".mov", ".m4a":
		return "mp4", nil
	}
	return "", fmt.Errorf("detect %s: %w", location, ErrUnknownFormat)
}
