package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	srtingest "github.com/zsiec/reel/internal/ingest/srt"
	"github.com/zsiec/reel/internal/mpegts"
	"github.com/zsiec/reel/internal/source"
	"github.com/zsiec/reel/internal/source/ts"
)

// pushChunk is the SRT payload size: seven transport packets.
const pushChunk = 7 * mpegts.PacketSize

// PushCmd publishes a transport stream file to an SRT listener in real
// time, for feeding a reel serve instance.
type PushCmd struct {
	File     string `arg:"" type:"existingfile" help:"MPEG-TS file to push."`
	Addr     string `default:"127.0.0.1:6000" help:"SRT listener address."`
	StreamID string `help:"SRT stream ID; live/<file name> when empty."`
	Loop     bool   `help:"Restart from the beginning at the end of the file."`
}

// Run executes the push command.
func (p *PushCmd) Run(ctx context.Context, g *globals) error {
	data, err := os.ReadFile(p.File)
	if err != nil {
		return err
	}
	if len(data)%mpegts.PacketSize != 0 {
		g.log.Warn("file size is not a multiple of the packet size", "file", p.File, "size", len(data))
	}
	dur, err := fileDuration(ctx, p.File, g.cfg.Playback.FPS, g.log)
	if err != nil {
		return err
	}
	rate := float64(len(data)) / dur.Seconds()

	streamID := p.StreamID
	if streamID == "" {
		base := filepath.Base(p.File)
		streamID = "live/" + strings.TrimSuffix(base, filepath.Ext(base))
	}
	log := g.log.With("stream_id", streamID, "addr", p.Addr)
	log.Info("pushing", "file", p.File, "duration", dur, "bytes_per_sec", int64(rate))

	conn, err := srtingest.Dial(ctx, p.Addr, streamID, g.cfg.SRT.Latency)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	start := time.Now()
	var sent int64
	for loop := 1; ; loop++ {
		for off := 0; off < len(data); off += pushChunk {
			end := min(off+pushChunk, len(data))
			if _, err := conn.Write(data[off:end]); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("push to %s: %w", p.Addr, err)
			}
			sent += int64(end - off)
			// Paced against the overall start so loops join without a gap.
			if d := pace(time.Since(start), sent, rate); d > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(d):
				}
			}
		}
		log.Info("file pushed", "loop", loop, "bytes", sent, "elapsed", time.Since(start).Truncate(time.Second))
		if !p.Loop {
			return nil
		}
	}
}

// pace returns how long to wait so that sent bytes go out at rate bytes
// per second after elapsed.
func pace(elapsed time.Duration, sent int64, rate float64) time.Duration {
	due := time.Duration(float64(sent) / rate * float64(time.Second))
	return due - elapsed
}

// fileDuration reads the frame range of a transport stream file.
func fileDuration(ctx context.Context, path string, fps float64, log *slog.Logger) (time.Duration, error) {
	src, err := ts.Open(ctx, path, source.Options{FPS: fps, Log: log})
	if err != nil {
		return 0, err
	}
	defer src.Close()
	info := src.Info()
	if info.Last < info.First || info.FPS <= 0 {
		return 0, fmt.Errorf("%s: cannot determine duration", path)
	}
	return durationOf(info), nil
}

func durationOf(info source.Info) time.Duration {
	frames := float64(info.Last - info.First + 1)
	return time.Duration(frames / info.FPS * float64(time.Second))
}
