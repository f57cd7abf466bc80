package main

import (
	"context"
	"fmt"
	"time"

	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/playback"
	"github.com/zsiec/reel/internal/session"
)

// PlayCmd plays one location in the foreground.
type PlayCmd struct {
	Location string        `arg:"" help:"File path or srt:// URL."`
	Format   string        `short:"f" help:"Container format (${formats}); detected when empty."`
	From     int64         `default:"-1" help:"Frame to start at; the first frame when negative."`
	Backward bool          `short:"b" help:"Play backward."`
	Loop     string        `help:"Loop mode (none, loop, pingpong); overrides the configuration."`
	Speed    float64       `help:"Speed multiplier; overrides the configuration."`
	Status   time.Duration `default:"5s" help:"Interval between status log lines; 0 disables them."`
}

// Run executes the play command.
func (p *PlayCmd) Run(ctx context.Context, g *globals) error {
	cfg := g.cfg
	if p.Loop != "" {
		cfg.Playback.LoopMode = p.Loop
	}
	if p.Speed > 0 {
		cfg.Playback.Speed = p.Speed
	}
	pcfg, err := cfg.ToPlayback()
	if err != nil {
		return err
	}

	mgr := session.NewManager(g.sources, pcfg, g.log)
	defer mgr.Close()
	events := make(chan playback.Event, 64)
	mgr.SetObserver(func(_ string, e playback.Event) {
		if e.Kind == playback.EventFrameShown {
			return
		}
		select {
		case events <- e:
		default:
		}
	})

	s, err := mgr.Create(ctx, p.Format, p.Location)
	if err != nil {
		return err
	}
	if p.From >= 0 {
		if err := s.Ctrl.Seek(p.From); err != nil {
			return err
		}
	}
	dir := media.Forward
	if p.Backward {
		dir = media.Backward
	}
	if err := s.Ctrl.Play(dir, true); err != nil {
		return err
	}

	var status <-chan time.Time
	if p.Status > 0 {
		tick := time.NewTicker(p.Status)
		defer tick.Stop()
		status = tick.C
	}
	log := g.log.With("session", s.ID)
	for {
		select {
		case <-ctx.Done():
			log.Info("interrupted", "frame", s.Ctrl.Frame())
			return nil
		case <-status:
			st := s.Ctrl.State()
			log.Info("status", "frame", st.Frame, "direction", st.Direction.String(),
				"fps", st.ActualFPS, "video_cached", st.VideoCached, "audio_cached", st.AudioCached)
		case e := <-events:
			switch e.Kind {
			case playback.EventSubtitle:
				log.Info("subtitle", "frame", e.Frame, "text", e.Text)
			case playback.EventLoop:
				log.Info("loop", "frame", e.Frame, "direction", e.Direction.String())
			case playback.EventError:
				return fmt.Errorf("playback of %s failed at frame %d: %s", p.Location, e.Frame, e.Err)
			case playback.EventStop:
				if !s.Ctrl.State().Running {
					log.Info("finished", "frame", e.Frame)
					return nil
				}
			}
		}
	}
}
