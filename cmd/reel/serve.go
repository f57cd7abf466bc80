package main

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/reel/internal/certs"
	"github.com/zsiec/reel/internal/control"
	"github.com/zsiec/reel/internal/ingest"
	srtingest "github.com/zsiec/reel/internal/ingest/srt"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/session"
	"github.com/zsiec/reel/internal/source"
	srtsource "github.com/zsiec/reel/internal/source/srt"
	"github.com/zsiec/reel/internal/source/ts"
)

// ServeCmd runs the control plane.
type ServeCmd struct {
	Open     []string `arg:"" optional:"" help:"Locations to open as sessions at startup."`
	Pull     []string `help:"srt:// URLs to pull live feeds from."`
	Autoplay bool     `default:"true" negatable:"" help:"Start playing live feeds as they arrive."`
	CertFile string   `help:"PEM certificate; a self-signed one is generated when empty."`
	KeyFile  string   `help:"PEM private key for --cert-file."`
	Hosts    []string `help:"Extra names or addresses for the self-signed certificate."`
}

// server wires sessions, live feeds and the control plane together.
type server struct {
	log      *slog.Logger
	opts     source.Options
	sessions *session.Manager
	autoplay bool
}

// Run executes the serve command.
func (c *ServeCmd) Run(ctx context.Context, gl *globals) error {
	cfg := gl.cfg
	pcfg, err := cfg.ToPlayback()
	if err != nil {
		return err
	}

	cert, err := c.certificate()
	if err != nil {
		return err
	}
	gl.log.Info("certificate ready",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	relay := control.NewRelay(gl.log)
	srv := &server{
		log:      gl.log,
		opts:     source.Options{FPS: pcfg.FPS, Log: gl.log},
		sessions: session.NewManager(gl.sources, pcfg, gl.log),
		autoplay: c.Autoplay,
	}
	srv.sessions.SetObserver(relay.Observer())
	defer srv.sessions.Close()

	for _, loc := range c.Open {
		s, err := srv.sessions.Create(ctx, "", loc)
		if err != nil {
			return err
		}
		gl.log.Info("session ready", "session", s.ID, "location", loc)
	}

	g, ctx := errgroup.WithContext(ctx)

	// The registry is built after the errgroup so feed sessions end with it.
	feeds := ingest.NewRegistry(func(f *ingest.Feed) { srv.handleFeed(ctx, f) })

	api, err := control.NewServer(control.ServerConfig{
		Addr:     cfg.Control.Addr,
		APIAddr:  cfg.Control.APIAddr,
		Cert:     cert,
		Sessions: srv.sessions,
		Relay:    relay,
		Feeds:    feeds.List,
		Log:      gl.log,
	})
	if err != nil {
		return err
	}
	g.Go(func() error { return api.Start(ctx) })

	if cfg.SRT.Addr != "" {
		srtSrv := srtingest.NewServer(cfg.SRT.Addr, cfg.SRT.Latency, feeds, gl.log)
		g.Go(func() error { return srtSrv.Start(ctx) })
	}

	if len(c.Pull) > 0 {
		caller := srtingest.NewCaller(cfg.SRT.Latency, feeds, gl.log)
		for _, u := range c.Pull {
			req, err := pullRequest(u)
			if err != nil {
				return err
			}
			if err := caller.Pull(ctx, req); err != nil {
				return fmt.Errorf("pull %s: %w", u, err)
			}
		}
	}

	if cfg.MQTT.Broker != "" {
		bridge := control.NewMQTTBridge(control.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
		}, srv.sessions, relay, gl.log)
		g.Go(func() error { return bridge.Run(ctx) })
	}

	gl.log.Info("reel serving",
		"version", version,
		"control", cfg.Control.Addr,
		"api", cfg.Control.APIAddr,
		"srt", cfg.SRT.Addr,
		"mqtt", cfg.MQTT.Broker,
		"sessions", len(c.Open),
	)
	return g.Wait()
}

func (c *ServeCmd) certificate() (*certs.Cert, error) {
	if c.CertFile != "" || c.KeyFile != "" {
		return certs.Load(c.CertFile, c.KeyFile)
	}
	return certs.Generate(certs.MaxValidity, c.Hosts...)
}

// pullRequest turns an srt:// URL into a caller request keyed by the last
// element of its stream ID, or by its address when it has none.
func pullRequest(u string) (srtingest.PullRequest, error) {
	loc, err := srtsource.ParseLocation(u)
	if err != nil {
		return srtingest.PullRequest{}, err
	}
	if loc.Listen {
		return srtingest.PullRequest{}, fmt.Errorf("pull %s: listener mode cannot be pulled", u)
	}
	key := loc.Addr
	if loc.StreamID != "" {
		key = path.Base(loc.StreamID)
	}
	return srtingest.PullRequest{Address: loc.Addr, StreamKey: key, StreamID: loc.StreamID}, nil
}

// handleFeed plays a live feed for as long as it is connected.
func (s *server) handleFeed(ctx context.Context, f *ingest.Feed) {
	log := s.log.With("feed", f.Key)
	src, err := ts.NewLive(ctx, f.Reader(), s.opts)
	if err != nil {
		log.Error("live feed is not a playable transport stream", "error", err)
		f.Reader().Close()
		return
	}
	sess, err := s.sessions.Attach("srt://"+f.Key, src)
	if err != nil {
		log.Error("attach live feed", "error", err)
		src.Close()
		return
	}
	log.Info("live session started", "session", sess.ID)

	if s.autoplay {
		if err := sess.Ctrl.Play(media.Forward, true); err != nil {
			log.Error("play live feed", "session", sess.ID, "error", err)
		}
	}

	select {
	case <-f.Done():
		if err := s.sessions.Remove(sess.ID); err != nil {
			log.Debug("remove live session", "session", sess.ID, "error", err)
		}
	case <-sess.Done():
		// Removed through the API; hang up on the sender.
		f.Reader().Close()
	case <-ctx.Done():
	}
	log.Info("live session ended", "session", sess.ID)
}
