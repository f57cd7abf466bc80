package srt

import (
	"context"
	"io"
	"log/slog"

	"github.com/zsiec/reel/internal/ingest"
)

// receiver moves SRT payloads into feeds of a registry.
type receiver struct {
	log      *slog.Logger
	registry *ingest.Registry
}

// receive registers a feed for key and copies conn into it until conn or
// ctx ends. The feed is unregistered before receive returns; conn is not
// closed.
func (r receiver) receive(ctx context.Context, conn io.Reader, key, remote string) error {
	feed, w, err := r.registry.Register(key)
	if err != nil {
		return err
	}
	feed.SetRemoteAddr(remote)
	log := r.log.With("stream_key", key, "remote", remote)
	log.Info("feed started")

	if err := copyFeed(ctx, conn, w, feed.RecordRead); err != nil {
		log.Debug("feed interrupted", "error", err)
	}
	st := feed.Stats()
	r.registry.Unregister(key)
	log.Info("feed ended", "bytes", st.BytesReceived, "reads", st.ReadCount, "uptime_ms", st.UptimeMs)
	return nil
}
