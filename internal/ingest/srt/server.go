package srt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/reel/internal/ingest"
)

// Server accepts SRT publish connections and registers each one as a feed.
type Server struct {
	receiver
	addr    string
	latency time.Duration
}

// NewServer creates a server listening on addr. If log is nil,
// slog.Default() is used.
func NewServer(addr string, latency time.Duration, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		receiver: receiver{log: log.With("component", "srt-server"), registry: registry},
		addr:     addr,
		latency:  latency,
	}
}

// admit rejects publishers without a stream ID and keys already live.
func (s *Server) admit(req srtgo.ConnRequest) srtgo.RejectReason {
	if req.StreamID == "" {
		return srtgo.RejPeer
	}
	if _, live := s.registry.Get(extractStreamKey(req.StreamID)); live {
		return srtgo.RejPeer
	}
	return 0
}

// Start accepts connections until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	l, err := srtgo.Listen(s.addr, config(s.latency, ""))
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	l.SetAcceptRejectFunc(s.admit)
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	s.log.Info("listening", "addr", s.addr)

	for {
		conn, err := l.Accept()
		switch {
		case ctx.Err() != nil:
			if conn != nil {
				conn.Close()
			}
			return nil
		case err != nil:
			s.log.Warn("accept error", "error", err)
			continue
		}
		go func() {
			defer conn.Close()
			key := extractStreamKey(conn.StreamID())
			if err := s.receive(ctx, conn, key, conn.RemoteAddr().String()); err != nil {
				s.log.Warn("rejecting publisher", "stream_key", key, "error", err)
			}
		}()
	}
}
