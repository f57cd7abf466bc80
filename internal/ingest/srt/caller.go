package srt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zsiec/reel/internal/ingest"
)

// PullRequest describes a remote SRT listener to pull a feed from.
type PullRequest struct {
	Address   string `json:"address"`
	StreamKey string `json:"streamKey"`
	StreamID  string `json:"streamId,omitempty"`
}

func (r PullRequest) validate() error {
	var errs []error
	if r.Address == "" {
		errs = append(errs, errors.New("address is required"))
	}
	if r.StreamKey == "" {
		errs = append(errs, errors.New("streamKey is required"))
	}
	return errors.Join(errs...)
}

// Caller pulls feeds from remote SRT listeners into the registry.
type Caller struct {
	receiver
	latency time.Duration

	mu     sync.Mutex
	active map[string]pull
}

type pull struct {
	req    PullRequest
	cancel context.CancelFunc
}

// NewCaller creates a Caller. If log is nil, slog.Default() is used.
func NewCaller(latency time.Duration, registry *ingest.Registry, log *slog.Logger) *Caller {
	if log == nil {
		log = slog.Default()
	}
	return &Caller{
		receiver: receiver{log: log.With("component", "srt-caller"), registry: registry},
		latency:  latency,
		active:   make(map[string]pull),
	}
}

// Pull dials the remote listener and, once connected, copies the feed in
// the background until ctx is done, the remote hangs up or Stop is called.
func (c *Caller) Pull(ctx context.Context, req PullRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if _, ok := c.active[req.StreamKey]; ok {
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("pull already active for stream key %q", req.StreamKey)
	}
	c.active[req.StreamKey] = pull{req: req, cancel: cancel}
	c.mu.Unlock()

	done := func() {
		cancel()
		c.mu.Lock()
		delete(c.active, req.StreamKey)
		c.mu.Unlock()
	}

	streamID := req.StreamID
	if streamID == "" {
		streamID = "live/" + req.StreamKey
	}
	conn, err := Dial(ctx, req.Address, streamID, c.latency)
	if err != nil {
		done()
		return err
	}
	if _, live := c.registry.Get(req.StreamKey); live {
		conn.Close()
		done()
		return fmt.Errorf("pull %q: %w", req.StreamKey, ingest.ErrFeedActive)
	}

	go func() {
		defer done()
		defer conn.Close()
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()
		if err := c.receive(ctx, conn, req.StreamKey, req.Address); err != nil {
			c.log.Warn("pull rejected", "stream_key", req.StreamKey, "error", err)
		}
	}()
	return nil
}

// Stop ends the pull for streamKey.
func (c *Caller) Stop(streamKey string) error {
	c.mu.Lock()
	p, ok := c.active[streamKey]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active pull for stream key %q", streamKey)
	}
	p.cancel()
	return nil
}

// ActivePulls lists the running pulls ordered by stream key.
func (c *Caller) ActivePulls() []PullRequest {
	c.mu.Lock()
	out := make([]PullRequest, 0, len(c.active))
	for _, p := range c.active {
		out = append(out, p.req)
	}
	c.mu.Unlock()
	slices.SortFunc(out, func(a, b PullRequest) int { return strings.Compare(a.StreamKey, b.StreamKey) })
	return out
}
