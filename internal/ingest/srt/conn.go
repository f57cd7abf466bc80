package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// readBufferSize holds ten SRT payloads of 7 TS packets each.
const readBufferSize = 1316 * 10

const (
	// DefaultLatency is the SRT receive latency when none is configured.
	DefaultLatency = 120 * time.Millisecond
	dialTimeout    = 10 * time.Second
)

// setNanos stores d in an integer nanosecond field of srtgo.Config.
func setNanos[T ~int | ~int32 | ~int64 | ~uint32 | ~uint64](dst *T, d time.Duration) {
	*dst = T(d.Nanoseconds())
}

func config(latency time.Duration, streamID string) srtgo.Config {
	cfg := srtgo.DefaultConfig()
	if latency <= 0 {
		latency = DefaultLatency
	}
	setNanos(&cfg.Latency, latency)
	cfg.StreamID = streamID
	return cfg
}

// Dial connects to the SRT listener at addr, giving up after ten seconds
// or when ctx is done.
func Dial(ctx context.Context, addr, streamID string, latency time.Duration) (*srtgo.Conn, error) {
	cfg := config(latency, streamID)

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(addr, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	// A dial abandoned below still completes; close what it returns.
	drain := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial %s: %w", addr, res.err)
		}
		return res.conn, nil
	case <-timer.C:
		drain()
		return nil, fmt.Errorf("SRT dial %s timed out after %s", addr, dialTimeout)
	case <-ctx.Done():
		drain()
		return nil, ctx.Err()
	}
}

// Accept listens on addr and returns the first publish connection with the
// stream key of streamID, or any publisher if streamID is empty. The
// listener is closed before Accept returns.
func Accept(ctx context.Context, addr, streamID string, latency time.Duration) (*srtgo.Conn, error) {
	key := ""
	if streamID != "" {
		key = extractStreamKey(streamID)
	}
	l, err := srtgo.Listen(addr, config(latency, ""))
	if err != nil {
		return nil, fmt.Errorf("SRT listen on %s: %w", addr, err)
	}
	defer l.Close()

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if key != "" && extractStreamKey(req.StreamID) != key {
			return srtgo.RejPeer
		}
		return 0
	})

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	conn, err := l.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("SRT accept on %s: %w", addr, err)
	}
	return conn, nil
}

// copyFeed copies conn into w until either side fails or ctx is done,
// calling record after every read.
func copyFeed(ctx context.Context, conn io.Reader, w io.Writer, record func(int)) error {
	buf := make([]byte, readBufferSize)
	for ctx.Err() == nil {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		record(n)
		if _, err := w.Write(buf[:n]); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	return nil
}

// extractStreamKey strips the leading slash and "live/" prefix publishers
// put in their stream ID.
func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
