// Package srt opens live transport streams carried over SRT as playback
// sources. Locations have the form
//
//	srt://host:port?streamid=live/cam1&mode=caller&latency=120ms
//
// where mode is caller (the default) or listener.
package srt

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	srtin "github.com/zsiec/reel/internal/ingest/srt"
	"github.com/zsiec/reel/internal/source"
	"github.com/zsiec/reel/internal/source/ts"
)

// Location is a parsed srt:// location.
type Location struct {
	Addr     string
	StreamID string
	Listen   bool
	Latency  time.Duration
}

// ParseLocation parses an srt:// URL.
func ParseLocation(location string) (Location, error) {
	u, err := url.Parse(location)
	if err != nil {
		return Location{}, fmt.Errorf("srt: parse %q: %w", location, err)
	}
	if u.Scheme != "srt" || u.Host == "" {
		return Location{}, fmt.Errorf("srt: %q is not an srt://host:port location", location)
	}
	q := u.Query()
	loc := Location{Addr: u.Host, StreamID: q.Get("streamid"), Latency: srtin.DefaultLatency}
	switch q.Get("mode") {
	case "", "caller":
	case "listener":
		loc.Listen = true
	default:
		return Location{}, fmt.Errorf("srt: unknown mode %q", q.Get("mode"))
	}
	if v := q.Get("latency"); v != "" {
		if loc.Latency, err = time.ParseDuration(v); err != nil {
			return Location{}, fmt.Errorf("srt: latency: %w", err)
		}
	}
	return loc, nil
}

// Open connects to or waits for the feed at location. It is a
// source.Opener.
func Open(ctx context.Context, location string, opts source.Options) (source.StreamSource, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	if loc.Listen {
		return Listen(ctx, loc, opts)
	}
	return Dial(ctx, loc, opts)
}

// Dial pulls the feed from a remote SRT listener.
func Dial(ctx context.Context, loc Location, opts source.Options) (*ts.Source, error) {
	conn, err := srtin.Dial(ctx, loc.Addr, loc.StreamID, loc.Latency)
	if err != nil {
		return nil, err
	}
	return live(ctx, conn, opts)
}

// Listen waits for one publisher on loc.Addr. With a stream ID set, only a
// publisher using that key is accepted.
func Listen(ctx context.Context, loc Location, opts source.Options) (*ts.Source, error) {
	conn, err := srtin.Accept(ctx, loc.Addr, loc.StreamID, loc.Latency)
	if err != nil {
		return nil, err
	}
	return live(ctx, conn, opts)
}

func live(ctx context.Context, conn io.ReadCloser, opts source.Options) (*ts.Source, error) {
	s, err := ts.NewLive(ctx, conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}
