// Package ingest tracks live transport stream feeds that arrive over the
// network and hands each new feed to a callback that starts playing it.
package ingest

import (
	"errors"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// ErrFeedActive is returned when a key is registered twice.
var ErrFeedActive = errors.New("ingest: feed already active")

// Stats captures connection-level metrics of a feed.
type Stats struct {
	Key           string `json:"key"`
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Feed is an active live connection. The network receiver writes into the
// feed; the player reads transport stream bytes from Reader.
type Feed struct {
	Key       string
	StartedAt time.Time

	pr   *io.PipeReader
	pw   *io.PipeWriter
	done chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// Reader returns the read side of the feed. It reports io.EOF once the
// feed is unregistered.
func (f *Feed) Reader() io.ReadCloser { return f.pr }

// Done is closed when the feed is unregistered.
func (f *Feed) Done() <-chan struct{} { return f.done }

// RecordRead counts one socket read of n bytes.
func (f *Feed) RecordRead(n int) {
	f.bytesReceived.Add(int64(n))
	f.readCount.Add(1)
}

// SetRemoteAddr records the address of the sender.
func (f *Feed) SetRemoteAddr(addr string) {
	f.remoteAddr.Store(addr)
}

// Stats returns a snapshot of the feed's metrics.
func (f *Feed) Stats() Stats {
	addr, _ := f.remoteAddr.Load().(string)
	return Stats{
		Key:           f.Key,
		BytesReceived: f.bytesReceived.Load(),
		ReadCount:     f.readCount.Load(),
		ConnectedAt:   f.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(f.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

// Registry tracks active feeds by key.
type Registry struct {
	mu    sync.RWMutex
	feeds map[string]*Feed

	onFeed func(f *Feed)
}

// NewRegistry creates a Registry. onFeed, if set, is called in its own
// goroutine for every registered feed.
func NewRegistry(onFeed func(f *Feed)) *Registry {
	return &Registry{
		feeds:  make(map[string]*Feed),
		onFeed: onFeed,
	}
}

// Register creates a feed for key and returns the writer the receiver
// copies the stream into.
func (r *Registry) Register(key string) (*Feed, io.Writer, error) {
	pr, pw := io.Pipe()
	f := &Feed{
		Key:       key,
		StartedAt: time.Now(),
		pr:        pr,
		pw:        pw,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	if _, ok := r.feeds[key]; ok {
		r.mu.Unlock()
		return nil, nil, ErrFeedActive
	}
	r.feeds[key] = f
	r.mu.Unlock()

	if r.onFeed != nil {
		go r.onFeed(f)
	}
	return f, pw, nil
}

// Unregister removes the feed for key, closing its pipe.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	f, ok := r.feeds[key]
	if ok {
		delete(r.feeds, key)
	}
	r.mu.Unlock()

	if ok {
		f.pw.Close()
		close(f.done)
	}
}

// Get returns the feed for key.
func (r *Registry) Get(key string) (*Feed, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.feeds[key]
	return f, ok
}

// List returns the stats of every active feed, sorted by key.
func (r *Registry) List() []Stats {
	r.mu.RLock()
	out := make([]Stats, 0, len(r.feeds))
	for _, f := range r.feeds {
		out = append(out, f.Stats())
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Stats) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return out
}
