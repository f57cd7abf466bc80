// Package cache holds decoded units in per-stream stores ordered by timeline
// frame, with an eviction policy that keeps a window around the playhead in
// the direction of playback.
package cache

import (
	"slices"
	"sync"

	"github.com/zsiec/reel/internal/media"
)

// Entry is a decoded unit placed on the timeline.
type Entry interface {
	FrameNumber() int64
}

// Store is an ordered set of entries, unique per frame number. It is safe
// for concurrent use; the lock is never held by callers across a decode.
type Store[T Entry] struct {
	mu      sync.Mutex
	window  Window
	entries []T
}

// Frame, audio and subtitle caches used by playback.
type (
	FrameCache    = Store[*media.VideoFrame]
	AudioCache    = Store[*media.AudioFrame]
	SubtitleCache = Store[*media.Subtitle]
)

// New creates an empty store with the given eviction window.
func New[T Entry](w Window) *Store[T] {
	return &Store[T]{window: w}
}

func (s *Store[T]) search(f int64) (int, bool) {
	return slices.BinarySearchFunc(s.entries, f, func(e T, f int64) int {
		switch n := e.FrameNumber(); {
		case n < f:
			return -1
		case n > f:
			return 1
		}
		return 0
	})
}

// Store inserts e, replacing any entry already at the same frame.
func (s *Store[T]) Store(e T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, found := s.search(e.FrameNumber())
	if found {
		s.entries[i] = e
		return
	}
	s.entries = slices.Insert(s.entries, i, e)
}

// Lookup returns the entry at frame f.
func (s *Store[T]) Lookup(f int64) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, found := s.search(f); found {
		return s.entries[i], true
	}
	var zero T
	return zero, false
}

// Contains reports whether frame f is cached.
func (s *Store[T]) Contains(f int64) bool {
	_, ok := s.Lookup(f)
	return ok
}

// Ceil returns the first entry at or after f.
func (s *Store[T]) Ceil(f int64) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, _ := s.search(f)
	if i < len(s.entries) {
		return s.entries[i], true
	}
	var zero T
	return zero, false
}

// Floor returns the last entry at or before f.
func (s *Store[T]) Floor(f int64) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, found := s.search(f)
	if found {
		return s.entries[i], true
	}
	if i > 0 {
		return s.entries[i-1], true
	}
	var zero T
	return zero, false
}

// First returns the lowest-numbered entry.
func (s *Store[T]) First() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		var zero T
		return zero, false
	}
	return s.entries[0], true
}

// Last returns the highest-numbered entry.
func (s *Store[T]) Last() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		var zero T
		return zero, false
	}
	return s.entries[len(s.entries)-1], true
}

// Len returns the number of cached entries.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Frames returns the cached frame numbers in order.
func (s *Store[T]) Frames() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.FrameNumber()
	}
	return out
}

// Clear drops every entry.
func (s *Store[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
	s.entries = s.entries[:0]
}

// Window returns the eviction window.
func (s *Store[T]) Window() Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

// SetWindow replaces the eviction window, e.g. after the source's frame
// range or rate is known.
func (s *Store[T]) SetWindow(w Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = w
}

// EvictOutsideWindow drops every entry outside the window around f for the
// given direction. The entry at f is always kept.
func (s *Store[T]) EvictOutsideWindow(f int64, dir media.Direction) int {
	return s.EvictOutsideWindowDTS(f, f, dir)
}

// EvictOutsideWindowDTS is EvictOutsideWindow with the window stretched to
// include the in-flight decode target dts.
func (s *Store[T]) EvictOutsideWindowDTS(f, dts int64, dir media.Direction) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	lo, hi := s.window.Range(f, dts, dir)
	kept := s.entries[:0]
	evicted := 0
	for _, e := range s.entries {
		n := e.FrameNumber()
		if n < lo || n > hi {
			evicted++
			continue
		}
		kept = append(kept, e)
	}
	clear(s.entries[len(kept):])
	s.entries = kept
	return evicted
}
