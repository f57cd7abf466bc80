// Package control exposes playback sessions to remote clients: a REST API
// served over HTTPS and HTTP/3, an event stream, and an MQTT bridge that
// keeps other players in step.
package control

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zsiec/reel/internal/playback"
)

// replaySize is the number of recent events handed to a new subscriber so
// it learns the last seek, loop or stop without waiting.
const replaySize = 32

// Message is a playback event tagged with its session.
type Message struct {
	Session string `json:"session"`
	playback.Event
}

// Subscription receives relayed messages until it is unsubscribed.
type Subscription struct {
	ID      string
	session string
	ch      chan Message
	dropped atomic.Int64
}

// C returns the delivery channel. It is closed on Unsubscribe.
func (s *Subscription) C() <-chan Message { return s.ch }

// Dropped counts messages lost because the subscriber fell behind.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

func (s *Subscription) wants(m Message) bool {
	return s.session == "" || s.session == m.Session
}

func (s *Subscription) offer(m Message) {
	select {
	case s.ch <- m:
	default:
		s.dropped.Add(1)
	}
}

// Relay fans playback events out to subscribers. Publish never blocks: a
// subscriber whose buffer is full loses the message.
type Relay struct {
	log *slog.Logger

	mu      sync.RWMutex
	subs    map[string]*Subscription
	history []Message
}

// NewRelay creates a Relay with no subscribers. If log is nil,
// slog.Default() is used.
func NewRelay(log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		log:  log.With("component", "relay"),
		subs: make(map[string]*Subscription),
	}
}

// Observer returns the hook to register with a session manager.
func (r *Relay) Observer() func(id string, e playback.Event) {
	return func(id string, e playback.Event) { r.Publish(Message{Session: id, Event: e}) }
}

// Publish delivers m to every matching subscriber. Frame events are not
// kept for replay.
func (r *Relay) Publish(m Message) {
	r.mu.Lock()
	if m.Kind != playback.EventFrameShown {
		if len(r.history) >= replaySize {
			copy(r.history, r.history[1:])
			r.history[len(r.history)-1] = m
		} else {
			r.history = append(r.history, m)
		}
	}
	r.mu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.subs {
		if s.wants(m) {
			s.offer(m)
		}
	}
}

// Subscribe registers a subscriber for one session, or every session when
// session is empty, with room for buffer undelivered messages. Recent
// events are replayed first.
func (r *Relay) Subscribe(session string, buffer int) *Subscription {
	s := &Subscription{
		ID:      uuid.New().String(),
		session: session,
		ch:      make(chan Message, max(buffer, 1)),
	}

	// Replay and registration happen under one lock so Publish cannot
	// slip a message in between.
	r.mu.Lock()
	for _, m := range r.history {
		if s.wants(m) {
			s.offer(m)
		}
	}
	r.subs[s.ID] = s
	n := len(r.subs)
	r.mu.Unlock()

	r.log.Debug("subscriber added", "subscriber", s.ID, "session", session, "subscribers", n)
	return s
}

// Unsubscribe removes s and closes its channel.
func (r *Relay) Unsubscribe(s *Subscription) {
	r.mu.Lock()
	_, ok := r.subs[s.ID]
	delete(r.subs, s.ID)
	n := len(r.subs)
	r.mu.Unlock()
	if !ok {
		return
	}
	close(s.ch)
	r.log.Debug("subscriber removed", "subscriber", s.ID, "dropped", s.Dropped(), "subscribers", n)
}

// Subscribers returns the number of active subscribers.
func (r *Relay) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
