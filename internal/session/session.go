// Package session tracks the playback sessions of a player process: each
// one couples an opened source with the controller playing it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/reel/internal/playback"
	"github.com/zsiec/reel/internal/source"
)

// ErrNotFound is returned for an unknown session ID.
var ErrNotFound = errors.New("session: not found")

// Session is one source being played.
type Session struct {
	ID        string
	Location  string
	CreatedAt time.Time
	Ctrl      *playback.Controller

	done chan struct{}
}

// Done is closed when the session is removed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Summary is the JSON description of a session.
type Summary struct {
	ID        string         `json:"id"`
	Location  string         `json:"location"`
	CreatedAt time.Time      `json:"createdAt"`
	Info      source.Info    `json:"info"`
	State     playback.State `json:"state"`
}

// Summary snapshots the session.
func (s *Session) Summary() Summary {
	return Summary{
		ID:        s.ID,
		Location:  s.Location,
		CreatedAt: s.CreatedAt,
		Info:      s.Ctrl.Info(),
		State:     s.Ctrl.State(),
	}
}

// Manager creates, looks up and removes sessions.
type Manager struct {
	log     *slog.Logger
	sources *source.Registry
	cfg     playback.Config

	mu       sync.RWMutex
	sessions map[string]*Session
	observe  func(id string, e playback.Event)
}

// NewManager creates a manager opening sources through sources and
// playing them with cfg. If log is nil, slog.Default() is used.
func NewManager(sources *source.Registry, cfg playback.Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:      log.With("component", "session-manager"),
		sources:  sources,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// SetObserver registers a callback for the events of every session
// created afterwards. It must not block.
func (m *Manager) SetObserver(fn func(id string, e playback.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observe = fn
}

// Create opens location (format may be empty to detect it) and creates a
// stopped session for it.
func (m *Manager) Create(ctx context.Context, format, location string) (*Session, error) {
	src, err := m.sources.Open(ctx, format, location, source.Options{FPS: m.cfg.FPS, Log: m.log})
	if err != nil {
		return nil, err
	}
	s, err := m.Attach(location, src)
	if err != nil {
		src.Close()
		return nil, err
	}
	return s, nil
}

// Attach creates a session for an already opened source. On success the
// session owns src and closes it on Remove.
func (m *Manager) Attach(location string, src source.StreamSource) (*Session, error) {
	ctrl, err := playback.New(src, m.cfg, m.log)
	if err != nil {
		return nil, fmt.Errorf("session for %s: %w", location, err)
	}
	s := &Session{
		ID:        uuid.New().String(),
		Location:  location,
		CreatedAt: time.Now(),
		Ctrl:      ctrl,
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	if fn := m.observe; fn != nil {
		id := s.ID
		ctrl.SetObserver(playback.ObserverFunc(func(e playback.Event) { fn(id, e) }))
	}
	m.mu.Unlock()

	info := ctrl.Info()
	m.log.Info("session created", "session", s.ID, "location", location,
		"format", info.Format, "first", info.First, "last", info.Last, "fps", info.FPS)
	return s, nil
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Remove stops the session, closes its source and forgets it.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	close(s.done)
	err := s.Ctrl.Close()
	m.log.Info("session removed", "session", id, "frame", s.Ctrl.Frame())
	return err
}

// List returns the sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Close removes every session.
func (m *Manager) Close() error {
	var errs []error
	for _, s := range m.List() {
		if err := m.Remove(s.ID); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
