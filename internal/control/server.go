package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/reel/internal/certs"
	"github.com/zsiec/reel/internal/ingest"
	"github.com/zsiec/reel/internal/playback"
	"github.com/zsiec/reel/internal/session"
)

// eventBuffer is the per-connection backlog of an event stream.
const eventBuffer = 256

// ServerConfig holds the listen addresses, certificate and the components
// the API exposes.
type ServerConfig struct {
	// Addr serves HTTPS over TCP and HTTP/3 over UDP on the same port.
	Addr string
	// APIAddr, if set, also serves the API over plain HTTP.
	APIAddr  string
	Cert     *certs.Cert
	Sessions *session.Manager
	Relay    *Relay
	// Feeds lists live ingest feeds; nil reports none.
	Feeds func() []ingest.Stats
	Log   *slog.Logger
}

// Server is the control API server.
type Server struct {
	cfg ServerConfig
	log *slog.Logger
	h3  *http3.Server
}

// NewServer validates cfg and creates a Server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("control: Sessions is required")
	}
	if cfg.Relay == nil {
		return nil, errors.New("control: Relay is required")
	}
	if cfg.Addr != "" && cfg.Cert == nil {
		return nil, errors.New("control: Cert is required to serve Addr")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{cfg: cfg, log: log.With("component", "control")}
	if cfg.Addr != "" {
		s.h3 = &http3.Server{
			Addr:      cfg.Addr,
			TLSConfig: http3.ConfigureTLSConfig(cfg.Cert.TLSConfig()),
			QUICConfig: &quic.Config{
				MaxIdleTimeout:  30 * time.Second,
				KeepAlivePeriod: 10 * time.Second,
			},
		}
	}
	return s, nil
}

// Handler returns the API routes with the shared middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleRemoveSession)
	mux.HandleFunc("POST /api/sessions/{id}/{command}", s.handleCommand)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/feeds", s.handleFeeds)
	mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
	return corsMiddleware(s.altSvcMiddleware(mux))
}

// Start serves until ctx is cancelled or a listener fails.
func (s *Server) Start(ctx context.Context) error {
	handler := s.Handler()
	g, gctx := errgroup.WithContext(ctx)

	var servers []interface{ Close() error }
	if s.h3 != nil {
		s.h3.Handler = handler
		tcp := &http.Server{
			Addr:              s.cfg.Addr,
			Handler:           handler,
			TLSConfig:         s.cfg.Cert.TLSConfig("h2", "http/1.1"),
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, s.h3, tcp)
		g.Go(func() error {
			s.log.Info("HTTP/3 control server listening", "addr", s.cfg.Addr)
			return serveErr(s.h3.ListenAndServe())
		})
		g.Go(func() error {
			s.log.Info("HTTPS control server listening", "addr", s.cfg.Addr)
			return serveErr(tcp.ListenAndServeTLS("", ""))
		})
	}
	if s.cfg.APIAddr != "" {
		plain := &http.Server{Addr: s.cfg.APIAddr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
		servers = append(servers, plain)
		g.Go(func() error {
			s.log.Info("HTTP control server listening", "addr", s.cfg.APIAddr)
			return serveErr(plain.ListenAndServe())
		})
	}
	if len(servers) == 0 {
		return errors.New("control: no listen address configured")
	}

	g.Go(func() error {
		<-gctx.Done()
		for _, srv := range servers {
			srv.Close()
		}
		return nil
	})
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func serveErr(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// altSvcMiddleware advertises HTTP/3 on TCP responses.
func (s *Server) altSvcMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.h3 != nil && r.ProtoMajor < 3 {
			if err := s.h3.SetQUICHeaders(w.Header()); err != nil {
				s.log.Debug("alt-svc header", "error", err)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusConflict
	switch {
	case errors.Is(err, session.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrUnknownCommand):
		code = http.StatusBadRequest
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	list := s.cfg.Sessions.List()
	out := make([]session.Summary, 0, len(list))
	for _, ss := range list {
		out = append(out, ss.Summary())
	}
	s.writeJSON(w, http.StatusOK, out)
}

type createRequest struct {
	Location string `json:"location"`
	Format   string `json:"format,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	if req.Location == "" {
		s.writeError(w, fmt.Errorf("%w: location is required", ErrBadRequest))
		return
	}
	ss, err := s.cfg.Sessions.Create(r.Context(), req.Format, req.Location)
	if err != nil {
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusCreated, ss.Summary())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ss, err := s.cfg.Sessions.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ss.Summary())
}

func (s *Server) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.cfg.Sessions.Remove(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "session": id})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	cmd.Command = r.PathValue("command")
	cmd.Session = r.PathValue("id")

	st, err := Execute(s.cfg.Sessions, cmd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Debug("command applied", "session", cmd.Session, "command", cmd.Command, "frame", st.Frame)
	s.writeJSON(w, http.StatusOK, st)
}

// handleEvents streams events as newline-delimited JSON until the client
// goes away or the session is removed. Frame events are only included with
// ?frames=1.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var done <-chan struct{}
	if id != "" {
		ss, err := s.cfg.Sessions.Get(id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		done = ss.Done()
	}
	frames := r.URL.Query().Get("frames") == "1"

	sub := s.cfg.Relay.Subscribe(id, eventBuffer)
	defer s.cfg.Relay.Unsubscribe(sub)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	rc.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case m, ok := <-sub.C():
			if !ok {
				return
			}
			if m.Kind == playback.EventFrameShown && !frames {
				continue
			}
			if err := enc.Encode(m); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleFeeds(w http.ResponseWriter, _ *http.Request) {
	feeds := []ingest.Stats{}
	if s.cfg.Feeds != nil {
		feeds = append(feeds, s.cfg.Feeds()...)
	}
	s.writeJSON(w, http.StatusOK, feeds)
}

type certHashResponse struct {
	Hash string `json:"hash"`
	Addr string `json:"addr"`
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Cert == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no certificate configured"})
		return
	}
	s.writeJSON(w, http.StatusOK, certHashResponse{
		Hash: s.cfg.Cert.FingerprintBase64(),
		Addr: s.cfg.Addr,
	})
}
