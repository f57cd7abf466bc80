package control

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/reel/internal/certs"
	"github.com/zsiec/reel/internal/ingest"
	"github.com/zsiec/reel/internal/playback"
	"github.com/zsiec/reel/internal/session"
)

func newTestServer(t *testing.T) (*Server, *Relay, *session.Session) {
	t.Helper()
	relay := NewRelay(nil)
	m, s := newSessions(t, relay)
	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	srv, err := NewServer(ServerConfig{
		Addr:     "127.0.0.1:0",
		Cert:     cert,
		Sessions: m,
		Relay:    relay,
		Feeds: func() []ingest.Stats {
			return []ingest.Stats{{Key: "cam1", BytesReceived: 1316}}
		},
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv, relay, s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewServerValidation(t *testing.T) {
	t.Parallel()
	relay := NewRelay(nil)
	m, _ := newSessions(t, nil)
	tests := []struct {
		name string
		cfg  ServerConfig
	}{
		{"no sessions", ServerConfig{Relay: relay, APIAddr: ":0"}},
		{"no relay", ServerConfig{Sessions: m, APIAddr: ":0"}},
		{"addr without cert", ServerConfig{Sessions: m, Relay: relay, Addr: ":4443"}},
	}
	for _, tt := range tests {
		if _, err := NewServer(tt.cfg); err == nil {
			t.Errorf("%s: got nil error", tt.name)
		}
	}
}

func TestListAndGetSessions(t *testing.T) {
	t.Parallel()
	srv, _, s := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, "GET", "/api/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: got status %d", rec.Code)
	}
	var list []session.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != s.ID || list[0].Info.Last != 39 {
		t.Errorf("list: got %+v", list)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}

	rec = do(t, h, "GET", "/api/sessions/"+s.ID, "")
	if rec.Code != http.StatusOK {
		t.Errorf("get: got status %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/api/sessions/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("get missing: got status %d, want 404", rec.Code)
	}
}

func TestCreateAndRemoveSession(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, "POST", "/api/sessions", `{"location":"b.clip","format":"clip"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: got status %d: %s", rec.Code, rec.Body)
	}
	var sum session.Summary
	json.Unmarshal(rec.Body.Bytes(), &sum)
	if sum.Location != "b.clip" || sum.ID == "" {
		t.Errorf("create: got %+v", sum)
	}

	if rec := do(t, h, "POST", "/api/sessions", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("create without location: got status %d, want 400", rec.Code)
	}
	if rec := do(t, h, "POST", "/api/sessions", `{"location":"c.unknown"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("create with unknown format: got status %d, want 422", rec.Code)
	}

	if rec := do(t, h, "DELETE", "/api/sessions/"+sum.ID, ""); rec.Code != http.StatusOK {
		t.Errorf("remove: got status %d", rec.Code)
	}
	if rec := do(t, h, "DELETE", "/api/sessions/"+sum.ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second remove: got status %d, want 404", rec.Code)
	}
}

func TestCommands(t *testing.T) {
	t.Parallel()
	srv, _, s := newTestServer(t)
	h := srv.Handler()
	base := "/api/sessions/" + s.ID

	rec := do(t, h, "POST", base+"/seek", `{"frame":12}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("seek: got status %d: %s", rec.Code, rec.Body)
	}
	var st playback.State
	json.Unmarshal(rec.Body.Bytes(), &st)
	if st.Frame != 12 {
		t.Errorf("seek: got frame %d, want 12", st.Frame)
	}

	if rec := do(t, h, "POST", base+"/play", `{"direction":1}`); rec.Code != http.StatusOK {
		t.Errorf("play: got status %d: %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, "POST", base+"/stop", ""); rec.Code != http.StatusOK {
		t.Errorf("stop with empty body: got status %d: %s", rec.Code, rec.Body)
	}
	if s.Ctrl.State().Running {
		t.Error("still running after stop")
	}

	tests := []struct {
		path, body string
		want       int
	}{
		{base + "/seek", `{}`, http.StatusBadRequest},
		{base + "/seek", `{"frame":`, http.StatusBadRequest},
		{base + "/jump", `{}`, http.StatusBadRequest},
		{"/api/sessions/missing/stop", ``, http.StatusNotFound},
	}
	for _, tt := range tests {
		if rec := do(t, h, "POST", tt.path, tt.body); rec.Code != tt.want {
			t.Errorf("POST %s %s: got status %d, want %d", tt.path, tt.body, rec.Code, tt.want)
		}
	}
}

func TestFeedsAndCertHash(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	var feeds []ingest.Stats
	json.Unmarshal(do(t, h, "GET", "/api/feeds", "").Body.Bytes(), &feeds)
	if len(feeds) != 1 || feeds[0].Key != "cam1" {
		t.Errorf("feeds: got %+v", feeds)
	}

	var hash certHashResponse
	json.Unmarshal(do(t, h, "GET", "/api/cert-hash", "").Body.Bytes(), &hash)
	if hash.Hash != srv.cfg.Cert.FingerprintBase64() || hash.Addr != "127.0.0.1:0" {
		t.Errorf("cert-hash: got %+v", hash)
	}
}

func TestPreflight(t *testing.T) {
	t.Parallel()
	srv, _, s := newTestServer(t)
	rec := do(t, srv.Handler(), "OPTIONS", "/api/sessions/"+s.ID+"/play", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight: got status %d, want 204", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "POST") {
		t.Errorf("preflight methods: got %q", rec.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestEventStream(t *testing.T) {
	t.Parallel()
	srv, relay, s := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	if err := s.Ctrl.Seek(9); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/sessions/" + s.ID + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type: got %q", ct)
	}

	// A frame event is filtered; the stop after it is delivered.
	relay.Publish(Message{Session: s.ID, Event: playback.Event{Kind: playback.EventFrameShown, Frame: 10}})
	relay.Publish(Message{Session: s.ID, Event: playback.Event{Kind: playback.EventStop, Frame: 10}})

	sc := bufio.NewScanner(resp.Body)
	var kinds []string
	for len(kinds) < 2 && sc.Scan() {
		var m struct {
			Session string `json:"session"`
			Kind    string `json:"kind"`
			Frame   int64  `json:"frame"`
		}
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		if m.Session != s.ID {
			t.Errorf("session: got %q, want %q", m.Session, s.ID)
		}
		kinds = append(kinds, m.Kind)
	}
	if strings.Join(kinds, ",") != "seek,stop" {
		t.Errorf("event kinds: got %v, want [seek stop]", kinds)
	}
}

func TestEventStreamUnknownSession(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)
	if rec := do(t, srv.Handler(), "GET", "/api/sessions/nope/events", ""); rec.Code != http.StatusNotFound {
		t.Errorf("got status %d, want 404", rec.Code)
	}
}
