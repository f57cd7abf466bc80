package ingest

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	f, w, err := r.Register("cam1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if f.Key != "cam1" {
		t.Fatalf("got key %q, want %q", f.Key, "cam1")
	}
	if w == nil {
		t.Fatal("writer is nil")
	}

	got, ok := r.Get("cam1")
	if !ok {
		t.Fatal("Get returned false for registered feed")
	}
	if got != f {
		t.Fatal("Get returned a different feed")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("Get returned true for missing feed")
	}
}

func TestRegistryDuplicateKey(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	if _, _, err := r.Register("cam1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, _, err := r.Register("cam1"); !errors.Is(err, ErrFeedActive) {
		t.Fatalf("second Register: got %v, want ErrFeedActive", err)
	}
	r.Unregister("cam1")
	if _, _, err := r.Register("cam1"); err != nil {
		t.Fatalf("Register after Unregister: %v", err)
	}
}

func TestRegistryUnregister(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	f, _, _ := r.Register("cam1")
	r.Unregister("cam1")
	r.Unregister("nonexistent")

	if _, ok := r.Get("cam1"); ok {
		t.Fatal("feed still found after Unregister")
	}
	select {
	case <-f.Done():
	default:
		t.Fatal("Done not closed after Unregister")
	}
	if _, err := f.Reader().Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("read after Unregister: got %v, want EOF", err)
	}
}

func TestFeedPipe(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	f, w, _ := r.Register("cam1")
	go func() {
		w.Write([]byte("0123456789"))
		r.Unregister("cam1")
	}()

	got, err := io.ReadAll(f.Reader())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "0123456789" {
		t.Errorf("feed bytes: got %q, want %q", got, "0123456789")
	}
}

func TestRegistryOnFeed(t *testing.T) {
	t.Parallel()

	got := make(chan string, 1)
	r := NewRegistry(func(f *Feed) { got <- f.Key })
	r.Register("cb-feed")

	select {
	case key := <-got:
		if key != "cb-feed" {
			t.Fatalf("callback got key %q, want %q", key, "cb-feed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onFeed not called within timeout")
	}
}

func TestFeedStats(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	f, _, _ := r.Register("s1")
	f.RecordRead(100)
	f.RecordRead(200)
	f.SetRemoteAddr("192.168.1.1:5000")
	time.Sleep(10 * time.Millisecond)

	stats := f.Stats()
	if stats.BytesReceived != 300 || stats.ReadCount != 2 {
		t.Errorf("counters: got %d bytes in %d reads, want 300 in 2", stats.BytesReceived, stats.ReadCount)
	}
	if stats.RemoteAddr != "192.168.1.1:5000" {
		t.Errorf("RemoteAddr: got %q", stats.RemoteAddr)
	}
	if stats.UptimeMs < 10 || stats.ConnectedAt == 0 {
		t.Errorf("timing: got uptime %d ms, connected at %d", stats.UptimeMs, stats.ConnectedAt)
	}
}

func TestRegistryList(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	for _, k := range []string{"c", "a", "b"} {
		r.Register(k)
	}
	list := r.List()
	if len(list) != 3 {
		t.Fatalf("List: got %d feeds, want 3", len(list))
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].Key != want {
			t.Errorf("List[%d]: got %q, want %q", i, list[i].Key, want)
		}
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("feed-%d", i)
			r.Register(key)
			r.Get(key)
			r.List()
			r.Unregister(key)
		}()
	}
	wg.Wait()
}
