package docloader

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fedcore/fedcore/internal/kvstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadFetchesAndCaches(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/activity+json")
		w.Write([]byte(`{"id":"` + r.Host + `/users/alice","type":"Person"}`))
	}))
	defer srv.Close()

	l := New(kvstore.NewMemory(), discardLogger(), Options{AllowPrivateAddresses: true, CacheTTL: time.Minute})

	doc, err := l.Load(context.Background(), srv.URL+"/users/alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.ContentType != "application/activity+json" {
		t.Errorf("content type = %q", doc.ContentType)
	}

	if _, err := l.Load(context.Background(), srv.URL+"/users/alice"); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("hits = %d, want 1 (second load should be served from cache)", hits)
	}
}

func TestLoadCollapsesConcurrentFetches(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		w.Write([]byte(`{"id":"x","type":"Note"}`))
	}))
	defer srv.Close()

	l := New(kvstore.NewMemory(), discardLogger(), Options{AllowPrivateAddresses: true})

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := l.Load(context.Background(), srv.URL+"/note")
			done <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Load: %v", err)
		}
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("hits = %d, want 1 (concurrent fetches of the same URL must collapse)", hits)
	}
}

func TestLoadRejectsPrivateAddressByDefault(t *testing.T) {
	l := New(kvstore.NewMemory(), discardLogger(), Options{})
	if _, err := l.Load(context.Background(), "https://localhost/users/alice"); err == nil {
		t.Fatal("expected localhost to be rejected")
	}
}

func TestLoadRejectsNonAbsoluteURL(t *testing.T) {
	l := New(kvstore.NewMemory(), discardLogger(), Options{AllowPrivateAddresses: true})
	if _, err := l.Load(context.Background(), "/users/alice"); err == nil {
		t.Fatal("expected relative URL to be rejected")
	}
}

func TestLoadRejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	l := New(kvstore.NewMemory(), discardLogger(), Options{AllowPrivateAddresses: true})
	if _, err := l.Load(context.Background(), srv.URL+"/missing"); err == nil {
		t.Fatal("expected error for 404 response")
	}
}
