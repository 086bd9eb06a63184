package federation

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fedcore/fedcore/internal/activity"
	"github.com/fedcore/fedcore/internal/docloader"
	"github.com/fedcore/fedcore/internal/httpsig"
	"github.com/fedcore/fedcore/internal/kvstore"
	"github.com/fedcore/fedcore/internal/mqueue"
	"github.com/fedcore/fedcore/internal/uritemplate"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFacade(t *testing.T) *Facade {
	t.Helper()
	router := uritemplate.New(false)
	if err := RegisterDefaultRoutes(router); err != nil {
		t.Fatalf("RegisterDefaultRoutes: %v", err)
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	return New(Config{
		Origin: "https://home.example",
		Router: router,
		KV:     kvstore.NewMemory(),
		Queue:  mqueue.NewMemory(),
		Loader: docloader.New(kvstore.NewMemory(), discardLogger(), docloader.Options{AllowPrivateAddresses: true}),
		SigningKeys: httpsig.KeySet{{
			KeyID:     "https://home.example/users/system#main-key",
			Algorithm: httpsig.AlgorithmEd25519,
			Ed25519:   priv,
		}},
		KeyResolver: stubResolver{},
		Logger:      discardLogger(),
		Options:     Options{SkipSignatureVerification: true},
	})
}

type stubResolver struct{}

func (stubResolver) ResolvePublicKey(context.Context, string) (httpsig.Algorithm, crypto.PublicKey, error) {
	return "", nil, nil
}

func TestFetchActorDispatch(t *testing.T) {
	f := testFacade(t)
	f.SetActorDispatcher(func(ctx *Context, identifier string) (*activity.Actor, error) {
		return &activity.Actor{ID: ctx.GetActorUri(identifier), Type: "Person", Inbox: ctx.GetInboxUri(identifier)}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "https://home.example/users/alice", nil)
	req.Header.Set("Accept", "application/activity+json")
	rec := httptest.NewRecorder()

	f.Fetch(rec, req, FetchOptions{})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	var got activity.Actor
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.ID != "https://home.example/users/alice" {
		t.Errorf("actor id = %q", got.ID)
	}
}

func TestFetchUnknownRouteCallsOnNotFound(t *testing.T) {
	f := testFacade(t)

	req := httptest.NewRequest(http.MethodGet, "https://home.example/nope", nil)
	rec := httptest.NewRecorder()

	var called bool
	f.Fetch(rec, req, FetchOptions{OnNotFound: func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	}})

	if !called {
		t.Error("OnNotFound was not called")
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}
}

func TestFetchRejectsUnacceptableMediaType(t *testing.T) {
	f := testFacade(t)
	f.SetActorDispatcher(func(ctx *Context, identifier string) (*activity.Actor, error) {
		return &activity.Actor{ID: ctx.GetActorUri(identifier), Type: "Person"}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "https://home.example/users/alice", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()

	f.Fetch(rec, req, FetchOptions{})

	if rec.Code != http.StatusNotAcceptable {
		t.Errorf("status = %d, want 406", rec.Code)
	}
}

func TestFetchActorDispatchMissingReturnsNotFound(t *testing.T) {
	f := testFacade(t)

	req := httptest.NewRequest(http.MethodGet, "https://home.example/users/alice", nil)
	req.Header.Set("Accept", "application/activity+json")
	rec := httptest.NewRecorder()

	f.Fetch(rec, req, FetchOptions{})

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 (no actor dispatcher registered)", rec.Code)
	}
}

func TestFetchActorDispatcherIDInvariantPanics(t *testing.T) {
	f := testFacade(t)
	f.SetActorDispatcher(func(ctx *Context, identifier string) (*activity.Actor, error) {
		return &activity.Actor{ID: "https://wrong.example/actors/alice", Type: "Person"}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "https://home.example/users/alice", nil)
	req.Header.Set("Accept", "application/activity+json")
	rec := httptest.NewRecorder()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on actor id invariant violation")
		}
	}()
	f.Fetch(rec, req, FetchOptions{})
}

func TestFetchInboxPostEnqueuesAndRespondsAccepted(t *testing.T) {
	f := testFacade(t)
	f.SetInboxListeners("Like", func(ctx *Context, act *activity.Activity) error { return nil })

	body := []byte(`{"id":"https://peer.example/activities/1","type":"Like","actor":"https://peer.example/users/a"}`)
	req := httptest.NewRequest(http.MethodPost, "https://home.example/users/alice/inbox", bytes.NewReader(body))
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	rec := httptest.NewRecorder()

	f.Fetch(rec, req, FetchOptions{})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body=%s", rec.Code, rec.Body.String())
	}
}

func TestFetchWebFingerDispatch(t *testing.T) {
	f := testFacade(t)
	f.SetWebFingerLinksDispatcher(func(ctx *Context, resource string) ([]WebFingerLink, error) {
		return []WebFingerLink{{Rel: "self", Type: "application/activity+json", Href: "https://home.example/users/alice"}}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "https://home.example/.well-known/webfinger?resource=acct:alice@home.example", nil)
	rec := httptest.NewRecorder()

	f.Fetch(rec, req, FetchOptions{})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	var got struct {
		Subject string          `json:"subject"`
		Links   []WebFingerLink `json:"links"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.Subject != "acct:alice@home.example" || len(got.Links) != 1 {
		t.Errorf("unexpected webfinger response: %+v", got)
	}
}
