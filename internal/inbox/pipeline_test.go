package inbox

import (
	"bytes"
	"context"
	"crypto"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fedcore/fedcore/internal/activity"
	"github.com/fedcore/fedcore/internal/httpsig"
	"github.com/fedcore/fedcore/internal/kvstore"
	"github.com/fedcore/fedcore/internal/mqueue"
	"github.com/fedcore/fedcore/internal/observability"
	"github.com/fedcore/fedcore/internal/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// allowAllResolver accepts any keyID without checking the actual
// signature bytes — Receive's own verification is exercised in the
// httpsig package's tests, so these tests run with
// SkipSignatureVerification to isolate the dedup/dispatch behavior.
type allowAllResolver struct{}

func (allowAllResolver) ResolvePublicKey(context.Context, string) (httpsig.Algorithm, crypto.PublicKey, error) {
	return httpsig.AlgorithmEd25519, nil, nil
}

func newPipeline(t *testing.T, opts Options) (*Pipeline, *kvstore.Memory, *mqueue.Memory) {
	t.Helper()
	store := kvstore.NewMemory()
	queue := mqueue.NewMemory()
	opts.SkipSignatureVerification = true
	p := New(activity.NewHierarchy(), allowAllResolver{}, store, queue, observability.New(discardLogger()), discardLogger(), opts)
	return p, store, queue
}

func createActivity(id, typ, actor string) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":     id,
		"type":   typ,
		"actor":  actor,
		"object": "https://peer.example/notes/1",
	})
	return body
}

func newRequest(body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "https://home.example/inbox", bytes.NewReader(body))
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	return req
}

func TestReceiveEnqueuesRegisteredActivity(t *testing.T) {
	p, _, queue := newPipeline(t, Options{})
	p.SetListener("Like", func(context.Context, *activity.Activity) error { return nil })

	body := createActivity("https://peer.example/activities/1", "Like", "https://peer.example/users/a")
	if err := p.Receive(context.Background(), newRequest(body), body); err != nil {
		t.Fatalf("Receive: %v", err)
	}

	var dispatched int32
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go queue.Listen(ctx, Kind, func(_ context.Context, task mqueue.Task) error {
		atomic.AddInt32(&dispatched, 1)
		return nil
	})
	<-ctx.Done()
	if dispatched != 1 {
		t.Errorf("dispatched = %d, want 1", dispatched)
	}
}

func TestReceiveDropsDuplicateActivityID(t *testing.T) {
	p, _, queue := newPipeline(t, Options{})
	p.SetListener("Like", func(context.Context, *activity.Activity) error { return nil })

	body := createActivity("https://peer.example/activities/dup", "Like", "https://peer.example/users/a")
	ctx := context.Background()
	if err := p.Receive(ctx, newRequest(body), body); err != nil {
		t.Fatalf("first Receive: %v", err)
	}
	if err := p.Receive(ctx, newRequest(body), body); err != nil {
		t.Fatalf("second Receive: %v", err)
	}

	var count int32
	listenCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	go queue.Listen(listenCtx, Kind, func(_ context.Context, task mqueue.Task) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	<-listenCtx.Done()
	if count != 1 {
		t.Errorf("dispatch count = %d, want 1 (duplicate must not re-enqueue)", count)
	}
}

func TestReceiveSkipsActivityWithNoRegisteredListener(t *testing.T) {
	p, _, queue := newPipeline(t, Options{})

	body := createActivity("https://peer.example/activities/2", "Announce", "https://peer.example/users/a")
	if err := p.Receive(context.Background(), newRequest(body), body); err != nil {
		t.Fatalf("Receive: %v", err)
	}

	keys, _ := listPending(queue)
	if len(keys) != 0 {
		t.Errorf("expected no enqueued task for unregistered type, got %v", keys)
	}
}

// listPending peeks at the memory queue by briefly listening and
// collecting whatever is claimed — used only to assert "nothing was
// enqueued" without relying on unexported fields.
func listPending(queue *mqueue.Memory) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var ids []string
	queue.Listen(ctx, Kind, func(_ context.Context, task mqueue.Task) error {
		ids = append(ids, task.ID)
		return nil
	})
	return ids, nil
}

func TestDispatchFiresObserverOnlyOnFirstAttempt(t *testing.T) {
	store := kvstore.NewMemory()
	queue := mqueue.NewMemory()
	observers := observability.New(discardLogger())
	var fired int32
	observers.OnInboundActivity(func(context.Context, *activity.Activity) { atomic.AddInt32(&fired, 1) })

	p := New(activity.NewHierarchy(), allowAllResolver{}, store, queue, observers, discardLogger(), Options{
		SkipSignatureVerification: true,
		RetryPolicy:               retry.Policy{Initial: time.Millisecond, Factor: 1, Cap: time.Millisecond, MaxAttempts: 5},
	})

	var calls int32
	p.SetListener("Like", func(context.Context, *activity.Activity) error {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return errTransient
		}
		return nil
	})

	act := &activity.Activity{ID: "https://peer.example/activities/3", Type: "Like"}
	payload, _ := json.Marshal(map[string]any{"id": act.ID, "type": act.Type})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go p.Listen(ctx)

	if err := queue.Enqueue(ctx, mqueue.Task{ID: act.ID, Kind: Kind, Payload: payload}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.After(400 * time.Millisecond)
	for atomic.LoadInt32(&calls) < 2 {
		select {
		case <-deadline:
			t.Fatalf("listener only called %d times, want 2", atomic.LoadInt32(&calls))
		case <-time.After(5 * time.Millisecond):
		}
	}

	if fired != 1 {
		t.Errorf("observer fired %d times, want 1 (first dispatch only)", fired)
	}
}

func TestDispatchHandsOffToPermanentFailureAfterExhaustion(t *testing.T) {
	store := kvstore.NewMemory()
	queue := mqueue.NewMemory()
	p := New(activity.NewHierarchy(), allowAllResolver{}, store, queue, observability.New(discardLogger()), discardLogger(), Options{
		SkipSignatureVerification: true,
		RetryPolicy:               retry.Policy{Initial: time.Millisecond, Factor: 1, Cap: time.Millisecond, MaxAttempts: 1},
	})

	p.SetListener("Like", func(context.Context, *activity.Activity) error { return errTransient })

	var failed int32
	p.SetPermanentFailureHandler(func(_ context.Context, act *activity.Activity, err error) {
		atomic.AddInt32(&failed, 1)
	})

	payload, _ := json.Marshal(map[string]any{"id": "https://peer.example/activities/4", "type": "Like"})
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go p.Listen(ctx)

	if err := queue.Enqueue(ctx, mqueue.Task{ID: "https://peer.example/activities/4", Kind: Kind, Payload: payload, Attempt: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.After(250 * time.Millisecond)
	for atomic.LoadInt32(&failed) == 0 {
		select {
		case <-deadline:
			t.Fatal("permanent failure handler never called")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const errTransient = sentinelError("transient failure")
