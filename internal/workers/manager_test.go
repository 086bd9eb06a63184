package workers

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeListener struct {
	started  chan struct{}
	returned int32
}

func (f *fakeListener) Listen(ctx context.Context) error {
	close(f.started)
	<-ctx.Done()
	atomic.StoreInt32(&f.returned, 1)
	return nil
}

func TestStartRunsEveryConfiguredListener(t *testing.T) {
	inbox := &fakeListener{started: make(chan struct{})}
	outbox := &fakeListener{started: make(chan struct{})}

	m := New(Config{Inbox: inbox, Outbox: outbox, Logger: discardLogger()})
	m.Start(context.Background())

	select {
	case <-inbox.started:
	case <-time.After(time.Second):
		t.Fatal("inbox listener never started")
	}
	select {
	case <-outbox.started:
	case <-time.After(time.Second):
		t.Fatal("outbox listener never started")
	}

	m.Stop()

	if atomic.LoadInt32(&inbox.returned) != 1 {
		t.Error("inbox listener did not observe context cancellation before Stop returned")
	}
	if atomic.LoadInt32(&outbox.returned) != 1 {
		t.Error("outbox listener did not observe context cancellation before Stop returned")
	}
}

func TestStopWaitsForDrain(t *testing.T) {
	inbox := &fakeListener{started: make(chan struct{})}
	m := New(Config{Inbox: inbox, Logger: discardLogger()})
	m.Start(context.Background())
	<-inbox.started

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}

func TestStartWithNoListenersIsANoop(t *testing.T) {
	m := New(Config{Logger: discardLogger()})
	m.Start(context.Background())
	m.Stop()
}
