package mqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryFanOutToSingleListener(t *testing.T) {
	q := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var count int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Listen(ctx, "inbox.dispatch", func(_ context.Context, _ Task) error {
			atomic.AddInt32(&count, 1)
			return nil
		})
	}()

	for i := 0; i < 5; i++ {
		q.Enqueue(ctx, Task{ID: string(rune('a' + i)), Kind: "inbox.dispatch"})
	}

	waitFor(t, func() bool { return atomic.LoadInt32(&count) == 5 })
	cancel()
	wg.Wait()
}

func TestMemoryOrderingKeyExclusivity(t *testing.T) {
	q := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var concurrent int32
	var maxConcurrent int32
	var mu sync.Mutex
	var processed int

	go q.Listen(ctx, "outbox.deliver", func(_ context.Context, _ Task) error {
		n := atomic.AddInt32(&concurrent, 1)
		mu.Lock()
		if n > maxConcurrent {
			maxConcurrent = n
		}
		processed++
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return nil
	})

	for i := 0; i < 4; i++ {
		q.Enqueue(ctx, Task{ID: string(rune('a' + i)), Kind: "outbox.deliver", OrderingKey: "recipient:alice"})
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return processed == 4
	})
	cancel()

	if maxConcurrent > 1 {
		t.Errorf("max concurrent tasks for the same ordering key = %d, want 1", maxConcurrent)
	}
}

func TestMemoryDistinctOrderingKeysRunConcurrently(t *testing.T) {
	q := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	var entered int32

	go q.Listen(ctx, "outbox.deliver", func(_ context.Context, _ Task) error {
		atomic.AddInt32(&entered, 1)
		<-release
		return nil
	})

	q.Enqueue(ctx, Task{ID: "a", Kind: "outbox.deliver", OrderingKey: "recipient:alice"})
	q.Enqueue(ctx, Task{ID: "b", Kind: "outbox.deliver", OrderingKey: "recipient:bob"})

	waitFor(t, func() bool { return atomic.LoadInt32(&entered) == 2 })
	close(release)
	cancel()
}

func TestMemoryHandlerErrorRedelivers(t *testing.T) {
	q := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts int32
	go q.Listen(ctx, "inbox.dispatch", func(_ context.Context, task Task) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return errTransient
		}
		return nil
	})

	q.Enqueue(ctx, Task{ID: "a", Kind: "inbox.dispatch"})

	waitFor(t, func() bool { return atomic.LoadInt32(&attempts) >= 3 })
	cancel()
}

func TestMemoryDelayedEnqueueNotVisibleImmediately(t *testing.T) {
	q := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fired int32
	go q.Listen(ctx, "inbox.dispatch", func(_ context.Context, _ Task) error {
		atomic.AddInt32(&fired, 1)
		return nil
	})

	q.EnqueueDelayed(ctx, Task{ID: "a", Kind: "inbox.dispatch"}, 80*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("delayed task fired before its delay elapsed")
	}

	waitFor(t, func() bool { return atomic.LoadInt32(&fired) == 1 })
	cancel()
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const errTransient = sentinelError("transient failure")

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
