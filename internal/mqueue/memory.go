package mqueue

import (
	"context"
	"sync"
	"time"
)

type queuedTask struct {
	task    Task
	readyAt time.Time
}

// Memory is an in-process Queue, grounded on the teacher's NATS Bus
// QueueSubscribe: Listen plays the role of a queue-group subscriber,
// fanning tasks of a given kind out to exactly one handler while a
// per-ordering-key in-flight set enforces the "at most one in-flight per
// key" invariant.
type Memory struct {
	mu       sync.Mutex
	pending  map[string][]*queuedTask // kind -> FIFO
	inFlight map[string]bool         // ordering key -> busy
	wake     chan struct{}
}

// NewMemory returns an empty Memory queue.
func NewMemory() *Memory {
	return &Memory{
		pending:  make(map[string][]*queuedTask),
		inFlight: make(map[string]bool),
		wake:     make(chan struct{}, 1),
	}
}

func (m *Memory) Enqueue(_ context.Context, task Task) error {
	return m.enqueueAt(task, time.Now())
}

func (m *Memory) EnqueueMany(_ context.Context, tasks []Task) error {
	now := time.Now()
	m.mu.Lock()
	for _, t := range tasks {
		m.pending[t.Kind] = append(m.pending[t.Kind], &queuedTask{task: t, readyAt: now})
	}
	m.mu.Unlock()
	m.signal()
	return nil
}

func (m *Memory) EnqueueDelayed(_ context.Context, task Task, delay time.Duration) error {
	return m.enqueueAt(task, time.Now().Add(delay))
}

func (m *Memory) enqueueAt(task Task, readyAt time.Time) error {
	m.mu.Lock()
	m.pending[task.Kind] = append(m.pending[task.Kind], &queuedTask{task: task, readyAt: readyAt})
	m.mu.Unlock()
	m.signal()
	return nil
}

func (m *Memory) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Listen blocks, dispatching ready tasks of kind to handler, until ctx is
// canceled. Distinct ordering keys run concurrently; a key's next task
// waits until the in-flight one finishes. A handler error redelivers the
// task immediately with Attempt incremented — callers that need backoff
// should treat a persistent error as their cue to call EnqueueDelayed
// themselves rather than returning an error from every attempt.
func (m *Memory) Listen(ctx context.Context, kind string, handler Handler) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if qt, ok := m.claimNext(kind); ok {
			wg.Add(1)
			go func(qt *queuedTask) {
				defer wg.Done()
				err := handler(ctx, qt.task)
				m.release(qt.task, err)
			}(qt)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-m.wake:
		case <-ticker.C:
		}
	}
}

func (m *Memory) claimNext(kind string) (*queuedTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.pending[kind]
	now := time.Now()
	for i, qt := range queue {
		if qt.readyAt.After(now) {
			continue
		}
		if qt.task.OrderingKey != "" && m.inFlight[qt.task.OrderingKey] {
			continue
		}
		rest := make([]*queuedTask, 0, len(queue)-1)
		rest = append(rest, queue[:i]...)
		rest = append(rest, queue[i+1:]...)
		m.pending[kind] = rest
		if qt.task.OrderingKey != "" {
			m.inFlight[qt.task.OrderingKey] = true
		}
		return qt, true
	}
	return nil, false
}

func (m *Memory) release(task Task, err error) {
	m.mu.Lock()
	if task.OrderingKey != "" {
		delete(m.inFlight, task.OrderingKey)
	}
	if err != nil {
		task.Attempt++
		m.pending[task.Kind] = append(m.pending[task.Kind], &queuedTask{task: task, readyAt: time.Now()})
	}
	m.mu.Unlock()
	m.signal()
}

func (m *Memory) Close() error {
	return nil
}
