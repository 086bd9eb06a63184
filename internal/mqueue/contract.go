// Package mqueue defines the message queue contract the inbound and
// outbound delivery pipelines use to decouple "accept the work" from
// "perform the work" (spec.md §4.C): at-least-once delivery, at most one
// in-flight task per ordering key, delayed enqueue for retry backoff, and
// fan-out of each task to exactly one listener.
package mqueue

import (
	"context"
	"time"
)

// Task is one unit of queued work — an inbound activity to dispatch, or an
// outbound delivery to a single recipient inbox.
type Task struct {
	ID          string
	Kind        string // listener group, e.g. "inbox.dispatch" or "outbox.deliver"
	OrderingKey string // tasks sharing a key are never processed concurrently
	Payload     []byte
	Attempt     int
	EnqueuedAt  time.Time
}

// Handler processes one Task. Returning an error causes the queue to retry
// the task (subject to the caller's own backoff/dead-letter policy — this
// package only guarantees redelivery, not scheduling).
type Handler func(ctx context.Context, task Task) error

// Queue is the message queue contract every backend in this package
// implements.
type Queue interface {
	// Enqueue adds a single task for immediate delivery.
	Enqueue(ctx context.Context, task Task) error

	// EnqueueMany adds several tasks as one batch. Implementations should
	// enqueue all-or-nothing where the backend supports it.
	EnqueueMany(ctx context.Context, tasks []Task) error

	// EnqueueDelayed adds a task that becomes visible to listeners only
	// after delay has elapsed, used for retry backoff.
	EnqueueDelayed(ctx context.Context, task Task, delay time.Duration) error

	// Listen registers handler as the sole consumer of tasks with the
	// given kind and blocks, dispatching tasks to handler, until ctx is
	// canceled. On cancellation Listen drains in-flight tasks before
	// returning, per spec.md's graceful-shutdown requirement.
	Listen(ctx context.Context, kind string, handler Handler) error

	// Close releases the queue's resources. Close must not be called
	// concurrently with an active Listen; cancel Listen's context first.
	Close() error
}
