// Package observability wires the federation engine's tracing and observer
// hooks (spec.md §4.I). Span timing is the teacher's middleware.TraceSpan
// pattern, reused as-is rather than reimplemented, since HTTP handlers and
// the inbound/outbound pipelines both want the same "start, do work, End(err)"
// shape. Observers are this package's own addition: a fire-and-forget
// notification list whose failures are logged, never propagated back into
// the pipeline that triggered them (spec.md §5).
package observability

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fedcore/fedcore/internal/activity"
	"github.com/fedcore/fedcore/internal/middleware"
)

// Span names for the operations spec.md §4.I calls out by name.
const (
	SpanSendActivity        = "activitypub.send_activity"
	SpanVerifyKeyOwnership   = "activitypub.verify_key_ownership"
	SpanDispatchInbound      = "activitypub.dispatch_inbound"
	SpanDeliverOutbound      = "activitypub.deliver_outbound"
	SpanResolveRecipients    = "activitypub.resolve_recipients"
	SpanLoadDocument         = "activitypub.load_document"
)

// StartSpan begins a named span, reusing the teacher's TraceSpan timing and
// structured-log-on-End behavior.
func StartSpan(ctx context.Context, name string, logger *slog.Logger) *middleware.TraceSpan {
	return middleware.StartSpan(ctx, name, logger)
}

// InboundObserver is notified the first time an inbound activity is
// dispatched to a listener (spec.md's resolved Open Question: observers see
// first-dispatch only, not every matching listener invocation).
type InboundObserver func(ctx context.Context, act *activity.Activity)

// OutboundObserver is notified once per outbound delivery enqueue — not
// once per delivery attempt, since retries of the same enqueued task are
// not new deliveries from the observer's point of view.
type OutboundObserver func(ctx context.Context, act *activity.Activity, recipientInbox string)

// Observers holds the engine's registered hooks and fires them
// fire-and-forget: a panicking or slow observer never blocks or fails the
// pipeline that triggered it.
type Observers struct {
	mu       sync.RWMutex
	inbound  []InboundObserver
	outbound []OutboundObserver
	logger   *slog.Logger
}

// New returns an empty Observers set.
func New(logger *slog.Logger) *Observers {
	return &Observers{logger: logger}
}

// OnInboundActivity registers fn to be called on first-dispatch of every
// inbound activity.
func (o *Observers) OnInboundActivity(fn InboundObserver) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inbound = append(o.inbound, fn)
}

// OnOutboundActivity registers fn to be called once per enqueued outbound
// delivery.
func (o *Observers) OnOutboundActivity(fn OutboundObserver) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outbound = append(o.outbound, fn)
}

// FireInbound calls every registered inbound observer, recovering panics
// and logging errors instead of propagating them.
func (o *Observers) FireInbound(ctx context.Context, act *activity.Activity) {
	o.mu.RLock()
	observers := append([]InboundObserver(nil), o.inbound...)
	o.mu.RUnlock()

	for _, fn := range observers {
		o.safeCall(func() { fn(ctx, act) })
	}
}

// FireOutbound calls every registered outbound observer.
func (o *Observers) FireOutbound(ctx context.Context, act *activity.Activity, recipientInbox string) {
	o.mu.RLock()
	observers := append([]OutboundObserver(nil), o.outbound...)
	o.mu.RUnlock()

	for _, fn := range observers {
		o.safeCall(func() { fn(ctx, act, recipientInbox) })
	}
}

func (o *Observers) safeCall(call func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("observer panicked", slog.Any("recover", r))
		}
	}()
	call()
}
