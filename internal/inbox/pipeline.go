// Package inbox implements the inbound activity pipeline (spec.md §4.F):
// verify the sender's signature, parse the JSON-LD body, reject duplicate
// deliveries of the same activity id, and dispatch to the listener
// registered for the activity's type or nearest registered ancestor type.
package inbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/fedcore/fedcore/internal/activity"
	"github.com/fedcore/fedcore/internal/httpsig"
	"github.com/fedcore/fedcore/internal/kvstore"
	"github.com/fedcore/fedcore/internal/mqueue"
	"github.com/fedcore/fedcore/internal/observability"
	"github.com/fedcore/fedcore/internal/retry"
)

// Kind is this pipeline's mqueue task kind.
const Kind = "inbox.dispatch"

// Listener handles one dispatched inbound activity.
type Listener func(ctx context.Context, act *activity.Activity) error

// PermanentFailureHandler is called once a task has exhausted its retry
// policy, so the caller can record it for operator inspection.
type PermanentFailureHandler func(ctx context.Context, act *activity.Activity, err error)

// Options configures a Pipeline.
type Options struct {
	// SkipSignatureVerification disables httpsig verification — intended
	// only for local development and trusted test fixtures.
	SkipSignatureVerification bool
	TimeWindow                time.Duration
	RetryPolicy               retry.Policy
	DedupTTL                  time.Duration
}

func (o Options) withDefaults() Options {
	if o.TimeWindow == 0 {
		o.TimeWindow = 12 * time.Hour
	}
	if o.RetryPolicy == (retry.Policy{}) {
		o.RetryPolicy = retry.NewPolicy()
	}
	if o.DedupTTL == 0 {
		o.DedupTTL = 30 * 24 * time.Hour
	}
	return o
}

// Pipeline is the inbound activity pipeline.
type Pipeline struct {
	hierarchy        *activity.Hierarchy
	resolver         httpsig.PublicKeyResolver
	dedup            kvstore.Store
	queue            mqueue.Queue
	observers        *observability.Observers
	logger           *slog.Logger
	opts             Options
	listeners        map[string]Listener
	permanentFailure PermanentFailureHandler
}

// New returns a Pipeline. resolver verifies inbound signatures; dedup and
// queue back the activity-id dedup check and the dispatch queue.
func New(
	hierarchy *activity.Hierarchy,
	resolver httpsig.PublicKeyResolver,
	dedup kvstore.Store,
	queue mqueue.Queue,
	observers *observability.Observers,
	logger *slog.Logger,
	opts Options,
) *Pipeline {
	return &Pipeline{
		hierarchy: hierarchy,
		resolver:  resolver,
		dedup:     dedup,
		queue:     queue,
		observers: observers,
		logger:    logger,
		opts:      opts.withDefaults(),
		listeners: make(map[string]Listener),
	}
}

// SetListener registers fn as the handler for activities of type typ (or
// any unregistered subtype of typ, resolved by walking the vocabulary
// hierarchy at dispatch time).
func (p *Pipeline) SetListener(typ string, fn Listener) {
	p.listeners[typ] = fn
}

// SetPermanentFailureHandler registers the hook called when a task
// exhausts the retry policy.
func (p *Pipeline) SetPermanentFailureHandler(fn PermanentFailureHandler) {
	p.permanentFailure = fn
}

// listenerFor walks act's type's ancestor chain and returns the first
// registered listener found, per spec.md §4.F step 6.
func (p *Pipeline) listenerFor(typ string) (Listener, bool) {
	for _, t := range p.hierarchy.Ancestors(typ) {
		if fn, ok := p.listeners[t]; ok {
			return fn, true
		}
	}
	return nil, false
}
