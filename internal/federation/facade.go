// Package federation is the engine's facade (spec.md §4.H): it owns the
// dispatcher registries a host application fills in, wires them to the
// router, inbound/outbound pipelines, document loader, and observers built
// by the other components, and exposes Fetch as the single HTTP entrypoint.
// Grounded on the teacher's federation.Service struct and internal/api's
// NewServer/registerRoutes wiring shape, generalized from a fixed REST
// surface to a dynamic dispatcher-registry builder.
package federation

import (
	"context"
	"log/slog"
	"time"

	"github.com/fedcore/fedcore/internal/activity"
	"github.com/fedcore/fedcore/internal/docloader"
	"github.com/fedcore/fedcore/internal/httpsig"
	"github.com/fedcore/fedcore/internal/inbox"
	"github.com/fedcore/fedcore/internal/kvstore"
	"github.com/fedcore/fedcore/internal/mqueue"
	"github.com/fedcore/fedcore/internal/observability"
	"github.com/fedcore/fedcore/internal/outbox"
	"github.com/fedcore/fedcore/internal/retry"
	"github.com/fedcore/fedcore/internal/uritemplate"
)

// Options configures a Facade, mirroring spec.md §6's configuration
// record.
type Options struct {
	// PreferSharedInbox coalesces outbound deliveries onto a shared inbox
	// where the recipient actor publishes one.
	PreferSharedInbox bool
	// ExcludeBaseURIs lists inbox URL prefixes that must never receive an
	// outbound delivery (typically this instance's own origin).
	ExcludeBaseURIs []string
	// SkipSignatureVerification disables inbound httpsig verification.
	// Test only.
	SkipSignatureVerification bool
	// TimeWindow bounds signature timestamp drift for inbound requests.
	TimeWindow time.Duration
	// InboxRetryPolicy and OutboxRetryPolicy control backoff/dead-letter
	// behavior for the two pipelines; zero value uses retry.NewPolicy().
	InboxRetryPolicy  retry.Policy
	OutboxRetryPolicy retry.Policy
	// SignProfile selects the HTTP Signature wire profile used to sign
	// outbound deliveries.
	SignProfile httpsig.Profile
	// DedupTTL bounds how long an inbound activity id is remembered for
	// duplicate-delivery detection. Zero uses spec.md §4.F step 4's
	// default of 30 days.
	DedupTTL time.Duration
}

// Config wires a Facade to its collaborators.
type Config struct {
	// Origin is the scheme+host prefix every built URI is anchored to,
	// e.g. "https://example.social".
	Origin string
	Router *uritemplate.Router
	KV     kvstore.Store
	Queue  mqueue.Queue
	Loader *docloader.Loader
	// SigningKeys are this instance's signing keys, in declaration order.
	// Outbound delivery selects among them per spec.md §9's key-selection
	// note.
	SigningKeys httpsig.KeySet
	// KeyResolver resolves an inbound request's keyId to verification
	// material.
	KeyResolver httpsig.PublicKeyResolver
	Logger      *slog.Logger
	Options     Options
}

// Facade is the engine's single federation entrypoint.
type Facade struct {
	origin   string
	router   *uritemplate.Router
	registry registry
	kv       kvstore.Store
	queue    mqueue.Queue
	loader   *docloader.Loader
	logger   *slog.Logger
	opts     Options

	hierarchy *activity.Hierarchy
	observers *observability.Observers
	inbox     *inbox.Pipeline
	outbox    *outbox.Pipeline

	defaultContextData any
}

// New builds a Facade from cfg. The returned Facade has no dispatchers
// registered; call the Set*Dispatcher methods before serving traffic.
func New(cfg Config) *Facade {
	opts := cfg.Options
	if opts.InboxRetryPolicy == (retry.Policy{}) {
		opts.InboxRetryPolicy = retry.NewPolicy()
	}
	if opts.OutboxRetryPolicy == (retry.Policy{}) {
		opts.OutboxRetryPolicy = retry.NewPolicy()
	}
	if opts.SignProfile == "" {
		opts.SignProfile = httpsig.ProfileCavage
	}
	if opts.DedupTTL == 0 {
		opts.DedupTTL = 30 * 24 * time.Hour
	}

	hierarchy := activity.NewHierarchy()
	observers := observability.New(cfg.Logger)

	inboxPipeline := inbox.New(hierarchy, cfg.KeyResolver, cfg.KV, cfg.Queue, observers, cfg.Logger, inbox.Options{
		SkipSignatureVerification: opts.SkipSignatureVerification,
		TimeWindow:                opts.TimeWindow,
		RetryPolicy:               opts.InboxRetryPolicy,
		DedupTTL:                  opts.DedupTTL,
	})

	outboxPipeline := outbox.New(cfg.Loader, cfg.Queue, cfg.SigningKeys, cfg.KV, observers, cfg.Logger, outbox.Options{
		PreferSharedInbox: opts.PreferSharedInbox,
		ExcludeBaseURIs:   opts.ExcludeBaseURIs,
		RetryPolicy:       opts.OutboxRetryPolicy,
		SignProfile:       opts.SignProfile,
	})

	return &Facade{
		origin:    cfg.Origin,
		router:    cfg.Router,
		kv:        cfg.KV,
		queue:     cfg.Queue,
		loader:    cfg.Loader,
		logger:    cfg.Logger,
		opts:      opts,
		hierarchy: hierarchy,
		observers: observers,
		inbox:     inboxPipeline,
		outbox:    outboxPipeline,
	}
}

// RegisterParent extends the inbox dispatch hierarchy with an extension
// activity type not in the ActivityStreams 2.0 core vocabulary.
func (f *Facade) RegisterParent(child, parent string) { f.hierarchy.RegisterParent(child, parent) }

// OnInboundActivity registers an observer fired after an inbound
// activity's first successful dispatch.
func (f *Facade) OnInboundActivity(fn observability.InboundObserver) { f.observers.OnInboundActivity(fn) }

// OnOutboundActivity registers an observer fired once per outbound
// delivery enqueue.
func (f *Facade) OnOutboundActivity(fn observability.OutboundObserver) {
	f.observers.OnOutboundActivity(fn)
}

// CreateContext builds a per-request Context anchored at the facade's
// origin, carrying contextData for dispatchers to read back.
func (f *Facade) CreateContext(ctx context.Context, contextData any) *Context {
	return newContext(ctx, f.origin, f.router, contextData)
}

// SendActivity implements spec.md §4.G's entry point: render act, resolve
// its recipients, and enqueue one outbound delivery per resulting inbox.
func (f *Facade) SendActivity(ctx context.Context, act *activity.Activity) error {
	return f.outbox.Send(ctx, act)
}

// StartQueue runs the inbound and outbound worker loops, each in its own
// goroutine, and blocks until both have returned (normally after ctx is
// canceled). It returns the first non-nil error either loop reported.
func (f *Facade) StartQueue(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- f.inbox.Listen(ctx) }()
	go func() { errCh <- f.outbox.Listen(ctx) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ProcessQueuedTask dispatches a single already-dequeued task to the
// matching pipeline by kind, for hosts that run their own worker pool
// instead of StartQueue.
func (f *Facade) ProcessQueuedTask(ctx context.Context, task mqueue.Task) error {
	switch task.Kind {
	case inbox.Kind:
		return f.inbox.Process(ctx, task)
	case outbox.Kind:
		return f.outbox.Process(ctx, task)
	default:
		f.logger.Warn("processQueuedTask: unknown task kind", slog.String("kind", task.Kind))
		return nil
	}
}
