// Package outbox implements the outbound activity pipeline (spec.md §4.G):
// resolve an activity's recipients to inbox URLs, coalesce recipients that
// share a preferred shared inbox, enqueue one delivery task per inbox, sign
// and POST each delivery, and retry failed deliveries on the same backoff
// schedule the inbound pipeline uses.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/fedcore/fedcore/internal/activity"
	"github.com/fedcore/fedcore/internal/docloader"
	"github.com/fedcore/fedcore/internal/httpsig"
	"github.com/fedcore/fedcore/internal/kvstore"
	"github.com/fedcore/fedcore/internal/middleware"
	"github.com/fedcore/fedcore/internal/mqueue"
	"github.com/fedcore/fedcore/internal/observability"
	"github.com/fedcore/fedcore/internal/retry"
)

// Kind is this pipeline's mqueue task kind.
const Kind = "outbox.deliver"

// PermanentFailureHandler is called once a delivery has exhausted its
// retry policy, per spec.md §4.G step 7.
type PermanentFailureHandler func(ctx context.Context, act *activity.Activity, inbox string, err error)

// Options configures a Pipeline.
type Options struct {
	// PreferSharedInbox coalesces recipients that share an actor's shared
	// inbox into a single delivery, per spec.md §4.G step 3's resolved
	// Open Question.
	PreferSharedInbox bool
	// ExcludeBaseURIs lists inbox URL prefixes (typically this instance's
	// own origin) that must never receive a delivery.
	ExcludeBaseURIs []string
	RetryPolicy     retry.Policy
	SignProfile     httpsig.Profile
	Timeout         time.Duration
}

func (o Options) withDefaults() Options {
	if o.RetryPolicy == (retry.Policy{}) {
		o.RetryPolicy = retry.NewPolicy()
	}
	if o.SignProfile == "" {
		o.SignProfile = httpsig.ProfileCavage
	}
	if o.Timeout == 0 {
		o.Timeout = 10 * time.Second
	}
	return o
}

// deliveryPayload is what an enqueued outbox task carries, per spec.md
// §6's "outbound" queue envelope kind: the activity, the inbox it is
// addressed to, which actors were coalesced onto that inbox and whether
// it is a shared inbox, the signing keys available to deliver with, and
// the originating request's trace context.
type deliveryPayload struct {
	Activity     json.RawMessage `json:"activity"`
	Inbox        string          `json:"inbox"`
	ActorIDs     []string        `json:"actorIds,omitempty"`
	SharedInbox  bool            `json:"sharedInbox,omitempty"`
	Keys         []string        `json:"keys,omitempty"`
	TraceContext string          `json:"traceContext,omitempty"`
}

// Pipeline is the outbound delivery pipeline.
type Pipeline struct {
	loader           *docloader.Loader
	queue            mqueue.Queue
	keys             httpsig.KeySet
	kv               kvstore.Store
	observers        *observability.Observers
	logger           *slog.Logger
	opts             Options
	client           *http.Client
	permanentFailure PermanentFailureHandler
}

// New returns a Pipeline. loader resolves recipient actor documents to find
// their inbox (and, when PreferSharedInbox is set, shared inbox) URLs. keys
// is this instance's signing key set, tried in the order Select resolves
// (spec.md §9); kv persists per-delivery retry state and per-inbox
// accepted-algorithm hints — both nil-safe, so a host that doesn't need
// either can omit it.
func New(loader *docloader.Loader, queue mqueue.Queue, keys httpsig.KeySet, kv kvstore.Store, observers *observability.Observers, logger *slog.Logger, opts Options) *Pipeline {
	opts = opts.withDefaults()
	return &Pipeline{
		loader:    loader,
		queue:     queue,
		keys:      keys,
		kv:        kv,
		observers: observers,
		logger:    logger,
		opts:      opts,
		client:    &http.Client{Timeout: opts.Timeout},
	}
}

// SetPermanentFailureHandler registers the hook called when a delivery
// exhausts the retry policy.
func (p *Pipeline) SetPermanentFailureHandler(fn PermanentFailureHandler) {
	p.permanentFailure = fn
}

// Send implements spec.md §4.G steps 1-5: resolve act's recipients to
// inboxes, coalesce per extractInboxes' rules, and enqueue one delivery
// task per resulting inbox. It fires the outbound observer once per
// enqueued inbox, not once per retry attempt.
func (p *Pipeline) Send(ctx context.Context, act *activity.Activity) error {
	span := observability.StartSpan(ctx, observability.SpanSendActivity, p.logger)
	var err error
	defer func() { span.End(err) }()

	var inboxes map[string]inboxInfo
	inboxes, err = p.resolveInboxes(ctx, act)
	if err != nil {
		return fmt.Errorf("outbox: resolving recipients for %q: %w", act.ID, err)
	}
	if len(inboxes) == 0 {
		p.logger.Debug("activity has no resolvable recipients", slog.String("activity_id", act.ID))
		return nil
	}

	raw, err := json.Marshal(act)
	if err != nil {
		return fmt.Errorf("outbox: encoding activity %q: %w", act.ID, err)
	}

	inboxURLs := make([]string, 0, len(inboxes))
	for inbox := range inboxes {
		inboxURLs = append(inboxURLs, inbox)
	}
	sort.Strings(inboxURLs)

	traceContext := middleware.GetCorrelationID(ctx)
	keyIDs := p.keys.KeyIDs()

	tasks := make([]mqueue.Task, 0, len(inboxURLs))
	for _, inbox := range inboxURLs {
		info := inboxes[inbox]
		payload, mErr := json.Marshal(deliveryPayload{
			Activity:     raw,
			Inbox:        inbox,
			ActorIDs:     info.ActorIDs,
			SharedInbox:  info.SharedInbox,
			Keys:         keyIDs,
			TraceContext: traceContext,
		})
		if mErr != nil {
			err = fmt.Errorf("outbox: encoding delivery payload: %w", mErr)
			return err
		}
		tasks = append(tasks, mqueue.Task{
			ID:          act.ID + "|" + inbox,
			Kind:        Kind,
			OrderingKey: inbox,
			Payload:     payload,
		})
	}

	if err = p.queue.EnqueueMany(ctx, tasks); err != nil {
		return fmt.Errorf("outbox: enqueuing deliveries for %q: %w", act.ID, err)
	}

	for _, inbox := range inboxURLs {
		p.observers.FireOutbound(ctx, act, inbox)
	}
	return nil
}

// Listen starts the delivery worker loop, pulling tasks of Kind from queue
// and running each through deliver, applying the configured retry policy on
// failure.
func (p *Pipeline) Listen(ctx context.Context) error {
	return p.queue.Listen(ctx, Kind, p.deliver)
}
