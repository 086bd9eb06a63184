package outbox

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/fedcore/fedcore/internal/activity"
)

// publicURI is the ActivityStreams "public" pseudo-collection. It never
// resolves to an actor, and is not itself an inbox recipient — it only
// controls visibility.
const publicURI = "https://www.w3.org/ns/activitystreams#Public"

// inboxInfo describes what a queued delivery task must carry about the
// actors coalesced onto one inbox, per spec.md §4.G step 3's contract:
// "a mapping from inbox URL to {actorIds: set, sharedInbox: bool}".
type inboxInfo struct {
	ActorIDs    []string
	SharedInbox bool
}

// resolveInboxes implements spec.md §4.G steps 2-3: turn act's to/cc/bto/
// bcc/audience addressees into actor documents, then coalesce them to the
// inbox-URL -> {actorIds, sharedInbox} mapping extractInboxes computes.
func (p *Pipeline) resolveInboxes(ctx context.Context, act *activity.Activity) (map[string]inboxInfo, error) {
	seen := make(map[string]bool)
	var actors []*activity.Actor
	for _, recipient := range act.Recipients() {
		if recipient == "" || recipient == publicURI || recipient == act.Actor || seen[recipient] {
			continue
		}
		seen[recipient] = true

		doc, err := p.loader.Load(ctx, recipient)
		if err != nil {
			p.logger.Warn("could not resolve recipient to an actor document", slog.String("recipient", recipient), slog.Any("error", err))
			continue
		}
		actor, err := activity.ParseActor(doc.Body)
		if err != nil {
			p.logger.Warn("recipient document is not a valid actor", slog.String("recipient", recipient), slog.Any("error", err))
			continue
		}
		actors = append(actors, actor)
	}

	return extractInboxes(actors, p.opts.PreferSharedInbox, p.opts.ExcludeBaseURIs), nil
}

// extractInboxes reduces a set of resolved actors to the inbox URLs an
// activity must be delivered to, and for each inbox, which actors were
// coalesced onto it: one delivery per shared inbox when preferSharedInbox
// is set and the actor publishes one, one delivery per personal inbox
// otherwise, with any inbox whose origin matches an excluded base URI
// dropped (so an instance never delivers activities back to itself). The
// result is invariant under the input actors' order — only the resolved
// URL set and each inbox's actor-id set determine it — so retries and
// replays that resolve the same recipients produce the same delivery set
// (spec.md §8 property 6).
func extractInboxes(actors []*activity.Actor, preferSharedInbox bool, excludeBaseURIs []string) map[string]inboxInfo {
	type builder struct {
		actorIDs map[string]bool
		shared   bool
	}
	builders := make(map[string]*builder)

	for _, a := range actors {
		inbox := a.Inbox
		shared := false
		if preferSharedInbox && a.SharedInbox != "" {
			inbox = a.SharedInbox
			shared = true
		}
		if inbox == "" || isExcludedBaseURI(inbox, excludeBaseURIs) {
			continue
		}
		b, ok := builders[inbox]
		if !ok {
			b = &builder{actorIDs: make(map[string]bool)}
			builders[inbox] = b
		}
		b.shared = b.shared || shared
		b.actorIDs[a.ID] = true
	}

	out := make(map[string]inboxInfo, len(builders))
	for inbox, b := range builders {
		ids := make([]string, 0, len(b.actorIDs))
		for id := range b.actorIDs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out[inbox] = inboxInfo{ActorIDs: ids, SharedInbox: b.shared}
	}
	return out
}

func isExcludedBaseURI(inbox string, bases []string) bool {
	for _, base := range bases {
		if base != "" && strings.HasPrefix(inbox, base) {
			return true
		}
	}
	return false
}
