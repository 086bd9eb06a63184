package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fedcore/fedcore"
	"github.com/fedcore/fedcore/internal/activity"
	"github.com/fedcore/fedcore/internal/httpsig"
	"github.com/fedcore/fedcore/internal/mqueue"
	"github.com/fedcore/fedcore/internal/observability"
)

// dedupKeyPrefix namespaces activity-id dedup entries in the kv store so
// they don't collide with unrelated keys the host application stores
// through the same backend.
const dedupKeyPrefix = "inbox/seen/"

// Receive implements spec.md §4.F steps 1-5: parse the activity, verify
// the request's signature and that the signing key's owner matches the
// activity's claimed actor, reject a duplicate activity id, and enqueue
// the activity for dispatch. It does not run the listener itself — that
// happens asynchronously in the worker loop started by Listen — so
// Receive can return quickly and let the queue absorb bursts.
func (p *Pipeline) Receive(ctx context.Context, req *http.Request, body []byte) error {
	span := observability.StartSpan(ctx, observability.SpanDispatchInbound, p.logger)
	defer span.End(nil)

	act, err := activity.ParseActivity(body)
	if err != nil {
		return err
	}

	if !p.opts.SkipSignatureVerification {
		keyID, err := p.verifyInbound(ctx, req, body, act)
		if err != nil {
			return err
		}
		p.logger.Debug("inbound request signature verified", slog.String("key_id", keyID))
	}

	fresh, err := p.claimDelivery(ctx, act.ID)
	if err != nil {
		return fmt.Errorf("inbox: checking duplicate delivery: %w", err)
	}
	if !fresh {
		p.logger.Debug("duplicate inbound activity discarded", slog.String("activity_id", act.ID))
		return nil
	}

	if _, ok := p.listenerFor(act.Type); !ok {
		p.logger.Debug("no listener registered for inbound activity type", slog.String("type", act.Type))
		return nil
	}

	task := mqueue.Task{
		ID:          act.ID,
		Kind:        Kind,
		OrderingKey: act.Actor,
		Payload:     body,
		EnqueuedAt:  time.Time{},
	}
	if err := p.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("inbox: enqueuing activity %q: %w", act.ID, err)
	}
	return nil
}

// verifyInbound verifies req's HTTP signature, falling back once to a
// cache-invalidated retry (in case the key was rotated, spec.md §3
// Actor) and, if that still fails, to the document's embedded
// LD-Signature/Object Integrity Proof (spec.md §4.F step 2). Once a
// signature verifies by either path, it checks that the resolved key's
// owner transitively matches act.Actor (spec.md §4.D) before accepting
// the request. Every failure is returned as a *fedcore.Error with
// Kind: KindAuthentication.
func (p *Pipeline) verifyInbound(ctx context.Context, req *http.Request, body []byte, act *activity.Activity) (string, error) {
	verifyOpts := httpsig.VerifyOptions{TimeWindow: p.opts.TimeWindow, RequireDigest: true}

	keyID, sigErr := httpsig.VerifyRequest(ctx, req, body, p.resolver, verifyOpts)
	if sigErr != nil {
		if invalidator, ok := p.resolver.(httpsig.Invalidator); ok {
			if claimedKeyID, err := httpsig.ExtractKeyID(req); err == nil && claimedKeyID != "" {
				if err := invalidator.InvalidateKey(ctx, claimedKeyID); err != nil {
					p.logger.Debug("inbox: invalidating cached key failed", slog.String("key_id", claimedKeyID), slog.String("error", err.Error()))
				} else if keyID, sigErr = httpsig.VerifyRequest(ctx, req, body, p.resolver, verifyOpts); sigErr == nil {
					p.logger.Debug("inbound signature verified after cache invalidation", slog.String("key_id", keyID))
				}
			}
		}
	}

	if sigErr != nil {
		ldKeyID, ldErr := httpsig.VerifyLDSignature(ctx, body, p.resolver)
		if ldErr != nil {
			return "", fedcore.New(fedcore.KindAuthentication, "signature verification failed", sigErr).WithActivityID(act.ID)
		}
		keyID, sigErr = ldKeyID, nil
		p.logger.Debug("inbound activity verified via embedded ld-signature fallback", slog.String("key_id", keyID))
	}

	if err := p.verifyKeyOwnership(ctx, keyID, act); err != nil {
		return "", err
	}
	return keyID, nil
}

// verifyKeyOwnership checks that the actor owning keyID transitively
// matches act.Actor, per spec.md §4.D. Without a KeyOwnerResolver
// available, it fails closed rather than silently skip the check.
func (p *Pipeline) verifyKeyOwnership(ctx context.Context, keyID string, act *activity.Activity) (err error) {
	span := observability.StartSpan(ctx, observability.SpanVerifyKeyOwnership, p.logger)
	defer func() { span.End(err) }()

	ownerResolver, ok := p.resolver.(httpsig.KeyOwnerResolver)
	if !ok {
		err = fedcore.New(fedcore.KindAuthentication, "no key-owner resolver configured to verify actor binding", nil).WithActivityID(act.ID)
		return err
	}

	owner, resolveErr := ownerResolver.ResolveKeyOwner(ctx, keyID)
	if resolveErr != nil {
		err = fedcore.New(fedcore.KindAuthentication, "resolving signing key owner", resolveErr).WithActivityID(act.ID)
		return err
	}
	if act.Actor == "" || !sameURL(owner, act.Actor) {
		err = fedcore.New(fedcore.KindAuthentication,
			fmt.Sprintf("signing key owner %q does not match activity actor %q", owner, act.Actor), nil).WithActivityID(act.ID)
		return err
	}
	return nil
}

// sameURL compares two actor/key URLs for equivalence, tolerating a
// trailing slash — the "URL equivalence" spec.md §4.D calls for, not a
// full RFC 3986 normalization.
func sameURL(a, b string) bool {
	return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
}

// claimDelivery atomically marks activity id as seen, returning false
// without error if it was already claimed — the CAS create-only semantics
// (oldValue nil) make this race-safe across concurrent deliveries of the
// same activity id.
func (p *Pipeline) claimDelivery(ctx context.Context, activityID string) (bool, error) {
	marker, err := json.Marshal(time.Now().UTC())
	if err != nil {
		return false, err
	}
	ok, err := p.dedup.CompareAndSwap(ctx, dedupKeyPrefix+activityID, nil, marker, p.opts.DedupTTL)
	if err != nil {
		return false, err
	}
	return ok, nil
}
