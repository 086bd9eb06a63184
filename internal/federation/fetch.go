package federation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/fedcore/fedcore"
	"github.com/fedcore/fedcore/internal/activity"
	"github.com/fedcore/fedcore/internal/uritemplate"
)

// acceptableMediaTypes are the content types spec.md §6 requires Fetch to
// recognize as an ActivityPub-capable request. A bare "application/json"
// is accepted too, matching common client behavior, but only after the two
// JSON-LD-flavored types have been checked.
var acceptableMediaTypes = []string{
	"application/activity+json",
	"application/ld+json",
	"application/json",
}

// FetchOptions controls Fetch beyond the request/response pair.
type FetchOptions struct {
	// ContextData is attached to every Context built while serving this
	// request, readable by dispatchers and inbox listeners.
	ContextData any
	// OnNotFound is called when no registered route matches the request
	// path. A nil value makes Fetch write a plain 404.
	OnNotFound http.HandlerFunc
	// OnNotAcceptable is called when a route matches but the Accept
	// header lists none of acceptableMediaTypes. It may write its own
	// response (e.g. an HTML page); a nil value makes Fetch write 406.
	OnNotAcceptable http.HandlerFunc
}

// Fetch is the facade's single HTTP entrypoint (spec.md §4.H): it matches
// the request path against the router, negotiates content type, and
// either renders a dispatcher's output or runs the inbound pipeline for a
// POST to the inbox route.
func (f *Facade) Fetch(w http.ResponseWriter, r *http.Request, opts FetchOptions) {
	match, ok := f.router.Route(r.URL.Path)
	if !ok {
		if opts.OnNotFound != nil {
			opts.OnNotFound(w, r)
			return
		}
		http.NotFound(w, r)
		return
	}

	if match.Name == RouteWebFinger || match.Name == RouteNodeInfo || match.Name == RouteNodeInfo2_1 {
		f.dispatchWellKnown(w, r, match.Name, opts)
		return
	}

	if match.Name == RouteInbox && r.Method == http.MethodPost {
		f.handleInboxPost(w, r, match.Variables)
		return
	}

	if !acceptable(r.Header.Get("Accept")) {
		if opts.OnNotAcceptable != nil {
			opts.OnNotAcceptable(w, r)
			return
		}
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}

	ctx := f.CreateContext(r.Context(), opts.ContextData)
	doc, err := f.dispatchGet(ctx, match)
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	if doc == nil {
		http.NotFound(w, r)
		return
	}
	writeJSONLD(w, doc)
}

func acceptable(header string) bool {
	if header == "" {
		return true
	}
	for _, want := range acceptableMediaTypes {
		if strings.Contains(header, want) {
			return true
		}
	}
	return false
}

func (f *Facade) dispatchWellKnown(w http.ResponseWriter, r *http.Request, route string, opts FetchOptions) {
	ctx := f.CreateContext(r.Context(), opts.ContextData)
	switch route {
	case RouteWebFinger:
		if f.registry.webFingerLinks == nil {
			http.NotFound(w, r)
			return
		}
		resource := r.URL.Query().Get("resource")
		links, err := f.registry.webFingerLinks(ctx, resource)
		if err != nil {
			writeDispatchError(w, err)
			return
		}
		writeJSONLD(w, map[string]any{"subject": resource, "links": links})
	case RouteNodeInfo:
		base := strings.TrimSuffix(f.origin, "/")
		writeJSONLD(w, map[string]any{
			"links": []WebFingerLink{{
				Rel:  "http://nodeinfo.diaspora.software/ns/schema/2.1",
				Href: base + "/nodeinfo/2.1",
			}},
		})
	case RouteNodeInfo2_1:
		if f.registry.nodeInfo == nil {
			http.NotFound(w, r)
			return
		}
		doc, err := f.registry.nodeInfo(ctx)
		if err != nil {
			writeDispatchError(w, err)
			return
		}
		writeJSONLD(w, doc)
	}
}

// dispatchGet renders the model object for a GET against one of the
// dispatcher-backed routes. A nil, nil return means "no dispatcher
// registered for this route" and the caller responds 404.
func (f *Facade) dispatchGet(ctx *Context, match *uritemplate.Match) (any, error) {
	identifier := match.Variables["identifier"]

	switch match.Name {
	case RouteActor:
		if f.registry.actor == nil {
			return nil, nil
		}
		actor, err := f.registry.actor(ctx, identifier)
		if err != nil || actor == nil {
			return nil, err
		}
		enforceActorIDInvariant(ctx, identifier, actor)
		return actor, nil
	case RouteOutbox:
		if f.registry.outbox == nil {
			return nil, nil
		}
		return f.registry.outbox(ctx, identifier)
	case RouteFollowers:
		if f.registry.followers == nil {
			return nil, nil
		}
		return f.registry.followers(ctx, identifier)
	case RouteFollowing:
		if f.registry.following == nil {
			return nil, nil
		}
		return f.registry.following(ctx, identifier)
	case RouteLiked:
		if f.registry.liked == nil {
			return nil, nil
		}
		return f.registry.liked(ctx, identifier)
	case RouteFeatured:
		if f.registry.featured == nil {
			return nil, nil
		}
		return f.registry.featured(ctx, identifier)
	case RouteFeaturedTags:
		if f.registry.featuredTags == nil {
			return nil, nil
		}
		return f.registry.featuredTags(ctx, identifier)
	case RouteInbox:
		// GET on the inbox route has no dispatcher of its own in this
		// engine — inbox contents are not publicly enumerable.
		return nil, nil
	case RouteObject:
		if f.registry.object == nil {
			return nil, nil
		}
		return f.registry.object(ctx, identifier, match.Variables["objectType"], match.Variables["id"])
	default:
		if f.registry.orderedCollection != nil {
			if doc, err := f.registry.orderedCollection(ctx, identifier, match.Name); err == nil && doc != nil {
				return doc, nil
			}
		}
		if f.registry.collection != nil {
			return f.registry.collection(ctx, identifier, match.Name)
		}
		return nil, nil
	}
}

// enforceActorIDInvariant panics if the actor dispatcher violated spec.md
// §4.H's runtime-enforced invariant: a dispatcher returning an actor whose
// id doesn't match its own route is a programmer error, not a recoverable
// request failure.
func enforceActorIDInvariant(ctx *Context, identifier string, actor *activity.Actor) {
	want := ctx.GetActorUri(identifier)
	if actor.ID != want {
		panic("federation: actor dispatcher for " + identifier + " returned id " + actor.ID + ", want " + want)
	}
}

func (f *Facade) handleInboxPost(w http.ResponseWriter, r *http.Request, vars map[string]string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	if err := f.inbox.Receive(r.Context(), r, body); err != nil {
		// Receive fails on malformed input or a failed
		// signature/key-ownership check (spec.md §7's input/authentication
		// error kinds), and also when the dedup store or the queue returns
		// an error; transport and listener failures are handled inside the
		// queued dispatch, never surfaced here. A typed fedcore.Error
		// carries its own status; anything else, store and queue errors
		// included, is answered with 400 rather than a 500.
		status := http.StatusBadRequest
		var fcErr *fedcore.Error
		if errors.As(err, &fcErr) {
			status = fcErr.HTTPStatus()
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSONLD(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/activity+json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDispatchError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
