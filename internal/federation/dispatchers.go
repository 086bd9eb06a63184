package federation

import (
	"context"

	"github.com/fedcore/fedcore/internal/activity"
)

// WebFingerLink is one entry of a WebFinger response's "links" array.
type WebFingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// Dispatcher function kinds, one per registry in spec.md §4.H's builder.
// Each receives the per-request Context and the route's path variables and
// returns the model object Fetch renders as JSON-LD.
type (
	ActorDispatcher             func(ctx *Context, identifier string) (*activity.Actor, error)
	ObjectDispatcher            func(ctx *Context, identifier, objectType, id string) (activity.Document, error)
	OutboxDispatcher            func(ctx *Context, identifier string) (activity.Document, error)
	FollowingDispatcher         func(ctx *Context, identifier string) (activity.Document, error)
	FollowersDispatcher         func(ctx *Context, identifier string) (activity.Document, error)
	LikedDispatcher             func(ctx *Context, identifier string) (activity.Document, error)
	FeaturedDispatcher          func(ctx *Context, identifier string) (activity.Document, error)
	FeaturedTagsDispatcher      func(ctx *Context, identifier string) (activity.Document, error)
	CollectionDispatcher        func(ctx *Context, identifier, name string) (activity.Document, error)
	OrderedCollectionDispatcher func(ctx *Context, identifier, name string) (activity.Document, error)
	NodeInfoDispatcher          func(ctx *Context) (activity.Document, error)
	WebFingerLinksDispatcher    func(ctx *Context, resource string) ([]WebFingerLink, error)
)

// registry holds every dispatcher the facade can invoke. A zero registry
// (no dispatchers set) makes every dispatch-backed route 404.
type registry struct {
	actor             ActorDispatcher
	object            ObjectDispatcher
	outbox            OutboxDispatcher
	following         FollowingDispatcher
	followers         FollowersDispatcher
	liked             LikedDispatcher
	featured          FeaturedDispatcher
	featuredTags      FeaturedTagsDispatcher
	collection        CollectionDispatcher
	orderedCollection OrderedCollectionDispatcher
	nodeInfo          NodeInfoDispatcher
	webFingerLinks    WebFingerLinksDispatcher
}

// SetActorDispatcher registers the dispatcher rendering an actor document
// for a GET to the actor route.
func (f *Facade) SetActorDispatcher(fn ActorDispatcher) { f.registry.actor = fn }

// SetObjectDispatcher registers the dispatcher rendering an arbitrary typed
// object under a user's namespace.
func (f *Facade) SetObjectDispatcher(fn ObjectDispatcher) { f.registry.object = fn }

// SetOutboxDispatcher registers the dispatcher rendering identifier's
// outbox collection for GET requests.
func (f *Facade) SetOutboxDispatcher(fn OutboxDispatcher) { f.registry.outbox = fn }

// SetFollowingDispatcher registers the following-collection dispatcher.
func (f *Facade) SetFollowingDispatcher(fn FollowingDispatcher) { f.registry.following = fn }

// SetFollowersDispatcher registers the followers-collection dispatcher.
func (f *Facade) SetFollowersDispatcher(fn FollowersDispatcher) { f.registry.followers = fn }

// SetLikedDispatcher registers the liked-collection dispatcher.
func (f *Facade) SetLikedDispatcher(fn LikedDispatcher) { f.registry.liked = fn }

// SetFeaturedDispatcher registers the featured-collection dispatcher.
func (f *Facade) SetFeaturedDispatcher(fn FeaturedDispatcher) { f.registry.featured = fn }

// SetFeaturedTagsDispatcher registers the featured-tags dispatcher.
func (f *Facade) SetFeaturedTagsDispatcher(fn FeaturedTagsDispatcher) { f.registry.featuredTags = fn }

// SetCollectionDispatcher registers the generic (non-ordered) collection
// dispatcher used for host-defined extension collections.
func (f *Facade) SetCollectionDispatcher(fn CollectionDispatcher) { f.registry.collection = fn }

// SetOrderedCollectionDispatcher registers the generic ordered-collection
// dispatcher used for host-defined extension collections.
func (f *Facade) SetOrderedCollectionDispatcher(fn OrderedCollectionDispatcher) {
	f.registry.orderedCollection = fn
}

// SetNodeInfoDispatcher registers the NodeInfo document dispatcher.
func (f *Facade) SetNodeInfoDispatcher(fn NodeInfoDispatcher) { f.registry.nodeInfo = fn }

// SetWebFingerLinksDispatcher registers the dispatcher that resolves a
// WebFinger "resource" query parameter to its link set.
func (f *Facade) SetWebFingerLinksDispatcher(fn WebFingerLinksDispatcher) {
	f.registry.webFingerLinks = fn
}

// SetInboxListeners registers fn as the handler for activities of typ (or
// any unregistered subtype), delegating to the facade's inbox pipeline.
func (f *Facade) SetInboxListeners(typ string, fn func(ctx *Context, act *activity.Activity) error) {
	f.inbox.SetListener(typ, func(c context.Context, act *activity.Activity) error {
		return fn(newContext(c, f.origin, f.router, f.defaultContextData), act)
	})
}

// SetOutboxPermanentFailureHandler registers the hook called once an
// outbound delivery exhausts its retry policy.
func (f *Facade) SetOutboxPermanentFailureHandler(fn func(ctx *Context, act *activity.Activity, inbox string, err error)) {
	f.outbox.SetPermanentFailureHandler(func(c context.Context, act *activity.Activity, inbox string, err error) {
		fn(newContext(c, f.origin, f.router, f.defaultContextData), act, inbox, err)
	})
}
