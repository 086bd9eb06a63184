package federation

import (
	"context"
	"fmt"

	"github.com/fedcore/fedcore/internal/uritemplate"
)

// Context is the per-request context passed to every dispatcher, carrying
// the request's cancellation signal, the host-supplied contextData value,
// and the URI builders dispatchers use to produce ids consistent with the
// router's own route table (spec.md §4.H).
type Context struct {
	context.Context
	origin      string
	router      *uritemplate.Router
	ContextData any
}

func newContext(ctx context.Context, origin string, router *uritemplate.Router, contextData any) *Context {
	return &Context{Context: ctx, origin: origin, router: router, ContextData: contextData}
}

func (c *Context) build(route string, vars map[string]string) string {
	path, err := c.router.Build(route, vars)
	if err != nil {
		// A builder producing an unreachable id is a programmer error
		// (spec.md §7): the dispatcher asked for a route the host never
		// registered, or omitted a required variable.
		panic(fmt.Sprintf("federation: building uri for route %q: %v", route, err))
	}
	return c.origin + path
}

// GetActorUri returns the canonical actor id for identifier.
func (c *Context) GetActorUri(identifier string) string {
	return c.build(RouteActor, map[string]string{"identifier": identifier})
}

// GetInboxUri returns identifier's inbox URL.
func (c *Context) GetInboxUri(identifier string) string {
	return c.build(RouteInbox, map[string]string{"identifier": identifier})
}

// GetOutboxUri returns identifier's outbox URL.
func (c *Context) GetOutboxUri(identifier string) string {
	return c.build(RouteOutbox, map[string]string{"identifier": identifier})
}

// GetFollowersUri returns identifier's followers collection URL.
func (c *Context) GetFollowersUri(identifier string) string {
	return c.build(RouteFollowers, map[string]string{"identifier": identifier})
}

// GetFollowingUri returns identifier's following collection URL.
func (c *Context) GetFollowingUri(identifier string) string {
	return c.build(RouteFollowing, map[string]string{"identifier": identifier})
}

// GetLikedUri returns identifier's liked collection URL.
func (c *Context) GetLikedUri(identifier string) string {
	return c.build(RouteLiked, map[string]string{"identifier": identifier})
}

// GetFeaturedUri returns identifier's featured collection URL.
func (c *Context) GetFeaturedUri(identifier string) string {
	return c.build(RouteFeatured, map[string]string{"identifier": identifier})
}

// GetFeaturedTagsUri returns identifier's featured-tags collection URL.
func (c *Context) GetFeaturedTagsUri(identifier string) string {
	return c.build(RouteFeaturedTags, map[string]string{"identifier": identifier})
}

// GetObjectUri returns the canonical URL for an object of the given type
// owned by identifier.
func (c *Context) GetObjectUri(identifier, objectType, id string) string {
	return c.build(RouteObject, map[string]string{"identifier": identifier, "objectType": objectType, "id": id})
}
