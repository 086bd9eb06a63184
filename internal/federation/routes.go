package federation

import "github.com/fedcore/fedcore/internal/uritemplate"

// Canonical route names, matching the paths spec.md §6 lists as the
// engine's default HTTP surface. Hosts may still register additional
// routes on the same Router; the facade only depends on these names being
// present.
const (
	RouteWebFinger   = "webfinger"
	RouteNodeInfo    = "nodeinfo"
	RouteNodeInfo2_1 = "nodeinfo2.1"
	RouteActor       = "actor"
	RouteInbox       = "inbox"
	RouteOutbox      = "outbox"
	RouteFollowers   = "followers"
	RouteFollowing   = "following"
	RouteLiked       = "liked"
	RouteFeatured    = "featured"
	RouteFeaturedTags = "featuredTags"
	RouteObject      = "object"
)

// RegisterDefaultRoutes adds the canonical path templates to router under
// their canonical names. Hosts that need different paths build their own
// Router and call Add directly with the same names instead.
func RegisterDefaultRoutes(router *uritemplate.Router) error {
	routes := []struct {
		template string
		name     string
	}{
		{"/.well-known/webfinger", RouteWebFinger},
		{"/.well-known/nodeinfo", RouteNodeInfo},
		{"/nodeinfo/2.1", RouteNodeInfo2_1},
		{"/users/{identifier}", RouteActor},
		{"/users/{identifier}/inbox", RouteInbox},
		{"/users/{identifier}/outbox", RouteOutbox},
		{"/users/{identifier}/followers", RouteFollowers},
		{"/users/{identifier}/following", RouteFollowing},
		{"/users/{identifier}/liked", RouteLiked},
		{"/users/{identifier}/featured", RouteFeatured},
		{"/users/{identifier}/featuredTags", RouteFeaturedTags},
		{"/users/{identifier}/{objectType}/{id}", RouteObject},
	}
	for _, r := range routes {
		if _, err := router.Add(r.template, r.name); err != nil {
			return err
		}
	}
	return nil
}
