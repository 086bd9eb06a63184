package activity

import "sync"

// Hierarchy models the ActivityStreams vocabulary's class hierarchy as a
// typeId -> parent map, so inbox listener lookup can walk the ancestor
// chain until a registered handler is found (spec.md §4.F step 6 and the
// design note on polymorphism over activity/actor types: "re-architect as
// tagged variants with a typeId -> constructor mapping and a sub-type
// predicate built from the schema's hierarchy metadata").
//
// The core vocabulary is seeded with the standard ActivityStreams 2.0
// shapes; hosts may register additional types (extension activities) with
// RegisterParent before startup.
type Hierarchy struct {
	mu     sync.RWMutex
	parent map[string]string
}

// NewHierarchy returns a Hierarchy pre-seeded with the ActivityStreams 2.0
// activity and actor class tree.
func NewHierarchy() *Hierarchy {
	h := &Hierarchy{parent: make(map[string]string, 64)}
	for child, p := range defaultHierarchy {
		h.parent[child] = p
	}
	return h
}

// defaultHierarchy captures the subset of the ActivityStreams vocabulary
// the engine needs to resolve sub-type listener lookups without a full
// schema-driven code generator (out of scope per spec.md §1).
var defaultHierarchy = map[string]string{
	// Activity tree.
	"IntransitiveActivity": "Activity",
	"Accept":               "Activity",
	"TentativeAccept":      "Accept",
	"Reject":                "Activity",
	"TentativeReject":      "Reject",
	"Add":                   "Activity",
	"Remove":                "Activity",
	"Announce":              "Activity",
	"Create":                "Activity",
	"Delete":                "Activity",
	"Follow":                "Activity",
	"Ignore":                "Activity",
	"Block":                 "Ignore",
	"Join":                  "Activity",
	"Leave":                 "Activity",
	"Like":                  "Activity",
	"Offer":                 "Activity",
	"Invite":                "Offer",
	"Undo":                  "Activity",
	"Update":                "Activity",
	"View":                  "Activity",
	"Listen":                "Activity",
	"Read":                  "Activity",
	"Move":                  "Activity",
	"Travel":                "IntransitiveActivity",
	"Arrive":                "IntransitiveActivity",
	"Question":              "IntransitiveActivity",
	"Flag":                  "Activity",
	"Dislike":               "Activity",

	// Actor tree.
	"Application": "Object",
	"Group":       "Object",
	"Organization": "Object",
	"Person":       "Object",
	"Service":      "Object",

	// Object tree (abbreviated).
	"Article":   "Object",
	"Document":  "Object",
	"Image":     "Document",
	"Audio":     "Document",
	"Video":     "Document",
	"Note":      "Object",
	"Page":      "Document",
	"Event":     "Object",
	"Place":     "Object",
	"Profile":   "Object",
	"Tombstone": "Object",
}

// RegisterParent extends the hierarchy with an extension type. Calling it
// after the facade has started serving requests is unsupported, matching
// spec.md §5's "shared resources ... read-mostly after setup" rule.
func (h *Hierarchy) RegisterParent(child, parent string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.parent[child] = parent
}

// Ancestors returns typ and each of its ancestors in order, ending at the
// root (a type with no registered parent).
func (h *Hierarchy) Ancestors(typ string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	chain := []string{typ}
	seen := map[string]bool{typ: true}
	cur := typ
	for {
		p, ok := h.parent[cur]
		if !ok || seen[p] {
			return chain
		}
		chain = append(chain, p)
		seen[p] = true
		cur = p
	}
}

// IsSubtypeOf reports whether typ is child, or a descendant of, ancestor.
func (h *Hierarchy) IsSubtypeOf(typ, ancestor string) bool {
	for _, t := range h.Ancestors(typ) {
		if t == ancestor {
			return true
		}
	}
	return false
}
