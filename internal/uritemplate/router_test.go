package uritemplate

import (
	"reflect"
	"testing"
)

func TestAddRejectsTemplateWithoutLeadingSlash(t *testing.T) {
	r := New(false)
	if _, err := r.Add("users/{id}", "actor"); err == nil {
		t.Fatal("expected malformed template error")
	}
}

func TestAddReturnsVariableNames(t *testing.T) {
	r := New(false)
	vars, err := r.Add("/users/{identifier}/{objectType}/{id}", "object")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	want := []string{"identifier", "objectType", "id"}
	if !reflect.DeepEqual(vars, want) {
		t.Errorf("vars = %v, want %v", vars, want)
	}
}

func TestRouteMatchesSimpleSegment(t *testing.T) {
	r := New(false)
	r.Add("/users/{identifier}/inbox", "inbox")

	m, ok := r.Route("/users/alice/inbox")
	if !ok {
		t.Fatal("expected match")
	}
	if m.Name != "inbox" {
		t.Errorf("name = %q", m.Name)
	}
	if m.Variables["identifier"] != "alice" {
		t.Errorf("identifier = %q", m.Variables["identifier"])
	}
}

func TestRouteNoMatch(t *testing.T) {
	r := New(false)
	r.Add("/users/{identifier}/inbox", "inbox")

	if _, ok := r.Route("/users/alice/outbox"); ok {
		t.Fatal("expected no match")
	}
}

func TestRouteExplodeBindsRemainder(t *testing.T) {
	r := New(false)
	r.Add("/proxy{/rest*}", "proxy")

	m, ok := r.Route("/proxy/a/b/c")
	if !ok {
		t.Fatal("expected match")
	}
	if m.Variables["rest"] != "a/b/c" {
		t.Errorf("rest = %q", m.Variables["rest"])
	}
}

func TestBuildUnknownRoute(t *testing.T) {
	r := New(false)
	if _, err := r.Build("nope", nil); err == nil {
		t.Fatal("expected build error for unknown route")
	}
}

func TestBuildMissingVariable(t *testing.T) {
	r := New(false)
	r.Add("/users/{identifier}", "actor")
	if _, err := r.Build("actor", map[string]string{}); err == nil {
		t.Fatal("expected build error for missing variable")
	}
}

func TestHas(t *testing.T) {
	r := New(false)
	r.Add("/users/{identifier}", "actor")
	if !r.Has("actor") {
		t.Error("expected Has to report true")
	}
	if r.Has("missing") {
		t.Error("expected Has to report false for unregistered name")
	}
}

func TestClone(t *testing.T) {
	r := New(false)
	r.Add("/users/{identifier}", "actor")

	clone := r.Clone()
	clone.Add("/users/{identifier}/inbox", "inbox")

	if r.Has("inbox") {
		t.Error("mutating the clone must not affect the original")
	}
	if !clone.Has("actor") || !clone.Has("inbox") {
		t.Error("clone should retain original routes plus its own additions")
	}
}

func TestTrailingSlashInsensitive(t *testing.T) {
	r := New(true)
	r.Add("/users/{identifier}", "actor")

	if _, ok := r.Route("/users/alice"); !ok {
		t.Error("expected match without trailing slash")
	}
	if _, ok := r.Route("/users/alice/"); !ok {
		t.Error("expected match with trailing slash")
	}
}

// TestRouteBuildRoundTrip exercises the invariant: for every route R added
// with template T and name N, route(build(N, V)) reproduces N, T, and V.
func TestRouteBuildRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		template string
		vars     map[string]string
	}{
		{"actor", "/users/{identifier}", map[string]string{"identifier": "alice"}},
		{"inbox", "/users/{identifier}/inbox", map[string]string{"identifier": "bob"}},
		{"object", "/users/{identifier}/{objectType}/{id}", map[string]string{
			"identifier": "carol", "objectType": "notes", "id": "1",
		}},
		{"proxy", "/proxy{/rest*}", map[string]string{"rest": "a/b/c"}},
	}

	r := New(false)
	for _, tc := range cases {
		if _, err := r.Add(tc.template, tc.name); err != nil {
			t.Fatalf("Add(%q): %v", tc.template, err)
		}
	}

	for _, tc := range cases {
		built, err := r.Build(tc.name, tc.vars)
		if err != nil {
			t.Fatalf("Build(%q): %v", tc.name, err)
		}
		m, ok := r.Route(built)
		if !ok {
			t.Fatalf("Route(%q) from Build(%q) did not match", built, tc.name)
		}
		if m.Name != tc.name {
			t.Errorf("Route(%q).Name = %q, want %q", built, m.Name, tc.name)
		}
		if m.Template != tc.template {
			t.Errorf("Route(%q).Template = %q, want %q", built, m.Template, tc.template)
		}
		if !reflect.DeepEqual(m.Variables, tc.vars) {
			t.Errorf("Route(%q).Variables = %v, want %v", built, m.Variables, tc.vars)
		}
	}
}

func TestWellFingerQueryExpression(t *testing.T) {
	r := New(false)
	r.Add("/.well-known/webfinger{?resource}", "webfinger")

	built, err := r.Build("webfinger", map[string]string{"resource": "acct:alice@ex.example"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "/.well-known/webfinger?resource=acct:alice@ex.example"
	if built != want {
		t.Errorf("built = %q, want %q", built, want)
	}
}
