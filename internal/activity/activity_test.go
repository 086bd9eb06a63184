package activity

import "testing"

func TestParseActivityExtractsFields(t *testing.T) {
	raw := []byte(`{
		"id": "https://ex.example/create/1",
		"type": "Create",
		"actor": "https://ex.example/users/alice",
		"object": {"id": "https://ex.example/notes/1", "type": "Note"},
		"to": ["https://www.w3.org/ns/activitystreams#Public"],
		"cc": ["https://ex.example/users/alice/followers"]
	}`)

	a, err := ParseActivity(raw)
	if err != nil {
		t.Fatalf("ParseActivity: %v", err)
	}
	if a.ID != "https://ex.example/create/1" {
		t.Errorf("id = %q", a.ID)
	}
	if a.Type != "Create" {
		t.Errorf("type = %q", a.Type)
	}
	if a.Actor != "https://ex.example/users/alice" {
		t.Errorf("actor = %q", a.Actor)
	}
	if a.Object != "https://ex.example/notes/1" {
		t.Errorf("object = %q, want dereferenced id", a.Object)
	}
	if len(a.Cc) != 1 {
		t.Fatalf("cc = %v", a.Cc)
	}
	got := a.Recipients()
	if len(got) != 2 {
		t.Errorf("Recipients() = %v, want 2 entries", got)
	}
}

func TestParseActivityMissingID(t *testing.T) {
	_, err := ParseActivity([]byte(`{"type": "Create"}`))
	if err == nil {
		t.Error("expected error for missing id")
	}
}

func TestParseActivityMissingType(t *testing.T) {
	_, err := ParseActivity([]byte(`{"id": "https://ex.example/1"}`))
	if err == nil {
		t.Error("expected error for missing type")
	}
}

func TestParseActivityMalformedJSON(t *testing.T) {
	_, err := ParseActivity([]byte(`{not json`))
	if err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestActorKeyByID(t *testing.T) {
	raw := []byte(`{
		"id": "https://ex.example/users/alice",
		"type": "Person",
		"inbox": "https://ex.example/users/alice/inbox",
		"endpoints": {"sharedInbox": "https://ex.example/inbox"},
		"publicKey": {
			"id": "https://ex.example/users/alice#main-key",
			"owner": "https://ex.example/users/alice",
			"publicKeyPem": "-----BEGIN PUBLIC KEY-----\n...\n-----END PUBLIC KEY-----"
		}
	}`)
	actor, err := ParseActor(raw)
	if err != nil {
		t.Fatalf("ParseActor: %v", err)
	}
	if actor.SharedInbox != "https://ex.example/inbox" {
		t.Errorf("sharedInbox = %q", actor.SharedInbox)
	}
	k, ok := actor.KeyByID("https://ex.example/users/alice#main-key")
	if !ok {
		t.Fatal("expected key lookup to succeed")
	}
	if k.Algorithm() != AlgorithmRSASHA256 {
		t.Errorf("algorithm = %q, want rsa-sha256", k.Algorithm())
	}
	if k.OwnerURL() != actor.ID {
		t.Errorf("owner = %q, want actor id", k.OwnerURL())
	}
}

func TestHierarchySubtype(t *testing.T) {
	h := NewHierarchy()
	if !h.IsSubtypeOf("TentativeAccept", "Activity") {
		t.Error("expected TentativeAccept to be a subtype of Activity")
	}
	if h.IsSubtypeOf("Follow", "Accept") {
		t.Error("Follow should not be a subtype of Accept")
	}
	h.RegisterParent("CustomLike", "Like")
	if !h.IsSubtypeOf("CustomLike", "Activity") {
		t.Error("expected extension type to walk up to Activity")
	}
}
