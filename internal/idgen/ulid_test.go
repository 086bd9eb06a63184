package idgen

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewIsSortable(t *testing.T) {
	a := New()
	b := New()
	if a.String() >= b.String() {
		t.Errorf("expected monotonically increasing IDs, got %s then %s", a, b)
	}
}

func TestParseRoundTrip(t *testing.T) {
	id := New()
	parsed, err := Parse(id.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.String() != id.String() {
		t.Errorf("round trip mismatch: %s != %s", parsed, id)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("not-a-ulid"); err == nil {
		t.Error("expected error for invalid ULID string")
	}
}

func TestNewAtDeterministicTimestamp(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	id := NewAt(at)
	if id.Time() != ulid.Timestamp(at) {
		t.Errorf("timestamp mismatch")
	}
}
