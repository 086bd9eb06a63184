// Package idgen generates sortable, collision-resistant ULID identifiers
// for engine-internal use, never as protocol-level activity or actor
// identifiers — those are always the remote URIs the protocol defines. No
// other package in this module imports it; delivery record keys and queue
// task IDs are built from activity IDs and inbox URLs.
package idgen

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// entropy is a thread-safe monotonic entropy source shared by all ID
// generation in the process.
var entropy = &lockedMonotonicReader{r: ulid.Monotonic(rand.Reader, 0)}

type lockedMonotonicReader struct {
	mu sync.Mutex
	r  io.Reader
}

func (lr *lockedMonotonicReader) Read(p []byte) (int, error) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.r.Read(p)
}

// ID is a ULID wrapper with JSON/text marshaling for use in queue envelopes
// and store records.
type ID struct {
	ulid.ULID
}

// New generates a new ID using the current time and monotonic entropy. Safe
// for concurrent use.
func New() ID {
	return ID{ulid.MustNew(ulid.Timestamp(time.Now()), entropy)}
}

// NewAt generates a new ID timestamped at t, useful for deterministic tests.
func NewAt(t time.Time) ID {
	return ID{ulid.MustNew(ulid.Timestamp(t), entropy)}
}

// Parse parses the string representation of an ID.
func Parse(s string) (ID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("parsing id %q: %w", s, err)
	}
	return ID{id}, nil
}
