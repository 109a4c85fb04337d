// Package ids provides identifier primitives (ULID) for links and change requests.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Len is the length of a ULID string.
const Len = 26

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a new ULID string (26 chars).
// IDs minted within the same millisecond still sort in creation order, so
// "id DESC" reads newest first.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	entropyMu.Lock()
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	entropyMu.Unlock()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Valid reports whether s parses as a ULID.
func Valid(s string) bool {
	if len(s) != Len {
		return false
	}
	_, err := ulid.ParseStrict(s)
	return err == nil
}
