package storage

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// --- Monotonic ULID Generator ---

var (
	ulidGenerator = struct {
		sync.Mutex
		*ulid.MonotonicEntropy
	}{
		MonotonicEntropy: ulid.Monotonic(rand.Reader, 0),
	}
)

// NewID returns a new event id: a 26-character monotonic ULID.
// Ids sort by creation time, which keeps log output and rowid order aligned.
func NewID() string {
	ulidGenerator.Lock()
	defer ulidGenerator.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now()), &ulidGenerator)
	if err != nil {
		// Monotonic entropy overflowed within one millisecond.
		return ulid.Make().String()
	}
	return id.String()
}
