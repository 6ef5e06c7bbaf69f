// Package idgen generates time-sortable unique identifiers used for task and
// agent IDs: a ULID encodes a millisecond timestamp plus 80 bits of
// randomness, so IDs naturally sort in creation order while remaining
// collision-resistant without coordination.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new time-sortable identifier string.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Short returns the first n characters of id, used for Agent.UIDShort.
func Short(id string, n int) string {
	if n >= len(id) {
		return id
	}
	return id[:n]
}

// Token returns a random opaque secret suitable for an agent's personal login
// token: not time-sortable, just high-entropy.
func Token() string {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is broken,
		// at which point nothing else in the process works either.
		panic(err)
	}
	return hex.EncodeToString(buf[:])
}
