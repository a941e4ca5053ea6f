package store

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/systemshift/partstore/internal/dag"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewElementID returns a fresh ULID element id. Ids made in the same
// process sort in creation order.
func NewElementID() dag.ElementID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return dag.ElementID(ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String())
}
