package rpcstore

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewToken returns a random UUID, falling back to a timestamped ULID when the
// system random source fails.
func NewToken() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return fmt.Sprintf("%d-%d", time.Now().UnixMilli(), time.Now().UnixNano())
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), id.String())
}
