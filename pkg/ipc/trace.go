package ipc

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewTraceID returns a sortable id for correlating a request in logs.
func NewTraceID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return "ipc-" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

type originKey struct{}

// WithOrigin attaches the caller's origin to ctx.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin attached by the server, if any.
func OriginFrom(ctx context.Context) string {
	origin, _ := ctx.Value(originKey{}).(string)
	return origin
}
