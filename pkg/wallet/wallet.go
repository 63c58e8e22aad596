// Package wallet defines the wallet session the bridge relay forwards to and
// an HTTP implementation that speaks JSON-RPC 2.0 to the wallet relay.
package wallet

import (
	"context"
	"errors"

	"github.com/rexliu/splitsconnect/pkg/bridge"
	"github.com/rexliu/splitsconnect/pkg/events"
)

// ErrDestroyed is returned for calls made after Destroy.
var ErrDestroyed = errors.New("wallet: session destroyed")

// Result is the outcome of one session call.
type Result struct {
	Value any
	Err   error
}

// Session is a live wallet connection.
//
// Request records the call before returning, so calls are observed in the
// order Request is invoked. The returned channel yields exactly one Result.
type Session interface {
	Request(ctx context.Context, payload bridge.RequestPayload) <-chan Result
	On(event string, fn events.Listener) (remove func())
	Destroy()
}

// Factory creates a session. It is called at most once per relay at a time.
type Factory func(ctx context.Context) (Session, error)

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Resolved returns a channel already holding r.
func Resolved(r Result) <-chan Result {
	ch := make(chan Result, 1)
	ch <- r
	return ch
}
