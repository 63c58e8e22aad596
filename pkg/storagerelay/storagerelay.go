// Package storagerelay answers token redemption requests from the one trusted
// web origin. Every failure produces the same {ok:false} reply.
package storagerelay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rexliu/splitsconnect/pkg/config"
)

// MessageType tags a redemption request.
const MessageType = "splits-connect:getStoredRpcPayload"

// Request is an external redemption message.
type Request struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// Reply is the only shape ever returned to the caller. It encodes as
// {"ok":true,"value":...} or {"ok":false}.
type Reply struct {
	OK    bool   `json:"ok"`
	Value string `json:"value"`
}

func (r Reply) MarshalJSON() ([]byte, error) {
	if !r.OK {
		return []byte(`{"ok":false}`), nil
	}
	return json.Marshal(struct {
		OK    bool   `json:"ok"`
		Value string `json:"value"`
	}{OK: true, Value: r.Value})
}

// Sender identifies who sent a request. Origin wins over URL when both are set.
type Sender struct {
	Origin string
	URL    string
}

// Redeemer consumes staged payloads; rpcstore.Store satisfies it.
type Redeemer interface {
	Consume(ctx context.Context, token string) (string, bool, error)
}

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Relay gates redemption on origin.
type Relay struct {
	store  Redeemer
	logger Logger

	mu            sync.RWMutex
	trustedOrigin string
}

// New builds a relay that trusts exactly trustedOrigin.
func New(store Redeemer, trustedOrigin string, logger Logger) *Relay {
	return &Relay{store: store, logger: logger, trustedOrigin: config.Origin(trustedOrigin)}
}

// SetTrustedOrigin swaps the allowed origin, e.g. after an environment change.
func (r *Relay) SetTrustedOrigin(origin string) {
	r.mu.Lock()
	r.trustedOrigin = config.Origin(origin)
	r.mu.Unlock()
}

// TrustedOrigin returns the allowed origin.
func (r *Relay) TrustedOrigin() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trustedOrigin
}

// Allowed reports whether sender matches the trusted origin.
func (r *Relay) Allowed(sender Sender) bool {
	raw := sender.Origin
	if raw == "" {
		raw = sender.URL
	}
	origin := config.Origin(raw)
	trusted := r.TrustedOrigin()
	return origin != "" && trusted != "" && origin == trusted
}

// Handle redeems req for sender.
func (r *Relay) Handle(ctx context.Context, req Request, sender Sender) Reply {
	if req.Type != MessageType || req.Token == "" {
		return Reply{}
	}
	if !r.Allowed(sender) {
		r.logf("redemption refused for origin %q", sender.Origin+sender.URL)
		return Reply{}
	}
	value, ok, err := r.store.Consume(ctx, req.Token)
	if err != nil {
		r.logf("redemption failed: %v", err)
		return Reply{}
	}
	if !ok {
		return Reply{}
	}
	return Reply{OK: true, Value: value}
}

// HandleRaw decodes a JSON message before handling it.
func (r *Relay) HandleRaw(ctx context.Context, raw []byte, sender Sender) Reply {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Reply{}
	}
	return r.Handle(ctx, req, sender)
}

func (r *Relay) logf(format string, v ...any) {
	if r.logger != nil {
		r.logger.Printf(format, v...)
	}
}
