// Package offload keeps large hex payloads out of relayed RPC messages. For a
// fixed set of methods the data field is staged in the payload store and
// replaced by a placeholder. Any failure sends the payload unmodified.
package offload

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rexliu/splitsconnect/pkg/bridge"
	"github.com/rexliu/splitsconnect/pkg/rpcstore"
)

const (
	MethodSendTransaction = "eth_sendTransaction"
	MethodSendCalls       = "wallet_sendCalls"

	// DefaultInlineLimit is the longest field, in characters, left inline.
	DefaultInlineLimit = 1024
)

// DefaultMethods are the methods known to carry large hex payloads.
var DefaultMethods = []string{MethodSendTransaction, MethodSendCalls}

// Payloads is the part of rpcstore.Store the policy needs.
type Payloads interface {
	Put(ctx context.Context, value string) (string, error)
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	Now() time.Time
}

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Policy rewrites request payloads.
type Policy struct {
	store       Payloads
	extensionID string
	inlineLimit int
	methods     map[string]struct{}
	logger      Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithInlineLimit overrides DefaultInlineLimit.
func WithInlineLimit(n int) Option {
	return func(p *Policy) {
		if n >= 0 {
			p.inlineLimit = n
		}
	}
}

// WithMethods restricts offloading to methods. Methods without a known
// parameter shape always pass through.
func WithMethods(methods ...string) Option {
	return func(p *Policy) {
		p.methods = make(map[string]struct{}, len(methods))
		for _, m := range methods {
			p.methods[m] = struct{}{}
		}
	}
}

// WithLogger reports swallowed failures.
func WithLogger(l Logger) Option {
	return func(p *Policy) { p.logger = l }
}

// New builds a policy that stores into store and encodes placeholders with
// extensionID.
func New(store Payloads, extensionID string, opts ...Option) *Policy {
	p := &Policy{
		store:       store,
		extensionID: extensionID,
		inlineLimit: DefaultInlineLimit,
	}
	WithMethods(DefaultMethods...)(p)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Apply returns payload with its large field offloaded, and whether anything
// changed. The input is never modified.
func (p *Policy) Apply(ctx context.Context, payload bridge.RequestPayload) (out bridge.RequestPayload, mutated bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logf("offload %s panicked: %v", payload.Method, r)
			out, mutated = payload, false
		}
	}()
	if _, ok := p.methods[payload.Method]; !ok || payload.Params == nil {
		return payload, false
	}
	params, ok := normalizeParams(payload.Params)
	if !ok || len(params) == 0 {
		return payload, false
	}

	if _, err := p.store.SweepExpired(ctx, p.store.Now()); err != nil {
		p.logf("sweep before offload: %v", err)
	}

	var (
		updated []any
		err     error
	)
	switch payload.Method {
	case MethodSendTransaction:
		updated, mutated, err = p.offloadTransaction(ctx, params)
	case MethodSendCalls:
		updated, mutated, err = p.offloadCalls(ctx, params)
	}
	if err != nil {
		p.logf("offload %s: %v", payload.Method, err)
		return payload, false
	}
	if !mutated {
		return payload, false
	}
	return bridge.RequestPayload{Method: payload.Method, Params: updated}, true
}

// offloadTransaction handles [{..., data: "0x..."}].
func (p *Policy) offloadTransaction(ctx context.Context, params []any) ([]any, bool, error) {
	tx, ok := params[0].(map[string]any)
	if !ok {
		return nil, false, nil
	}
	data, _ := tx["data"].(string)
	if !IsHex(data) || data == "0x" || len(data) <= p.inlineLimit {
		return nil, false, nil
	}
	token, err := p.store.Put(ctx, data)
	if err != nil {
		return nil, false, err
	}
	rewritten := copyMap(tx)
	rewritten["data"] = rpcstore.EncodePlaceholder(p.extensionID, token)
	return replaceFirst(params, rewritten), true, nil
}

// offloadCalls handles [{..., calls: [{to, value, data}, ...]}]. The whole
// call list is staged and replaced by a single call carrying the placeholder.
func (p *Policy) offloadCalls(ctx context.Context, params []any) ([]any, bool, error) {
	req, ok := params[0].(map[string]any)
	if !ok {
		return nil, false, nil
	}
	calls, ok := req["calls"].([]any)
	if !ok || len(calls) == 0 {
		return nil, false, nil
	}
	first, ok := calls[0].(map[string]any)
	if !ok {
		return nil, false, nil
	}
	data, _ := first["data"].(string)
	if !IsHex(data) || data == "0x" {
		return nil, false, nil
	}
	serialized, err := json.Marshal(map[string]any{"calls": calls})
	if err != nil {
		return nil, false, err
	}
	if len(serialized) <= p.inlineLimit {
		return nil, false, nil
	}
	token, err := p.store.Put(ctx, string(serialized))
	if err != nil {
		return nil, false, err
	}
	call := map[string]any{"data": rpcstore.EncodePlaceholder(p.extensionID, token)}
	for _, key := range []string{"to", "value"} {
		if v, ok := first[key]; ok {
			call[key] = v
		}
	}
	rewritten := copyMap(req)
	rewritten["calls"] = []any{call}
	return replaceFirst(params, rewritten), true, nil
}

func (p *Policy) logf(format string, v ...any) {
	if p.logger != nil {
		p.logger.Printf(format, v...)
	}
}

// IsHex reports whether s is 0x-prefixed hex. The prefix is case-sensitive.
func IsHex(s string) bool {
	if len(s) < 2 || s[:2] != "0x" {
		return false
	}
	for i := 2; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func normalizeParams(v any) ([]any, bool) {
	if list, ok := v.([]any); ok {
		return list, true
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, false
	}
	return list, true
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func replaceFirst(params []any, first any) []any {
	out := make([]any, len(params))
	copy(out, params)
	out[0] = first
	return out
}
