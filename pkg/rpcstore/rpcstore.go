// Package rpcstore stages oversized RPC fields under single-use tokens.
// Entries live for a fixed TTL and are removed on first read whether or not
// they have expired, so no token is ever redeemable twice.
package rpcstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rexliu/splitsconnect/pkg/kv"
)

const (
	// KeyPrefix namespaces payload entries in the shared store.
	KeyPrefix = "splits:rpc:"
	// PlaceholderPrefix marks a field whose value was offloaded.
	PlaceholderPrefix = "0xsplitsconnectkey:"
	// DefaultTTL bounds how long an entry stays redeemable.
	DefaultTTL = 5 * time.Minute
)

// Entry is the stored form of one payload.
type Entry struct {
	Value     string `json:"value"`
	CreatedAt int64  `json:"createdAt"`
}

func (e Entry) expired(now time.Time, ttl time.Duration) bool {
	return now.UnixMilli()-e.CreatedAt > ttl.Milliseconds()
}

// Store reads and writes entries through a kv.Store.
type Store struct {
	kv       kv.Store
	ttl      time.Duration
	now      func() time.Time
	newToken func() string
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTokenSource replaces NewToken.
func WithTokenSource(fn func() string) Option {
	return func(s *Store) { s.newToken = fn }
}

// New builds a Store over backend.
func New(backend kv.Store, opts ...Option) *Store {
	s := &Store{kv: backend, ttl: DefaultTTL, now: time.Now, newToken: NewToken}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Key returns the storage key for token.
func Key(token string) string {
	return KeyPrefix + token
}

// Put stages value under a fresh token.
func (s *Store) Put(ctx context.Context, value string) (string, error) {
	token := s.newToken()
	raw, err := json.Marshal(Entry{Value: value, CreatedAt: s.now().UnixMilli()})
	if err != nil {
		return "", err
	}
	if err := s.kv.Set(ctx, Key(token), raw); err != nil {
		return "", fmt.Errorf("store rpc payload: %w", err)
	}
	return token, nil
}

// Consume removes the entry for token and returns its value if it had not
// expired. A missing, expired or unreadable entry reports ok=false.
func (s *Store) Consume(ctx context.Context, token string) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}
	raw, ok, err := s.kv.Take(ctx, Key(token))
	if err != nil {
		return "", false, fmt.Errorf("consume rpc payload: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return "", false, nil
	}
	if entry.expired(s.now(), s.ttl) {
		return "", false, nil
	}
	return entry.Value, true, nil
}

// SweepExpired deletes every entry older than the TTL at now and reports how
// many keys it removed.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	all, err := s.kv.Scan(ctx, KeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("scan rpc payloads: %w", err)
	}
	var expired []string
	for key, raw := range all {
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if entry.expired(now, s.ttl) {
			expired = append(expired, key)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	if err := s.kv.Remove(ctx, expired...); err != nil {
		return 0, fmt.Errorf("remove expired rpc payloads: %w", err)
	}
	return len(expired), nil
}

// Now returns the store's clock reading.
func (s *Store) Now() time.Time {
	return s.now()
}

// EncodePlaceholder builds the sentinel substituted for an offloaded field.
func EncodePlaceholder(extensionID, token string) string {
	return PlaceholderPrefix + extensionID + ":" + token
}

// DecodePlaceholder splits a placeholder back into its extension id and token.
func DecodePlaceholder(value string) (extensionID, token string, ok bool) {
	rest, found := strings.CutPrefix(value, PlaceholderPrefix)
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, ":")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// IsPlaceholder reports whether value decodes as a placeholder.
func IsPlaceholder(value string) bool {
	_, _, ok := DecodePlaceholder(value)
	return ok
}
