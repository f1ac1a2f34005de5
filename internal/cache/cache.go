// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package cache provides the durable key/value cache used for EPSS scores
// and circuit breaker state. Keys are namespaced as "{prefix}:{key}" and
// TTLs are kept with second precision.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bonial-oss/vuln-risk/internal/metrics"
	"github.com/bonial-oss/vuln-risk/internal/types"
)

// Store is a key/value store with per-entry expiry. A ttl of zero means
// the entry never expires. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// MGet fetches several keys in a single round trip. Missing and expired
	// keys are absent from the result.
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// ClearPrefix removes every key matching "{prefix}:*" and returns the
	// number of removed entries.
	ClearPrefix(ctx context.Context, prefix string) (int, error)
	Close() error
}

// Purger is implemented by stores that keep expired entries until they
// are explicitly removed.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// Key joins prefix and key with the cache key separator.
func Key(prefix, key string) string {
	return prefix + ":" + key
}

// ttlSeconds rounds a TTL up to whole seconds. Non-positive TTLs mean no
// expiry.
func ttlSeconds(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	secs := int64(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++
	}
	return secs
}

// expiresAt returns the unix expiry for ttl, or 0 for no expiry.
func expiresAt(now time.Time, ttl time.Duration) int64 {
	secs := ttlSeconds(ttl)
	if secs == 0 {
		return 0
	}
	return now.Unix() + secs
}

// Namespace is a typed view on a Store under one prefix. Storage and
// decoding failures are logged and reported as misses; they never reach
// the caller.
type Namespace struct {
	store   Store
	prefix  string
	ttl     time.Duration
	metrics *metrics.Metrics
}

// NewNamespace creates a namespace writing entries with the given TTL.
func NewNamespace(store Store, prefix string, ttl time.Duration, m *metrics.Metrics) *Namespace {
	return &Namespace{store: store, prefix: prefix, ttl: ttl, metrics: m}
}

// Prefix returns the namespace prefix.
func (n *Namespace) Prefix() string {
	return n.prefix
}

// GetJSON decodes the entry under key into a T.
func GetJSON[T any](ctx context.Context, n *Namespace, key string) (T, bool) {
	var zero T
	raw, ok, err := n.store.Get(ctx, Key(n.prefix, key))
	if err != nil {
		n.metrics.CacheLookup(n.prefix, metrics.ResultError)
		slog.Warn("cache read failed, treating as miss", "prefix", n.prefix, "err", fmt.Errorf("%w: %w", types.ErrCacheUnavailable, err))
		return zero, false
	}
	if !ok {
		n.metrics.CacheLookup(n.prefix, metrics.ResultMiss)
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		n.metrics.CacheLookup(n.prefix, metrics.ResultError)
		slog.Warn("corrupt cache entry, treating as miss", "prefix", n.prefix, "key", key, "err", err)
		return zero, false
	}
	n.metrics.CacheLookup(n.prefix, metrics.ResultHit)
	return v, true
}

// MGetJSON decodes all present entries for keys. The result is keyed by the
// un-prefixed key.
func MGetJSON[T any](ctx context.Context, n *Namespace, keys []string) map[string]T {
	out := make(map[string]T, len(keys))
	if len(keys) == 0 {
		return out
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = Key(n.prefix, k)
	}
	raw, err := n.store.MGet(ctx, full)
	if err != nil {
		n.metrics.CacheLookup(n.prefix, metrics.ResultError)
		slog.Warn("cache multi-get failed, treating as miss", "prefix", n.prefix, "keys", len(keys), "err", fmt.Errorf("%w: %w", types.ErrCacheUnavailable, err))
		return out
	}
	for _, k := range keys {
		b, ok := raw[Key(n.prefix, k)]
		if !ok {
			n.metrics.CacheLookup(n.prefix, metrics.ResultMiss)
			continue
		}
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			n.metrics.CacheLookup(n.prefix, metrics.ResultError)
			slog.Warn("corrupt cache entry, treating as miss", "prefix", n.prefix, "key", k, "err", err)
			continue
		}
		n.metrics.CacheLookup(n.prefix, metrics.ResultHit)
		out[k] = v
	}
	return out
}

// SetJSON stores v under key with the namespace TTL.
func (n *Namespace) SetJSON(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Warn("encoding cache entry", "prefix", n.prefix, "key", key, "err", err)
		return
	}
	if err := n.store.Set(ctx, Key(n.prefix, key), b, n.ttl); err != nil {
		slog.Warn("cache write failed", "prefix", n.prefix, "key", key, "err", fmt.Errorf("%w: %w", types.ErrCacheUnavailable, err))
	}
}

// Clear removes every entry of the namespace.
func (n *Namespace) Clear(ctx context.Context) (int, error) {
	return n.store.ClearPrefix(ctx, n.prefix)
}

// escapeLike escapes LIKE wildcards in s using backslash.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
