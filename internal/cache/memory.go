// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryEntry struct {
	value     []byte
	expiresAt int64
}

// MemoryStore is a bounded in-process Store. The least recently used
// entries are evicted once size is reached.
type MemoryStore struct {
	entries *lru.Cache[string, memoryEntry]
	now     func() time.Time
}

// NewMemoryStore creates a store holding at most size entries.
func NewMemoryStore(size int) (*MemoryStore, error) {
	entries, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("creating memory cache: %w", err)
	}
	return &MemoryStore{entries: entries, now: time.Now}, nil
}

func (m *MemoryStore) lookup(key string) ([]byte, bool) {
	e, ok := m.entries.Get(key)
	if !ok {
		return nil, false
	}
	if e.expiresAt != 0 && e.expiresAt <= m.now().Unix() {
		m.entries.Remove(key)
		return nil, false
	}
	return e.value, true
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.lookup(key)
	return v, ok, nil
}

func (m *MemoryStore) MGet(_ context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := m.lookup(k); ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.entries.Add(key, memoryEntry{value: value, expiresAt: expiresAt(m.now(), ttl)})
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.entries.Remove(key)
	return nil
}

func (m *MemoryStore) ClearPrefix(_ context.Context, prefix string) (int, error) {
	n := 0
	for _, k := range m.entries.Keys() {
		if strings.HasPrefix(k, prefix+":") && m.entries.Remove(k) {
			n++
		}
	}
	return n, nil
}

// Purge deletes expired entries.
func (m *MemoryStore) Purge(_ context.Context) (int, error) {
	now := m.now().Unix()
	n := 0
	for _, k := range m.entries.Keys() {
		e, ok := m.entries.Peek(k)
		if ok && e.expiresAt != 0 && e.expiresAt <= now && m.entries.Remove(k) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() error {
	m.entries.Purge()
	return nil
}
