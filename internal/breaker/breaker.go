// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package breaker gates calls to failing upstreams. Both variants fail
// open: when their own state cannot be read or written they report the
// circuit as closed.
package breaker

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bonial-oss/vuln-risk/internal/cache"
	"github.com/bonial-oss/vuln-risk/internal/metrics"
)

// Breaker is a binary failure-suppression gate.
type Breaker interface {
	IsOpen(ctx context.Context) bool
	RecordFailure(ctx context.Context)
	RecordSuccess(ctx context.Context)
}

// keyPrefix namespaces durable breaker state in the cache.
const keyPrefix = "circuit"

// Durable opens on the first failure and stays open for a fixed duration.
// The open-until time is kept in the durable cache as unix seconds so it
// survives restarts.
type Durable struct {
	store        cache.Store
	name         string
	openDuration time.Duration
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewDurable creates a durable breaker stored under "circuit:{name}".
func NewDurable(store cache.Store, name string, openDuration time.Duration, m *metrics.Metrics) *Durable {
	return &Durable{store: store, name: name, openDuration: openDuration, metrics: m, now: time.Now}
}

func (d *Durable) key() string {
	return cache.Key(keyPrefix, d.name)
}

func (d *Durable) IsOpen(ctx context.Context) bool {
	raw, ok, err := d.store.Get(ctx, d.key())
	if err != nil {
		slog.Warn("circuit state unreadable, treating as closed", "circuit", d.name, "err", err)
		return false
	}
	if !ok {
		return false
	}
	until, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		slog.Warn("corrupt circuit state, treating as closed", "circuit", d.name, "value", string(raw))
		return false
	}
	return d.now().Unix() < until
}

func (d *Durable) RecordFailure(ctx context.Context) {
	until := d.now().Add(d.openDuration).Unix()
	if err := d.store.Set(ctx, d.key(), []byte(strconv.FormatInt(until, 10)), d.openDuration); err != nil {
		slog.Warn("could not persist open circuit", "circuit", d.name, "err", err)
		return
	}
	d.metrics.BreakerTrip(d.name)
	slog.Warn("circuit opened", "circuit", d.name, "until", time.Unix(until, 0).UTC())
}

func (d *Durable) RecordSuccess(ctx context.Context) {
	if err := d.store.Delete(ctx, d.key()); err != nil {
		slog.Warn("could not clear circuit", "circuit", d.name, "err", err)
	}
}

// Memory opens after threshold consecutive failures that all fall within
// window, and closes again window after opening or on any success.
type Memory struct {
	name      string
	threshold int
	window    time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time

	mu           sync.Mutex
	failures     int
	firstFailure time.Time
	openedAt     time.Time
}

// NewMemory creates a process-local breaker.
func NewMemory(name string, threshold int, window time.Duration, m *metrics.Metrics) *Memory {
	return &Memory{name: name, threshold: threshold, window: window, metrics: m, now: time.Now}
}

func (b *Memory) IsOpen(context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openedAt.IsZero() {
		return false
	}
	if b.now().Sub(b.openedAt) >= b.window {
		b.reset()
		return false
	}
	return true
}

func (b *Memory) RecordFailure(context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if b.failures == 0 || now.Sub(b.firstFailure) > b.window {
		b.failures = 0
		b.firstFailure = now
	}
	b.failures++
	if b.failures >= b.threshold && b.openedAt.IsZero() {
		b.openedAt = now
		b.metrics.BreakerTrip(b.name)
		slog.Warn("circuit opened", "circuit", b.name, "failures", b.failures)
	}
}

func (b *Memory) RecordSuccess(context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *Memory) reset() {
	b.failures = 0
	b.firstFailure = time.Time{}
	b.openedAt = time.Time{}
}
