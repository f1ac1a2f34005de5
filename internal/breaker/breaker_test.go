// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonial-oss/vuln-risk/internal/cache"
	"github.com/bonial-oss/vuln-risk/internal/metrics"
)

var t0 = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func TestMemory_OpensAfterThreshold(t *testing.T) {
	ctx := context.Background()
	now := t0
	b := NewMemory("kev", 3, 300*time.Second, nil)
	b.now = func() time.Time { return now }

	b.RecordFailure(ctx)
	b.RecordFailure(ctx)
	assert.False(t, b.IsOpen(ctx), "two failures stay below the threshold")

	b.RecordFailure(ctx)
	assert.True(t, b.IsOpen(ctx))

	b.RecordSuccess(ctx)
	assert.False(t, b.IsOpen(ctx), "one success closes immediately")
}

func TestMemory_FailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	ctx := context.Background()
	now := t0
	b := NewMemory("kev", 3, 300*time.Second, nil)
	b.now = func() time.Time { return now }

	b.RecordFailure(ctx)
	b.RecordFailure(ctx)
	now = now.Add(301 * time.Second)
	b.RecordFailure(ctx)
	assert.False(t, b.IsOpen(ctx))
}

func TestMemory_SuccessResetsCounter(t *testing.T) {
	ctx := context.Background()
	b := NewMemory("kev", 3, 300*time.Second, nil)
	b.now = func() time.Time { return t0 }

	b.RecordFailure(ctx)
	b.RecordFailure(ctx)
	b.RecordSuccess(ctx)
	b.RecordFailure(ctx)
	assert.False(t, b.IsOpen(ctx))
}

func TestMemory_ExpiryAutoCloses(t *testing.T) {
	ctx := context.Background()
	now := t0
	m := metrics.New()
	b := NewMemory("kev", 3, 300*time.Second, m)
	b.now = func() time.Time { return now }

	for range 3 {
		b.RecordFailure(ctx)
	}
	require.True(t, b.IsOpen(ctx))

	now = now.Add(299 * time.Second)
	assert.True(t, b.IsOpen(ctx))

	now = now.Add(time.Second)
	assert.False(t, b.IsOpen(ctx))
}

func newDurable(t *testing.T, now *time.Time) (*Durable, cache.Store) {
	t.Helper()
	s, err := cache.NewMemoryStore(10)
	require.NoError(t, err)
	d := NewDurable(s, "epss", 24*time.Hour, nil)
	d.now = func() time.Time { return *now }
	return d, s
}

func TestDurable_SingleFailureOpens(t *testing.T) {
	ctx := context.Background()
	now := t0
	d, s := newDurable(t, &now)

	assert.False(t, d.IsOpen(ctx))
	d.RecordFailure(ctx)
	assert.True(t, d.IsOpen(ctx))

	raw, ok, err := s.Get(ctx, "circuit:epss")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1792238400", string(raw), "open-until is stored as epoch seconds")

	now = t0.Add(23 * time.Hour)
	assert.True(t, d.IsOpen(ctx))
}

func TestDurable_ExpiresAfterOpenDuration(t *testing.T) {
	ctx := context.Background()
	now := t0
	d, _ := newDurable(t, &now)

	d.RecordFailure(ctx)
	now = t0.Add(24 * time.Hour)
	assert.False(t, d.IsOpen(ctx))
}

func TestDurable_SuccessCloses(t *testing.T) {
	ctx := context.Background()
	now := t0
	d, _ := newDurable(t, &now)

	d.RecordFailure(ctx)
	d.RecordSuccess(ctx)
	assert.False(t, d.IsOpen(ctx))
}

func TestDurable_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	now := t0
	d, s := newDurable(t, &now)
	d.RecordFailure(ctx)

	restarted := NewDurable(s, "epss", 24*time.Hour, nil)
	restarted.now = func() time.Time { return now }
	assert.True(t, restarted.IsOpen(ctx))
}

func TestDurable_CorruptStateIsClosed(t *testing.T) {
	ctx := context.Background()
	now := t0
	d, s := newDurable(t, &now)
	require.NoError(t, s.Set(ctx, "circuit:epss", []byte("garbage"), 0))
	assert.False(t, d.IsOpen(ctx))
}

type brokenStore struct{ cache.Store }

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("db down")
}

func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("db down")
}

func (brokenStore) Delete(context.Context, string) error { return errors.New("db down") }

func TestDurable_FailsOpen(t *testing.T) {
	ctx := context.Background()
	d := NewDurable(brokenStore{}, "epss", 24*time.Hour, nil)

	assert.NotPanics(t, func() {
		d.RecordFailure(ctx)
		d.RecordSuccess(ctx)
	})
	assert.False(t, d.IsOpen(ctx), "storage errors never block traffic")
}
