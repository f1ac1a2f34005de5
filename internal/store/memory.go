// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/bonial-oss/vuln-risk/internal/types"
)

type epssRow struct {
	score     types.EPSSScore
	fetchedAt time.Time
}

// Memory is a process-local Repository. Nothing survives a restart.
type Memory struct {
	mu        sync.RWMutex
	catalog   *types.KEVCatalog
	fetchedAt time.Time
	epss      map[string]epssRow
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{epss: make(map[string]epssRow), now: time.Now}
}

func (m *Memory) SaveKEVCatalog(_ context.Context, catalog types.KEVCatalog, fetchedAt time.Time) error {
	c := catalog
	c.Vulnerabilities = slices.Clone(catalog.Vulnerabilities)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog = &c
	m.fetchedAt = fetchedAt
	return nil
}

func (m *Memory) LoadKEVCatalog(context.Context) (types.KEVCatalog, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.catalog == nil {
		return types.KEVCatalog{}, time.Time{}, ErrNotFound
	}
	c := *m.catalog
	c.Vulnerabilities = slices.Clone(m.catalog.Vulnerabilities)
	return c, m.fetchedAt, nil
}

func (m *Memory) UpsertEPSSScores(_ context.Context, scores []types.EPSSScore, fetchedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range scores {
		m.epss[s.CVE] = epssRow{score: s, fetchedAt: fetchedAt}
	}
	return nil
}

func (m *Memory) GetEPSSScores(_ context.Context, cves []string) (map[string]types.EPSSScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]types.EPSSScore, len(cves))
	for _, cve := range cves {
		if r, ok := m.epss[cve]; ok {
			out[cve] = r.score
		}
	}
	return out, nil
}

func (m *Memory) StaleEPSSCVEs(_ context.Context, cves []string, maxAgeHours int) ([]string, error) {
	m.mu.RLock()
	fetched := make(map[string]int64, len(cves))
	for _, cve := range cves {
		if r, ok := m.epss[cve]; ok {
			fetched[cve] = r.fetchedAt.Unix()
		}
	}
	m.mu.RUnlock()
	return staleSubset(cves, fetched, cutoff(m.now(), maxAgeHours)), nil
}

func (m *Memory) Close() error { return nil }
