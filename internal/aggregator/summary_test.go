// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package aggregator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonial-oss/vuln-risk/internal/types"
)

type countingSource struct {
	fakeSource
	calls int
}

func (c *countingSource) Workloads(ctx context.Context, scope Scope) ([]types.Workload, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.fakeSource.Workloads(ctx, scope)
}

func TestSummarize(t *testing.T) {
	records := append(testRecords(), types.VulnerabilityRecord{ID: "CVE-2022-0001", Severity: "LOW", Suppressed: true})
	src := &fakeSource{workloads: []types.Workload{
		{Team: "payments", Name: "api", IngressTypes: []string{"EXTERNAL"}, Records: records},
		{Team: "search", Name: "indexer", Records: testRecords()[:1]},
	}}
	resp, err := newTestAggregator(src, testKEV(), testEPSS()).Aggregate(context.Background(), Scope{}, Filter{})
	require.NoError(t, err)

	s := Summarize(resp)
	assert.Equal(t, fixedNow, s.GeneratedAt)
	assert.Equal(t, "2026.10.15", s.KEVCatalogVersion)
	assert.Equal(t, 2, s.Teams)
	assert.Equal(t, 2, s.Workloads)
	assert.Equal(t, 5, s.Vulnerabilities)
	assert.Equal(t, map[string]int{"CRITICAL": 2, "HIGH": 1, "MEDIUM": 1, "LOW": 1}, s.BySeverity)
	assert.Equal(t, 2, s.KEVListed)
	assert.Equal(t, 3, s.HighEPSS)
	assert.Equal(t, 1, s.Suppressed)

	require.Len(t, s.TopRisks, 4)
	assert.Equal(t, RiskEntry{Team: "payments", Workload: "api", ID: "CVE-2024-1234", Severity: "CRITICAL", Score: s.TopRisks[0].Score}, s.TopRisks[0])
	for i := 1; i < len(s.TopRisks); i++ {
		assert.GreaterOrEqual(t, s.TopRisks[i-1].Score, s.TopRisks[i].Score)
	}
	for _, r := range s.TopRisks {
		assert.NotEqual(t, "CVE-2022-0001", r.ID)
	}
}

func TestSummarize_TopRisksCapped(t *testing.T) {
	var records []types.VulnerabilityRecord
	for i := range 15 {
		records = append(records, types.VulnerabilityRecord{ID: fmt.Sprintf("CVE-2024-%04d", 1000+i), Severity: "HIGH"})
	}
	src := &fakeSource{workloads: []types.Workload{{Team: "t", Name: "w", Records: records}}}
	resp, err := newTestAggregator(src, testKEV(), testEPSS()).Aggregate(context.Background(), Scope{}, Filter{})
	require.NoError(t, err)

	s := Summarize(resp)
	assert.Equal(t, 15, s.Vulnerabilities)
	assert.Len(t, s.TopRisks, 10)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(&types.AggregationResponse{Teams: []types.TeamVulnerabilities{}})
	assert.Zero(t, s.Vulnerabilities)
	assert.NotNil(t, s.TopRisks)
	assert.NotNil(t, s.BySeverity)
}

func TestSummaryCache_RecomputesAfterTTL(t *testing.T) {
	src := &countingSource{fakeSource: fakeSource{workloads: []types.Workload{{Team: "t", Name: "w", Records: testRecords()}}}}
	cache := NewSummaryCache(newTestAggregator(src, testKEV(), testEPSS()), 5*time.Minute)
	now := fixedNow
	cache.now = func() time.Time { return now }

	s, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Vulnerabilities)
	assert.Equal(t, 1, src.calls)

	now = now.Add(4 * time.Minute)
	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	now = now.Add(2 * time.Minute)
	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)

	cache.Invalidate()
	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
}

func TestSummaryCache_SingleRecomputeUnderConcurrency(t *testing.T) {
	src := &countingSource{fakeSource: fakeSource{workloads: []types.Workload{{Team: "t", Name: "w", Records: testRecords()}}}}
	cache := NewSummaryCache(newTestAggregator(src, testKEV(), testEPSS()), time.Hour)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, src.calls)
}

func TestSummaryCache_ErrorNotCached(t *testing.T) {
	src := &countingSource{fakeSource: fakeSource{err: fmt.Errorf("down")}}
	cache := NewSummaryCache(newTestAggregator(src, testKEV(), testEPSS()), time.Hour)

	_, err := cache.Get(context.Background())
	require.Error(t, err)

	src.mu.Lock()
	src.err = nil
	src.workloads = []types.Workload{{Team: "t", Name: "w", Records: testRecords()}}
	src.mu.Unlock()

	s, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Vulnerabilities)
	assert.Equal(t, 2, src.calls)
}
