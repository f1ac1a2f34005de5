// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package aggregator

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bonial-oss/vuln-risk/internal/types"
)

// highEPSS is the probability from which a score counts as high in the
// summary.
const highEPSS = 0.1

// topRisks is the number of highest-scored vulnerabilities in a summary.
const topRisks = 10

// Summary condenses an aggregation across all teams.
type Summary struct {
	GeneratedAt       time.Time      `json:"generatedAt"`
	KEVCatalogVersion string         `json:"kevCatalogVersion"`
	Teams             int            `json:"teams"`
	Workloads         int            `json:"workloads"`
	Vulnerabilities   int            `json:"vulnerabilities"`
	BySeverity        map[string]int `json:"bySeverity"`
	KEVListed         int            `json:"kevListed"`
	HighEPSS          int            `json:"highEpss"`
	Suppressed        int            `json:"suppressed"`
	TopRisks          []RiskEntry    `json:"topRisks"`
}

// RiskEntry is one line of the top risk list.
type RiskEntry struct {
	Team     string  `json:"team"`
	Workload string  `json:"workload"`
	ID       string  `json:"id"`
	Severity string  `json:"severity"`
	Score    float64 `json:"score"`
}

// Summarize computes a Summary from resp.
func Summarize(resp *types.AggregationResponse) Summary {
	s := Summary{
		GeneratedAt:       resp.GeneratedAt,
		KEVCatalogVersion: resp.KEVCatalogVersion,
		Teams:             len(resp.Teams),
		BySeverity:        map[string]int{},
		TopRisks:          []RiskEntry{},
	}
	for _, team := range resp.Teams {
		s.Workloads += len(team.Workloads)
		for _, w := range team.Workloads {
			for i := range w.Vulnerabilities {
				v := &w.Vulnerabilities[i]
				s.Vulnerabilities++
				s.BySeverity[strings.ToUpper(v.Severity)]++
				if v.InKEV() {
					s.KEVListed++
				}
				if v.EPSSScore() >= highEPSS {
					s.HighEPSS++
				}
				if v.Suppressed {
					s.Suppressed++
					continue
				}
				s.TopRisks = append(s.TopRisks, RiskEntry{
					Team:     team.Team,
					Workload: w.Workload,
					ID:       v.ID,
					Severity: v.Severity,
					Score:    v.RiskScore(),
				})
			}
		}
	}
	slices.SortStableFunc(s.TopRisks, func(a, b RiskEntry) int { return cmp.Compare(b.Score, a.Score) })
	if len(s.TopRisks) > topRisks {
		s.TopRisks = s.TopRisks[:topRisks]
	}
	return s
}

// SummaryCache holds one Summary and recomputes it at most once per TTL.
// The lock is held during recomputation so concurrent callers wait for
// the single refresh instead of starting their own.
type SummaryCache struct {
	agg *Aggregator
	ttl time.Duration
	now func() time.Time

	mu         sync.Mutex
	value      *Summary
	computedAt time.Time
}

func NewSummaryCache(agg *Aggregator, ttl time.Duration) *SummaryCache {
	return &SummaryCache{agg: agg, ttl: ttl, now: time.Now}
}

// Get returns the cached summary, recomputing it when older than the TTL.
func (c *SummaryCache) Get(ctx context.Context) (Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.value != nil && c.now().Sub(c.computedAt) < c.ttl {
		return *c.value, nil
	}
	resp, err := c.agg.Aggregate(ctx, Scope{}, Filter{})
	if err != nil {
		return Summary{}, err
	}
	s := Summarize(resp)
	c.value = &s
	c.computedAt = c.now()
	return s, nil
}

// Invalidate drops the cached summary.
func (c *SummaryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = nil
}
