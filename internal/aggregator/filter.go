// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package aggregator

import (
	"github.com/bonial-oss/vuln-risk/internal/types"
)

// Filter drops vulnerabilities from an aggregation. The zero value keeps
// everything. Suppressed vulnerabilities are never filtered for being
// suppressed.
type Filter struct {
	EPSSThreshold float64
	KEVOnly       bool
	MinSeverity   string
}

// Match reports whether v passes the filter.
func (f Filter) Match(v *types.EnrichedVulnerability) bool {
	if f.EPSSThreshold > 0 {
		if v.VulnPrio.EPSS == nil || v.VulnPrio.EPSS.Score == nil || *v.VulnPrio.EPSS.Score < f.EPSSThreshold {
			return false
		}
	}
	if f.KEVOnly && !v.InKEV() {
		return false
	}
	if f.MinSeverity != "" && types.SeverityRank(v.Severity) < types.SeverityRank(f.MinSeverity) {
		return false
	}
	return true
}

// Policy flags responses that should fail a pipeline. It flags, it does not
// remove.
type Policy struct {
	FailOnKEV           bool
	FailOnEPSSThreshold float64
}

// Violated reports whether any vulnerability in resp breaks the policy.
// Suppressed vulnerabilities never violate it.
func (p Policy) Violated(resp *types.AggregationResponse) bool {
	for _, team := range resp.Teams {
		for _, w := range team.Workloads {
			for i := range w.Vulnerabilities {
				v := &w.Vulnerabilities[i]
				if v.Suppressed {
					continue
				}
				if p.FailOnKEV && v.InKEV() {
					return true
				}
				if p.FailOnEPSSThreshold > 0 && v.VulnPrio.EPSS != nil &&
					v.VulnPrio.EPSS.Score != nil && *v.VulnPrio.EPSS.Score >= p.FailOnEPSSThreshold {
					return true
				}
			}
		}
	}
	return false
}
