// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"time"

	"github.com/bonial-oss/vuln-risk/internal/risk"
)

// VulnPrio holds the enrichment data attached to each vulnerability.
type VulnPrio struct {
	Risk *risk.Result `json:"risk,omitempty"`
	EPSS *EPSSData    `json:"epss,omitempty"`
	KEV  *KEVData     `json:"kev,omitempty"`
}

// EPSSData holds the EPSS score and percentile for a CVE. Score and
// Percentile are nil when no score is known.
type EPSSData struct {
	Score      *float64 `json:"score"`
	Percentile *float64 `json:"percentile"`
	ScoreDate  string   `json:"scoreDate,omitempty"`
}

// KEVData holds the Known Exploited Vulnerability data for a CVE.
type KEVData struct {
	Listed                     bool   `json:"listed"`
	DateAdded                  string `json:"dateAdded,omitempty"`
	DueDate                    string `json:"dueDate,omitempty"`
	KnownRansomwareCampaignUse string `json:"knownRansomwareCampaignUse,omitempty"`
	VendorProject              string `json:"vendorProject,omitempty"`
	Product                    string `json:"product,omitempty"`
	RequiredAction             string `json:"requiredAction,omitempty"`
}

// EnrichedVulnerability is one vulnerability in the aggregation response.
type EnrichedVulnerability struct {
	VulnerabilityRecord
	ExposureTypes []string `json:"exposureTypes"`
	VulnPrio      VulnPrio `json:"vulnPrio"`
}

// RiskScore returns the computed score, or 0 when the vulnerability was not
// scored.
func (v *EnrichedVulnerability) RiskScore() float64 {
	if v.VulnPrio.Risk == nil {
		return 0
	}
	return v.VulnPrio.Risk.Score
}

// EPSSScore returns the EPSS probability, or 0 when unknown.
func (v *EnrichedVulnerability) EPSSScore() float64 {
	if v.VulnPrio.EPSS == nil || v.VulnPrio.EPSS.Score == nil {
		return 0
	}
	return *v.VulnPrio.EPSS.Score
}

// InKEV reports whether the vulnerability is listed in the KEV catalog.
func (v *EnrichedVulnerability) InKEV() bool {
	return v.VulnPrio.KEV != nil && v.VulnPrio.KEV.Listed
}

// WorkloadVulnerabilities groups the enriched findings of one workload.
type WorkloadVulnerabilities struct {
	Workload        string                  `json:"workload"`
	Environment     string                  `json:"environment,omitempty"`
	ExposureTypes   []string                `json:"exposureTypes"`
	Vulnerabilities []EnrichedVulnerability `json:"vulnerabilities"`
}

// TeamVulnerabilities groups workloads by owning team.
type TeamVulnerabilities struct {
	Team      string                    `json:"team"`
	Workloads []WorkloadVulnerabilities `json:"workloads"`
}

// AggregationResponse is the result of one aggregation call.
type AggregationResponse struct {
	GeneratedAt       time.Time             `json:"generatedAt"`
	KEVCatalogVersion string                `json:"kevCatalogVersion"`
	Teams             []TeamVulnerabilities `json:"teams"`
}

// VulnerabilityCount returns the number of vulnerabilities across all teams.
func (r *AggregationResponse) VulnerabilityCount() int {
	n := 0
	for _, t := range r.Teams {
		for _, w := range t.Workloads {
			n += len(w.Vulnerabilities)
		}
	}
	return n
}
