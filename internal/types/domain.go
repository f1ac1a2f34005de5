// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"strings"
	"time"
)

// VulnerabilityRecord is one finding on one workload as delivered by the
// scanner feed. It is consumed read-only.
type VulnerabilityRecord struct {
	ID                  string `json:"id"`
	Severity            string `json:"severity"`
	Suppressed          bool   `json:"suppressed"`
	PkgName             string `json:"pkgName,omitempty"`
	InstalledVersion    string `json:"installedVersion,omitempty"`
	FixedVersion        string `json:"fixedVersion,omitempty"`
	Title               string `json:"title,omitempty"`
	PrimaryURL          string `json:"primaryURL,omitempty"`
	HasExploitReference bool   `json:"hasExploitReference,omitempty"`
}

// PatchAvailable reports whether the scanner knows a fixed version.
func (r VulnerabilityRecord) PatchAvailable() bool {
	return r.FixedVersion != ""
}

// Workload is a deployable unit owned by a team together with its findings
// and exposure metadata.
type Workload struct {
	Team         string
	Name         string
	Environment  string
	BuildDate    *time.Time
	IngressTypes []string
	Records      []VulnerabilityRecord
}

// Key identifies a workload across teams.
func (w Workload) Key() string {
	return w.Team + "/" + w.Name
}

// Severity rank used for sorting and filtering; higher is more severe.
func SeverityRank(severity string) int {
	switch strings.ToUpper(severity) {
	case "CRITICAL":
		return 5
	case "HIGH":
		return 4
	case "MEDIUM":
		return 3
	case "LOW":
		return 2
	case "NEGLIGIBLE":
		return 1
	default:
		return 0
	}
}

// KEVCatalog is a point-in-time snapshot of the CISA KEV feed.
type KEVCatalog struct {
	Title           string             `json:"title"`
	CatalogVersion  string             `json:"catalogVersion"`
	DateReleased    string             `json:"dateReleased"`
	Count           int                `json:"count"`
	Vulnerabilities []KEVVulnerability `json:"vulnerabilities"`
}

// UnavailableCatalogVersion marks the sentinel catalog returned when no
// fresh or stored KEV data exists.
const UnavailableCatalogVersion = "unavailable"

// EmptyKEVCatalog returns the sentinel catalog.
func EmptyKEVCatalog() KEVCatalog {
	return KEVCatalog{CatalogVersion: UnavailableCatalogVersion, Vulnerabilities: []KEVVulnerability{}}
}

// Available reports whether the catalog holds real data.
func (c KEVCatalog) Available() bool {
	return c.CatalogVersion != UnavailableCatalogVersion
}

// Index maps CVE ids to catalog entries.
func (c KEVCatalog) Index() map[string]KEVVulnerability {
	idx := make(map[string]KEVVulnerability, len(c.Vulnerabilities))
	for _, v := range c.Vulnerabilities {
		idx[v.CVEID] = v
	}
	return idx
}

// KEVVulnerability is one entry in the KEV catalog.
type KEVVulnerability struct {
	CVEID                      string   `json:"cveID"`
	VendorProject              string   `json:"vendorProject"`
	Product                    string   `json:"product"`
	VulnerabilityName          string   `json:"vulnerabilityName"`
	DateAdded                  string   `json:"dateAdded"`
	ShortDescription           string   `json:"shortDescription"`
	RequiredAction             string   `json:"requiredAction"`
	DueDate                    string   `json:"dueDate"`
	KnownRansomwareCampaignUse string   `json:"knownRansomwareCampaignUse"`
	Notes                      string   `json:"notes"`
	CWEs                       []string `json:"cwes"`
}

// RansomwareUse reports whether the entry is tied to a known ransomware
// campaign.
func (v KEVVulnerability) RansomwareUse() bool {
	return strings.EqualFold(v.KnownRansomwareCampaignUse, "known")
}

// EPSSScore is the exploit probability estimate for one CVE.
type EPSSScore struct {
	CVE        string  `json:"cve"`
	EPSS       float64 `json:"epss"`
	Percentile float64 `json:"percentile"`
	Date       string  `json:"date"`
}
