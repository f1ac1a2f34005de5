// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"encoding/json"
	"strings"
)

// Report is a minimal representation of Trivy's JSON report output, which is
// the scanner feed format for workload vulnerability records.
type Report struct {
	SchemaVersion int             `json:"SchemaVersion"`
	ArtifactName  string          `json:"ArtifactName"`
	ArtifactType  string          `json:"ArtifactType"`
	Metadata      json.RawMessage `json:"Metadata,omitempty"`
	Results       []Result        `json:"Results"`
}

// Result represents a single Trivy scan result for a target.
type Result struct {
	Target          string          `json:"Target"`
	Class           string          `json:"Class,omitempty"`
	Type            string          `json:"Type,omitempty"`
	Vulnerabilities []Vulnerability `json:"Vulnerabilities,omitempty"`
	// ExperimentalModifiedFindings holds findings suppressed by
	// .trivyignore or VEX statements.
	ExperimentalModifiedFindings []ModifiedFinding `json:"ExperimentalModifiedFindings,omitempty"`
}

// ModifiedFinding is a finding whose status was changed by a suppression
// source.
type ModifiedFinding struct {
	Type      string        `json:"Type"`
	Status    string        `json:"Status"`
	Statement string        `json:"Statement,omitempty"`
	Source    string        `json:"Source,omitempty"`
	Finding   Vulnerability `json:"Finding"`
}

// Vulnerability represents a single vulnerability finding. Fields the tool
// inspects are typed; all other JSON fields are captured in Extras.
type Vulnerability struct {
	VulnerabilityID  string          `json:"VulnerabilityID"`
	PkgName          string          `json:"PkgName"`
	InstalledVersion string          `json:"InstalledVersion"`
	FixedVersion     string          `json:"FixedVersion,omitempty"`
	Severity         string          `json:"Severity"`
	CVSS             json.RawMessage `json:"CVSS,omitempty"`
	// Extras holds all other JSON fields.
	Extras map[string]json.RawMessage `json:"-"`
}

// vulnKnownFields lists the JSON keys that correspond to typed fields on
// Vulnerability. Everything else goes into Extras.
var vulnKnownFields = map[string]bool{
	"VulnerabilityID":  true,
	"PkgName":          true,
	"InstalledVersion": true,
	"FixedVersion":     true,
	"Severity":         true,
	"CVSS":             true,
}

// UnmarshalJSON decodes a Vulnerability from JSON, extracting known fields
// into their typed counterparts and capturing everything else in Extras.
func (v *Vulnerability) UnmarshalJSON(data []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	get := func(key string, dst any) error {
		raw, ok := all[key]
		if !ok {
			return nil
		}
		return json.Unmarshal(raw, dst)
	}

	for key, dst := range map[string]*string{
		"VulnerabilityID":  &v.VulnerabilityID,
		"PkgName":          &v.PkgName,
		"InstalledVersion": &v.InstalledVersion,
		"FixedVersion":     &v.FixedVersion,
		"Severity":         &v.Severity,
	} {
		if err := get(key, dst); err != nil {
			return err
		}
	}

	if raw, ok := all["CVSS"]; ok {
		v.CVSS = raw
	}

	extras := make(map[string]json.RawMessage)
	for k, val := range all {
		if !vulnKnownFields[k] {
			extras[k] = val
		}
	}
	if len(extras) > 0 {
		v.Extras = extras
	}

	return nil
}

// ExtraString extracts a string value from the Extras map.
func (v *Vulnerability) ExtraString(key string) string {
	raw, ok := v.Extras[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// References returns the reference URLs Trivy attached to the finding.
func (v *Vulnerability) References() []string {
	raw, ok := v.Extras["References"]
	if !ok {
		return nil
	}
	var refs []string
	if err := json.Unmarshal(raw, &refs); err != nil {
		return nil
	}
	return refs
}

// HasExploitReference reports whether any reference points at a public
// exploit (Exploit-DB, packetstorm or a URL mentioning "exploit").
func (v *Vulnerability) HasExploitReference() bool {
	for _, ref := range v.References() {
		ref = strings.ToLower(ref)
		if strings.Contains(ref, "exploit") || strings.Contains(ref, "packetstormsecurity") {
			return true
		}
	}
	return false
}
