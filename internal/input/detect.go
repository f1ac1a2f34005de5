// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package input turns scanner reports into vulnerability records.
package input

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bonial-oss/vuln-risk/internal/types"
)

// ErrSARIF is returned for SARIF input, which carries no package or fix
// data to score.
var ErrSARIF = errors.New("SARIF input is not supported, run trivy with --format json")

// maxReportSize bounds a single report read from disk or stdin.
const maxReportSize = 512 << 20

// Parse decodes a Trivy JSON report.
func Parse(data []byte) (*types.Report, error) {
	// Probe the JSON to detect format
	var probe struct {
		Schema        string          `json:"$schema"`
		Version       string          `json:"version"`
		Runs          json.RawMessage `json:"runs"`
		SchemaVersion *int            `json:"SchemaVersion"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid JSON input: %w", err)
	}

	if probe.Runs != nil && (probe.Version == "2.1.0" || strings.Contains(probe.Schema, "sarif")) {
		return nil, ErrSARIF
	}

	if probe.SchemaVersion == nil {
		return nil, fmt.Errorf("unrecognized input format: not a Trivy JSON report")
	}

	var report types.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parsing Trivy JSON: %w", err)
	}
	return &report, nil
}

// Read parses a report from r.
func Read(r io.Reader) (*types.Report, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxReportSize))
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	return Parse(data)
}

// ReadFile parses the report at path.
func ReadFile(path string) (*types.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening report: %w", err)
	}
	defer f.Close()

	report, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return report, nil
}

// Records flattens a report into one record per finding. Findings listed
// under ExperimentalModifiedFindings (.trivyignore, VEX) are kept and
// marked suppressed.
func Records(report *types.Report) []types.VulnerabilityRecord {
	var out []types.VulnerabilityRecord
	for _, res := range report.Results {
		for i := range res.Vulnerabilities {
			out = append(out, record(&res.Vulnerabilities[i], false))
		}
		for i := range res.ExperimentalModifiedFindings {
			mf := &res.ExperimentalModifiedFindings[i]
			if mf.Finding.VulnerabilityID == "" {
				continue
			}
			out = append(out, record(&mf.Finding, true))
		}
	}
	return out
}

func record(v *types.Vulnerability, suppressed bool) types.VulnerabilityRecord {
	return types.VulnerabilityRecord{
		ID:                  v.VulnerabilityID,
		Severity:            strings.ToUpper(v.Severity),
		Suppressed:          suppressed,
		PkgName:             v.PkgName,
		InstalledVersion:    v.InstalledVersion,
		FixedVersion:        v.FixedVersion,
		Title:               v.ExtraString("Title"),
		PrimaryURL:          v.ExtraString("PrimaryURL"),
		HasExploitReference: v.HasExploitReference(),
	}
}
