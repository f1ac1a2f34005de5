// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package inventory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonial-oss/vuln-risk/internal/aggregator"
	"github.com/bonial-oss/vuln-risk/internal/types"
)

const inventoryYAML = `
teams:
  - name: payments
    members: [alice, bob]
    workloads:
      - name: api
        environment: prod-eu
        buildDate: 2026-05-01
        ingress: [EXTERNAL]
        report: reports/api.json
      - name: worker
        environment: staging
        ingress: [INTERNAL]
  - name: search
    members: [carol, alice]
    workloads:
      - name: indexer
        buildDate: "2026-01-02T03:04:05Z"
        report: reports/indexer.json
  - name: platform
    members: [dave]
`

const apiReport = `{
	"SchemaVersion": 2,
	"ArtifactName": "payments-api:1.4.2",
	"Results": [{
		"Target": "payments-api:1.4.2 (debian 12)",
		"Vulnerabilities": [
			{"VulnerabilityID": "CVE-2024-1234", "PkgName": "openssl", "InstalledVersion": "3.0.0", "FixedVersion": "3.0.13", "Severity": "CRITICAL"}
		],
		"ExperimentalModifiedFindings": [
			{"Type": "vulnerability", "Status": "ignored", "Source": ".trivyignore",
			 "Finding": {"VulnerabilityID": "CVE-2023-5678", "PkgName": "curl", "InstalledVersion": "7.88.0", "Severity": "HIGH"}}
		]
	}]
}`

const indexerReport = `{
	"SchemaVersion": 2,
	"ArtifactName": "indexer:2.0.0",
	"Results": [{
		"Target": "indexer:2.0.0",
		"Vulnerabilities": [
			{"VulnerabilityID": "CVE-2023-9999", "PkgName": "zlib", "InstalledVersion": "1.2.13", "Severity": "MEDIUM"}
		]
	}]
}`

func writeInventory(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "reports"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reports", "api.json"), []byte(apiReport), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reports", "indexer.json"), []byte(indexerReport), 0o600))
	path := filepath.Join(dir, "inventory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(inventoryYAML), 0o600))
	return path
}

func keys(ws []types.Workload) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Key())
	}
	return out
}

func TestLoad(t *testing.T) {
	inv, err := Load(writeInventory(t))
	require.NoError(t, err)
	require.Len(t, inv.Teams, 3)
	assert.Equal(t, "payments", inv.Teams[0].Name)
	assert.Equal(t, []string{"alice", "bob"}, inv.Teams[0].Members)
	assert.Equal(t, "2026-05-01", inv.Teams[0].Workloads[0].BuildDate)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "teams: [", "decoding inventory"},
		{"missing team name", "teams:\n  - members: [a]\n", "invalid inventory"},
		{"missing workload name", "teams:\n  - name: t\n    workloads:\n      - environment: prod\n", "invalid inventory"},
		{"bad ingress", "teams:\n  - name: t\n    workloads:\n      - name: w\n        ingress: [PUBLIC]\n", "invalid inventory"},
		{"bad build date", "teams:\n  - name: t\n    workloads:\n      - name: w\n        buildDate: yesterday\n", "buildDate"},
		{"duplicate team", "teams:\n  - name: t\n  - name: t\n", "duplicate team"},
		{"duplicate workload", "teams:\n  - name: t\n    workloads:\n      - name: w\n      - name: w\n", "duplicate workload"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestTeamsOf(t *testing.T) {
	inv, err := Load(writeInventory(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"payments", "search"}, inv.TeamsOf("alice"))
	assert.Equal(t, []string{"platform"}, inv.TeamsOf("dave"))
	assert.Empty(t, inv.TeamsOf("mallory"))
}

func TestWorkloads(t *testing.T) {
	inv, err := Load(writeInventory(t))
	require.NoError(t, err)

	ws, err := inv.Workloads(context.Background(), aggregator.Scope{})
	require.NoError(t, err)
	require.Equal(t, []string{"payments/api", "payments/worker", "search/indexer"}, keys(ws))

	api := ws[0]
	assert.Equal(t, "prod-eu", api.Environment)
	require.NotNil(t, api.BuildDate)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), *api.BuildDate)
	assert.Equal(t, []string{"EXTERNAL"}, api.IngressTypes)
	require.Len(t, api.Records, 2)
	assert.Equal(t, "CVE-2024-1234", api.Records[0].ID)
	assert.True(t, api.Records[0].PatchAvailable())
	assert.False(t, api.Records[0].Suppressed)
	assert.Equal(t, "CVE-2023-5678", api.Records[1].ID)
	assert.True(t, api.Records[1].Suppressed)

	worker := ws[1]
	assert.Nil(t, worker.BuildDate)
	assert.Empty(t, worker.Records)

	indexer := ws[2]
	require.NotNil(t, indexer.BuildDate)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), *indexer.BuildDate)
	require.Len(t, indexer.Records, 1)
}

func TestWorkloads_Scope(t *testing.T) {
	inv, err := Load(writeInventory(t))
	require.NoError(t, err)

	tests := []struct {
		name  string
		scope aggregator.Scope
		want  []string
	}{
		{"all", aggregator.Scope{}, []string{"payments/api", "payments/worker", "search/indexer"}},
		{"user in two teams", aggregator.Scope{User: "alice"}, []string{"payments/api", "payments/worker", "search/indexer"}},
		{"user in one team", aggregator.Scope{User: "carol"}, []string{"search/indexer"}},
		{"user narrowed to team", aggregator.Scope{User: "alice", Teams: []string{"search"}}, []string{"search/indexer"}},
		{"team not of user", aggregator.Scope{User: "carol", Teams: []string{"payments"}}, []string{}},
		{"team only", aggregator.Scope{Teams: []string{"payments"}}, []string{"payments/api", "payments/worker"}},
		{"unknown user", aggregator.Scope{User: "mallory"}, []string{}},
		{"team without workloads", aggregator.Scope{User: "dave"}, []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ws, err := inv.Workloads(context.Background(), tc.scope)
			require.NoError(t, err)
			assert.Equal(t, tc.want, keys(ws))
		})
	}
}

func TestWorkloads_UnreadableReport(t *testing.T) {
	path := writeInventory(t)
	require.NoError(t, os.Remove(filepath.Join(filepath.Dir(path), "reports", "indexer.json")))
	inv, err := Load(path)
	require.NoError(t, err)

	_, err = inv.Workloads(context.Background(), aggregator.Scope{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search/indexer")

	// Out of scope reports are not read.
	ws, err := inv.Workloads(context.Background(), aggregator.Scope{Teams: []string{"payments"}})
	require.NoError(t, err)
	assert.Len(t, ws, 2)
}

func TestExposure(t *testing.T) {
	inv, err := Load(writeInventory(t))
	require.NoError(t, err)

	exp, err := inv.Exposure(context.Background(), aggregator.Scope{User: "bob"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"payments/api":    {"EXTERNAL"},
		"payments/worker": {"INTERNAL"},
	}, exp)

	exp, err = inv.Exposure(context.Background(), aggregator.Scope{Teams: []string{"search"}})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"search/indexer": {}}, exp)
}

func TestStatic(t *testing.T) {
	s := Static{{Team: "stdin", Name: "image:1", Records: []types.VulnerabilityRecord{{ID: "CVE-2024-1234"}}}}

	ws, err := s.Workloads(context.Background(), aggregator.Scope{User: "ignored"})
	require.NoError(t, err)
	assert.Len(t, ws, 1)

	exp, err := s.Exposure(context.Background(), aggregator.Scope{})
	require.NoError(t, err)
	assert.Empty(t, exp)
}
