// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonial-oss/vuln-risk/internal/risk"
	"github.com/bonial-oss/vuln-risk/internal/types"
)

const trivyReport = `{
	"SchemaVersion": 2,
	"ArtifactName": "myimage:latest",
	"Results": [
		{
			"Target": "myimage:latest (alpine 3.18)",
			"Vulnerabilities": [
				{"VulnerabilityID": "CVE-2023-0001", "PkgName": "openssl", "InstalledVersion": "3.0.0", "Severity": "HIGH"},
				{"VulnerabilityID": "CVE-2023-0002", "PkgName": "zlib", "InstalledVersion": "1.2.13", "Severity": "LOW"}
			]
		}
	]
}`

// execute runs the root command against the in-process memory driver.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("VULNRISK_DATABASE_DRIVER", "memory")

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// fakeUpstreams serves a one-entry KEV feed and EPSS scores, and points
// the config at them.
func fakeUpstreams(t *testing.T) {
	t.Helper()
	kevSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"title":"test","catalogVersion":"2026.10.15","dateReleased":"2026-10-15","count":1,
			"vulnerabilities":[{"cveID":"CVE-2023-0001","vendorProject":"OpenSSL","product":"OpenSSL"}]}`)
	}))
	t.Cleanup(kevSrv.Close)
	epssSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status":"OK","total":1,
			"data":[{"cve":"CVE-2023-0001","epss":"0.970000000","percentile":"0.999000000","date":"2026-10-15"}]}`)
	}))
	t.Cleanup(epssSrv.Close)

	t.Setenv("VULNRISK_KEV_PRIMARYURL", kevSrv.URL)
	t.Setenv("VULNRISK_EPSS_BASEURL", epssSrv.URL)
}

func decode(t *testing.T, out string) types.AggregationResponse {
	t.Helper()
	var resp types.AggregationResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	return resp
}

func TestEnrich_Offline(t *testing.T) {
	out, err := execute(t, trivyReport, "enrich", "--no-kev", "--no-epss", "--ingress", "EXTERNAL")
	require.NoError(t, err)

	resp := decode(t, out)
	require.Len(t, resp.Teams, 1)
	assert.Equal(t, "default", resp.Teams[0].Team)
	wl := resp.Teams[0].Workloads[0]
	assert.Equal(t, "myimage:latest", wl.Workload)
	require.Len(t, wl.Vulnerabilities, 2)
	for _, v := range wl.Vulnerabilities {
		assert.Nil(t, v.VulnPrio.KEV)
		assert.Nil(t, v.VulnPrio.EPSS)
		require.NotNil(t, v.VulnPrio.Risk)
	}
	assert.Equal(t, "CVE-2023-0001", wl.Vulnerabilities[0].ID)
	assert.InDelta(t, 140.0, wl.Vulnerabilities[0].VulnPrio.Risk.Score, 1e-9)
}

func TestEnrich_WithUpstreams(t *testing.T) {
	fakeUpstreams(t)
	out, err := execute(t, trivyReport, "enrich", "--workload", "api", "--team", "payments")
	require.NoError(t, err)

	resp := decode(t, out)
	assert.Equal(t, "2026.10.15", resp.KEVCatalogVersion)
	v := resp.Teams[0].Workloads[0].Vulnerabilities[0]
	assert.Equal(t, "CVE-2023-0001", v.ID)
	require.NotNil(t, v.VulnPrio.KEV)
	assert.True(t, v.VulnPrio.KEV.Listed)
	require.NotNil(t, v.VulnPrio.EPSS)
	require.NotNil(t, v.VulnPrio.EPSS.Score)
	assert.InDelta(t, 0.97, *v.VulnPrio.EPSS.Score, 1e-9)
}

func TestEnrich_PolicyViolation(t *testing.T) {
	fakeUpstreams(t)
	_, err := execute(t, trivyReport, "enrich", "--fail-on-kev")

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.Code)
}

func TestEnrich_InputErrors(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
		code  int
	}{
		{name: "empty stdin", stdin: "", code: 2},
		{name: "sarif", stdin: `{"version":"2.1.0","$schema":"https://json.schemastore.org/sarif-2.1.0.json","runs":[]}`, code: 3},
		{name: "bad format", stdin: trivyReport, args: []string{"--format", "sarif"}, code: 2},
		{name: "bad threshold", stdin: trivyReport, args: []string{"--epss-threshold", "2"}, code: 2},
		{name: "bad severity", stdin: trivyReport, args: []string{"--min-severity", "SEVERE"}, code: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"enrich", "--no-kev", "--no-epss"}, tt.args...)
			_, err := execute(t, tt.stdin, args...)

			var exitErr *ExitError
			require.True(t, errors.As(err, &exitErr), "got %v", err)
			assert.Equal(t, tt.code, exitErr.Code)
		})
	}
}

func TestEnrich_TableOutputToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	_, err := execute(t, trivyReport, "enrich", "--no-kev", "--no-epss", "--format", "table", "-o", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "default/myimage:latest")
	assert.Contains(t, string(data), "CVE-2023-0001")
}

func TestReport_Inventory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "api.json"), []byte(trivyReport), 0o644))
	inv := `teams:
  - name: payments
    members: [alice]
    workloads:
      - name: api
        environment: prod-eu
        ingress: [EXTERNAL]
        report: api.json
  - name: search
    members: [bob]
    workloads:
      - name: indexer
        ingress: [INTERNAL]
        report: api.json
`
	invPath := filepath.Join(dir, "inventory.yaml")
	require.NoError(t, os.WriteFile(invPath, []byte(inv), 0o644))

	fakeUpstreams(t)
	// execute changes into a fresh directory, so the inventory path is absolute.
	out, err := execute(t, "", "report", "--inventory", invPath, "--user", "alice", "--min-severity", "high")
	require.NoError(t, err)

	resp := decode(t, out)
	require.Len(t, resp.Teams, 1)
	assert.Equal(t, "payments", resp.Teams[0].Team)
	vulns := resp.Teams[0].Workloads[0].Vulnerabilities
	require.Len(t, vulns, 1)
	assert.Equal(t, "CVE-2023-0001", vulns[0].ID)
}

func TestReport_RequiresInventory(t *testing.T) {
	_, err := execute(t, "", "report", "--skip-db-update")

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.Code)
}

func TestScore(t *testing.T) {
	out, err := execute(t, "", "score", "--severity", "CRITICAL", "--ingress", "EXTERNAL", "--kev", "--epss", "0.97", "--format", "json")
	require.NoError(t, err)

	var result risk.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.InDelta(t, 600.0, result.Score, 1e-9)
	require.NotNil(t, result.Breakdown)
	assert.InDelta(t, 100.0, result.Breakdown.BaseScore, 1e-9)

	out, err = execute(t, "", "score", "--severity", "LOW")
	require.NoError(t, err)
	assert.Contains(t, out, "severity")
	assert.Contains(t, out, "Risk score: 10.0")
}

func TestScore_RequiresSeverity(t *testing.T) {
	_, err := execute(t, "", "score")
	require.Error(t, err)
}

func TestEPSSImport_File(t *testing.T) {
	csv := "#model_version:v2025.03.14,score_date:2026-10-15T00:00:00+0000\n" +
		"cve,epss,percentile\n" +
		"CVE-2023-0001,0.97000,0.99900\n" +
		"CVE-2023-0002,0.00100,0.10000\n"
	path := filepath.Join(t.TempDir(), "epss.csv")
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	out, err := execute(t, "", "epss", "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 EPSS scores")
}

func TestCache_ClearAndPurge(t *testing.T) {
	out, err := execute(t, "", "cache", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "epss_batch: 0 entries removed")
	assert.Contains(t, out, "epss: 0 entries removed")

	out, err = execute(t, "", "cache", "clear", "--prefix", "circuit")
	require.NoError(t, err)
	assert.Equal(t, "circuit: 0 entries removed\n", out)

	out, err = execute(t, "", "cache", "purge")
	require.NoError(t, err)
	assert.Equal(t, "0 expired entries removed\n", out)
}

func TestRoot_InvalidConfig(t *testing.T) {
	_, err := execute(t, "", "--log-level", "loud", "score", "--severity", "LOW")

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.Code)
}
