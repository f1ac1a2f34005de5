// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVulnerability_Unmarshal_CapturesExtras(t *testing.T) {
	input := `{
		"VulnerabilityID": "CVE-2023-1234",
		"PkgName": "libfoo",
		"InstalledVersion": "1.0.0",
		"FixedVersion": "1.1.0",
		"Severity": "HIGH",
		"CVSS": {"nvd": {"V3Score": 7.5}},
		"Title": "Buffer overflow in libfoo",
		"References": ["https://cve.example.com/CVE-2023-1234"],
		"PrimaryURL": "https://avd.aquasec.com/nvd/cve-2023-1234",
		"Status": "fixed"
	}`

	var v Vulnerability
	require.NoError(t, json.Unmarshal([]byte(input), &v))

	assert.Equal(t, "CVE-2023-1234", v.VulnerabilityID)
	assert.Equal(t, "libfoo", v.PkgName)
	assert.Equal(t, "1.0.0", v.InstalledVersion)
	assert.Equal(t, "1.1.0", v.FixedVersion)
	assert.Equal(t, "HIGH", v.Severity)
	assert.NotNil(t, v.CVSS)

	for _, key := range []string{"Title", "References", "PrimaryURL", "Status"} {
		assert.Contains(t, v.Extras, key)
	}
	assert.NotContains(t, v.Extras, "Severity")

	assert.Equal(t, "Buffer overflow in libfoo", v.ExtraString("Title"))
	assert.Equal(t, "fixed", v.ExtraString("Status"))
	assert.Empty(t, v.ExtraString("Missing"))
	assert.Equal(t, []string{"https://cve.example.com/CVE-2023-1234"}, v.References())
}

func TestVulnerability_UnmarshalJSON_EmptyExtras(t *testing.T) {
	input := `{
		"VulnerabilityID": "CVE-2023-0001",
		"PkgName": "pkg",
		"InstalledVersion": "1.0",
		"Severity": "LOW"
	}`

	var v Vulnerability
	require.NoError(t, json.Unmarshal([]byte(input), &v))

	assert.Nil(t, v.Extras)
	assert.Nil(t, v.References())
	assert.False(t, v.HasExploitReference())
}

func TestVulnerability_HasExploitReference(t *testing.T) {
	tests := []struct {
		name string
		refs string
		want bool
	}{
		{"exploit-db", `["https://www.exploit-db.com/exploits/12345"]`, true},
		{"packetstorm", `["https://packetstormsecurity.com/files/1/x.html"]`, true},
		{"advisory only", `["https://nvd.nist.gov/vuln/detail/CVE-2023-1"]`, false},
		{"malformed", `"not-a-list"`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Vulnerability{Extras: map[string]json.RawMessage{"References": json.RawMessage(tt.refs)}}
			assert.Equal(t, tt.want, v.HasExploitReference())
		})
	}
}

func TestReport_Unmarshal_WithModifiedFindings(t *testing.T) {
	input := `{
		"SchemaVersion": 2,
		"ArtifactName": "myimage:latest",
		"ArtifactType": "container_image",
		"Results": [
			{
				"Target": "myimage:latest (alpine 3.18)",
				"Class": "os-pkgs",
				"Type": "alpine",
				"Vulnerabilities": [
					{"VulnerabilityID": "CVE-2023-0001", "PkgName": "openssl", "InstalledVersion": "3.0.0", "Severity": "HIGH"}
				],
				"ExperimentalModifiedFindings": [
					{
						"Type": "vulnerability",
						"Status": "not_affected",
						"Statement": "vulnerable code not in execute path",
						"Source": "VEX",
						"Finding": {"VulnerabilityID": "CVE-2023-0002", "PkgName": "zlib", "InstalledVersion": "1.2", "Severity": "CRITICAL"}
					}
				]
			}
		]
	}`

	var r Report
	require.NoError(t, json.Unmarshal([]byte(input), &r))

	require.Len(t, r.Results, 1)
	res := r.Results[0]
	require.Len(t, res.Vulnerabilities, 1)
	require.Len(t, res.ExperimentalModifiedFindings, 1)

	mf := res.ExperimentalModifiedFindings[0]
	assert.Equal(t, "vulnerability", mf.Type)
	assert.Equal(t, "VEX", mf.Source)
	assert.Equal(t, "CVE-2023-0002", mf.Finding.VulnerabilityID)
	assert.Equal(t, "CRITICAL", mf.Finding.Severity)
}
