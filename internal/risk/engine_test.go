// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonial-oss/vuln-risk/internal/config"
)

var fixedNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return NewEngine(config.Default().Risk, WithClock(func() time.Time { return fixedNow }))
}

// neutral returns a context whose factors are all 1.0.
func neutral(severity string) Context {
	return Context{Severity: severity, IngressTypes: []string{"INTERNAL"}}
}

func TestBaseScore(t *testing.T) {
	tests := []struct {
		severity string
		want     float64
	}{
		{"CRITICAL", 100},
		{"critical", 100},
		{"HIGH", 70},
		{"High", 70},
		{"MEDIUM", 50},
		{"LOW", 20},
		{"UNKNOWN", 10},
		{"NEGLIGIBLE", 10},
		{"", 10},
	}
	for _, tt := range tests {
		t.Run(tt.severity, func(t *testing.T) {
			assert.InDelta(t, tt.want, BaseScore(tt.severity), 1e-9)
		})
	}
}

func TestBaseScore_Monotonic(t *testing.T) {
	order := []string{"CRITICAL", "HIGH", "MEDIUM", "LOW", "whatever"}
	for i := 0; i < len(order); i++ {
		assert.Positive(t, BaseScore(order[i]))
		if i > 0 {
			assert.Greater(t, BaseScore(order[i-1]), BaseScore(order[i]), "%s must outrank %s", order[i-1], order[i])
		}
	}
}

func TestCalculateRiskScore_Neutral(t *testing.T) {
	got := newTestEngine().CalculateRiskScore(neutral("HIGH"))

	assert.InDelta(t, 70.0, got.Score, 1e-9)
	assert.Equal(t, map[string]float64{"severity": 70}, got.Multipliers)
	assert.Nil(t, got.Breakdown)
}

func TestCalculateRiskScore_IsBaseTimesProduct(t *testing.T) {
	built := fixedNow.AddDate(0, -6, 0)
	contexts := []Context{
		neutral("LOW"),
		{Severity: "CRITICAL", IngressTypes: []string{"EXTERNAL"}, InKEV: true, EPSSScore: "0.8", Environment: "prod-eu"},
		{Severity: "MEDIUM", Suppressed: true, PatchAvailable: true, BuildDate: &built},
		{Severity: "bogus", IngressTypes: []string{"AUTHENTICATED"}, HasExploitReference: true, EPSSScore: "nan?"},
	}

	e := newTestEngine()
	for _, c := range contexts {
		want := BaseScore(c.Severity)
		for _, f := range e.Factors(c) {
			want *= f.Value
		}
		assert.InDelta(t, want, e.CalculateRiskScore(c).Score, 1e-9)
	}
}

func TestCalculateRiskScore_Worst(t *testing.T) {
	c := Context{
		Severity:     "CRITICAL",
		IngressTypes: []string{"EXTERNAL"},
		InKEV:        true,
		EPSSScore:    "0.8",
		Environment:  "prod-eu",
	}
	got := newTestEngine().CalculateRiskScore(c)

	// 100 * 2.0 (external) * 2.0 (kev) * 1.5 (epss) * 1.1 (prod) = 660
	assert.InDelta(t, 660.0, got.Score, 1e-9)
	assert.InDelta(t, 100.0, got.Multipliers["severity"], 1e-9)
	assert.InDelta(t, 2.0, got.Multipliers["exposure"], 1e-9)
	assert.InDelta(t, 2.0, got.Multipliers["kev"], 1e-9)
	assert.InDelta(t, 1.5, got.Multipliers["epss"], 1e-9)
	assert.InDelta(t, 1.1, got.Multipliers["environment"], 1e-9)
	assert.InDelta(t, 1.1, got.Multipliers["production"], 1e-9)
	assert.NotContains(t, got.Multipliers, "suppression")
	assert.NotContains(t, got.Multipliers, "build_age")
}

func TestCalculateRiskScore_DerivedMultipliers(t *testing.T) {
	built := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := neutral("HIGH")
	c.Suppressed = true
	c.BuildDate = &built
	c.HasExploitReference = true
	c.PatchAvailable = true

	got := newTestEngine().CalculateRiskScore(c)

	assert.InDelta(t, 0.3, got.Multipliers["suppression"], 1e-9)
	assert.InDelta(t, 0.3, got.Multipliers["suppressed"], 1e-9)
	assert.InDelta(t, 1.1, got.Multipliers["build_age"], 1e-9)
	assert.InDelta(t, 288.0, got.Multipliers["old_build_days"], 1e-9)
	assert.InDelta(t, 1.3, got.Multipliers["exploit_reference"], 1e-9)
	assert.InDelta(t, 1.3, got.Multipliers["exploit_available"], 1e-9)
	assert.InDelta(t, 0.9, got.Multipliers["patch_available"], 1e-9)
}

func TestExposure_PriorityIgnoresOrder(t *testing.T) {
	permutations := [][]string{
		{"INTERNAL", "AUTHENTICATED", "EXTERNAL"},
		{"EXTERNAL", "INTERNAL", "AUTHENTICATED"},
		{"AUTHENTICATED", "EXTERNAL", "INTERNAL"},
		{"internal", "external", "authenticated"},
	}
	e := newTestEngine()
	for _, p := range permutations {
		assert.Equal(t, ExposureExternal, ResolveExposure(p), "%v", p)
		f := e.Factors(Context{Severity: "LOW", IngressTypes: p})[0]
		assert.Equal(t, FactorExposure, f.Name)
		assert.InDelta(t, 2.0, f.Value, 1e-9)
	}
}

func TestExposure_Levels(t *testing.T) {
	tests := []struct {
		name    string
		ingress []string
		level   ExposureLevel
		value   float64
	}{
		{"empty", nil, ExposureNone, 0.5},
		{"unrecognized only", []string{"LOADBALANCER?"}, ExposureNone, 0.5},
		{"internal", []string{"INTERNAL"}, ExposureInternal, 1.0},
		{"authenticated beats internal", []string{"INTERNAL", "AUTHENTICATED"}, ExposureAuthenticated, 1.2},
		{"unknown mixed with external", []string{"weird", "EXTERNAL"}, ExposureExternal, 2.0},
	}
	e := newTestEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := e.Factors(Context{IngressTypes: tt.ingress})[0]
			assert.InDelta(t, tt.value, f.Value, 1e-9)
			assert.Equal(t, ExposureMetadata{Level: tt.level}, f.Metadata)
		})
	}
}

func TestExposure_ConfigurableMultipliers(t *testing.T) {
	cfg := config.Default().Risk
	cfg.Exposure.External = 3.0
	e := NewEngine(cfg, WithClock(func() time.Time { return fixedNow }))

	got := e.CalculateRiskScore(Context{Severity: "LOW", IngressTypes: []string{"EXTERNAL"}})
	assert.InDelta(t, 60.0, got.Score, 1e-9)
}

func TestEPSSFactor(t *testing.T) {
	tests := []struct {
		in       string
		want     float64
		hasScore bool
	}{
		{"0.95", 1.5, true},
		{"0.7", 1.5, true},
		{"0.69", 1.3, true},
		{"0.5", 1.3, true},
		{"0.35", 1.2, true},
		{"0.1", 1.1, true},
		{"0.05", 1.0, true},
		{"", 1.0, false},
		{"not-a-number", 1.0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			f := epssCalculator{}.Calculate(Context{EPSSScore: tt.in}, fixedNow)
			assert.Equal(t, FactorEPSS, f.Name)
			assert.InDelta(t, tt.want, f.Value, 1e-9)
			md, ok := f.Metadata.(EPSSMetadata)
			require.True(t, ok)
			assert.Equal(t, tt.hasScore, md.Score != nil)
		})
	}
}

func TestEnvironmentFactor(t *testing.T) {
	tests := map[string]float64{
		"prod-eu":    1.1,
		"PROD-us":    1.1,
		"Prod-":      1.1,
		"production": 1.0,
		"staging":    1.0,
		"":           1.0,
	}
	for env, want := range tests {
		f := environmentCalculator{}.Calculate(Context{Environment: env}, fixedNow)
		assert.InDelta(t, want, f.Value, 1e-9, "environment %q", env)
	}
}

func TestBuildAgeFactor(t *testing.T) {
	tests := []struct {
		name     string
		built    *time.Time
		want     float64
		wantDays *int
	}{
		{"missing", nil, 1.0, nil},
		{"91 calendar days", ptr(time.Date(2026, 7, 17, 23, 0, 0, 0, time.UTC)), 1.1, ptr(91)},
		{"exactly 90", ptr(time.Date(2026, 7, 18, 0, 0, 0, 0, time.UTC)), 1.0, ptr(90)},
		{"fresh", ptr(fixedNow.Add(-2 * time.Hour)), 1.0, ptr(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := buildAgeCalculator{}.Calculate(Context{BuildDate: tt.built}, fixedNow)
			assert.InDelta(t, tt.want, f.Value, 1e-9)
			assert.Equal(t, BuildAgeMetadata{AgeDays: tt.wantDays}, f.Metadata)
		})
	}
}

func TestSuppression_AlwaysLowers(t *testing.T) {
	e := newTestEngine()
	for _, sev := range []string{"CRITICAL", "HIGH", "MEDIUM", "LOW", ""} {
		c := Context{Severity: sev, IngressTypes: []string{"EXTERNAL"}, InKEV: true, EPSSScore: "0.4"}
		open := e.CalculateRiskScore(c).Score
		c.Suppressed = true
		suppressed := e.CalculateRiskScore(c).Score
		assert.Less(t, suppressed, open, "severity %q", sev)
	}
}

func TestKEV_NeverLowers(t *testing.T) {
	e := newTestEngine()
	for _, c := range []Context{neutral("LOW"), {Severity: "HIGH", Suppressed: true}} {
		unlisted := e.CalculateRiskScore(c).Score
		c.InKEV = true
		assert.GreaterOrEqual(t, e.CalculateRiskScore(c).Score, unlisted)
	}
}

func ptr[T any](v T) *T {
	return &v
}
