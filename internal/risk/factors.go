// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package risk

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bonial-oss/vuln-risk/internal/config"
)

// FactorName identifies a multiplicative risk factor.
type FactorName string

const (
	FactorExposure         FactorName = "exposure"
	FactorKEV              FactorName = "kev"
	FactorEPSS             FactorName = "epss"
	FactorSuppression      FactorName = "suppression"
	FactorEnvironment      FactorName = "environment"
	FactorBuildAge         FactorName = "build_age"
	FactorExploitReference FactorName = "exploit_reference"
	FactorPatchAvailable   FactorName = "patch_available"
)

// Factor is one multiplicative contribution. Value 1.0 is neutral.
type Factor struct {
	Name     FactorName
	Value    float64
	Metadata Metadata
}

// Metadata is the typed detail attached to a Factor. The set of
// implementations is closed: one per factor calculator.
type Metadata interface {
	// Describe returns a human readable reason for the factor value.
	Describe() string
	// derived returns extra observability entries for the multiplier map.
	derived(value float64) map[string]float64
}

// FactorCalculator computes a single factor from a scoring context.
type FactorCalculator interface {
	Calculate(c Context, now time.Time) Factor
}

// ExposureLevel is the resolved reachability of a workload.
type ExposureLevel string

const (
	ExposureExternal      ExposureLevel = "EXTERNAL"
	ExposureAuthenticated ExposureLevel = "AUTHENTICATED"
	ExposureInternal      ExposureLevel = "INTERNAL"
	ExposureNone          ExposureLevel = "NONE"
)

type ExposureMetadata struct {
	Level ExposureLevel
}

func (m ExposureMetadata) Describe() string {
	switch m.Level {
	case ExposureExternal:
		return "The workload is reachable from the internet."
	case ExposureAuthenticated:
		return "The workload is reachable through an authenticating ingress."
	case ExposureInternal:
		return "The workload is only reachable from inside the cluster network."
	default:
		return "The workload has no ingress."
	}
}

func (m ExposureMetadata) derived(float64) map[string]float64 { return nil }

type exposureCalculator struct {
	multipliers config.ExposureMultipliers
}

// ResolveExposure picks the most exposed level in the list. Order of the
// input does not matter; unknown types are ignored.
func ResolveExposure(ingressTypes []string) ExposureLevel {
	seen := make(map[ExposureLevel]bool, len(ingressTypes))
	for _, t := range ingressTypes {
		seen[ExposureLevel(strings.ToUpper(strings.TrimSpace(t)))] = true
	}
	for _, level := range []ExposureLevel{ExposureExternal, ExposureAuthenticated, ExposureInternal} {
		if seen[level] {
			return level
		}
	}
	return ExposureNone
}

func (e exposureCalculator) Calculate(c Context, _ time.Time) Factor {
	level := ResolveExposure(c.IngressTypes)
	var value float64
	switch level {
	case ExposureExternal:
		value = e.multipliers.External
	case ExposureAuthenticated:
		value = e.multipliers.Authenticated
	case ExposureInternal:
		value = e.multipliers.Internal
	default:
		value = e.multipliers.None
	}
	return Factor{Name: FactorExposure, Value: value, Metadata: ExposureMetadata{Level: level}}
}

type KEVMetadata struct {
	Listed bool
}

func (m KEVMetadata) Describe() string {
	if m.Listed {
		return "Listed in the CISA Known Exploited Vulnerabilities catalog; it is actively exploited in the wild."
	}
	return "Not listed in the CISA Known Exploited Vulnerabilities catalog."
}

func (m KEVMetadata) derived(float64) map[string]float64 { return nil }

type kevCalculator struct{}

func (kevCalculator) Calculate(c Context, _ time.Time) Factor {
	value := 1.0
	if c.InKEV {
		value = 2.0
	}
	return Factor{Name: FactorKEV, Value: value, Metadata: KEVMetadata{Listed: c.InKEV}}
}

// EPSSMetadata carries the parsed score; Score is nil when the input was
// absent or unparsable.
type EPSSMetadata struct {
	Score *float64
}

func (m EPSSMetadata) Describe() string {
	if m.Score == nil {
		return "No EPSS score is available."
	}
	s := *m.Score
	switch {
	case s < 0.1:
		return fmt.Sprintf("EPSS %.3f: the exploit probability is very low.", s)
	case s < 0.3:
		return fmt.Sprintf("EPSS %.3f: the exploit probability is low.", s)
	case s < 0.5:
		return fmt.Sprintf("EPSS %.3f: the exploit probability is moderate.", s)
	case s < 0.7:
		return fmt.Sprintf("EPSS %.3f: the exploit probability is high.", s)
	default:
		return fmt.Sprintf("EPSS %.3f: the exploit probability is critical.", s)
	}
}

func (m EPSSMetadata) derived(float64) map[string]float64 { return nil }

type epssCalculator struct{}

func (epssCalculator) Calculate(c Context, _ time.Time) Factor {
	score, err := strconv.ParseFloat(strings.TrimSpace(c.EPSSScore), 64)
	if c.EPSSScore == "" || err != nil {
		return Factor{Name: FactorEPSS, Value: 1.0, Metadata: EPSSMetadata{}}
	}
	value := 1.0
	switch {
	case score >= 0.7:
		value = 1.5
	case score >= 0.5:
		value = 1.3
	case score >= 0.3:
		value = 1.2
	case score >= 0.1:
		value = 1.1
	}
	return Factor{Name: FactorEPSS, Value: value, Metadata: EPSSMetadata{Score: &score}}
}

type SuppressionMetadata struct {
	Suppressed bool
}

func (m SuppressionMetadata) Describe() string {
	if m.Suppressed {
		return "The finding is suppressed by an accepted risk or VEX statement."
	}
	return "The finding is not suppressed."
}

func (m SuppressionMetadata) derived(value float64) map[string]float64 {
	if !m.Suppressed {
		return nil
	}
	return map[string]float64{"suppressed": value}
}

type suppressionCalculator struct{}

func (suppressionCalculator) Calculate(c Context, _ time.Time) Factor {
	value := 1.0
	if c.Suppressed {
		value = 0.3
	}
	return Factor{Name: FactorSuppression, Value: value, Metadata: SuppressionMetadata{Suppressed: c.Suppressed}}
}

type EnvironmentMetadata struct {
	Environment string
	Production  bool
}

func (m EnvironmentMetadata) Describe() string {
	if m.Production {
		return fmt.Sprintf("Runs in production environment %q.", m.Environment)
	}
	if m.Environment == "" {
		return "No environment is known."
	}
	return fmt.Sprintf("Runs in non-production environment %q.", m.Environment)
}

func (m EnvironmentMetadata) derived(value float64) map[string]float64 {
	if !m.Production {
		return nil
	}
	return map[string]float64{"production": value}
}

type environmentCalculator struct{}

func (environmentCalculator) Calculate(c Context, _ time.Time) Factor {
	prod := strings.HasPrefix(strings.ToLower(c.Environment), "prod-")
	value := 1.0
	if prod {
		value = 1.1
	}
	return Factor{
		Name:     FactorEnvironment,
		Value:    value,
		Metadata: EnvironmentMetadata{Environment: c.Environment, Production: prod},
	}
}

// BuildAgeMetadata holds the build age in calendar days; AgeDays is nil
// when no build date is known.
type BuildAgeMetadata struct {
	AgeDays *int
}

func (m BuildAgeMetadata) Describe() string {
	if m.AgeDays == nil {
		return "The build date is unknown."
	}
	if *m.AgeDays > oldBuildDays {
		return fmt.Sprintf("The image was built %d days ago and has likely missed upstream fixes.", *m.AgeDays)
	}
	return fmt.Sprintf("The image was built %d days ago.", *m.AgeDays)
}

func (m BuildAgeMetadata) derived(float64) map[string]float64 {
	if m.AgeDays == nil || *m.AgeDays <= oldBuildDays {
		return nil
	}
	return map[string]float64{"old_build_days": float64(*m.AgeDays)}
}

const oldBuildDays = 90

type buildAgeCalculator struct{}

// calendarDays counts midnight crossings between from and to in UTC.
func calendarDays(from, to time.Time) int {
	f := time.Date(from.UTC().Year(), from.UTC().Month(), from.UTC().Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.UTC().Year(), to.UTC().Month(), to.UTC().Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}

func (buildAgeCalculator) Calculate(c Context, now time.Time) Factor {
	if c.BuildDate == nil || c.BuildDate.IsZero() {
		return Factor{Name: FactorBuildAge, Value: 1.0, Metadata: BuildAgeMetadata{}}
	}
	days := calendarDays(*c.BuildDate, now)
	value := 1.0
	if days > oldBuildDays {
		value = 1.1
	}
	return Factor{Name: FactorBuildAge, Value: value, Metadata: BuildAgeMetadata{AgeDays: &days}}
}

type ExploitReferenceMetadata struct {
	Available bool
}

func (m ExploitReferenceMetadata) Describe() string {
	if m.Available {
		return "A public exploit is referenced for this vulnerability."
	}
	return "No public exploit reference was found."
}

func (m ExploitReferenceMetadata) derived(value float64) map[string]float64 {
	if !m.Available {
		return nil
	}
	return map[string]float64{"exploit_available": value}
}

type exploitReferenceCalculator struct{}

func (exploitReferenceCalculator) Calculate(c Context, _ time.Time) Factor {
	value := 1.0
	if c.HasExploitReference {
		value = 1.3
	}
	return Factor{
		Name:     FactorExploitReference,
		Value:    value,
		Metadata: ExploitReferenceMetadata{Available: c.HasExploitReference},
	}
}

type PatchMetadata struct {
	Available bool
}

func (m PatchMetadata) Describe() string {
	if m.Available {
		return "A fixed version is available."
	}
	return "No fixed version is available yet."
}

func (m PatchMetadata) derived(float64) map[string]float64 { return nil }

type patchAvailableCalculator struct{}

func (patchAvailableCalculator) Calculate(c Context, _ time.Time) Factor {
	value := 1.0
	if c.PatchAvailable {
		value = 0.9
	}
	return Factor{Name: FactorPatchAvailable, Value: value, Metadata: PatchMetadata{Available: c.PatchAvailable}}
}
