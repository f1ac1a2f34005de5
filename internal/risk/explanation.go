// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package risk

import (
	"fmt"
	"strings"
)

// Impact is a qualitative bucket for a factor's multiplier.
type Impact string

const (
	ImpactCritical Impact = "CRITICAL"
	ImpactHigh     Impact = "HIGH"
	ImpactMedium   Impact = "MEDIUM"
	ImpactLow      Impact = "LOW"
	ImpactNone     Impact = "NONE"
)

// Breakdown explains how a score was assembled.
type Breakdown struct {
	BaseScore    float64       `json:"baseScore"`
	Explanations []Explanation `json:"factors"`
	TotalScore   float64       `json:"totalScore"`
}

// Explanation describes one factor's effect on the score.
type Explanation struct {
	Factor       string  `json:"factor"`
	Multiplier   float64 `json:"multiplier"`
	Contribution float64 `json:"contribution"`
	Impact       Impact  `json:"impact"`
	Description  string  `json:"description"`
}

// ImpactOf buckets a multiplier. Mitigating factors are at least MEDIUM and
// an active suppression is always HIGH.
func ImpactOf(name FactorName, value float64) Impact {
	if name == FactorSuppression && value < 1.0 {
		return ImpactHigh
	}
	switch {
	case value >= 2.0:
		return ImpactCritical
	case value >= 1.5:
		return ImpactHigh
	case value >= 1.2:
		return ImpactMedium
	case value > 1.0:
		return ImpactLow
	case value < 1.0:
		return ImpactMedium
	default:
		return ImpactNone
	}
}

func severityImpact(severity string) Impact {
	switch Impact(strings.ToUpper(strings.TrimSpace(severity))) {
	case ImpactCritical:
		return ImpactCritical
	case ImpactHigh:
		return ImpactHigh
	case ImpactMedium:
		return ImpactMedium
	case ImpactLow:
		return ImpactLow
	default:
		return ImpactNone
	}
}

// explain attributes the score to factors in calculator order. Each
// non-neutral factor's contribution is measured against the running
// product of the factors applied before it, so base plus all contributions
// equals the total.
func explain(severity string, base float64, factors []Factor) *Breakdown {
	b := &Breakdown{
		BaseScore: base,
		Explanations: []Explanation{{
			Factor:       "severity",
			Multiplier:   base,
			Contribution: base,
			Impact:       severityImpact(severity),
			Description:  fmt.Sprintf("Base score %.0f for severity %s.", base, displaySeverity(severity)),
		}},
	}

	running := base
	for _, f := range factors {
		if f.Value == 1.0 {
			continue
		}
		next := running * f.Value
		b.Explanations = append(b.Explanations, Explanation{
			Factor:       string(f.Name),
			Multiplier:   f.Value,
			Contribution: next - running,
			Impact:       ImpactOf(f.Name, f.Value),
			Description:  f.Metadata.Describe(),
		})
		running = next
	}
	b.TotalScore = running
	return b
}

func displaySeverity(severity string) string {
	if s := strings.ToUpper(strings.TrimSpace(severity)); s != "" {
		return s
	}
	return "UNKNOWN"
}
