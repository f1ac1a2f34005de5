// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package risk computes a multiplicative risk score per vulnerability:
// a severity base score scaled by independent factors for exposure, threat
// intelligence, suppression, environment, build age and fix availability.
package risk

import (
	"strings"
	"time"

	"github.com/bonial-oss/vuln-risk/internal/config"
)

// Context is the scoring input for a single vulnerability.
type Context struct {
	Severity            string
	IngressTypes        []string
	InKEV               bool
	EPSSScore           string
	Suppressed          bool
	Environment         string
	BuildDate           *time.Time
	HasExploitReference bool
	PatchAvailable      bool
}

// Result is the final output of a scoring call.
type Result struct {
	Score       float64            `json:"score"`
	Multipliers map[string]float64 `json:"multipliers"`
	Breakdown   *Breakdown         `json:"breakdown,omitempty"`
}

// Engine runs the factor calculators. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	calculators []FactorCalculator
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for build age.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine with the eight standard calculators.
func NewEngine(cfg config.Risk, opts ...Option) *Engine {
	e := &Engine{
		calculators: []FactorCalculator{
			exposureCalculator{multipliers: cfg.Exposure},
			kevCalculator{},
			epssCalculator{},
			suppressionCalculator{},
			environmentCalculator{},
			buildAgeCalculator{},
			exploitReferenceCalculator{},
			patchAvailableCalculator{},
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BaseScore returns the severity base score. Unknown severities score 10.
func BaseScore(severity string) float64 {
	switch strings.ToUpper(strings.TrimSpace(severity)) {
	case "CRITICAL":
		return 100
	case "HIGH":
		return 70
	case "MEDIUM":
		return 50
	case "LOW":
		return 20
	default:
		return 10
	}
}

// Factors runs every calculator against c in a fixed order.
func (e *Engine) Factors(c Context) []Factor {
	now := e.now()
	factors := make([]Factor, 0, len(e.calculators))
	for _, calc := range e.calculators {
		factors = append(factors, calc.Calculate(c, now))
	}
	return factors
}

// CalculateRiskScore scores c without an explanation.
func (e *Engine) CalculateRiskScore(c Context) Result {
	base := BaseScore(c.Severity)
	factors := e.Factors(c)
	return Result{
		Score:       base * product(factors),
		Multipliers: multipliers(base, factors),
	}
}

// CalculateRiskScoreWithBreakdown scores c and explains each factor.
func (e *Engine) CalculateRiskScoreWithBreakdown(c Context) Result {
	base := BaseScore(c.Severity)
	factors := e.Factors(c)
	return Result{
		Score:       base * product(factors),
		Multipliers: multipliers(base, factors),
		Breakdown:   explain(c.Severity, base, factors),
	}
}

func product(factors []Factor) float64 {
	p := 1.0
	for _, f := range factors {
		p *= f.Value
	}
	return p
}

func multipliers(base float64, factors []Factor) map[string]float64 {
	m := map[string]float64{"severity": base}
	for _, f := range factors {
		if f.Value == 1.0 {
			continue
		}
		m[string(f.Name)] = f.Value
		for k, v := range f.Metadata.derived(f.Value) {
			m[k] = v
		}
	}
	return m
}
